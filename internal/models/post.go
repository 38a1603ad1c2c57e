package models

import (
	"time"
)

// Post represents a top-level post in a community
type Post struct {
	ID          string        `gorm:"type:varchar(36);primaryKey;column:id" json:"id"`
	CommunityID string        `gorm:"type:varchar(36);not null;index;column:community_id" json:"communityId"`
	AuthorID    string        `gorm:"type:varchar(64);not null;column:author_id" json:"authorId"`
	Title       string        `gorm:"type:varchar(300);not null;column:title" json:"title"`
	Content     string        `gorm:"type:text;not null;column:content" json:"content"`
	Media       MediaList     `gorm:"type:text;serializer:json;column:media" json:"media,omitempty"`
	Reactions   ReactionMap   `gorm:"type:text;serializer:json;column:reactions" json:"reactions"`
	Votes       VoteAggregate `gorm:"type:text;serializer:json;column:votes" json:"votes"`
	CreatedAt   time.Time     `gorm:"not null;index;column:created_at" json:"createdAt"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "agora_posts"
}

// MediaList holds optional media attachment URLs.
type MediaList []string
