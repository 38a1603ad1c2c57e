package models

import (
	"time"
)

// Comment represents a comment on a post. Comments form a tree per post:
// ParentID references another comment id on the same post, empty means root.
type Comment struct {
	ID          string        `gorm:"type:varchar(36);primaryKey;column:id" json:"id"`
	PostID      string        `gorm:"type:varchar(36);not null;index;column:post_id" json:"postId"`
	CommunityID string        `gorm:"type:varchar(36);not null;index;column:community_id" json:"communityId"`
	AuthorID    string        `gorm:"type:varchar(64);not null;column:author_id" json:"authorId"`
	Content     string        `gorm:"type:text;not null;column:content" json:"content"`
	ParentID    string        `gorm:"type:varchar(36);column:parent_id" json:"parentId,omitempty"`
	Reactions   ReactionMap   `gorm:"type:text;serializer:json;column:reactions" json:"reactions"`
	Votes       VoteAggregate `gorm:"type:text;serializer:json;column:votes" json:"votes"`
	IsDeleted   bool          `gorm:"not null;default:false;column:is_deleted" json:"isDeleted"`
	CreatedAt   time.Time     `gorm:"not null;index;column:created_at" json:"createdAt"`
}

// TableName specifies the table name for Comment
func (Comment) TableName() string {
	return "agora_comments"
}

// IsRoot reports whether the comment declares no parent.
func (c *Comment) IsRoot() bool {
	return c.ParentID == ""
}
