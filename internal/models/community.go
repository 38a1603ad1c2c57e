package models

import (
	"strings"
	"time"
)

// Community visibility values
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Community represents a community
type Community struct {
	ID         string       `gorm:"type:varchar(36);primaryKey;column:id" json:"id"`
	Name       string       `gorm:"type:varchar(64);not null;uniqueIndex:agora_communities_ux1;column:name" json:"name"`
	Visibility string       `gorm:"type:varchar(8);not null;default:'public';column:visibility" json:"visibility"`
	Admins     IdentityList `gorm:"type:text;serializer:json;column:admins" json:"admins"`
	Moderators IdentityList `gorm:"type:text;serializer:json;column:moderators" json:"moderators"`
	Members    IdentityList `gorm:"type:text;serializer:json;column:members" json:"members"`
	CreatedAt  time.Time    `gorm:"not null;column:created_at" json:"createdAt"`
}

// TableName specifies the table name for Community
func (Community) TableName() string {
	return "agora_communities"
}

// IsPrivate reports whether the community requires membership to observe.
func (c *Community) IsPrivate() bool {
	return c.Visibility == VisibilityPrivate
}

// IsAdmin reports whether identity is in the admin set.
func (c *Community) IsAdmin(identity string) bool {
	return c.Admins.Contains(identity)
}

// IsModerator reports whether identity is in the moderator set.
func (c *Community) IsModerator(identity string) bool {
	return c.Moderators.Contains(identity)
}

// IsMember reports whether identity is in the member set. Admins and
// moderators count as members.
func (c *Community) IsMember(identity string) bool {
	return c.Members.Contains(identity) || c.IsAdmin(identity) || c.IsModerator(identity)
}

// Sanitize strips blank identifiers from all membership lists. Role lists
// must never carry empty entries; they are sanitized on every write.
func (c *Community) Sanitize() {
	c.Admins = c.Admins.Sanitized()
	c.Moderators = c.Moderators.Sanitized()
	c.Members = c.Members.Sanitized()
}

// IdentityList is a set of account identities stored as a JSON array.
type IdentityList []string

// Contains reports whether identity is present in the list.
func (l IdentityList) Contains(identity string) bool {
	for _, id := range l {
		if id == identity {
			return true
		}
	}
	return false
}

// Sanitized returns a copy with blank and duplicate identifiers removed.
func (l IdentityList) Sanitized() IdentityList {
	out := make(IdentityList, 0, len(l))
	seen := make(map[string]struct{}, len(l))
	for _, id := range l {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
