package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is a named event type on the push channel.
type Kind string

// Event kinds
const (
	KindPostNew        Kind = "post:new"
	KindPostDeleted    Kind = "post:deleted"
	KindCommentNew     Kind = "comment:new"
	KindCommentDeleted Kind = "comment:deleted"
	KindVoteUpdate     Kind = "vote:update"
	KindReactionUpdate Kind = "reaction:update"
	KindRoomJoin       Kind = "room:join"
	KindRoomLeave      Kind = "room:leave"
	KindRoomError      Kind = "room:error"
	KindDeleteRequest  Kind = "delete:request"
)

// Target types for vote, reaction and delete events
const (
	TargetPost    = "post"
	TargetComment = "comment"
)

// Machine-readable denial reasons carried in acks and room errors
const (
	ReasonJoinDenied    = "join-denied"
	ReasonNotAuthorized = "not-authorized"
	ReasonNotFound      = "not-found"
)

// Scope carries the fields an event is addressed by. Handlers registered
// with a non-empty scope field only fire for events matching that field;
// empty fields are wildcards.
type Scope struct {
	CommunityID string `json:"communityId,omitempty"`
	PostID      string `json:"postId,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
}

// Matches reports whether an event scope satisfies the registration scope.
func (s Scope) Matches(event Scope) bool {
	if s.CommunityID != "" && s.CommunityID != event.CommunityID {
		return false
	}
	if s.PostID != "" && s.PostID != event.PostID {
		return false
	}
	if s.TargetID != "" && s.TargetID != event.TargetID {
		return false
	}
	return true
}

// Ack is the response to a request/response event kind.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PostNew announces a newly created post.
type PostNew struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"communityId"`
	AuthorID    string    `json:"authorId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PostDeleted announces a post removal.
type PostDeleted struct {
	PostID      string `json:"postId"`
	CommunityID string `json:"communityId"`
}

// CommentNew announces a newly created comment.
type CommentNew struct {
	ID          string    `json:"id"`
	PostID      string    `json:"postId"`
	CommunityID string    `json:"communityId"`
	ParentID    string    `json:"parentId,omitempty"`
	AuthorID    string    `json:"authorId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CommentDeleted announces a comment soft-delete.
type CommentDeleted struct {
	CommentID   string `json:"commentId"`
	CommunityID string `json:"communityId"`
}

// VoteUpdate carries a vote change. NewScore is the emitter's view and is a
// hint only; receivers re-merge from Voter and Direction and never trust the
// remote score.
type VoteUpdate struct {
	TargetID   string `json:"targetId"`
	TargetType string `json:"targetType"`
	NewScore   int    `json:"newScore"`
	Voter      string `json:"voter"`
	Direction  string `json:"direction"`
}

// ReactionUpdate carries a reaction change.
type ReactionUpdate struct {
	TargetID   string `json:"targetId"`
	TargetType string `json:"targetType"`
	Emoji      string `json:"emoji"`
	Action     string `json:"action"`
	UserID     string `json:"userId"`
}

// RoomJoin requests observer access to a community's event stream.
type RoomJoin struct {
	CommunityID string `json:"communityId"`
}

// RoomLeave is the notify-only counterpart of RoomJoin.
type RoomLeave struct {
	CommunityID string `json:"communityId"`
}

// RoomError is broadcast when a room registration is revoked or a
// best-effort join turns out to be denied.
type RoomError struct {
	CommunityID string `json:"communityId"`
	Type        string `json:"type"`
}

// DeleteRequest asks the moderation authority to remove content.
type DeleteRequest struct {
	TargetID    string `json:"targetId"`
	TargetType  string `json:"targetType"`
	CommunityID string `json:"communityId"`
}

// decodePayload rebuilds a typed payload from its wire form. Used when
// events cross the Redis bridge or the websocket gateway.
func decodePayload(kind Kind, raw json.RawMessage) (interface{}, error) {
	var payload interface{}
	switch kind {
	case KindPostNew:
		payload = &PostNew{}
	case KindPostDeleted:
		payload = &PostDeleted{}
	case KindCommentNew:
		payload = &CommentNew{}
	case KindCommentDeleted:
		payload = &CommentDeleted{}
	case KindVoteUpdate:
		payload = &VoteUpdate{}
	case KindReactionUpdate:
		payload = &ReactionUpdate{}
	case KindRoomJoin:
		payload = &RoomJoin{}
	case KindRoomLeave:
		payload = &RoomLeave{}
	case KindRoomError:
		payload = &RoomError{}
	case KindDeleteRequest:
		payload = &DeleteRequest{}
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return payload, nil
}

// DecodePayload is the exported form used by the gateway.
func DecodePayload(kind Kind, raw json.RawMessage) (interface{}, error) {
	return decodePayload(kind, raw)
}
