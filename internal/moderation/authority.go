package moderation

import (
	"context"

	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/pkg/logging"
)

// CommunityGetter loads a community for the permission check.
type CommunityGetter interface {
	GetByID(ctx context.Context, id string) (*models.Community, error)
}

// PostStore is the durable post access the authority mutates through.
type PostStore interface {
	GetByID(ctx context.Context, id string) (*models.Post, error)
	Delete(ctx context.Context, id string) error
}

// CommentStore is the durable comment access the authority mutates through.
type CommentStore interface {
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	SoftDelete(ctx context.Context, id string) error
}

// Invalidator wakes live queries after a durable mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, collection string)
}

// Authority is the server half of the delete protocol and the single
// serialization point for concurrent delete attempts. It permission-checks
// against the durable store, mutates it (hard delete for posts, soft delete
// for comments), and broadcasts the removal to every room observer. A
// target that is already gone acks success without a broadcast, so delete
// is idempotent from the caller's perspective.
type Authority struct {
	communities CommunityGetter
	posts       PostStore
	comments    CommentStore
	bus         *bus.Bus
	invalidator Invalidator
	logger      *zap.Logger
}

// NewAuthority creates the moderation authority.
func NewAuthority(communities CommunityGetter, posts PostStore, comments CommentStore, b *bus.Bus, inv Invalidator) *Authority {
	return &Authority{
		communities: communities,
		posts:       posts,
		comments:    comments,
		bus:         b,
		invalidator: inv,
		logger:      logging.GetLogger().With(zap.String("component", "moderation-authority")),
	}
}

// Attach registers the authority on the bus.
func (a *Authority) Attach() {
	a.bus.HandleRequests(bus.KindDeleteRequest, a.handleDeleteRequest)
}

func (a *Authority) handleDeleteRequest(ctx context.Context, identity string, payload interface{}) bus.Ack {
	req, ok := payload.(*bus.DeleteRequest)
	if !ok {
		return bus.Ack{OK: false, Error: bus.ReasonNotFound}
	}

	community, err := a.communities.GetByID(ctx, req.CommunityID)
	if err != nil {
		a.logger.Error("Failed to load community for delete check",
			zap.String("community_id", req.CommunityID),
			zap.Error(err))
		return bus.Ack{OK: false, Error: "internal-error"}
	}
	if community == nil {
		return bus.Ack{OK: false, Error: bus.ReasonNotFound}
	}

	switch req.TargetType {
	case bus.TargetPost:
		return a.deletePost(ctx, identity, community, req)
	case bus.TargetComment:
		return a.deleteComment(ctx, identity, community, req)
	default:
		return bus.Ack{OK: false, Error: "unknown-target-type"}
	}
}

func (a *Authority) deletePost(ctx context.Context, identity string, community *models.Community, req *bus.DeleteRequest) bus.Ack {
	post, err := a.posts.GetByID(ctx, req.TargetID)
	if err != nil {
		return bus.Ack{OK: false, Error: "internal-error"}
	}
	if post == nil {
		// Lost a concurrent delete race or the target never existed;
		// either way the caller's goal is met.
		return bus.Ack{OK: true}
	}
	if !CanDelete(community, identity, post.AuthorID) {
		return bus.Ack{OK: false, Error: bus.ReasonNotAuthorized}
	}
	if err := a.posts.Delete(ctx, req.TargetID); err != nil {
		a.logger.Error("Failed to delete post",
			zap.String("post_id", req.TargetID),
			zap.Error(err))
		return bus.Ack{OK: false, Error: "internal-error"}
	}

	a.invalidator.Invalidate(ctx, store.CollectionPosts)
	a.bus.Emit(bus.KindPostDeleted,
		bus.Scope{CommunityID: community.ID, TargetID: req.TargetID},
		identity,
		&bus.PostDeleted{PostID: req.TargetID, CommunityID: community.ID})

	a.logger.Info("Post deleted",
		zap.String("post_id", req.TargetID),
		zap.String("community_id", community.ID),
		zap.String("requested_by", identity))
	return bus.Ack{OK: true}
}

func (a *Authority) deleteComment(ctx context.Context, identity string, community *models.Community, req *bus.DeleteRequest) bus.Ack {
	comment, err := a.comments.GetByID(ctx, req.TargetID)
	if err != nil {
		return bus.Ack{OK: false, Error: "internal-error"}
	}
	if comment == nil || comment.IsDeleted {
		return bus.Ack{OK: true}
	}
	if !CanDelete(community, identity, comment.AuthorID) {
		return bus.Ack{OK: false, Error: bus.ReasonNotAuthorized}
	}
	if err := a.comments.SoftDelete(ctx, req.TargetID); err != nil {
		a.logger.Error("Failed to soft-delete comment",
			zap.String("comment_id", req.TargetID),
			zap.Error(err))
		return bus.Ack{OK: false, Error: "internal-error"}
	}

	a.invalidator.Invalidate(ctx, store.CollectionComments)
	a.bus.Emit(bus.KindCommentDeleted,
		bus.Scope{CommunityID: community.ID, PostID: comment.PostID, TargetID: req.TargetID},
		identity,
		&bus.CommentDeleted{CommentID: req.TargetID, CommunityID: community.ID})

	a.logger.Info("Comment soft-deleted",
		zap.String("comment_id", req.TargetID),
		zap.String("community_id", community.ID),
		zap.String("requested_by", identity))
	return bus.Ack{OK: true}
}
