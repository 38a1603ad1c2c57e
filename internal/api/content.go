package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/db"
	"github.com/openagora/agora/internal/merge"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/internal/thread"
	"github.com/openagora/agora/pkg/logging"
)

// ContentAPI serves community content reads plus the thin write paths that
// feed both the durable store and the push channel. Writes go store-first:
// the event emitted afterwards is the fast-path hint, the snapshot that
// follows the invalidation is the truth.
type ContentAPI struct {
	communities *db.CommunityRepository
	posts       *db.PostRepository
	comments    *db.CommentRepository
	bus         *bus.Bus
	invalidate  func(collection string)
	logger      *zap.Logger
}

// NewContentAPI creates the content API.
func NewContentAPI(repo *db.Repository, b *bus.Bus, invalidate func(collection string)) *ContentAPI {
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &ContentAPI{
		communities: db.NewCommunityRepository(repo),
		posts:       db.NewPostRepository(repo),
		comments:    db.NewCommentRepository(repo),
		bus:         b,
		invalidate:  invalidate,
		logger:      logging.GetLogger().With(zap.String("component", "content-api")),
	}
}

// GetCommunity returns one community by id.
func (a *ContentAPI) GetCommunity(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		CommunityID string `json:"communityId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.CommunityID == "" {
		return nil, NewError(ErrInvalidParams, "communityId is required")
	}
	community, err := a.communities.GetByID(c.Request.Context(), p.CommunityID)
	if err != nil {
		return nil, err
	}
	if community == nil {
		return nil, NewError(ErrInvalidParams, "community not found")
	}
	return community, nil
}

// ListCommunities returns all communities.
func (a *ContentAPI) ListCommunities(c *gin.Context, params json.RawMessage) (interface{}, error) {
	communities, err := a.communities.List(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return communities, nil
}

// GetPost returns one post by id.
func (a *ContentAPI) GetPost(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		PostID string `json:"postId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.PostID == "" {
		return nil, NewError(ErrInvalidParams, "postId is required")
	}
	post, err := a.posts.GetByID(c.Request.Context(), p.PostID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, NewError(ErrInvalidParams, "post not found")
	}
	return post, nil
}

// ListPosts returns a community's posts under a sort key.
func (a *ContentAPI) ListPosts(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		CommunityID string `json:"communityId"`
		Sort        string `json:"sort"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.CommunityID == "" {
		return nil, NewError(ErrInvalidParams, "communityId is required")
	}
	posts, err := a.posts.ListByCommunity(c.Request.Context(), p.CommunityID, p.Sort)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// ThreadNode is the nested rendering of one comment and its replies.
type ThreadNode struct {
	models.Comment
	Depth   int           `json:"depth"`
	Replies []*ThreadNode `json:"replies"`
}

// GetThread returns a post's comments assembled into their reply forest.
func (a *ContentAPI) GetThread(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		PostID string `json:"postId"`
		Sort   string `json:"sort"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.PostID == "" {
		return nil, NewError(ErrInvalidParams, "postId is required")
	}
	comments, err := a.comments.ListByPost(c.Request.Context(), p.PostID, p.Sort)
	if err != nil {
		return nil, err
	}
	forest := thread.Assemble(comments).SortByCreated()
	return gin.H{
		"postId": p.PostID,
		"count":  forest.Size,
		"roots":  renderNodes(forest.Roots),
	}, nil
}

func renderNodes(nodes []*thread.Node) []*ThreadNode {
	out := make([]*ThreadNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &ThreadNode{
			Comment: n.Comment,
			Depth:   n.Depth,
			Replies: renderNodes(n.Children),
		})
	}
	return out
}

// CreatePost writes a post and emits the post:new hint.
func (a *ContentAPI) CreatePost(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		CommunityID string   `json:"communityId"`
		AuthorID    string   `json:"authorId"`
		Title       string   `json:"title"`
		Content     string   `json:"content"`
		Media       []string `json:"media"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.CommunityID == "" || p.AuthorID == "" || p.Title == "" {
		return nil, NewError(ErrInvalidParams, "communityId, authorId and title are required")
	}
	community, err := a.communities.GetByID(c.Request.Context(), p.CommunityID)
	if err != nil {
		return nil, err
	}
	if community == nil {
		return nil, NewError(ErrInvalidParams, "community not found")
	}

	post := &models.Post{
		ID:          uuid.NewString(),
		CommunityID: p.CommunityID,
		AuthorID:    p.AuthorID,
		Title:       p.Title,
		Content:     p.Content,
		Media:       p.Media,
		Reactions:   models.ReactionMap{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.posts.Create(c.Request.Context(), post); err != nil {
		return nil, err
	}

	a.invalidate(store.CollectionPosts)
	a.bus.Emit(bus.KindPostNew,
		bus.Scope{CommunityID: post.CommunityID, TargetID: post.ID},
		post.AuthorID,
		&bus.PostNew{
			ID:          post.ID,
			CommunityID: post.CommunityID,
			AuthorID:    post.AuthorID,
			Title:       post.Title,
			CreatedAt:   post.CreatedAt,
		})
	return post, nil
}

// CreateComment writes a comment and emits the comment:new hint.
func (a *ContentAPI) CreateComment(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		PostID   string `json:"postId"`
		ParentID string `json:"parentId"`
		AuthorID string `json:"authorId"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.PostID == "" || p.AuthorID == "" {
		return nil, NewError(ErrInvalidParams, "postId and authorId are required")
	}
	post, err := a.posts.GetByID(c.Request.Context(), p.PostID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, NewError(ErrInvalidParams, "post not found")
	}

	comment := &models.Comment{
		ID:          uuid.NewString(),
		PostID:      p.PostID,
		CommunityID: post.CommunityID,
		AuthorID:    p.AuthorID,
		Content:     p.Content,
		ParentID:    p.ParentID,
		Reactions:   models.ReactionMap{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.comments.Create(c.Request.Context(), comment); err != nil {
		return nil, err
	}

	a.invalidate(store.CollectionComments)
	a.bus.Emit(bus.KindCommentNew,
		bus.Scope{CommunityID: comment.CommunityID, PostID: comment.PostID, TargetID: comment.ID},
		comment.AuthorID,
		&bus.CommentNew{
			ID:          comment.ID,
			PostID:      comment.PostID,
			CommunityID: comment.CommunityID,
			ParentID:    comment.ParentID,
			AuthorID:    comment.AuthorID,
			Content:     comment.Content,
			CreatedAt:   comment.CreatedAt,
		})
	return comment, nil
}

// CastVote merges a vote into the durable aggregate and emits the
// vote:update hint. The server-side merge is the same pure engine clients
// use, so duplicate or out-of-order submissions cannot double count.
func (a *ContentAPI) CastVote(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		TargetID   string `json:"targetId"`
		TargetType string `json:"targetType"`
		Voter      string `json:"voter"`
		Direction  string `json:"direction"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TargetID == "" || p.Voter == "" {
		return nil, NewError(ErrInvalidParams, "targetId and voter are required")
	}
	switch merge.VoteDirection(p.Direction) {
	case merge.VoteUp, merge.VoteDown, merge.VoteRetract:
	default:
		return nil, NewError(ErrInvalidParams, "direction must be up, down or retract")
	}

	ctx := c.Request.Context()
	var agg models.VoteAggregate
	var communityID, postID string

	switch p.TargetType {
	case bus.TargetPost:
		post, err := a.posts.GetByID(ctx, p.TargetID)
		if err != nil {
			return nil, err
		}
		if post == nil {
			return nil, NewError(ErrInvalidParams, "post not found")
		}
		post.Votes = merge.ApplyVote(post.Votes, p.Voter, merge.VoteDirection(p.Direction))
		if err := a.posts.Update(ctx, post); err != nil {
			return nil, err
		}
		agg, communityID = post.Votes, post.CommunityID
		a.invalidate(store.CollectionPosts)
	case bus.TargetComment:
		comment, err := a.comments.GetByID(ctx, p.TargetID)
		if err != nil {
			return nil, err
		}
		if comment == nil {
			return nil, NewError(ErrInvalidParams, "comment not found")
		}
		comment.Votes = merge.ApplyVote(comment.Votes, p.Voter, merge.VoteDirection(p.Direction))
		if err := a.comments.Update(ctx, comment); err != nil {
			return nil, err
		}
		agg, communityID, postID = comment.Votes, comment.CommunityID, comment.PostID
		a.invalidate(store.CollectionComments)
	default:
		return nil, NewError(ErrInvalidParams, "targetType must be post or comment")
	}

	a.bus.Emit(bus.KindVoteUpdate,
		bus.Scope{CommunityID: communityID, PostID: postID, TargetID: p.TargetID},
		p.Voter,
		&bus.VoteUpdate{
			TargetID:   p.TargetID,
			TargetType: p.TargetType,
			NewScore:   agg.Score,
			Voter:      p.Voter,
			Direction:  p.Direction,
		})
	return agg, nil
}

// ToggleReaction merges a reaction into the durable map and emits the
// reaction:update hint.
func (a *ContentAPI) ToggleReaction(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		TargetID   string `json:"targetId"`
		TargetType string `json:"targetType"`
		Emoji      string `json:"emoji"`
		UserID     string `json:"userId"`
		Action     string `json:"action"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TargetID == "" || p.Emoji == "" || p.UserID == "" {
		return nil, NewError(ErrInvalidParams, "targetId, emoji and userId are required")
	}
	switch merge.ReactionAction(p.Action) {
	case merge.ReactionAdd, merge.ReactionRemove:
	default:
		return nil, NewError(ErrInvalidParams, "action must be add or remove")
	}

	ctx := c.Request.Context()
	var reactions models.ReactionMap
	var communityID, postID string

	switch p.TargetType {
	case bus.TargetPost:
		post, err := a.posts.GetByID(ctx, p.TargetID)
		if err != nil {
			return nil, err
		}
		if post == nil {
			return nil, NewError(ErrInvalidParams, "post not found")
		}
		post.Reactions = merge.ApplyReaction(post.Reactions, p.Emoji, p.UserID, merge.ReactionAction(p.Action))
		if err := a.posts.Update(ctx, post); err != nil {
			return nil, err
		}
		reactions, communityID = post.Reactions, post.CommunityID
		a.invalidate(store.CollectionPosts)
	case bus.TargetComment:
		comment, err := a.comments.GetByID(ctx, p.TargetID)
		if err != nil {
			return nil, err
		}
		if comment == nil {
			return nil, NewError(ErrInvalidParams, "comment not found")
		}
		comment.Reactions = merge.ApplyReaction(comment.Reactions, p.Emoji, p.UserID, merge.ReactionAction(p.Action))
		if err := a.comments.Update(ctx, comment); err != nil {
			return nil, err
		}
		reactions, communityID, postID = comment.Reactions, comment.CommunityID, comment.PostID
		a.invalidate(store.CollectionComments)
	default:
		return nil, NewError(ErrInvalidParams, "targetType must be post or comment")
	}

	a.bus.Emit(bus.KindReactionUpdate,
		bus.Scope{CommunityID: communityID, PostID: postID, TargetID: p.TargetID},
		p.UserID,
		&bus.ReactionUpdate{
			TargetID:   p.TargetID,
			TargetType: p.TargetType,
			Emoji:      p.Emoji,
			Action:     p.Action,
			UserID:     p.UserID,
		})
	return reactions, nil
}
