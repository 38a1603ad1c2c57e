package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/openagora/agora/internal/models"
)

// Sort keys accepted by the list queries. Changing the sort key of a live
// query means tearing the query down and issuing a new one; there is no
// client-side re-sort path.
const (
	SortCreatedAsc  = "created_asc"
	SortCreatedDesc = "created_desc"
	SortScoreDesc   = "score_desc"
)

// orderClause maps a sort key to its SQL ordering. Score ordering reads the
// score field out of the JSON-serialized vote aggregate.
func orderClause(sort string) string {
	switch sort {
	case SortCreatedAsc:
		return "created_at ASC, id ASC"
	case SortScoreDesc:
		return "(votes::json->>'score')::int DESC, id ASC"
	default:
		return "created_at DESC, id ASC"
	}
}

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CommunityRepository provides community-related database operations
type CommunityRepository struct {
	*Repository
}

// NewCommunityRepository creates a new community repository
func NewCommunityRepository(repo *Repository) *CommunityRepository {
	return &CommunityRepository{Repository: repo}
}

// GetByID retrieves a community by ID
func (r *CommunityRepository) GetByID(ctx context.Context, id string) (*models.Community, error) {
	var community models.Community
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&community).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &community, nil
}

// GetByName retrieves a community by name
func (r *CommunityRepository) GetByName(ctx context.Context, name string) (*models.Community, error) {
	var community models.Community
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&community).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &community, nil
}

// List retrieves all communities ordered by name
func (r *CommunityRepository) List(ctx context.Context) ([]models.Community, error) {
	var communities []models.Community
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&communities).Error; err != nil {
		return nil, err
	}
	return communities, nil
}

// Create creates a new community. Membership lists are sanitized on write.
func (r *CommunityRepository) Create(ctx context.Context, community *models.Community) error {
	community.Sanitize()
	return r.db.WithContext(ctx).Create(community).Error
}

// Update updates a community. Membership lists are sanitized on write.
func (r *CommunityRepository) Update(ctx context.Context, community *models.Community) error {
	community.Sanitize()
	return r.db.WithContext(ctx).Save(community).Error
}

// PostRepository provides post-related database operations
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

// GetByID retrieves a post by ID
func (r *PostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

// ListByCommunity retrieves a community's posts under the given sort key.
func (r *PostRepository) ListByCommunity(ctx context.Context, communityID, sort string) ([]models.Post, error) {
	var posts []models.Post
	if err := r.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order(orderClause(sort)).
		Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// Create creates a new post
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// Update updates a post
func (r *PostRepository) Update(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Save(post).Error
}

// Delete removes a post row outright. Posts are hard-deleted; replies to a
// post live in the comments collection and are orphaned deliberately.
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Post{}).Error
}

// CommentRepository provides comment-related database operations
type CommentRepository struct {
	*Repository
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(repo *Repository) *CommentRepository {
	return &CommentRepository{Repository: repo}
}

// GetByID retrieves a comment by ID
func (r *CommentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&comment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &comment, nil
}

// ListByPost retrieves a post's comments under the given sort key.
func (r *CommentRepository) ListByPost(ctx context.Context, postID, sort string) ([]models.Comment, error) {
	var comments []models.Comment
	if err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order(orderClause(sort)).
		Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

// Create creates a new comment
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

// Update updates a comment
func (r *CommentRepository) Update(ctx context.Context, comment *models.Comment) error {
	return r.db.WithContext(ctx).Save(comment).Error
}

// SoftDelete blanks a comment's content and marks it deleted while keeping
// the row, so reply trees stay structurally intact.
func (r *CommentRepository) SoftDelete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    "",
			"is_deleted": true,
		}).Error
}
