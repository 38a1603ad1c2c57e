// Package store is the snapshot adapter over the durable document store.
//
// A subscription is a restartable live query: it emits the full, ordered,
// de-duplicated result set every time the underlying collection changes, and
// each emission supersedes every previous one. Consumers get no diff
// contract; the newest snapshot is the whole truth for that selector.
//
// The sort key is fixed at subscribe time. A caller that wants a different
// ordering closes the subscription and opens a new one; re-sorting
// client-side is not offered because a differently-ordered query can expose
// rows the old ordering excluded.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openagora/agora/internal/cache"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/pkg/logging"
)

// Collection names used for invalidation wakeups
const (
	CollectionCommunities = "communities"
	CollectionPosts       = "posts"
	CollectionComments    = "comments"
)

// PostLister lists posts for a community under a sort key.
type PostLister interface {
	ListByCommunity(ctx context.Context, communityID, sort string) ([]models.Post, error)
}

// CommentLister lists comments for a post under a sort key.
type CommentLister interface {
	ListByPost(ctx context.Context, postID, sort string) ([]models.Comment, error)
}

// Adapter issues live queries against the durable store. Wakeups come from
// a poll ticker plus best-effort Redis invalidation messages; a missed
// invalidation only delays a snapshot until the next tick.
type Adapter struct {
	posts        PostLister
	comments     CommentLister
	cache        *cache.Cache
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewAdapter creates a new snapshot adapter.
func NewAdapter(posts PostLister, comments CommentLister, redisCache *cache.Cache, pollInterval time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Adapter{
		posts:        posts,
		comments:     comments,
		cache:        redisCache,
		pollInterval: pollInterval,
		logger:       logging.GetLogger().With(zap.String("component", "snapshot-adapter")),
	}
}

// PostSubscription is a live query over one community's posts.
type PostSubscription struct {
	// C delivers full snapshots. It is closed on Close or on a terminal
	// query error; check Err after it closes.
	C <-chan []models.Post

	c      chan []models.Post
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Err returns the terminal error, if any, once C has closed. The adapter
// never retries a failed query; retry policy belongs to the caller.
func (s *PostSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the live query. Idempotent.
func (s *PostSubscription) Close() {
	s.cancel()
}

func (s *PostSubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SubscribePosts opens a live query for a community's posts under the given
// sort key.
func (a *Adapter) SubscribePosts(ctx context.Context, communityID, sort string) *PostSubscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &PostSubscription{
		c:      make(chan []models.Post, 1),
		cancel: cancel,
	}
	sub.C = sub.c

	go func() {
		defer close(sub.c)
		wake := a.wakeups(ctx, CollectionPosts)
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		lastHash := uint64(0)
		for {
			posts, err := a.posts.ListByCommunity(ctx, communityID, sort)
			if err != nil {
				if ctx.Err() == nil {
					sub.fail(fmt.Errorf("posts live query failed: %w", err))
					a.logger.Error("Live query terminated",
						zap.String("community_id", communityID),
						zap.Error(err))
				}
				return
			}
			if h := hashResult(posts); h != lastHash {
				lastHash = h
				if posts == nil {
					posts = []models.Post{}
				}
				conflatePosts(sub.c, posts)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-wake:
				if !ok {
					wake = nil
				}
			}
		}
	}()

	return sub
}

// CommentSubscription is a live query over one post's comments.
type CommentSubscription struct {
	// C delivers full snapshots. It is closed on Close or on a terminal
	// query error; check Err after it closes.
	C <-chan []models.Comment

	c      chan []models.Comment
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Err returns the terminal error, if any, once C has closed.
func (s *CommentSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the live query. Idempotent.
func (s *CommentSubscription) Close() {
	s.cancel()
}

func (s *CommentSubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SubscribeComments opens a live query for a post's comments under the
// given sort key.
func (a *Adapter) SubscribeComments(ctx context.Context, postID, sort string) *CommentSubscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &CommentSubscription{
		c:      make(chan []models.Comment, 1),
		cancel: cancel,
	}
	sub.C = sub.c

	go func() {
		defer close(sub.c)
		wake := a.wakeups(ctx, CollectionComments)
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		lastHash := uint64(0)
		for {
			comments, err := a.comments.ListByPost(ctx, postID, sort)
			if err != nil {
				if ctx.Err() == nil {
					sub.fail(fmt.Errorf("comments live query failed: %w", err))
					a.logger.Error("Live query terminated",
						zap.String("post_id", postID),
						zap.Error(err))
				}
				return
			}
			if h := hashResult(comments); h != lastHash {
				lastHash = h
				if comments == nil {
					comments = []models.Comment{}
				}
				conflateComments(sub.c, comments)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-wake:
				if !ok {
					wake = nil
				}
			}
		}
	}()

	return sub
}

// wakeups returns the invalidation channel for a collection, or nil when
// Redis is absent and polling is the only wakeup source.
func (a *Adapter) wakeups(ctx context.Context, collection string) <-chan string {
	messages, err := a.cache.Subscribe(ctx, cache.InvalidationChannel(collection))
	if err != nil {
		return nil
	}
	return messages
}

// conflatePosts delivers a snapshot, displacing an undelivered older one.
// A consumer that lags only ever sees the newest result set; snapshots
// supersede, they do not queue.
func conflatePosts(c chan []models.Post, snapshot []models.Post) {
	for {
		select {
		case c <- snapshot:
			return
		default:
			select {
			case <-c:
			default:
			}
		}
	}
}

func conflateComments(c chan []models.Comment, snapshot []models.Comment) {
	for {
		select {
		case c <- snapshot:
			return
		default:
			select {
			case <-c:
			default:
			}
		}
	}
}

// hashResult fingerprints a result set for consecutive-snapshot
// de-duplication.
func hashResult(v interface{}) uint64 {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(raw)
	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return sum
}
