package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
)

type fakeCommunities struct {
	byID map[string]*models.Community
}

func (f *fakeCommunities) GetByID(ctx context.Context, id string) (*models.Community, error) {
	return f.byID[id], nil
}

type fakePosts struct {
	byID    map[string]*models.Post
	deleted []string
}

func (f *fakePosts) GetByID(ctx context.Context, id string) (*models.Post, error) {
	return f.byID[id], nil
}

func (f *fakePosts) Delete(ctx context.Context, id string) error {
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeComments struct {
	byID        map[string]*models.Comment
	softDeleted []string
}

func (f *fakeComments) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	return f.byID[id], nil
}

func (f *fakeComments) SoftDelete(ctx context.Context, id string) error {
	if c, ok := f.byID[id]; ok {
		c.Content = ""
		c.IsDeleted = true
	}
	f.softDeleted = append(f.softDeleted, id)
	return nil
}

type nopInvalidator struct{ collections []string }

func (n *nopInvalidator) Invalidate(ctx context.Context, collection string) {
	n.collections = append(n.collections, collection)
}

func fixture() (*bus.Bus, *Authority, *fakePosts, *fakeComments, *nopInvalidator) {
	communities := &fakeCommunities{byID: map[string]*models.Community{
		"c1": {
			ID:         "c1",
			Admins:     models.IdentityList{"admin"},
			Moderators: models.IdentityList{"mod"},
			Members:    models.IdentityList{"alice", "bob"},
		},
	}}
	posts := &fakePosts{byID: map[string]*models.Post{
		"p1": {ID: "p1", CommunityID: "c1", AuthorID: "alice"},
	}}
	comments := &fakeComments{byID: map[string]*models.Comment{
		"m1": {ID: "m1", PostID: "p1", CommunityID: "c1", AuthorID: "bob", Content: "hi"},
	}}
	inv := &nopInvalidator{}

	b := bus.New(nil)
	authority := NewAuthority(communities, posts, comments, b, inv)
	authority.Attach()
	return b, authority, posts, comments, inv
}

func TestCanDelete(t *testing.T) {
	community := &models.Community{
		ID:         "c1",
		Admins:     models.IdentityList{"admin"},
		Moderators: models.IdentityList{"mod"},
	}

	tests := []struct {
		name     string
		identity string
		authorID string
		want     bool
	}{
		{"author may delete own content", "alice", "alice", true},
		{"admin may delete anything", "admin", "alice", true},
		{"moderator may delete anything", "mod", "alice", true},
		{"plain member may not delete others", "bob", "alice", false},
		{"empty identity may not delete", "", "alice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanDelete(community, tt.identity, tt.authorID); got != tt.want {
				t.Errorf("CanDelete() = %v, want %v", got, tt.want)
			}
		})
	}

	if CanDelete(nil, "alice", "alice") {
		t.Error("CanDelete() allowed deletion without a community")
	}
}

func TestDeletePostByAuthor(t *testing.T) {
	b, _, posts, _, inv := fixture()

	var broadcasts []*bus.PostDeleted
	b.On(bus.KindPostDeleted, bus.Scope{CommunityID: "c1"}, func(evt bus.Event) {
		if payload, ok := evt.Payload.(*bus.PostDeleted); ok {
			broadcasts = append(broadcasts, payload)
		}
	})

	h := NewHandler(b, "alice", time.Second)
	err := h.RequestDelete(context.Background(), Target{ID: "p1", Type: bus.TargetPost, CommunityID: "c1"})
	if err != nil {
		t.Fatalf("RequestDelete() error = %v", err)
	}

	if len(posts.deleted) != 1 || posts.deleted[0] != "p1" {
		t.Errorf("hard deletes = %v, want [p1]", posts.deleted)
	}
	if len(broadcasts) != 1 || broadcasts[0].PostID != "p1" {
		t.Errorf("broadcasts = %v, want one for p1", broadcasts)
	}
	if len(inv.collections) != 1 {
		t.Errorf("invalidations = %v, want one", inv.collections)
	}
	if h.State("p1") != StateApproved {
		t.Errorf("protocol state = %v after approval, want StateApproved", h.State("p1"))
	}
}

func TestDeletePostDeniedForNonAuthor(t *testing.T) {
	b, _, posts, _, _ := fixture()

	var broadcasts int
	b.On(bus.KindPostDeleted, bus.Scope{}, func(evt bus.Event) { broadcasts++ })

	h := NewHandler(b, "bob", time.Second)
	err := h.RequestDelete(context.Background(), Target{ID: "p1", Type: bus.TargetPost, CommunityID: "c1"})
	if !errors.Is(err, ErrDeleteDenied) {
		t.Fatalf("RequestDelete() error = %v, want ErrDeleteDenied", err)
	}

	if _, ok := posts.byID["p1"]; !ok {
		t.Error("post removed despite denial")
	}
	if broadcasts != 0 {
		t.Errorf("deletion broadcast %d times despite denial, want 0", broadcasts)
	}
	if h.State("p1") != StateDenied {
		t.Errorf("protocol state = %v after denial, want StateDenied", h.State("p1"))
	}
}

func TestDeletePostByModerator(t *testing.T) {
	b, _, posts, _, _ := fixture()

	h := NewHandler(b, "mod", time.Second)
	err := h.RequestDelete(context.Background(), Target{ID: "p1", Type: bus.TargetPost, CommunityID: "c1"})
	if err != nil {
		t.Fatalf("RequestDelete() error = %v", err)
	}
	if _, ok := posts.byID["p1"]; ok {
		t.Error("post still present after moderator delete")
	}
}

func TestDeleteAbsentPostIsSuccess(t *testing.T) {
	b, _, _, _, _ := fixture()

	var broadcasts int
	b.On(bus.KindPostDeleted, bus.Scope{}, func(evt bus.Event) { broadcasts++ })

	h := NewHandler(b, "alice", time.Second)
	err := h.RequestDelete(context.Background(), Target{ID: "ghost", Type: bus.TargetPost, CommunityID: "c1"})
	if err != nil {
		t.Fatalf("RequestDelete() error = %v, want idempotent success", err)
	}
	if broadcasts != 0 {
		t.Errorf("broadcast %d times for an absent target, want 0", broadcasts)
	}
}

func TestDeleteCommentIsSoft(t *testing.T) {
	b, _, _, comments, _ := fixture()

	var broadcasts []*bus.CommentDeleted
	b.On(bus.KindCommentDeleted, bus.Scope{PostID: "p1"}, func(evt bus.Event) {
		if payload, ok := evt.Payload.(*bus.CommentDeleted); ok {
			broadcasts = append(broadcasts, payload)
		}
	})

	h := NewHandler(b, "bob", time.Second)
	err := h.RequestDelete(context.Background(), Target{ID: "m1", Type: bus.TargetComment, CommunityID: "c1"})
	if err != nil {
		t.Fatalf("RequestDelete() error = %v", err)
	}

	c := comments.byID["m1"]
	if c == nil {
		t.Fatal("comment row removed; soft delete must keep it")
	}
	if !c.IsDeleted || c.Content != "" {
		t.Errorf("comment = %+v, want deleted with blank content", c)
	}
	if len(broadcasts) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(broadcasts))
	}

	// Second delete of an already-deleted comment succeeds without another
	// mutation or broadcast.
	if err := h.RequestDelete(context.Background(), Target{ID: "m1", Type: bus.TargetComment, CommunityID: "c1"}); err != nil {
		t.Fatalf("second RequestDelete() error = %v", err)
	}
	if len(comments.softDeleted) != 1 {
		t.Errorf("soft deletes = %v, want exactly one", comments.softDeleted)
	}
	if len(broadcasts) != 1 {
		t.Errorf("broadcasts = %d after repeat delete, want 1", len(broadcasts))
	}
}

func TestDeleteUnknownCommunityIsNotFound(t *testing.T) {
	b, _, _, _, _ := fixture()

	h := NewHandler(b, "alice", time.Second)
	err := h.RequestDelete(context.Background(), Target{ID: "p1", Type: bus.TargetPost, CommunityID: "ghost"})
	if !errors.Is(err, ErrDeleteDenied) {
		t.Fatalf("RequestDelete() error = %v, want ErrDeleteDenied", err)
	}
}

func TestRequestDeleteNoAuthority(t *testing.T) {
	b := bus.New(nil)
	h := NewHandler(b, "alice", 20*time.Millisecond)
	err := h.RequestDelete(context.Background(), Target{ID: "p1", Type: bus.TargetPost, CommunityID: "c1"})
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("RequestDelete() error = %v, want ErrNoResponse", err)
	}
	if h.State("p1") != StateIdle {
		t.Errorf("protocol state = %v after timeout, want idle", h.State("p1"))
	}
}
