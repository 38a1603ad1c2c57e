// Package view holds the per-client reconciliation core. A Session owns one
// client's live views; each view funnels both update channels (durable
// snapshots and push-channel events) through a single reducer, so the
// "snapshot always wins" rule is enforced in exactly one place. Push events
// are optimistic hints merged idempotently; every snapshot replaces the
// merged state outright.
package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/internal/moderation"
	"github.com/openagora/agora/internal/room"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/pkg/logging"
)

// Session is one client's set of live views plus its room memberships and
// delete protocol handler.
type Session struct {
	identity   string
	bus        *bus.Bus
	adapter    *store.Adapter
	rooms      *room.Manager
	moderation *moderation.Handler
	logger     *zap.Logger

	mu       sync.Mutex
	roomRefs map[string]int
	views    map[closer]struct{}
	closed   bool
}

type closer interface {
	Close()
}

// Config bounds the session's acknowledged round-trips.
type Config struct {
	JoinAckTimeout   time.Duration
	DeleteAckTimeout time.Duration
}

// NewSession creates a session for one client identity.
func NewSession(b *bus.Bus, adapter *store.Adapter, identity string, cfg Config) *Session {
	return &Session{
		identity:   identity,
		bus:        b,
		adapter:    adapter,
		rooms:      room.NewManager(b, identity, cfg.JoinAckTimeout),
		moderation: moderation.NewHandler(b, identity, cfg.DeleteAckTimeout),
		logger: logging.GetLogger().With(
			zap.String("component", "view-session"),
			zap.String("identity", identity)),
		roomRefs: make(map[string]int),
		views:    make(map[closer]struct{}),
	}
}

// Identity returns the session's client identity.
func (s *Session) Identity() string {
	return s.identity
}

// OnRoomDenied sets the UI-facing signal for join denials, including late
// revocations of best-effort joins.
func (s *Session) OnRoomDenied(fn func(communityID string)) {
	s.rooms.OnDenied(fn)
}

// RequestDelete runs the delete protocol for a target. Never optimistic:
// local state changes only when the deletion broadcast comes back through
// the reducers.
func (s *Session) RequestDelete(ctx context.Context, target moderation.Target) error {
	return s.moderation.RequestDelete(ctx, target)
}

// DeleteState exposes the protocol state for a target id.
func (s *Session) DeleteState(targetID string) moderation.State {
	return s.moderation.State(targetID)
}

// Membership reports the session's membership record for a community.
func (s *Session) Membership(communityID string) (models.RoomMembership, bool) {
	return s.rooms.Membership(communityID)
}

// joinRoom joins with reference counting so a community view and a thread
// view on the same community share one membership.
func (s *Session) joinRoom(ctx context.Context, communityID string) error {
	if err := s.rooms.Join(ctx, communityID); err != nil {
		return err
	}
	s.mu.Lock()
	s.roomRefs[communityID]++
	s.mu.Unlock()
	return nil
}

func (s *Session) leaveRoom(communityID string) {
	s.mu.Lock()
	s.roomRefs[communityID]--
	last := s.roomRefs[communityID] <= 0
	if last {
		delete(s.roomRefs, communityID)
	}
	s.mu.Unlock()
	if last {
		s.rooms.Leave(communityID)
	}
}

func (s *Session) trackView(v closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.views[v] = struct{}{}
	return nil
}

func (s *Session) untrackView(v closer) {
	s.mu.Lock()
	delete(s.views, v)
	s.mu.Unlock()
}

// Close tears down every open view and membership.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	views := make([]closer, 0, len(s.views))
	for v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[closer]struct{})
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}
