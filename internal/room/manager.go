// Package room tracks which clients observe which community's event stream.
//
// The Manager is the client half: it issues acknowledged join requests,
// falls back to best-effort joins when the ack round-trip fails, and tears
// memberships down on leave. The Authorizer is the server half and is the
// only enforcement point; everything the Manager concludes locally is
// advisory.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/pkg/logging"
)

// Sentinel errors
var (
	// ErrJoinDenied reports a normal, recoverable denial: the caller may
	// not observe this community. Surfaced as a warning, never a crash.
	ErrJoinDenied = errors.New("join-denied")

	// ErrRoomClosed reports that the membership was torn down while a
	// join was still in flight; the stale result is discarded.
	ErrRoomClosed = errors.New("room closed")
)

type entry struct {
	state    models.RoomState
	acked    bool
	done     chan struct{}
	resolved bool
	offError func()
}

// Manager owns one client's room memberships. Lifecycle per room is
// strictly request -> one terminal outcome -> teardown.
type Manager struct {
	bus        *bus.Bus
	identity   string
	ackTimeout time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	rooms    map[string]*entry
	onDenied func(communityID string)
}

// NewManager creates a membership manager for one client identity.
func NewManager(b *bus.Bus, identity string, ackTimeout time.Duration) *Manager {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	return &Manager{
		bus:        b,
		identity:   identity,
		ackTimeout: ackTimeout,
		logger: logging.GetLogger().With(
			zap.String("component", "room-manager"),
			zap.String("identity", identity)),
		rooms: make(map[string]*entry),
	}
}

// OnDenied sets the UI-facing denial signal. It fires for join denials and
// for later room:error revocations of a best-effort join.
func (m *Manager) OnDenied(fn func(communityID string)) {
	m.mu.Lock()
	m.onDenied = fn
	m.mu.Unlock()
}

// Join requests observer access to a community. Re-entrant: a second Join
// while the first is pending waits on the same outcome and registers no
// second listener. Denial is returned as ErrJoinDenied.
//
// If the acknowledgment round-trip itself fails, the manager falls back to
// a fire-and-forget join and reports success, but the membership is marked
// unacked: a later room:error for the community still revokes it.
func (m *Manager) Join(ctx context.Context, communityID string) error {
	m.mu.Lock()
	if e, ok := m.rooms[communityID]; ok {
		done := e.done
		m.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return m.outcome(communityID)
	}

	e := &entry{state: models.RoomPending, done: make(chan struct{})}
	e.offError = m.bus.On(bus.KindRoomError, bus.Scope{CommunityID: communityID}, func(evt bus.Event) {
		if evt.Identity != "" && evt.Identity != m.identity {
			return
		}
		m.deny(communityID)
	})
	m.rooms[communityID] = e
	m.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, m.ackTimeout)
	defer cancel()
	ack, err := m.bus.Request(reqCtx, bus.KindRoomJoin, m.identity, &bus.RoomJoin{CommunityID: communityID})

	m.mu.Lock()
	current, ok := m.rooms[communityID]
	if !ok || current != e {
		m.mu.Unlock()
		return ErrRoomClosed
	}
	if ctx.Err() != nil {
		// Caller went away mid-join; discard the result entirely.
		delete(m.rooms, communityID)
		m.resolveLocked(e)
		off := e.offError
		m.mu.Unlock()
		if off != nil {
			off()
		}
		return ctx.Err()
	}

	var bestEffort bool
	switch {
	case err != nil:
		// Ack round-trip failed. Best-effort join keeps the UI moving,
		// but it is not success for permission purposes.
		if e.state == models.RoomPending {
			e.state = models.RoomJoined
			e.acked = false
		}
		m.logger.Warn("Join ack failed, falling back to best-effort join",
			zap.String("community_id", communityID),
			zap.Error(err))
		bestEffort = true
	case ack.OK:
		if e.state == models.RoomPending {
			e.state = models.RoomJoined
			e.acked = true
		}
	default:
		e.state = models.RoomDenied
		e.acked = true
	}
	m.resolveLocked(e)
	m.mu.Unlock()

	// Emitted outside the lock: the authority may handle this on the same
	// goroutine and answer with a room:error that re-enters deny.
	if bestEffort {
		m.bus.Emit(bus.KindRoomJoin, bus.Scope{CommunityID: communityID}, m.identity,
			&bus.RoomJoin{CommunityID: communityID})
	}

	return m.outcome(communityID)
}

// Leave tears down a membership. Fire-and-forget and idempotent; leaving a
// denied or unknown room is a no-op.
func (m *Manager) Leave(communityID string) {
	m.mu.Lock()
	e, ok := m.rooms[communityID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, communityID)
	m.resolveLocked(e)
	wasJoined := e.state == models.RoomJoined
	off := e.offError
	m.mu.Unlock()

	if off != nil {
		off()
	}
	if wasJoined {
		m.bus.Emit(bus.KindRoomLeave, bus.Scope{CommunityID: communityID}, m.identity,
			&bus.RoomLeave{CommunityID: communityID})
	}
}

// Membership returns the current membership record for a community.
func (m *Manager) Membership(communityID string) (models.RoomMembership, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[communityID]
	if !ok {
		return models.RoomMembership{}, false
	}
	return models.RoomMembership{
		Identity:    m.identity,
		CommunityID: communityID,
		State:       e.state,
		Acked:       e.acked,
	}, true
}

// deny marks a membership denied, whatever state it was in. A best-effort
// join is revoked here when the authority broadcasts room:error.
func (m *Manager) deny(communityID string) {
	m.mu.Lock()
	e, ok := m.rooms[communityID]
	if !ok {
		m.mu.Unlock()
		return
	}
	already := e.state == models.RoomDenied
	e.state = models.RoomDenied
	e.acked = true
	m.resolveLocked(e)
	fn := m.onDenied
	m.mu.Unlock()

	if !already && fn != nil {
		fn(communityID)
	}
}

func (m *Manager) outcome(communityID string) error {
	m.mu.Lock()
	e, ok := m.rooms[communityID]
	if !ok {
		m.mu.Unlock()
		return ErrRoomClosed
	}
	denied := e.state == models.RoomDenied
	fn := m.onDenied
	m.mu.Unlock()

	if denied {
		if fn != nil {
			fn(communityID)
		}
		return ErrJoinDenied
	}
	return nil
}

func (m *Manager) resolveLocked(e *entry) {
	if !e.resolved {
		e.resolved = true
		close(e.done)
	}
}
