// Package moderation implements the permission-gated delete protocol.
//
// Deletion is the one operation in this system that is not optimistic: no
// client removes content before the authority acknowledges the request,
// because content flickering back after an erroneous premature removal is
// worse than the added latency. The flow per attempt is
// Idle -> Requested -> {Approved, Denied} -> Idle; the local mutation is
// applied from the deletion broadcast that every room member receives,
// requester included.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/pkg/logging"
)

// Sentinel errors
var (
	// ErrDeleteDenied reports an authoritative permission denial. The
	// machine-readable reason is attached via fmt wrapping.
	ErrDeleteDenied = errors.New("delete denied")

	// ErrNoResponse reports that the delete round-trip got no answer
	// within its bounded wait. Distinct from a denial.
	ErrNoResponse = errors.New("no response to delete request")

	// ErrRequestInFlight reports a duplicate request for a target whose
	// previous attempt has not resolved yet.
	ErrRequestInFlight = errors.New("delete request already in flight")
)

// State is the per-attempt protocol state.
type State int

// Protocol states
const (
	StateIdle State = iota
	StateRequested
	StateApproved
	StateDenied
)

// Target identifies the content a delete attempt is aimed at.
type Target struct {
	ID          string
	Type        string // bus.TargetPost or bus.TargetComment
	CommunityID string
}

// CanDelete is the advisory client-side permission check used to hide the
// control: the caller must be the author, or in the community's admin or
// moderator set. The authority re-checks server-side; this result is never
// trusted as enforcement.
func CanDelete(community *models.Community, identity, authorID string) bool {
	if community == nil || identity == "" {
		return false
	}
	return identity == authorID || community.IsAdmin(identity) || community.IsModerator(identity)
}

// Handler is the client half of the delete protocol.
type Handler struct {
	bus        *bus.Bus
	identity   string
	ackTimeout time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	attempts map[string]State
}

// NewHandler creates a delete protocol handler for one client identity.
func NewHandler(b *bus.Bus, identity string, ackTimeout time.Duration) *Handler {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	return &Handler{
		bus:        b,
		identity:   identity,
		ackTimeout: ackTimeout,
		logger: logging.GetLogger().With(
			zap.String("component", "moderation-handler"),
			zap.String("identity", identity)),
		attempts: make(map[string]State),
	}
}

// State returns the protocol state for a target: StateRequested while an
// attempt is in flight, the terminal outcome of the last attempt after it
// resolves, StateIdle if the target was never requested or got no answer.
func (h *Handler) State(targetID string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[targetID]
}

// RequestDelete runs one delete attempt to its terminal outcome. It never
// mutates local state: approval arrives as a deletion broadcast that the
// view layer applies like any other observer. A bounded wait with no answer
// returns ErrNoResponse; a denial returns ErrDeleteDenied wrapping the
// authority's reason.
func (h *Handler) RequestDelete(ctx context.Context, target Target) error {
	h.mu.Lock()
	if h.attempts[target.ID] == StateRequested {
		h.mu.Unlock()
		return ErrRequestInFlight
	}
	h.attempts[target.ID] = StateRequested
	h.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, h.ackTimeout)
	defer cancel()
	ack, err := h.bus.Request(reqCtx, bus.KindDeleteRequest, h.identity, &bus.DeleteRequest{
		TargetID:    target.ID,
		TargetType:  target.Type,
		CommunityID: target.CommunityID,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case err != nil:
		delete(h.attempts, target.ID)
		h.logger.Warn("Delete request got no response",
			zap.String("target_id", target.ID),
			zap.Error(err))
		return ErrNoResponse
	case ack.OK:
		// Terminal outcome stays observable; a later attempt overwrites it.
		h.attempts[target.ID] = StateApproved
		return nil
	default:
		h.attempts[target.ID] = StateDenied
		return fmt.Errorf("%w: %s", ErrDeleteDenied, ack.Error)
	}
}
