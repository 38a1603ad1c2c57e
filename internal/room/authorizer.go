package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/pkg/logging"
)

// CommunityGetter loads a community from the durable store.
type CommunityGetter interface {
	GetByID(ctx context.Context, id string) (*models.Community, error)
}

// Authorizer is the authoritative side of room membership. It answers join
// requests against the community's visibility and membership list, keeps the
// roster of current observers, and covers the best-effort join path: a
// fire-and-forget join that turns out to be denied gets a room:error
// broadcast instead of silence.
type Authorizer struct {
	communities CommunityGetter
	bus         *bus.Bus
	logger      *zap.Logger

	mu     sync.Mutex
	roster map[string]map[string]struct{}
}

// NewAuthorizer creates the room authority.
func NewAuthorizer(communities CommunityGetter, b *bus.Bus) *Authorizer {
	return &Authorizer{
		communities: communities,
		bus:         b,
		logger:      logging.GetLogger().With(zap.String("component", "room-authorizer")),
		roster:      make(map[string]map[string]struct{}),
	}
}

// Attach registers the authority on the bus.
func (a *Authorizer) Attach() {
	a.bus.HandleRequests(bus.KindRoomJoin, a.handleJoinRequest)
	a.bus.On(bus.KindRoomJoin, bus.Scope{}, a.handleBestEffortJoin)
	a.bus.On(bus.KindRoomLeave, bus.Scope{}, a.handleLeave)
}

// handleJoinRequest answers the acknowledged join path.
func (a *Authorizer) handleJoinRequest(ctx context.Context, identity string, payload interface{}) bus.Ack {
	join, ok := payload.(*bus.RoomJoin)
	if !ok {
		return bus.Ack{OK: false, Error: bus.ReasonNotFound}
	}
	if err := a.authorize(ctx, identity, join.CommunityID); err != nil {
		return bus.Ack{OK: false, Error: err.Error()}
	}
	a.track(join.CommunityID, identity)
	return bus.Ack{OK: true}
}

// handleBestEffortJoin covers fire-and-forget joins from clients whose ack
// round-trip failed. A denial here cannot be returned to the caller, so it
// is broadcast as room:error on the community scope.
func (a *Authorizer) handleBestEffortJoin(evt bus.Event) {
	join, ok := evt.Payload.(*bus.RoomJoin)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.authorize(ctx, evt.Identity, join.CommunityID); err != nil {
		a.logger.Info("Best-effort join denied, broadcasting room error",
			zap.String("community_id", join.CommunityID),
			zap.String("identity", evt.Identity))
		a.bus.Emit(bus.KindRoomError, bus.Scope{CommunityID: join.CommunityID}, evt.Identity,
			&bus.RoomError{CommunityID: join.CommunityID, Type: bus.ReasonJoinDenied})
		return
	}
	a.track(join.CommunityID, evt.Identity)
}

func (a *Authorizer) handleLeave(evt bus.Event) {
	leave, ok := evt.Payload.(*bus.RoomLeave)
	if !ok {
		return
	}
	a.mu.Lock()
	if observers, ok := a.roster[leave.CommunityID]; ok {
		delete(observers, evt.Identity)
		if len(observers) == 0 {
			delete(a.roster, leave.CommunityID)
		}
	}
	a.mu.Unlock()
}

// authorize checks a join against the community's visibility and membership
// list. Denial is a normal outcome, returned as ErrJoinDenied.
func (a *Authorizer) authorize(ctx context.Context, identity, communityID string) error {
	community, err := a.communities.GetByID(ctx, communityID)
	if err != nil {
		a.logger.Error("Failed to load community for join check",
			zap.String("community_id", communityID),
			zap.Error(err))
		return ErrJoinDenied
	}
	if community == nil {
		return ErrJoinDenied
	}
	if community.IsPrivate() && !community.IsMember(identity) {
		return ErrJoinDenied
	}
	return nil
}

func (a *Authorizer) track(communityID, identity string) {
	if identity == "" {
		return
	}
	a.mu.Lock()
	observers, ok := a.roster[communityID]
	if !ok {
		observers = make(map[string]struct{})
		a.roster[communityID] = observers
	}
	observers[identity] = struct{}{}
	a.mu.Unlock()
}

// Observers returns the identities currently registered on a community's
// stream.
func (a *Authorizer) Observers(communityID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.roster[communityID]))
	for identity := range a.roster[communityID] {
		out = append(out, identity)
	}
	return out
}
