// Package bus is the push channel: a scoped publish/subscribe fabric with
// optional acknowledged request kinds, fanned out across nodes over Redis.
//
// Delivery is best-effort and order-agnostic. Nothing here is authoritative;
// every event is a hint that the next durable snapshot supersedes. Handlers
// register with an explicit scope and are deregistered by the returned
// unsubscribe function, so no ambient listener accumulation survives a view
// teardown.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openagora/agora/internal/cache"
	"github.com/openagora/agora/pkg/logging"
)

// Sentinel errors for the request path
var (
	// ErrNoResponse is returned when a request's bounded wait elapses
	// before any acknowledgment arrives.
	ErrNoResponse = errors.New("no response from event channel")

	// ErrNoHandler is returned when a request kind has no authority
	// attached on this node.
	ErrNoHandler = errors.New("no handler registered for request kind")
)

// Event is one delivered push-channel event.
type Event struct {
	Kind     Kind
	Scope    Scope
	Identity string
	Payload  interface{}
}

// Handler consumes a delivered event.
type Handler func(evt Event)

// RequestHandler answers an acknowledged request kind.
type RequestHandler func(ctx context.Context, identity string, payload interface{}) Ack

// wireEvent is the Redis bridge envelope.
type wireEvent struct {
	Origin   string          `json:"origin"`
	Kind     Kind            `json:"kind"`
	Scope    Scope           `json:"scope"`
	Identity string          `json:"identity,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

const eventsChannel = "agora:events"

type registration struct {
	id      int64
	kind    Kind
	scope   Scope
	handler Handler
}

// Bus is a process-local event bus with an optional Redis fan-out bridge.
type Bus struct {
	origin string
	cache  *cache.Cache
	logger *zap.Logger

	mu       sync.RWMutex
	nextID   int64
	handlers map[Kind][]*registration
	requests map[Kind]RequestHandler
}

// New creates a new bus. redisCache may be nil, in which case events stay
// process-local.
func New(redisCache *cache.Cache) *Bus {
	return &Bus{
		origin:   uuid.NewString(),
		cache:    redisCache,
		logger:   logging.GetLogger().With(zap.String("component", "bus")),
		handlers: make(map[Kind][]*registration),
		requests: make(map[Kind]RequestHandler),
	}
}

// On registers a scoped handler and returns its unsubscribe function. The
// unsubscribe function is idempotent.
func (b *Bus) On(kind Kind, scope Scope, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	reg := &registration{id: b.nextID, kind: kind, scope: scope, handler: handler}
	b.handlers[kind] = append(b.handlers[kind], reg)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(reg) })
	}
}

func (b *Bus) off(reg *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[reg.kind]
	for i, r := range regs {
		if r.id == reg.id {
			b.handlers[reg.kind] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Emit delivers a fire-and-forget event to local subscribers and, when a
// bridge is attached, to every other node.
func (b *Bus) Emit(kind Kind, scope Scope, identity string, payload interface{}) {
	evt := Event{Kind: kind, Scope: scope, Identity: identity, Payload: payload}
	b.dispatch(evt)
	b.publish(evt)
}

// dispatch fans an event out to matching local registrations. Handlers run
// on the caller's goroutine; anything long-lived must hand off itself.
func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	regs := b.handlers[evt.Kind]
	matched := make([]Handler, 0, len(regs))
	for _, reg := range regs {
		if reg.scope.Matches(evt.Scope) {
			matched = append(matched, reg.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		h(evt)
	}
}

func (b *Bus) publish(evt Event) {
	if b.cache == nil {
		return
	}
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		b.logger.Warn("Failed to encode event payload",
			zap.String("kind", string(evt.Kind)),
			zap.Error(err))
		return
	}
	wire, err := json.Marshal(wireEvent{
		Origin:   b.origin,
		Kind:     evt.Kind,
		Scope:    evt.Scope,
		Identity: evt.Identity,
		Payload:  raw,
	})
	if err != nil {
		return
	}
	if err := b.cache.Publish(context.Background(), eventsChannel, string(wire)); err != nil {
		b.logger.Warn("Failed to publish event to bridge", zap.Error(err))
	}
}

// HandleRequests attaches the authority for an acknowledged request kind.
// One handler per kind; the last registration wins.
func (b *Bus) HandleRequests(kind Kind, handler RequestHandler) {
	b.mu.Lock()
	b.requests[kind] = handler
	b.mu.Unlock()
}

// Request sends an acknowledged request and waits for the ack or the
// context's deadline, whichever comes first. A deadline expiry is reported
// as ErrNoResponse so callers can distinguish "denied" from "no answer".
func (b *Bus) Request(ctx context.Context, kind Kind, identity string, payload interface{}) (Ack, error) {
	b.mu.RLock()
	handler, ok := b.requests[kind]
	b.mu.RUnlock()
	if !ok {
		return Ack{}, ErrNoHandler
	}

	done := make(chan Ack, 1)
	go func() {
		done <- handler(ctx, identity, payload)
	}()

	select {
	case ack := <-done:
		return ack, nil
	case <-ctx.Done():
		return Ack{}, ErrNoResponse
	}
}

// Run consumes bridged events from Redis until the context is cancelled.
// Remote events are re-dispatched locally; our own publications are skipped
// by origin id.
func (b *Bus) Run(ctx context.Context) error {
	if b.cache == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	messages, err := b.cache.Subscribe(ctx, eventsChannel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.receive(msg)
		}
	}
}

func (b *Bus) receive(msg string) {
	var wire wireEvent
	if err := json.Unmarshal([]byte(msg), &wire); err != nil {
		b.logger.Warn("Dropping malformed bridged event", zap.Error(err))
		return
	}
	if wire.Origin == b.origin {
		return
	}
	payload, err := decodePayload(wire.Kind, wire.Payload)
	if err != nil {
		b.logger.Warn("Dropping undecodable bridged event",
			zap.String("kind", string(wire.Kind)),
			zap.Error(err))
		return
	}
	b.dispatch(Event{Kind: wire.Kind, Scope: wire.Scope, Identity: wire.Identity, Payload: payload})
}
