package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
)

func TestJoinAcked(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		return bus.Ack{OK: true}
	})

	m := NewManager(b, "alice", time.Second)
	if err := m.Join(context.Background(), "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	membership, ok := m.Membership("c1")
	if !ok {
		t.Fatal("Membership() not found after join")
	}
	if membership.State != models.RoomJoined || !membership.Acked {
		t.Errorf("membership = %+v, want joined and acked", membership)
	}
}

func TestJoinDenied(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		return bus.Ack{OK: false, Error: bus.ReasonJoinDenied}
	})

	m := NewManager(b, "mallory", time.Second)
	var denied []string
	m.OnDenied(func(communityID string) { denied = append(denied, communityID) })

	err := m.Join(context.Background(), "c1")
	if !errors.Is(err, ErrJoinDenied) {
		t.Fatalf("Join() error = %v, want ErrJoinDenied", err)
	}
	if len(denied) != 1 || denied[0] != "c1" {
		t.Errorf("denial signal = %v, want [c1]", denied)
	}

	membership, ok := m.Membership("c1")
	if !ok || membership.State != models.RoomDenied {
		t.Errorf("membership = %+v, want denied", membership)
	}
}

func TestJoinBestEffortFallback(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		// Authority never answers in time.
		<-ctx.Done()
		return bus.Ack{}
	})

	var mu sync.Mutex
	var fallback bool
	b.On(bus.KindRoomJoin, bus.Scope{}, func(evt bus.Event) {
		mu.Lock()
		fallback = true
		mu.Unlock()
	})

	m := NewManager(b, "alice", 20*time.Millisecond)
	if err := m.Join(context.Background(), "c1"); err != nil {
		t.Fatalf("Join() error = %v, want best-effort success", err)
	}

	membership, _ := m.Membership("c1")
	if membership.State != models.RoomJoined || membership.Acked {
		t.Errorf("membership = %+v, want joined and unacked", membership)
	}
	mu.Lock()
	defer mu.Unlock()
	if !fallback {
		t.Error("no fire-and-forget join emitted after ack failure")
	}
}

func TestRoomErrorRevokesBestEffortJoin(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		<-ctx.Done()
		return bus.Ack{}
	})

	m := NewManager(b, "mallory", 20*time.Millisecond)
	var denied []string
	m.OnDenied(func(communityID string) { denied = append(denied, communityID) })

	if err := m.Join(context.Background(), "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	// The authority catches up and revokes the unacked membership.
	b.Emit(bus.KindRoomError, bus.Scope{CommunityID: "c1"}, "mallory",
		&bus.RoomError{CommunityID: "c1", Type: bus.ReasonJoinDenied})

	membership, _ := m.Membership("c1")
	if membership.State != models.RoomDenied {
		t.Errorf("membership state = %v, want denied after room error", membership.State)
	}
	if len(denied) != 1 {
		t.Errorf("denial signal fired %d times, want 1", len(denied))
	}
}

func TestRoomErrorForOtherIdentityIgnored(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		return bus.Ack{OK: true}
	})

	m := NewManager(b, "alice", time.Second)
	if err := m.Join(context.Background(), "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	b.Emit(bus.KindRoomError, bus.Scope{CommunityID: "c1"}, "mallory",
		&bus.RoomError{CommunityID: "c1", Type: bus.ReasonJoinDenied})

	membership, _ := m.Membership("c1")
	if membership.State != models.RoomJoined {
		t.Errorf("membership state = %v, want joined", membership.State)
	}
}

func TestJoinIsReentrant(t *testing.T) {
	b := bus.New(nil)
	var requests int
	var mu sync.Mutex
	release := make(chan struct{})
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		mu.Lock()
		requests++
		mu.Unlock()
		<-release
		return bus.Ack{OK: true}
	})

	m := NewManager(b, "alice", time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Join(context.Background(), "c1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Join() #%d error = %v", i, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Errorf("authority saw %d requests, want 1", requests)
	}
}

func TestLeave(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		return bus.Ack{OK: true}
	})

	var leaves int
	b.On(bus.KindRoomLeave, bus.Scope{}, func(evt bus.Event) { leaves++ })

	m := NewManager(b, "alice", time.Second)
	if err := m.Join(context.Background(), "c1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	m.Leave("c1")
	m.Leave("c1")
	m.Leave("never-joined")

	if leaves != 1 {
		t.Errorf("room:leave emitted %d times, want 1", leaves)
	}
	if _, ok := m.Membership("c1"); ok {
		t.Error("membership still present after leave")
	}
}

func TestLeaveAfterDeniedEmitsNothing(t *testing.T) {
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		return bus.Ack{OK: false, Error: bus.ReasonJoinDenied}
	})

	var leaves int
	b.On(bus.KindRoomLeave, bus.Scope{}, func(evt bus.Event) { leaves++ })

	m := NewManager(b, "mallory", time.Second)
	if err := m.Join(context.Background(), "c1"); !errors.Is(err, ErrJoinDenied) {
		t.Fatalf("Join() error = %v, want ErrJoinDenied", err)
	}

	m.Leave("c1")
	if leaves != 0 {
		t.Errorf("room:leave emitted %d times for a denied membership, want 0", leaves)
	}
}
