package room

import (
	"context"
	"errors"
	"testing"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
)

type fakeCommunities struct {
	byID map[string]*models.Community
	err  error
}

func (f *fakeCommunities) GetByID(ctx context.Context, id string) (*models.Community, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

func testCommunities() *fakeCommunities {
	return &fakeCommunities{byID: map[string]*models.Community{
		"public": {ID: "public", Visibility: models.VisibilityPublic},
		"private": {
			ID:         "private",
			Visibility: models.VisibilityPrivate,
			Members:    models.IdentityList{"alice"},
		},
	}}
}

func TestAuthorizeJoin(t *testing.T) {
	tests := []struct {
		name        string
		identity    string
		communityID string
		wantOK      bool
	}{
		{"public community admits anyone", "randomer", "public", true},
		{"private community admits member", "alice", "private", true},
		{"private community denies non-member", "mallory", "private", false},
		{"unknown community denies", "alice", "ghost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New(nil)
			a := NewAuthorizer(testCommunities(), b)
			a.Attach()

			ack, err := b.Request(context.Background(), bus.KindRoomJoin, tt.identity,
				&bus.RoomJoin{CommunityID: tt.communityID})
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if ack.OK != tt.wantOK {
				t.Errorf("ack.OK = %v, want %v", ack.OK, tt.wantOK)
			}
			if !tt.wantOK && ack.Error != ErrJoinDenied.Error() {
				t.Errorf("ack.Error = %q, want %q", ack.Error, ErrJoinDenied.Error())
			}
		})
	}
}

func TestAuthorizeJoinStoreFailureDenies(t *testing.T) {
	b := bus.New(nil)
	a := NewAuthorizer(&fakeCommunities{err: errors.New("store down")}, b)
	a.Attach()

	ack, err := b.Request(context.Background(), bus.KindRoomJoin, "alice",
		&bus.RoomJoin{CommunityID: "public"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if ack.OK {
		t.Error("join allowed while the membership list was unreadable")
	}
}

func TestBestEffortJoinDeniedBroadcastsRoomError(t *testing.T) {
	b := bus.New(nil)
	a := NewAuthorizer(testCommunities(), b)
	a.Attach()

	var roomErrors []*bus.RoomError
	b.On(bus.KindRoomError, bus.Scope{CommunityID: "private"}, func(evt bus.Event) {
		if payload, ok := evt.Payload.(*bus.RoomError); ok {
			roomErrors = append(roomErrors, payload)
		}
	})

	b.Emit(bus.KindRoomJoin, bus.Scope{CommunityID: "private"}, "mallory",
		&bus.RoomJoin{CommunityID: "private"})

	if len(roomErrors) != 1 {
		t.Fatalf("room:error emitted %d times, want 1", len(roomErrors))
	}
	if roomErrors[0].Type != bus.ReasonJoinDenied {
		t.Errorf("room error type = %q, want %q", roomErrors[0].Type, bus.ReasonJoinDenied)
	}
}

func TestBestEffortJoinAllowedTracksObserver(t *testing.T) {
	b := bus.New(nil)
	a := NewAuthorizer(testCommunities(), b)
	a.Attach()

	b.Emit(bus.KindRoomJoin, bus.Scope{CommunityID: "public"}, "bob",
		&bus.RoomJoin{CommunityID: "public"})

	observers := a.Observers("public")
	if len(observers) != 1 || observers[0] != "bob" {
		t.Errorf("Observers() = %v, want [bob]", observers)
	}
}

func TestLeaveRemovesFromRoster(t *testing.T) {
	b := bus.New(nil)
	a := NewAuthorizer(testCommunities(), b)
	a.Attach()

	ack, err := b.Request(context.Background(), bus.KindRoomJoin, "alice",
		&bus.RoomJoin{CommunityID: "public"})
	if err != nil || !ack.OK {
		t.Fatalf("join failed: ack=%+v err=%v", ack, err)
	}

	b.Emit(bus.KindRoomLeave, bus.Scope{CommunityID: "public"}, "alice",
		&bus.RoomLeave{CommunityID: "public"})

	if observers := a.Observers("public"); len(observers) != 0 {
		t.Errorf("Observers() = %v after leave, want empty", observers)
	}
}
