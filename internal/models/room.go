package models

// RoomState is the lifecycle state of a room membership. The lifecycle is
// strictly request -> one terminal outcome -> teardown.
type RoomState int

// Room membership states
const (
	RoomPending RoomState = iota
	RoomJoined
	RoomDenied
)

// String returns the state name.
func (s RoomState) String() string {
	switch s {
	case RoomPending:
		return "pending"
	case RoomJoined:
		return "joined"
	case RoomDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// RoomMembership tracks one client's observer registration on one
// community's event stream. Runtime only, never persisted.
type RoomMembership struct {
	Identity    string
	CommunityID string
	State       RoomState

	// Acked is false when the join fell back to best-effort after the
	// acknowledgment round-trip failed. An unacked join must still be
	// revocable by a later denial event.
	Acked bool
}
