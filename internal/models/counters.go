package models

// ReactionEntry holds one emoji's reaction state. The invariant
// Count == len(Users) is restored by the merge engine on every write;
// a remotely supplied Count is never trusted.
type ReactionEntry struct {
	Count int          `json:"count"`
	Users IdentityList `json:"users"`
}

// ReactionMap maps an emoji key to its reaction entry.
type ReactionMap map[string]ReactionEntry

// Clone returns a deep copy of the map.
func (m ReactionMap) Clone() ReactionMap {
	if m == nil {
		return ReactionMap{}
	}
	out := make(ReactionMap, len(m))
	for emoji, entry := range m {
		users := make(IdentityList, len(entry.Users))
		copy(users, entry.Users)
		out[emoji] = ReactionEntry{Count: entry.Count, Users: users}
	}
	return out
}

// VoteAggregate holds a post or comment's vote state. Upvoters and
// Downvoters are disjoint; Score == len(Upvoters) - len(Downvoters).
type VoteAggregate struct {
	Score      int          `json:"score"`
	Upvoters   IdentityList `json:"upvoters"`
	Downvoters IdentityList `json:"downvoters"`
}

// Clone returns a deep copy of the aggregate.
func (v VoteAggregate) Clone() VoteAggregate {
	up := make(IdentityList, len(v.Upvoters))
	copy(up, v.Upvoters)
	down := make(IdentityList, len(v.Downvoters))
	copy(down, v.Downvoters)
	return VoteAggregate{Score: v.Score, Upvoters: up, Downvoters: down}
}
