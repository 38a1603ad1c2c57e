// Package merge applies vote and reaction updates to in-memory aggregates.
//
// Updates arrive from an untrusted, order-agnostic push channel, so every
// operation here is pure, total and idempotent: applying the same update
// twice, or two independent updates in either order, yields the same state.
// Invariants are restored from the membership sets on every call rather than
// trusting remotely supplied counts.
package merge

import (
	"github.com/openagora/agora/internal/models"
)

// VoteDirection is the requested vote action.
type VoteDirection string

// Vote directions
const (
	VoteUp      VoteDirection = "up"
	VoteDown    VoteDirection = "down"
	VoteRetract VoteDirection = "retract"
)

// ReactionAction is the requested reaction action.
type ReactionAction string

// Reaction actions
const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// ApplyVote returns agg with identity's vote set to direction. The input is
// not mutated. A duplicate vote in the same direction is a no-op; a vote in
// the opposite direction moves the identity between sets; retract removes it
// from both. Upvoters and downvoters stay disjoint and the score is always
// recomputed from the sets.
func ApplyVote(agg models.VoteAggregate, identity string, direction VoteDirection) models.VoteAggregate {
	out := agg.Clone()
	if identity == "" {
		return normalizeVotes(out)
	}

	out.Upvoters = remove(out.Upvoters, identity)
	out.Downvoters = remove(out.Downvoters, identity)

	switch direction {
	case VoteUp:
		out.Upvoters = append(out.Upvoters, identity)
	case VoteDown:
		out.Downvoters = append(out.Downvoters, identity)
	case VoteRetract:
		// Already removed from both sets.
	}

	return normalizeVotes(out)
}

// ApplyReaction returns m with identity's reaction on emoji set per action.
// The input is not mutated. Adding an already-present reaction is a no-op,
// not a double count; removing from an absent emoji key is a no-op, not an
// error. Entries left with no users are dropped from the map.
func ApplyReaction(m models.ReactionMap, emoji, identity string, action ReactionAction) models.ReactionMap {
	out := m.Clone()
	if emoji == "" || identity == "" {
		return NormalizeReactions(out)
	}

	entry := out[emoji]
	switch action {
	case ReactionAdd:
		if !entry.Users.Contains(identity) {
			entry.Users = append(entry.Users, identity)
		}
	case ReactionRemove:
		entry.Users = remove(entry.Users, identity)
	}
	out[emoji] = entry

	return NormalizeReactions(out)
}

// NormalizeVotes restores the vote aggregate invariants: sanitized disjoint
// voter sets and a score derived from them. Used when ingesting an aggregate
// from an untrusted source.
func NormalizeVotes(agg models.VoteAggregate) models.VoteAggregate {
	return normalizeVotes(agg.Clone())
}

func normalizeVotes(agg models.VoteAggregate) models.VoteAggregate {
	agg.Upvoters = agg.Upvoters.Sanitized()
	agg.Downvoters = agg.Downvoters.Sanitized()

	// An identity appearing in both sets is self-contradicting data; the
	// downvote is dropped so the duplicate never double counts.
	agg.Downvoters = subtract(agg.Downvoters, agg.Upvoters)

	agg.Score = len(agg.Upvoters) - len(agg.Downvoters)
	return agg
}

// NormalizeReactions restores the reaction map invariants: sanitized user
// sets, count == set size, and no empty entries.
func NormalizeReactions(m models.ReactionMap) models.ReactionMap {
	if m == nil {
		return models.ReactionMap{}
	}
	for emoji, entry := range m {
		entry.Users = entry.Users.Sanitized()
		entry.Count = len(entry.Users)
		if entry.Count == 0 {
			delete(m, emoji)
			continue
		}
		m[emoji] = entry
	}
	return m
}

func remove(l models.IdentityList, identity string) models.IdentityList {
	out := l[:0]
	for _, id := range l {
		if id != identity {
			out = append(out, id)
		}
	}
	return out
}

func subtract(l, exclude models.IdentityList) models.IdentityList {
	out := l[:0]
	for _, id := range l {
		if !exclude.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
