package view

import (
	"context"
	"sync"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/merge"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/internal/store"
)

// CommunityView is the reconciled post list of one community. All state
// changes flow through a single reducer goroutine; the two update channels
// (snapshots, push events) are unordered relative to each other and both
// converge on the next snapshot.
type CommunityView struct {
	session     *Session
	communityID string

	sub  *store.PostSubscription
	offs []func()

	reduce  chan func()
	done    chan struct{}
	stopped chan struct{}
	updates chan struct{}

	mu     sync.Mutex
	posts  map[string]models.Post
	order  []string
	err    error
	closed bool
}

// OpenCommunity joins the community's room and opens a live post view under
// the given sort key. A join denial is returned as room.ErrJoinDenied, a
// recoverable outcome for the caller to surface, not a failure of the view
// machinery. Changing the sort key means closing this view and opening a
// new one.
func (s *Session) OpenCommunity(ctx context.Context, communityID, sort string) (*CommunityView, error) {
	if err := s.joinRoom(ctx, communityID); err != nil {
		return nil, err
	}

	v := &CommunityView{
		session:     s,
		communityID: communityID,
		reduce:      make(chan func(), 64),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		updates:     make(chan struct{}, 1),
		posts:       make(map[string]models.Post),
	}
	if err := s.trackView(v); err != nil {
		s.leaveRoom(communityID)
		return nil, err
	}

	v.sub = s.adapter.SubscribePosts(ctx, communityID, sort)

	scope := bus.Scope{CommunityID: communityID}
	v.offs = append(v.offs,
		s.bus.On(bus.KindPostNew, scope, v.onPostNew),
		s.bus.On(bus.KindPostDeleted, scope, v.onPostDeleted),
		s.bus.On(bus.KindVoteUpdate, bus.Scope{}, v.onVoteUpdate),
		s.bus.On(bus.KindReactionUpdate, bus.Scope{}, v.onReactionUpdate),
	)

	go v.run()
	return v, nil
}

func (v *CommunityView) run() {
	defer close(v.stopped)
	for {
		select {
		case <-v.done:
			return
		case snap, ok := <-v.sub.C:
			if !ok {
				// Terminal query failure; the view keeps its last
				// state and reports the error. Retry is the
				// caller's call.
				v.mu.Lock()
				v.err = v.sub.Err()
				v.mu.Unlock()
				v.signal()
				return
			}
			v.applySnapshot(snap)
			v.signal()
		case fn := <-v.reduce:
			fn()
			v.signal()
		}
	}
}

// post hands an event closure to the reducer, dropping it if the view is
// already torn down. Stale handlers never mutate a dead view.
func (v *CommunityView) post(fn func()) {
	select {
	case v.reduce <- fn:
	case <-v.done:
	}
}

// signal conflates change notifications; readers that fall behind see one
// wakeup covering everything since their last read.
func (v *CommunityView) signal() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

// Updates signals after each state change and closes when the view is torn
// down. Conflated; read the current state with Posts after each wakeup.
func (v *CommunityView) Updates() <-chan struct{} {
	return v.updates
}

// applySnapshot replaces the view state outright: the durable snapshot is
// authoritative and supersedes every locally merged update.
func (v *CommunityView) applySnapshot(snap []models.Post) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.posts = make(map[string]models.Post, len(snap))
	v.order = make([]string, 0, len(snap))
	for _, p := range snap {
		p.Votes = merge.NormalizeVotes(p.Votes)
		p.Reactions = merge.NormalizeReactions(p.Reactions.Clone())
		v.posts[p.ID] = p
		v.order = append(v.order, p.ID)
	}
}

func (v *CommunityView) onPostNew(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.PostNew)
	if !ok || payload.CommunityID != v.communityID {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, exists := v.posts[payload.ID]; exists {
			return
		}
		v.posts[payload.ID] = models.Post{
			ID:          payload.ID,
			CommunityID: payload.CommunityID,
			AuthorID:    payload.AuthorID,
			Title:       payload.Title,
			CreatedAt:   payload.CreatedAt,
			Reactions:   models.ReactionMap{},
		}
		v.order = append(v.order, payload.ID)
	})
}

func (v *CommunityView) onPostDeleted(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.PostDeleted)
	if !ok || payload.CommunityID != v.communityID {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, exists := v.posts[payload.PostID]; !exists {
			return
		}
		delete(v.posts, payload.PostID)
		for i, id := range v.order {
			if id == payload.PostID {
				v.order = append(v.order[:i], v.order[i+1:]...)
				break
			}
		}
	})
}

func (v *CommunityView) onVoteUpdate(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.VoteUpdate)
	if !ok || payload.TargetType != bus.TargetPost {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		p, exists := v.posts[payload.TargetID]
		if !exists {
			return
		}
		// Merge from the voter identity, never from the remote score.
		p.Votes = merge.ApplyVote(p.Votes, payload.Voter, merge.VoteDirection(payload.Direction))
		v.posts[payload.TargetID] = p
	})
}

func (v *CommunityView) onReactionUpdate(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.ReactionUpdate)
	if !ok || payload.TargetType != bus.TargetPost {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		p, exists := v.posts[payload.TargetID]
		if !exists {
			return
		}
		p.Reactions = merge.ApplyReaction(p.Reactions, payload.Emoji, payload.UserID, merge.ReactionAction(payload.Action))
		v.posts[payload.TargetID] = p
	})
}

// Posts returns the current reconciled post list in snapshot order, with
// push-created posts appended until the next snapshot places them.
func (v *CommunityView) Posts() []models.Post {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Post, 0, len(v.order))
	for _, id := range v.order {
		if p, ok := v.posts[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Err returns the terminal live-query error, if any.
func (v *CommunityView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Close releases the live query, the bus registrations and the room
// membership, each independently of any in-flight request.
func (v *CommunityView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	close(v.done)
	// The updates channel closes only after the reducer has exited, so no
	// signal can race the close.
	<-v.stopped
	close(v.updates)
	v.sub.Close()
	for _, off := range v.offs {
		off()
	}
	v.session.untrackView(v)
	v.session.leaveRoom(v.communityID)
}
