package view

import (
	"context"
	"sync"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/merge"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/internal/thread"
)

// ThreadView is the reconciled comment collection of one post. The flat
// collection is the reducer's state; tree shape is derived on read by the
// assembler, so malformed parent references degrade gracefully instead of
// corrupting the view.
type ThreadView struct {
	session     *Session
	communityID string
	postID      string

	sub  *store.CommentSubscription
	offs []func()

	reduce  chan func()
	done    chan struct{}
	stopped chan struct{}
	updates chan struct{}

	mu       sync.Mutex
	comments map[string]models.Comment
	order    []string
	err      error
	closed   bool
}

// OpenThread joins the community's room and opens a live comment view for
// one post.
func (s *Session) OpenThread(ctx context.Context, communityID, postID, sort string) (*ThreadView, error) {
	if err := s.joinRoom(ctx, communityID); err != nil {
		return nil, err
	}

	v := &ThreadView{
		session:     s,
		communityID: communityID,
		postID:      postID,
		reduce:      make(chan func(), 64),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		updates:     make(chan struct{}, 1),
		comments:    make(map[string]models.Comment),
	}
	if err := s.trackView(v); err != nil {
		s.leaveRoom(communityID)
		return nil, err
	}

	v.sub = s.adapter.SubscribeComments(ctx, postID, sort)

	v.offs = append(v.offs,
		s.bus.On(bus.KindCommentNew, bus.Scope{PostID: postID}, v.onCommentNew),
		s.bus.On(bus.KindCommentDeleted, bus.Scope{PostID: postID}, v.onCommentDeleted),
		s.bus.On(bus.KindVoteUpdate, bus.Scope{}, v.onVoteUpdate),
		s.bus.On(bus.KindReactionUpdate, bus.Scope{}, v.onReactionUpdate),
	)

	go v.run()
	return v, nil
}

func (v *ThreadView) run() {
	defer close(v.stopped)
	for {
		select {
		case <-v.done:
			return
		case snap, ok := <-v.sub.C:
			if !ok {
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

func (v *ThreadView) post(fn func()) {
	select {
	case v.reduce <- fn:
	case <-v.done:
	}
}

func (v *ThreadView) signal() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

// Updates signals after each state change and closes when the view is torn
// down. Conflated; read the current state with Comments or Thread after each
// wakeup.
func (v *ThreadView) Updates() <-chan struct{} {
	return v.updates
}

func (v *ThreadView) applySnapshot(snap []models.Comment) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.comments = make(map[string]models.Comment, len(snap))
	v.order = make([]string, 0, len(snap))
	for _, c := range snap {
		c.Votes = merge.NormalizeVotes(c.Votes)
		c.Reactions = merge.NormalizeReactions(c.Reactions.Clone())
		v.comments[c.ID] = c
		v.order = append(v.order, c.ID)
	}
}

func (v *ThreadView) onCommentNew(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.CommentNew)
	if !ok || payload.PostID != v.postID || payload.CommunityID != v.communityID {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, exists := v.comments[payload.ID]; exists {
			return
		}
		v.comments[payload.ID] = models.Comment{
			ID:          payload.ID,
			PostID:      payload.PostID,
			CommunityID: payload.CommunityID,
			AuthorID:    payload.AuthorID,
			Content:     payload.Content,
			ParentID:    payload.ParentID,
			CreatedAt:   payload.CreatedAt,
			Reactions:   models.ReactionMap{},
		}
		v.order = append(v.order, payload.ID)
	})
}

// onCommentDeleted marks the comment deleted and blanks its content while
// keeping its position, so the reply subtree stays attached.
func (v *ThreadView) onCommentDeleted(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.CommentDeleted)
	if !ok || payload.CommunityID != v.communityID {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		c, exists := v.comments[payload.CommentID]
		if !exists {
			return
		}
		c.IsDeleted = true
		c.Content = ""
		v.comments[payload.CommentID] = c
	})
}

func (v *ThreadView) onVoteUpdate(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.VoteUpdate)
	if !ok || payload.TargetType != bus.TargetComment {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		c, exists := v.comments[payload.TargetID]
		if !exists {
			return
		}
		c.Votes = merge.ApplyVote(c.Votes, payload.Voter, merge.VoteDirection(payload.Direction))
		v.comments[payload.TargetID] = c
	})
}

func (v *ThreadView) onReactionUpdate(evt bus.Event) {
	payload, ok := evt.Payload.(*bus.ReactionUpdate)
	if !ok || payload.TargetType != bus.TargetComment {
		return
	}
	v.post(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		c, exists := v.comments[payload.TargetID]
		if !exists {
			return
		}
		c.Reactions = merge.ApplyReaction(c.Reactions, payload.Emoji, payload.UserID, merge.ReactionAction(payload.Action))
		v.comments[payload.TargetID] = c
	})
}

// Comments returns the current reconciled flat comment collection.
func (v *ThreadView) Comments() []models.Comment {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Comment, 0, len(v.order))
	for _, id := range v.order {
		if c, ok := v.comments[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Thread assembles the current comment collection into its forest.
func (v *ThreadView) Thread() thread.Forest {
	return thread.Assemble(v.Comments()).SortByCreated()
}

// Err returns the terminal live-query error, if any.
func (v *ThreadView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Close releases the live query, the bus registrations and the room
// membership, each independently of any in-flight request.
func (v *ThreadView) Close() {
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
