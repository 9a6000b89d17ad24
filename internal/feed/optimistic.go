package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blackmichael/debate-feed/internal/domain"
)

// EngagementAPI is the write surface the optimistic mutations confirm
// against.
type EngagementAPI interface {
	ToggleReaction(ctx context.Context, postID int64, kind domain.ReactionKind) error
	ToggleBookmark(ctx context.Context, postID int64) error
}

// PostState is the locally mutable engagement state of one post: the
// viewer's reaction plus the counters it affects, and the bookmark flag.
type PostState struct {
	Reaction     domain.ReactionKind // empty when no reaction is set
	LikeCount    int
	DislikeCount int
	Bookmarked   bool
}

type mutationKind int

const (
	reactionMutation mutationKind = iota
	bookmarkMutation
)

type mutationKey struct {
	postID int64
	kind   mutationKind
}

// delta is the exact local change one mutation applied, kept so a failed
// request reverts precisely what it did rather than re-fetching.
type delta struct {
	fromReaction domain.ReactionKind
	toReaction   domain.ReactionKind
	likeDelta    int
	dislikeDelta int
	fromBookmark bool
	toBookmark   bool
}

// Mutator applies reaction and bookmark toggles locally before the request
// resolves and rolls the exact delta back on failure. A second toggle before
// the first resolves is applied immediately; each in-flight mutation's delta
// sits on a per-(post, kind) stack so rollbacks apply in reverse order.
type Mutator struct {
	api    EngagementAPI
	logger *slog.Logger

	mu        sync.Mutex
	states    map[int64]*PostState
	inflight  map[mutationKey][]*delta
	onSettled func()
}

// NewMutator creates a Mutator.
func NewMutator(api EngagementAPI, logger *slog.Logger) *Mutator {
	return &Mutator{
		api:      api,
		logger:   logger,
		states:   make(map[int64]*PostState),
		inflight: make(map[mutationKey][]*delta),
	}
}

// SetInvalidateHook registers the cache-invalidation side effect run after a
// confirmed mutation, so a subsequent listing fetch reflects server truth.
func (m *Mutator) SetInvalidateHook(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSettled = fn
}

// SeedPost initializes local state from a server-provided post. Already
// seeded posts are left alone so optimistic state is not clobbered by a
// stale listing.
func (m *Mutator) SeedPost(post domain.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[post.ID]; ok {
		return
	}

	st := &PostState{
		LikeCount:    post.LikeCount,
		DislikeCount: post.DislikeCount,
		Bookmarked:   post.IsBookmarked,
	}
	switch {
	case post.IsLiked:
		st.Reaction = domain.ReactionLike
	case post.IsDisliked:
		st.Reaction = domain.ReactionDislike
	}
	m.states[post.ID] = st
}

// State returns a snapshot of the post's local engagement state.
func (m *Mutator) State(postID int64) PostState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state(postID)
}

// ToggleReaction flips the reaction optimistically, then confirms with the
// server. Toggling the current kind clears it; toggling the opposite kind
// moves one count from the old kind to the new. On failure the applied delta
// is reverted and the error returned for the caller to surface inline.
func (m *Mutator) ToggleReaction(ctx context.Context, postID int64, kind domain.ReactionKind) error {
	key := mutationKey{postID: postID, kind: reactionMutation}

	m.mu.Lock()
	st := m.state(postID)

	d := &delta{fromReaction: st.Reaction}
	if st.Reaction == kind {
		d.toReaction = ""
	} else {
		d.toReaction = kind
	}
	switch d.fromReaction {
	case domain.ReactionLike:
		d.likeDelta--
	case domain.ReactionDislike:
		d.dislikeDelta--
	}
	switch d.toReaction {
	case domain.ReactionLike:
		d.likeDelta++
	case domain.ReactionDislike:
		d.dislikeDelta++
	}

	st.Reaction = d.toReaction
	st.LikeCount += d.likeDelta
	st.DislikeCount += d.dislikeDelta
	m.inflight[key] = append(m.inflight[key], d)
	m.mu.Unlock()

	if err := m.api.ToggleReaction(ctx, postID, kind); err != nil {
		m.rollbackReaction(key, d)
		return fmt.Errorf("toggle reaction: %w", err)
	}

	m.settle(key, d)
	return nil
}

// ToggleBookmark flips the bookmark flag optimistically and reverts it on
// failure. No counters are involved.
func (m *Mutator) ToggleBookmark(ctx context.Context, postID int64) error {
	key := mutationKey{postID: postID, kind: bookmarkMutation}

	m.mu.Lock()
	st := m.state(postID)
	d := &delta{fromBookmark: st.Bookmarked, toBookmark: !st.Bookmarked}
	st.Bookmarked = d.toBookmark
	m.inflight[key] = append(m.inflight[key], d)
	m.mu.Unlock()

	if err := m.api.ToggleBookmark(ctx, postID); err != nil {
		m.rollbackBookmark(key, d)
		return fmt.Errorf("toggle bookmark: %w", err)
	}

	m.settle(key, d)
	return nil
}

// state returns the tracked state for a post, creating a zero entry if the
// post was never seeded. Caller holds the lock.
func (m *Mutator) state(postID int64) *PostState {
	st, ok := m.states[postID]
	if !ok {
		st = &PostState{}
		m.states[postID] = st
	}
	return st
}

// rollbackReaction unwinds the key's delta stack from the top down to and
// including the failed delta, so deltas stacked on top of the failed one are
// reverted first and the restored state is exactly what preceded the failed
// apply. Mutations whose deltas were unwound here find them gone when they
// resolve and leave state alone.
func (m *Mutator) rollbackReaction(key mutationKey, d *delta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := m.inflight[key]
	at := deltaIndex(stack, d)
	if at < 0 {
		// Already unwound by a deeper failure.
		return
	}

	st := m.state(key.postID)
	for i := len(stack) - 1; i >= at; i-- {
		rd := stack[i]
		st.LikeCount -= rd.likeDelta
		st.DislikeCount -= rd.dislikeDelta
		st.Reaction = rd.fromReaction
	}
	m.inflight[key] = stack[:at]
	m.logger.Warn("reaction toggle rejected, reverted", "post_id", key.postID)
}

// rollbackBookmark is the bookmark flavor of the same LIFO unwind.
func (m *Mutator) rollbackBookmark(key mutationKey, d *delta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := m.inflight[key]
	at := deltaIndex(stack, d)
	if at < 0 {
		return
	}

	st := m.state(key.postID)
	for i := len(stack) - 1; i >= at; i-- {
		st.Bookmarked = stack[i].fromBookmark
	}
	m.inflight[key] = stack[:at]
	m.logger.Warn("bookmark toggle rejected, reverted", "post_id", key.postID)
}

func deltaIndex(stack []*delta, d *delta) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == d {
			return i
		}
	}
	return -1
}

// settle confirms a mutation: the optimistic state is final, so the delta is
// dropped and cached aggregate queries are invalidated.
func (m *Mutator) settle(key mutationKey, d *delta) {
	m.mu.Lock()
	m.remove(key, d)
	hook := m.onSettled
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// remove takes a specific delta off the key's stack. Caller holds the lock.
func (m *Mutator) remove(key mutationKey, d *delta) {
	stack := m.inflight[key]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == d {
			m.inflight[key] = append(stack[:i], stack[i+1:]...)
			return
		}
	}
}
