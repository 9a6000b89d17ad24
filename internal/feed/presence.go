package feed

import (
	"sync"
	"time"

	"github.com/blackmichael/debate-feed/internal/domain"
)

// ThinkingSet tracks which posts are awaiting an automated response. A post
// enters the set when it is first observed young with zero replies, or when
// the local user sends a reply to it; it leaves on the first visible reply
// or after the max-wait fallback elapses, whichever comes first.
type ThinkingSet struct {
	freshness time.Duration
	maxWait   time.Duration
	now       func() time.Time

	mu        sync.Mutex
	entered   map[int64]time.Time
	evaluated map[int64]struct{}
	onIdle    func(postID int64)
}

// NewThinkingSet creates a ThinkingSet. freshness is the post-age cutoff for
// the zero-reply heuristic; maxWait bounds how long a post may stay thinking
// with no reply at all.
func NewThinkingSet(freshness, maxWait time.Duration) *ThinkingSet {
	return &ThinkingSet{
		freshness: freshness,
		maxWait:   maxWait,
		now:       time.Now,
		entered:   make(map[int64]time.Time),
		evaluated: make(map[int64]struct{}),
	}
}

// SetClock overrides the time source for tests.
func (t *ThinkingSet) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// SetIdleHook registers the side effect fired when a reply resolves a
// thinking post, on the same tick the reply becomes visible. The engine uses
// it to auto-expand the reply view.
func (t *ThinkingSet) SetIdleHook(fn func(postID int64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onIdle = fn
}

// Observe evaluates the freshness heuristic for a post. The evaluation runs
// once per post, the first time it becomes visible: a post younger than the
// freshness window with zero replies is assumed to be awaiting an automated
// response.
func (t *ThinkingSet) Observe(post domain.Post) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, done := t.evaluated[post.ID]; done {
		return
	}
	t.evaluated[post.ID] = struct{}{}

	if post.CommentCount == 0 && t.now().Sub(post.CreatedAt) < t.freshness {
		t.entered[post.ID] = t.now()
	}
}

// MarkThinking puts a post into the thinking state because the local user
// just sent a reply to it.
func (t *ThinkingSet) MarkThinking(postID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entered[postID] = t.now()
}

// ReplyArrived transitions a thinking post back to idle and fires the idle
// hook. Posts not in the thinking state are unaffected, so a reply can never
// spuriously flip a post back to thinking.
func (t *ThinkingSet) ReplyArrived(postID int64) {
	t.mu.Lock()
	if _, ok := t.entered[postID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.entered, postID)
	hook := t.onIdle
	t.mu.Unlock()

	if hook != nil {
		hook(postID)
	}
}

// IsThinking reports whether the post is awaiting an automated response. A
// post whose max wait has elapsed is expired here; the fallback transition
// does not fire the idle hook, since no reply actually arrived.
func (t *ThinkingSet) IsThinking(postID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	enteredAt, ok := t.entered[postID]
	if !ok {
		return false
	}
	if t.maxWait > 0 && t.now().Sub(enteredAt) >= t.maxWait {
		delete(t.entered, postID)
		return false
	}
	return true
}

// Snapshot returns the post IDs currently thinking, max-wait expiry applied.
func (t *ThinkingSet) Snapshot() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int64, 0, len(t.entered))
	for id, enteredAt := range t.entered {
		if t.maxWait > 0 && t.now().Sub(enteredAt) >= t.maxWait {
			delete(t.entered, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
