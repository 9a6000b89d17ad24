package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/debate-feed/internal/domain"
)

// Fetcher retrieves the authoritative reply list for a post.
type Fetcher interface {
	CommentsForPost(ctx context.Context, postID int64) ([]domain.Reply, error)
}

// PollPolicy sets the per-state polling cadence. The cadence is coupled to
// presence state: a thinking post polls on the short interval so automated
// replies surface quickly.
type PollPolicy struct {
	Visible  time.Duration
	Thinking time.Duration
}

// DefaultPollPolicy is the production cadence.
var DefaultPollPolicy = PollPolicy{
	Visible:  5 * time.Second,
	Thinking: 500 * time.Millisecond,
}

// Poller runs one poll loop per enabled post, feeding authoritative results
// into the Store. Polls for a given post are serialized: at most one fetch is
// in flight per post, so an older result can never overwrite a newer one.
type Poller struct {
	fetcher  Fetcher
	store    *Store
	thinking *ThinkingSet
	policy   PollPolicy
	logger   *slog.Logger

	mu      sync.Mutex
	gate    func(postID int64) bool
	active  map[int64]*pollHandle
	lastErr map[int64]error
}

// pollHandle identifies one Enable's loop, so a loop shutting itself down
// can never tear down a successor registered after a Disable/Enable cycle.
type pollHandle struct {
	cancel context.CancelFunc
}

// NewPoller creates a Poller. Polling is opt-in per post via Enable.
func NewPoller(fetcher Fetcher, store *Store, thinking *ThinkingSet, policy PollPolicy, logger *slog.Logger) *Poller {
	if policy.Visible <= 0 {
		policy.Visible = DefaultPollPolicy.Visible
	}
	if policy.Thinking <= 0 {
		policy.Thinking = DefaultPollPolicy.Thinking
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		thinking: thinking,
		policy:   policy,
		logger:   logger,
		active:   make(map[int64]*pollHandle),
		lastErr:  make(map[int64]error),
	}
}

// SetGate registers a predicate consulted on every tick. When it reports the
// post no longer needs polling, the loop disables itself, so a gating
// transition that happens after Enable (a hidden post's thinking state
// expiring, say) still stops the poll.
func (p *Poller) SetGate(fn func(postID int64) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = fn
}

func (p *Poller) wanted(postID int64) bool {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	return gate == nil || gate(postID)
}

// Enable starts polling replies for the post. Enabling an already-enabled
// post is a no-op. The loop stops when Disable is called or ctx is
// cancelled.
func (p *Poller) Enable(ctx context.Context, postID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[postID]; ok {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	h := &pollHandle{cancel: cancel}
	p.active[postID] = h
	go p.loop(pollCtx, postID, h)
}

// Disable stops polling for the post. An in-flight fetch is not aborted, but
// its result is discarded when it resolves.
func (p *Poller) Disable(postID int64) {
	p.mu.Lock()
	h, ok := p.active[postID]
	if ok {
		delete(p.active, postID)
	}
	p.mu.Unlock()

	if ok {
		h.cancel()
	}
}

// disableSelf removes the loop's own registration, unless a Disable/Enable
// cycle already replaced it.
func (p *Poller) disableSelf(postID int64, h *pollHandle) {
	p.mu.Lock()
	if p.active[postID] == h {
		delete(p.active, postID)
	}
	p.mu.Unlock()
	h.cancel()
}

// Enabled reports whether the post is currently being polled.
func (p *Poller) Enabled(postID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[postID]
	return ok
}

// Err returns the most recent fetch failure for the post, or nil. Fetch
// failures are locally scoped; they never stop the loop.
func (p *Poller) Err(postID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr[postID]
}

// Stop disables polling for every post.
func (p *Poller) Stop() {
	p.mu.Lock()
	handles := make([]*pollHandle, 0, len(p.active))
	for id, h := range p.active {
		handles = append(handles, h)
		delete(p.active, id)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}

func (p *Poller) loop(ctx context.Context, postID int64, h *pollHandle) {
	for {
		p.poll(ctx, postID)

		interval := p.policy.Visible
		if p.thinking.IsThinking(postID) {
			interval = p.policy.Thinking
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if !p.wanted(postID) {
			p.disableSelf(postID, h)
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context, postID int64) {
	replies, err := p.fetcher.CommentsForPost(ctx, postID)

	// Disabled while the fetch was in flight: the result is stale, drop it.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		p.logger.Warn("reply poll failed", "post_id", postID, "error", err)
		p.setErr(postID, err)
		return
	}
	p.setErr(postID, nil)

	p.store.PollMerge(postID, replies)
	if len(replies) > 0 {
		p.thinking.ReplyArrived(postID)
	}
}

func (p *Poller) setErr(postID int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.lastErr, postID)
		return
	}
	p.lastErr[postID] = err
}
