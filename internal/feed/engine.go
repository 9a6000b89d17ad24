package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/debate-feed/internal/config"
	"github.com/blackmichael/debate-feed/internal/domain"
	"github.com/blackmichael/debate-feed/internal/realtime"
)

// Backend is the resource-API surface the engine consumes.
type Backend interface {
	Fetcher
	EngagementAPI
	TrackView(ctx context.Context, postID int64) error
}

// PushChannel is the shared push connection surface the engine consumes.
type PushChannel interface {
	SendJSON(v any)
	Subscribe(listener func(frame []byte)) func()
}

// Engine wires the reconciliation store, the presence machines, the poller,
// and the optimistic mutator into one reconciliation surface. It is
// constructor-injected and caller-owned: create one at startup, create a
// fresh one per test.
type Engine struct {
	store    *Store
	thinking *ThinkingSet
	typing   *TypingSignal
	poller   *Poller
	mutator  *Mutator
	router   *realtime.Router
	backend  Backend
	channel  PushChannel
	logger   *slog.Logger
	userID   int64

	mu           sync.Mutex
	expanded     map[int64]bool
	listingStale bool
	onReply      func(domain.Reply)
	unsubscribe  func()
}

// NewEngine creates an Engine with the given policy configuration. Call
// Start to attach it to the push channel.
func NewEngine(backend Backend, channel PushChannel, cfg config.Feed, userID int64, logger *slog.Logger) *Engine {
	store := NewStore()
	thinking := NewThinkingSet(cfg.ThinkingFreshness(), cfg.ThinkingMaxWait())
	typing := NewTypingSignal(cfg.TypingWindow())
	policy := PollPolicy{
		Visible:  cfg.PollInterval(),
		Thinking: cfg.ThinkingPollInterval(),
	}

	e := &Engine{
		store:    store,
		thinking: thinking,
		typing:   typing,
		poller:   NewPoller(backend, store, thinking, policy, logger),
		mutator:  NewMutator(backend, logger),
		backend:  backend,
		channel:  channel,
		logger:   logger,
		userID:   userID,
		expanded: make(map[int64]bool),
	}

	e.router = realtime.NewRouter(e.handleReply, e.handleTyping, logger)

	// A poll stays alive only while its post is expanded or thinking, and
	// the poller re-checks on every tick: a hidden post whose thinking
	// state expires stops polling on the next wake.
	e.poller.SetGate(func(postID int64) bool {
		return e.Expanded(postID) || thinking.IsThinking(postID)
	})

	// A reply resolving a thinking post auto-expands its discussion view.
	thinking.SetIdleHook(func(postID int64) {
		e.mu.Lock()
		e.expanded[postID] = true
		e.mu.Unlock()
		logger.Info("automated response arrived", "post_id", postID)
	})

	// A confirmed mutation invalidates the cached post listing.
	e.mutator.SetInvalidateHook(func() {
		e.mu.Lock()
		e.listingStale = true
		e.mu.Unlock()
	})

	return e
}

// Start subscribes the engine's router to the push channel. Stop detaches it.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsubscribe != nil {
		return
	}
	e.unsubscribe = e.channel.Subscribe(e.router.Route)
}

// Stop detaches from the push channel and stops all polling.
func (e *Engine) Stop() {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.poller.Stop()
}

// SetReplyHook registers a callback fired for every reply newly added to the
// store from the push channel. The watch command uses it for output and
// archiving.
func (e *Engine) SetReplyHook(fn func(domain.Reply)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReply = fn
}

// handleReply is the reply-created reducer: push-append, then clear the
// post's thinking state on the same tick.
func (e *Engine) handleReply(ev realtime.ReplyEvent) {
	reply := domain.Reply{
		PostID:    ev.PostID,
		Body:      ev.Message,
		CreatedAt: ev.CreatedAt,
	}
	if ev.CreatedBy != nil {
		reply.Author = *ev.CreatedBy
	} else {
		reply.Author = domain.UserDetail{ID: ev.UserID}
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}

	stored, added := e.store.PushAppend(ev.PostID, reply)
	if !added {
		return
	}
	e.thinking.ReplyArrived(ev.PostID)

	e.mu.Lock()
	hook := e.onReply
	e.mu.Unlock()
	if hook != nil {
		// A concurrent poll merge may have already replaced the sequence;
		// the returned copy is the record as stored, so no re-read.
		hook(stored)
	}
}

// handleTyping is the typing-signal reducer.
func (e *Engine) handleTyping(names []string) {
	e.typing.Set(names)
}

// ObservePosts runs the once-per-post freshness evaluation and seeds local
// engagement state from a fetched listing. Views are tracked best-effort in
// the background.
func (e *Engine) ObservePosts(ctx context.Context, posts []domain.Post) {
	for _, post := range posts {
		e.mutator.SeedPost(post)
		e.thinking.Observe(post)
	}

	go func() {
		for _, post := range posts {
			if err := e.backend.TrackView(ctx, post.ID); err != nil {
				e.logger.Debug("view tracking failed", "post_id", post.ID, "error", err)
			}
		}
	}()
}

// ShowDiscussion expands a post's reply view and enables polling for it.
func (e *Engine) ShowDiscussion(ctx context.Context, postID int64) {
	e.mu.Lock()
	e.expanded[postID] = true
	e.mu.Unlock()
	e.poller.Enable(ctx, postID)
}

// HideDiscussion collapses the reply view. Polling stops immediately unless
// the post is still thinking; a thinking post keeps its fast cadence until
// the automated reply lands (which re-expands the view) or the max wait
// elapses.
func (e *Engine) HideDiscussion(postID int64) {
	e.mu.Lock()
	e.expanded[postID] = false
	e.mu.Unlock()

	if !e.thinking.IsThinking(postID) {
		e.poller.Disable(postID)
	}
}

// Expanded reports whether the post's discussion view is currently open.
func (e *Engine) Expanded(postID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded[postID]
}

// SendReply sends a reply over the push channel and marks the post thinking,
// since an automated participant is expected to answer.
func (e *Engine) SendReply(ctx context.Context, postID int64, body string) {
	if body == "" {
		return
	}
	e.channel.SendJSON(realtime.NewReplyMessage(postID, e.userID, body))
	e.thinking.MarkThinking(postID)
	e.poller.Enable(ctx, postID)
}

// Replies returns the reconciled reply sequence for a post.
func (e *Engine) Replies(postID int64) []domain.Reply {
	return e.store.Get(postID)
}

// PollErr returns the most recent reply-poll failure for the post, or nil.
func (e *Engine) PollErr(postID int64) error {
	return e.poller.Err(postID)
}

// TypingBanner returns the visible typing banner, or "".
func (e *Engine) TypingBanner() string {
	return e.typing.Current()
}

// IsThinking reports whether a post is awaiting an automated response.
func (e *Engine) IsThinking(postID int64) bool {
	return e.thinking.IsThinking(postID)
}

// Thinking returns the post IDs currently awaiting automated responses.
func (e *Engine) Thinking() []int64 {
	return e.thinking.Snapshot()
}

// ToggleReaction applies a like/dislike optimistically and confirms it.
func (e *Engine) ToggleReaction(ctx context.Context, postID int64, kind domain.ReactionKind) error {
	return e.mutator.ToggleReaction(ctx, postID, kind)
}

// ToggleBookmark flips a bookmark optimistically and confirms it.
func (e *Engine) ToggleBookmark(ctx context.Context, postID int64) error {
	return e.mutator.ToggleBookmark(ctx, postID)
}

// PostState returns the post's local engagement state snapshot.
func (e *Engine) PostState(postID int64) PostState {
	return e.mutator.State(postID)
}

// ListingStale reports whether a confirmed mutation has invalidated the last
// post listing. MarkListingFresh resets it after a refetch.
func (e *Engine) ListingStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listingStale
}

// MarkListingFresh clears the stale-listing flag.
func (e *Engine) MarkListingFresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listingStale = false
}
