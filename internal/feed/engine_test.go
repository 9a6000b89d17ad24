package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/debate-feed/internal/config"
	"github.com/blackmichael/debate-feed/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	fakeEngagementAPI
	mu      sync.Mutex
	replies map[int64][]domain.Reply
	views   []int64
}

func (f *fakeBackend) CommentsForPost(_ context.Context, postID int64) ([]domain.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[postID], nil
}

func (f *fakeBackend) TrackView(_ context.Context, postID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, postID)
	return nil
}

type fakeChannel struct {
	mu        sync.Mutex
	listeners map[int]func([]byte)
	nextID    int
	sent      []any
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{listeners: make(map[int]func([]byte))}
}

func (f *fakeChannel) SendJSON(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
}

func (f *fakeChannel) Subscribe(listener func([]byte)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) emit(frame string) {
	f.mu.Lock()
	listeners := make([]func([]byte), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l([]byte(frame))
	}
}

func testFeedConfig() config.Feed {
	return config.Feed{
		PollIntervalMs:         50,
		ThinkingPollIntervalMs: 10,
		TypingWindowMs:         5000,
		ThinkingFreshnessMs:    30000,
		ThinkingMaxWaitMs:      60000,
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeBackend, *fakeChannel) {
	t.Helper()
	backend := &fakeBackend{}
	channel := newFakeChannel()
	engine := NewEngine(backend, channel, testFeedConfig(), 1, discardLogger())
	engine.Start()
	t.Cleanup(engine.Stop)
	return engine, backend, channel
}

func TestFreshPostThinksUntilPushReplyArrives(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	// Post created 5 seconds ago, no replies yet: an automated response is
	// expected.
	post := domain.Post{ID: 7, CreatedAt: time.Now().Add(-5 * time.Second)}
	engine.ObservePosts(context.Background(), []domain.Post{post})
	require.True(t, engine.IsThinking(7))
	require.False(t, engine.Expanded(7))

	channel.emit(`{"type":"post_reply","post_id":7,"user_id":2,"message":"counterpoint"}`)

	assert.False(t, engine.IsThinking(7))
	assert.True(t, engine.Expanded(7), "reply arrival auto-expands the discussion")

	replies := engine.Replies(7)
	require.Len(t, replies, 1)
	assert.Equal(t, "counterpoint", replies[0].Body)
	assert.True(t, replies[0].Provisional())
}

func TestUnknownFrameIsIgnored(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	assert.NotPanics(t, func() {
		channel.emit(`{"type":"ping"}`)
	})
	assert.Empty(t, engine.Replies(1))
	assert.Empty(t, engine.TypingBanner())

	// And the channel keeps working afterwards.
	channel.emit(`{"type":"post_reply","post_id":1,"user_id":2,"message":"still alive"}`)
	assert.Len(t, engine.Replies(1), 1)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	assert.NotPanics(t, func() {
		channel.emit(`{not json`)
	})
	assert.Empty(t, engine.Replies(1))

	channel.emit(`{"type":"post_reply","post_id":1,"user_id":2,"message":"ok"}`)
	assert.Len(t, engine.Replies(1), 1)
}

func TestTypingFrameSetsBanner(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	channel.emit(`{"type":"post_users_typing","message":["The Contrarian","Doc Evidence"]}`)

	assert.Equal(t, "The Contrarian and Doc Evidence are typing...", engine.TypingBanner())
}

func TestReplyEventHonorsServerDetail(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	channel.emit(`{
		"type": "post_reply",
		"post_id": 3,
		"user_id": 9,
		"message": "with detail",
		"created_by_detail": {"id": 9, "name": "The Contrarian", "type": "ai"},
		"created_at": "2026-08-30T12:00:00Z"
	}`)

	replies := engine.Replies(3)
	require.Len(t, replies, 1)
	assert.Equal(t, "The Contrarian", replies[0].Author.Name)
	assert.Equal(t, domain.UserAI, replies[0].Author.Type)
	assert.Equal(t, 2026, replies[0].CreatedAt.Year())
}

func TestSendReplyMarksThinkingAndSendsFrame(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	engine.SendReply(context.Background(), 5, "my hot take")

	assert.True(t, engine.IsThinking(5))

	channel.mu.Lock()
	sent := channel.sent
	channel.mu.Unlock()
	require.Len(t, sent, 1)

	payload, err := json.Marshal(sent[0])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"post_reply","post_id":5,"user_id":1,"message":"my hot take"}`,
		string(payload),
	)
}

func TestSendReplyIgnoresEmptyBody(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	engine.SendReply(context.Background(), 5, "")

	assert.False(t, engine.IsThinking(5))
	channel.mu.Lock()
	defer channel.mu.Unlock()
	assert.Empty(t, channel.sent)
}

func TestHideDiscussionStopsPollingWhenIdle(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.ShowDiscussion(ctx, 4)
	require.True(t, engine.Expanded(4))

	engine.HideDiscussion(4)
	assert.False(t, engine.Expanded(4))
	assert.False(t, engine.poller.Enabled(4))
}

func TestHideDiscussionKeepsPollingWhileThinking(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.SendReply(ctx, 4, "prompt the ai")
	engine.ShowDiscussion(ctx, 4)
	engine.HideDiscussion(4)

	assert.True(t, engine.poller.Enabled(4), "thinking post keeps its fast cadence")
}

func TestHiddenPostStopsPollingWhenThinkingExpires(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	var clockMu sync.Mutex
	now := time.Now()
	engine.thinking.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	})

	engine.SendReply(ctx, 4, "prompt the ai")
	engine.HideDiscussion(4)
	require.True(t, engine.poller.Enabled(4), "thinking keeps the hidden post polling")

	// No reply ever lands; once the max wait elapses the post is neither
	// expanded nor thinking, and the poll loop shuts itself down.
	clockMu.Lock()
	now = now.Add(61 * time.Second)
	clockMu.Unlock()

	waitFor(t, func() bool { return !engine.poller.Enabled(4) })
	assert.False(t, engine.IsThinking(4))
}

func TestConfirmedToggleMarksListingStale(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	engine.ObservePosts(context.Background(), []domain.Post{{ID: 2, LikeCount: 1}})
	require.False(t, engine.ListingStale())

	require.NoError(t, engine.ToggleReaction(context.Background(), 2, domain.ReactionLike))
	assert.True(t, engine.ListingStale())

	engine.MarkListingFresh()
	assert.False(t, engine.ListingStale())
}

func TestReplyHookSeesStoredReply(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	var got []domain.Reply
	engine.SetReplyHook(func(r domain.Reply) { got = append(got, r) })

	channel.emit(`{"type":"post_reply","post_id":6,"user_id":2,"message":"archived"}`)
	channel.emit(`{"type":"post_reply","post_id":6,"user_id":2,"message":"archived again"}`)

	require.Len(t, got, 2)
	// The hook sees the stored record, synthesized identifier included.
	assert.Equal(t, engine.Replies(6)[0].ID, got[0].ID)
	assert.True(t, got[0].Provisional())
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestReplyHookUnaffectedByConcurrentMerges(t *testing.T) {
	engine, _, channel := newTestEngine(t)

	var mu sync.Mutex
	var got []domain.Reply
	engine.SetReplyHook(func(r domain.Reply) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	// Authoritative merges race the push path, repeatedly emptying and
	// refilling the sequence while frames arrive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			engine.store.PollMerge(6, nil)
			engine.store.PollMerge(6, []domain.Reply{{ID: "1", Body: "merged"}})
		}
	}()

	const frames = 500
	for i := 0; i < frames; i++ {
		channel.emit(`{"type":"post_reply","post_id":6,"user_id":2,"message":"pushed"}`)
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, frames)
	for _, r := range got {
		assert.Equal(t, "pushed", r.Body)
		assert.True(t, r.Provisional())
	}
}
