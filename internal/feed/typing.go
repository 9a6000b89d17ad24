package feed

import (
	"strings"
	"sync"
	"time"
)

// FormatTyping renders the display names currently typing as a banner
// string. An empty list renders as the empty string.
func FormatTyping(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		others := strings.Join(names[:len(names)-1], ", ")
		return others + ", and " + names[len(names)-1] + " are typing..."
	}
}

// TypingSignal is the free-standing transient typing banner. Each event
// overwrites the previous one and restarts the visibility window; only the
// most recent signal is ever shown. It is independent of any specific post.
type TypingSignal struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	message  string
	deadline time.Time
}

// NewTypingSignal creates a signal with the given visibility window.
func NewTypingSignal(window time.Duration) *TypingSignal {
	return &TypingSignal{
		window: window,
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (t *TypingSignal) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Set records a new typing event, restarting the visibility window.
func (t *TypingSignal) Set(names []string) {
	msg := FormatTyping(names)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.deadline = t.now().Add(t.window)
}

// Current returns the visible banner, or "" once the window has elapsed.
func (t *TypingSignal) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.message == "" || t.now().After(t.deadline) {
		return ""
	}
	return t.message
}
