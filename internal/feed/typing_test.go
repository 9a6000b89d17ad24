package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTyping(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{"nobody", nil, ""},
		{"one user", []string{"Ada"}, "Ada is typing..."},
		{"two users", []string{"Ada", "Grace"}, "Ada and Grace are typing..."},
		{
			"three users",
			[]string{"Ada", "Grace", "Edsger"},
			"Ada, Grace, and Edsger are typing...",
		},
		{
			"four users",
			[]string{"Ada", "Grace", "Edsger", "Barbara"},
			"Ada, Grace, Edsger, and Barbara are typing...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTyping(tt.names))
		})
	}
}

func TestTypingSignalVisibilityWindow(t *testing.T) {
	base := time.Now()
	now := base
	signal := NewTypingSignal(5 * time.Second)
	signal.SetClock(func() time.Time { return now })

	signal.Set([]string{"Ada"})
	assert.Equal(t, "Ada is typing...", signal.Current())

	now = base.Add(4999 * time.Millisecond)
	assert.Equal(t, "Ada is typing...", signal.Current())

	now = base.Add(5001 * time.Millisecond)
	assert.Empty(t, signal.Current())
}

func TestTypingSignalRestartsWindow(t *testing.T) {
	base := time.Now()
	now := base
	signal := NewTypingSignal(5 * time.Second)
	signal.SetClock(func() time.Time { return now })

	signal.Set([]string{"Ada"})

	// A second signal two seconds in pushes the clear deadline out.
	now = base.Add(2 * time.Second)
	signal.Set([]string{"Grace"})

	now = base.Add(6 * time.Second)
	assert.Equal(t, "Grace is typing...", signal.Current())

	now = base.Add(7001 * time.Millisecond)
	assert.Empty(t, signal.Current())
}

func TestTypingSignalOnlyShowsMostRecent(t *testing.T) {
	signal := NewTypingSignal(5 * time.Second)

	signal.Set([]string{"Ada"})
	signal.Set([]string{"Grace", "Edsger"})

	assert.Equal(t, "Grace and Edsger are typing...", signal.Current())
}

func TestTypingSignalEmptyNamesClears(t *testing.T) {
	signal := NewTypingSignal(5 * time.Second)

	signal.Set([]string{"Ada"})
	signal.Set(nil)

	assert.Empty(t, signal.Current())
}
