package feed

import (
	"sync"

	"github.com/blackmichael/debate-feed/internal/domain"
	"github.com/google/uuid"
)

// Store is the keyed reply state shared by the push and poll paths. Each
// post maps to an ordered reply sequence: poll results replace the sequence
// wholesale (authoritative-wins), push arrivals append provisionally.
// Sequences are created lazily on first write and live for the process
// lifetime.
type Store struct {
	mu      sync.RWMutex
	replies map[int64][]domain.Reply
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		replies: make(map[int64][]domain.Reply),
	}
}

// PushAppend appends a push-delivered reply to the post's sequence, creating
// the sequence if absent. Replies without a server identifier get a
// provisional one so they stay addressable until the next poll supersedes
// them. Returns the stored record (synthesized identifier included) and
// whether it was newly added; a concurrent merge may remove the record from
// the store at any time, so callers use the returned copy rather than
// re-reading.
func (s *Store) PushAppend(postID int64, reply domain.Reply) (domain.Reply, bool) {
	if reply.ID == "" {
		reply.ID = domain.ProvisionalPrefix + uuid.NewString()
	}
	if reply.PostID == 0 {
		reply.PostID = postID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.replies[postID] {
		if existing.ID == reply.ID {
			return existing, false
		}
	}
	s.replies[postID] = append(s.replies[postID], reply)
	return reply, true
}

// PollMerge replaces the post's sequence with the authoritative poll result.
// No field-level merging of provisional entries is attempted; the replace
// simply wins.
func (s *Store) PollMerge(postID int64, replies []domain.Reply) {
	seq := make([]domain.Reply, len(replies))
	copy(seq, replies)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[postID] = seq
}

// Get returns a snapshot of the post's reply sequence in insertion order, or
// an empty slice if none exists. Safe to call on every render tick.
func (s *Store) Get(postID int64) []domain.Reply {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.replies[postID]
	out := make([]domain.Reply, len(seq))
	copy(out, seq)
	return out
}

// Count returns the number of reconciled replies for the post.
func (s *Store) Count(postID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.replies[postID])
}
