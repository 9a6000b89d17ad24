package domain

import (
	"strings"
	"time"
)

// ProvisionalPrefix marks reply identifiers synthesized on the client before
// the server has confirmed the reply. Server identifiers are plain integers,
// so a prefixed identifier can never collide with a confirmed one.
const ProvisionalPrefix = "provisional:"

// Reply is a single threaded comment on a post. Within a post's reconciled
// sequence, replies are unique by ID and kept in insertion order, which is
// chronological order.
type Reply struct {
	ID        string     `json:"id"`
	PostID    int64      `json:"post"`
	Author    UserDetail `json:"created_by_detail"`
	Body      string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// Provisional reports whether the reply's identifier was synthesized locally
// and is expected to be superseded by the next authoritative poll result.
func (r Reply) Provisional() bool {
	return strings.HasPrefix(r.ID, ProvisionalPrefix)
}
