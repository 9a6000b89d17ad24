package domain

import (
	"context"
	"time"
)

// ReplyArchive defines persistence operations for the optional reply
// transcript kept by the watch command. The reconciliation engine itself
// never reads from it.
type ReplyArchive interface {
	// SaveReply records an observed reply. Saving the same reply ID twice
	// is a no-op.
	SaveReply(ctx context.Context, reply *Reply) error

	// RepliesForPost retrieves archived replies for a post in the order
	// they were observed.
	RepliesForPost(ctx context.Context, postID int64) ([]Reply, error)

	// DeleteOldReplies removes replies archived before maxAge and any excess
	// rows beyond maxRows, keeping the most recent. Returns the number of
	// rows deleted.
	DeleteOldReplies(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error)
}
