package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/debate-feed/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS replies (
	id          TEXT PRIMARY KEY,
	post_id     INTEGER NOT NULL,
	author      TEXT NOT NULL,
	body        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	archived_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_replies_post ON replies (post_id, archived_at);
`

// Repository implements domain.ReplyArchive on a local sqlite file. It is a
// transcript of observed discussion, written by the watch command and never
// read back into the engine.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the archive database at path.
// The caller should call Close when the repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveReply records an observed reply. Replays of the same reply ID are
// ignored.
func (r *Repository) SaveReply(ctx context.Context, reply *domain.Reply) error {
	query := `
		INSERT INTO replies (id, post_id, author, body, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		reply.ID,
		reply.PostID,
		reply.Author.Name,
		reply.Body,
		reply.CreatedAt,
		time.Now().UTC(),
	)
	return err
}

// RepliesForPost retrieves archived replies for a post in the order they
// were observed.
func (r *Repository) RepliesForPost(ctx context.Context, postID int64) ([]domain.Reply, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, post_id, author, body, created_at
		FROM replies
		WHERE post_id = ?
		ORDER BY archived_at ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query replies (post=%d): %w", postID, err)
	}
	defer rows.Close()

	var replies []domain.Reply
	for rows.Next() {
		var reply domain.Reply
		err := rows.Scan(
			&reply.ID,
			&reply.PostID,
			&reply.Author.Name,
			&reply.Body,
			&reply.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, reply)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}

	return replies, nil
}

// DeleteOldReplies removes replies archived before maxAge and any excess
// rows beyond maxRows, keeping the most recent. Returns the total number of
// rows deleted.
func (r *Repository) DeleteOldReplies(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM replies WHERE archived_at < ?`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired replies: %w", err)
	}
	ttlDeleted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		DELETE FROM replies WHERE id IN (
			SELECT id FROM replies
			ORDER BY archived_at DESC
			LIMIT -1 OFFSET ?
		)`, maxRows,
	)
	if err != nil {
		return 0, fmt.Errorf("delete excess replies: %w", err)
	}
	capDeleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return ttlDeleted + capDeleted, nil
}
