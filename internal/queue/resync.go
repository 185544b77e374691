package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

// ResyncEntry is a group whose local state must be rebuilt by rejoining
// with an external commit.
type ResyncEntry struct {
	GroupID   model.GroupID
	ChatID    model.ChatID
	CreatedAt time.Time
}

// EnqueueResync queues a resync of groupID. Returns false if one is already
// queued.
func EnqueueResync(ctx context.Context, ex store.Executor, chatID model.ChatID, groupID model.GroupID, now time.Time) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO resync_queue (group_id, chat_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id) DO NOTHING
	`, string(groupID), chatID.String(), store.Millis(now))
	if err != nil {
		return false, fmt.Errorf("enqueue resync %s: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue resync %s: %w", groupID, err)
	}
	return n > 0, nil
}

// ClaimResync claims the oldest eligible resync. Returns nil if none.
func ClaimResync(ctx context.Context, ex store.Executor, c Claim) (*ResyncEntry, error) {
	row := ex.QueryRowContext(ctx, `
		UPDATE resync_queue SET locked_by = ?, locked_at = ?
		WHERE group_id = (
			SELECT group_id FROM resync_queue
			WHERE locked_by IS NULL OR (locked_by != ? AND locked_at < ?)
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING group_id, chat_id, created_at
	`, c.owner(), c.now(), c.owner(), c.cutoff())

	var groupID, chatID string
	var createdAt int64
	err := row.Scan(&groupID, &chatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim resync: %w", err)
	}

	entry := &ResyncEntry{GroupID: model.GroupID(groupID), CreatedAt: store.FromMillis(createdAt)}
	if entry.ChatID, err = model.ParseChatID(chatID); err != nil {
		return nil, fmt.Errorf("claim resync: %w", err)
	}
	return entry, nil
}

// RemoveResync deletes the resync of groupID.
func RemoveResync(ctx context.Context, ex store.Executor, groupID model.GroupID) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM resync_queue WHERE group_id = ?`, string(groupID)); err != nil {
		return fmt.Errorf("remove resync %s: %w", groupID, err)
	}
	return nil
}

// IsResyncPending reports whether a resync of the chat's group is queued.
func IsResyncPending(ctx context.Context, ex store.Executor, chatID model.ChatID) (bool, error) {
	var n int
	err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM resync_queue WHERE chat_id = ?`, chatID.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check resync for chat %s: %w", chatID, err)
	}
	return n > 0, nil
}
