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

// ChatMessageEntry is one outbound message awaiting delivery.
type ChatMessageEntry struct {
	ChatID    model.ChatID
	MessageID model.MessageID
	CreatedAt time.Time
}

// EnqueueChatMessage queues a message for delivery. Returns false without
// error if the chat is blocked or the message is already queued.
func EnqueueChatMessage(ctx context.Context, ex store.Executor, chatID model.ChatID, messageID model.MessageID, now time.Time) (bool, error) {
	blocked, err := store.IsChatBlocked(ctx, ex, chatID)
	if err != nil {
		return false, fmt.Errorf("enqueue chat message %s: %w", messageID, err)
	}
	if blocked {
		return false, nil
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO chat_message_queue (message_id, chat_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, messageID.String(), chatID.String(), store.Millis(now))
	if err != nil {
		return false, fmt.Errorf("enqueue chat message %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue chat message %s: %w", messageID, err)
	}
	return n > 0, nil
}

// ClaimChatMessage claims the oldest eligible entry. Returns nil if none.
func ClaimChatMessage(ctx context.Context, ex store.Executor, c Claim) (*ChatMessageEntry, error) {
	row := ex.QueryRowContext(ctx, `
		UPDATE chat_message_queue SET locked_by = ?, locked_at = ?
		WHERE message_id = (
			SELECT message_id FROM chat_message_queue
			WHERE locked_by IS NULL OR (locked_by != ? AND locked_at < ?)
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING chat_id, message_id, created_at
	`, c.owner(), c.now(), c.owner(), c.cutoff())

	var chatID, messageID string
	var createdAt int64
	err := row.Scan(&chatID, &messageID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim chat message: %w", err)
	}

	entry := &ChatMessageEntry{CreatedAt: store.FromMillis(createdAt)}
	if entry.ChatID, err = model.ParseChatID(chatID); err != nil {
		return nil, fmt.Errorf("claim chat message: %w", err)
	}
	if entry.MessageID, err = model.ParseMessageID(messageID); err != nil {
		return nil, fmt.Errorf("claim chat message: %w", err)
	}
	return entry, nil
}

// RemoveChatMessage deletes the entry for messageID.
func RemoveChatMessage(ctx context.Context, ex store.Executor, messageID model.MessageID) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM chat_message_queue WHERE message_id = ?`, messageID.String()); err != nil {
		return fmt.Errorf("remove chat message %s: %w", messageID, err)
	}
	return nil
}
