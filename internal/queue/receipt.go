package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

// Receipt is one status the user wants to report for a message.
type Receipt struct {
	MessageID model.MessageID
	MimiID    model.MimiID
	Status    model.ReceiptStatus
}

// ReceiptBatch is every receipt of one chat claimed under one dequeue id.
type ReceiptBatch struct {
	ChatID    model.ChatID
	DequeueID uuid.UUID
	Owner     uuid.UUID
	LockedAt  time.Time
	Receipts  []Receipt
}

// EnqueueReceipts queues receipts for a chat. Already queued
// (message, status) pairs are left untouched. Nothing is queued for a
// blocked chat.
func EnqueueReceipts(ctx context.Context, ex store.Executor, chatID model.ChatID, receipts []Receipt, now time.Time) error {
	blocked, err := store.IsChatBlocked(ctx, ex, chatID)
	if err != nil {
		return fmt.Errorf("enqueue receipts for chat %s: %w", chatID, err)
	}
	if blocked {
		return nil
	}

	for _, r := range receipts {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO receipt_queue (message_id, chat_id, mimi_id, status, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(message_id, status) DO NOTHING
		`, r.MessageID.String(), chatID.String(), string(r.MimiID), string(r.Status), store.Millis(now))
		if err != nil {
			return fmt.Errorf("enqueue receipt %s: %w", r.MessageID, err)
		}
	}
	return nil
}

// ClaimReceipts claims every unlocked or expired receipt of the chat with
// the oldest eligible receipt. Returns nil if nothing is eligible.
// Requires a transaction.
func ClaimReceipts(ctx context.Context, ex store.Executor, c Claim) (*ReceiptBatch, error) {
	var chatIDStr string
	err := ex.QueryRowContext(ctx, `
		SELECT chat_id FROM receipt_queue
		WHERE locked_at IS NULL OR locked_at < ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1
	`, c.cutoff()).Scan(&chatIDStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim receipts: %w", err)
	}

	chatID, err := model.ParseChatID(chatIDStr)
	if err != nil {
		return nil, fmt.Errorf("claim receipts: %w", err)
	}

	batch := &ReceiptBatch{
		ChatID:    chatID,
		DequeueID: uuid.New(),
		Owner:     c.Owner,
		LockedAt:  store.FromMillis(c.now()),
	}

	rows, err := ex.QueryContext(ctx, `
		UPDATE receipt_queue SET locked_by = ?, locked_at = ?, dequeue_id = ?
		WHERE chat_id = ? AND (locked_at IS NULL OR locked_at < ?)
		RETURNING message_id, mimi_id, status
	`, c.owner(), c.now(), batch.DequeueID.String(), chatIDStr, c.cutoff())
	if err != nil {
		return nil, fmt.Errorf("claim receipts for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, mimiID, status string
		if err := rows.Scan(&messageID, &mimiID, &status); err != nil {
			return nil, fmt.Errorf("claim receipts for chat %s: %w", chatID, err)
		}
		id, err := model.ParseMessageID(messageID)
		if err != nil {
			return nil, fmt.Errorf("claim receipts for chat %s: %w", chatID, err)
		}
		batch.Receipts = append(batch.Receipts, Receipt{
			MessageID: id,
			MimiID:    model.MimiID(mimiID),
			Status:    model.ReceiptStatus(status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim receipts for chat %s: %w", chatID, err)
	}
	return batch, nil
}

// RemoveReceipts deletes every receipt claimed under dequeueID.
func RemoveReceipts(ctx context.Context, ex store.Executor, dequeueID uuid.UUID) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM receipt_queue WHERE dequeue_id = ?`, dequeueID.String()); err != nil {
		return fmt.Errorf("remove receipts %s: %w", dequeueID, err)
	}
	return nil
}

// ReceiptLock is the lock state of one queued receipt.
type ReceiptLock struct {
	MessageID model.MessageID
	Status    model.ReceiptStatus
	LockedBy  uuid.UUID
	LockedAt  time.Time
	DequeueID uuid.UUID
}

// ListReceiptLocks returns the lock state of every queued receipt of a chat,
// oldest first.
func ListReceiptLocks(ctx context.Context, ex store.Executor, chatID model.ChatID) ([]ReceiptLock, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT message_id, status, COALESCE(locked_by, ''), COALESCE(locked_at, 0), COALESCE(dequeue_id, '')
		FROM receipt_queue WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, chatID.String())
	if err != nil {
		return nil, fmt.Errorf("list receipt locks %s: %w", chatID, err)
	}
	defer rows.Close()

	var out []ReceiptLock
	for rows.Next() {
		var messageID, status, lockedBy, dequeueID string
		var lockedAt int64
		if err := rows.Scan(&messageID, &status, &lockedBy, &lockedAt, &dequeueID); err != nil {
			return nil, fmt.Errorf("list receipt locks %s: %w", chatID, err)
		}
		lock := ReceiptLock{Status: model.ReceiptStatus(status), LockedAt: store.FromMillis(lockedAt)}
		if lock.MessageID, err = model.ParseMessageID(messageID); err != nil {
			return nil, fmt.Errorf("list receipt locks %s: %w", chatID, err)
		}
		if lockedBy != "" {
			lock.LockedBy, _ = uuid.Parse(lockedBy)
		}
		if dequeueID != "" {
			lock.DequeueID, _ = uuid.Parse(dequeueID)
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}
