package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/courier/internal/model"
)

// StatusReport is one (message, status) pair carried in a receipt message.
type StatusReport struct {
	MessageID model.MessageID     `json:"message_id"`
	MimiID    model.MimiID        `json:"mimi_id"`
	Status    model.ReceiptStatus `json:"status"`
}

// StoreStatusReport records the receipt statuses reported by sender.
// A later status for the same message and sender replaces the earlier one.
func StoreStatusReport(ctx context.Context, ex Executor, sender model.UserID, reports []StatusReport, now time.Time) error {
	for _, r := range reports {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO message_statuses (message_id, sender, status, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, sender) DO UPDATE SET
				status = excluded.status,
				created_at = excluded.created_at
		`, r.MessageID.String(), string(sender), string(r.Status), Millis(now))
		if err != nil {
			return fmt.Errorf("store status report %s: %w", r.MessageID, err)
		}
	}
	return nil
}

// LoadStatus returns the status sender last reported for a message.
func LoadStatus(ctx context.Context, ex Executor, messageID model.MessageID, sender model.UserID) (model.ReceiptStatus, error) {
	var status string
	err := ex.QueryRowContext(ctx, `
		SELECT status FROM message_statuses WHERE message_id = ? AND sender = ?
	`, messageID.String(), string(sender)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load status %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load status %s: %w", messageID, err)
	}
	return model.ReceiptStatus(status), nil
}
