package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/courier/internal/model"
)

const messageColumns = `message_id, chat_id, mimi_id, sender, body, system, status, timestamp, edited_at`

// StoreMessage inserts a message or replaces an existing one with the same id.
func StoreMessage(ctx context.Context, ex Executor, m *model.Message, c *Changes) error {
	var system sql.NullString
	if m.System != nil {
		data, err := json.Marshal(m.System)
		if err != nil {
			return fmt.Errorf("store message %s: %w", m.ID, err)
		}
		system = sql.NullString{String: string(data), Valid: true}
	}

	var editedAt sql.NullInt64
	if m.EditedAt != nil {
		editedAt = sql.NullInt64{Int64: Millis(*m.EditedAt), Valid: true}
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			mimi_id = excluded.mimi_id,
			body = excluded.body,
			system = excluded.system,
			status = excluded.status,
			timestamp = excluded.timestamp,
			edited_at = excluded.edited_at
	`,
		m.ID.String(),
		m.ChatID.String(),
		string(m.MimiID),
		string(m.Sender),
		m.Body,
		system,
		string(m.Status),
		Millis(m.Timestamp),
		editedAt,
	)
	if err != nil {
		return fmt.Errorf("store message %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		c.Message(m.ID, Added)
	}
	return nil
}

// LoadMessage reads a message by id. Returns ErrNotFound if absent.
func LoadMessage(ctx context.Context, ex Executor, id model.MessageID) (*model.Message, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, id.String())

	var (
		msgID, chatID, mimiID, sender, body, status string
		system                                      sql.NullString
		ts                                          int64
		editedAt                                    sql.NullInt64
	)
	err := row.Scan(&msgID, &chatID, &mimiID, &sender, &body, &system, &status, &ts, &editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}

	m := &model.Message{
		ID:        id,
		MimiID:    model.MimiID(mimiID),
		Sender:    model.UserID(sender),
		Body:      body,
		Status:    model.MessageStatus(status),
		Timestamp: FromMillis(ts),
	}
	if m.ChatID, err = model.ParseChatID(chatID); err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}
	if system.Valid {
		m.System = &model.SystemMessage{}
		if err := json.Unmarshal([]byte(system.String), m.System); err != nil {
			return nil, fmt.Errorf("load message %s: decode system message: %w", id, err)
		}
	}
	if editedAt.Valid {
		t := FromMillis(editedAt.Int64)
		m.EditedAt = &t
	}
	return m, nil
}

// MarkMessageSent records a successful send. The remote timestamp becomes
// the message timestamp, except for edits, which keep their original
// timestamp and record the remote timestamp as the edit time.
func MarkMessageSent(ctx context.Context, ex Executor, id model.MessageID, ts time.Time, c *Changes) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE messages SET
			status = ?,
			timestamp = CASE WHEN edited_at IS NULL THEN ? ELSE timestamp END,
			edited_at = CASE WHEN edited_at IS NULL THEN NULL ELSE ? END
		WHERE message_id = ?
	`, string(model.MessageStatusSent), Millis(ts), Millis(ts), id.String())
	if err != nil {
		return fmt.Errorf("mark message sent %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark message sent %s: %w", id, ErrNotFound)
	}
	c.Message(id, Updated)
	return nil
}

// SetMessageStatus overwrites the delivery status of a message.
func SetMessageStatus(ctx context.Context, ex Executor, id model.MessageID, status model.MessageStatus, c *Changes) error {
	if _, err := ex.ExecContext(ctx, `UPDATE messages SET status = ? WHERE message_id = ?`, string(status), id.String()); err != nil {
		return fmt.Errorf("set message status %s: %w", id, err)
	}
	c.Message(id, Updated)
	return nil
}

// StoreMessages stores each message in order.
func StoreMessages(ctx context.Context, ex Executor, msgs []model.Message, c *Changes) error {
	for i := range msgs {
		if err := StoreMessage(ctx, ex, &msgs[i], c); err != nil {
			return err
		}
	}
	return nil
}

// CountMessages returns the number of messages in a chat.
func CountMessages(ctx context.Context, ex Executor, chatID model.ChatID) (int, error) {
	var n int
	if err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages %s: %w", chatID, err)
	}
	return n, nil
}

// ListSystemMessages returns the system messages of a chat in timestamp order.
func ListSystemMessages(ctx context.Context, ex Executor, chatID model.ChatID) ([]model.SystemMessage, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT system FROM messages
		WHERE chat_id = ? AND system IS NOT NULL
		ORDER BY timestamp ASC, rowid ASC
	`, chatID.String())
	if err != nil {
		return nil, fmt.Errorf("list system messages %s: %w", chatID, err)
	}
	defer rows.Close()

	var out []model.SystemMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list system messages %s: %w", chatID, err)
		}
		var sm model.SystemMessage
		if err := json.Unmarshal([]byte(data), &sm); err != nil {
			return nil, fmt.Errorf("list system messages %s: %w", chatID, err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
