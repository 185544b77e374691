package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/courier/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const chatColumns = `chat_id, group_id, status, title, picture, past_members, created_at, last_read_at`

// InsertChat stores a new chat. Fails if the chat or its group id already exists.
func InsertChat(ctx context.Context, ex Executor, chat *model.Chat, c *Changes) error {
	past, err := json.Marshal(chat.PastMembers)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	if chat.PastMembers == nil {
		past = []byte("[]")
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		chat.ID.String(),
		string(chat.GroupID),
		string(chat.Status),
		chat.Attributes.Title,
		chat.Attributes.Picture,
		string(past),
		Millis(chat.CreatedAt),
		Millis(chat.LastReadAt),
	)
	if err != nil {
		return fmt.Errorf("insert chat %s: %w", chat.ID, err)
	}
	c.Chat(chat.ID, Added)
	return nil
}

// LoadChat reads a chat by id. Returns ErrNotFound if absent.
func LoadChat(ctx context.Context, ex Executor, id model.ChatID) (*model.Chat, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE chat_id = ?`, id.String())
	chat, err := scanChat(row)
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", id, err)
	}
	return chat, nil
}

// LoadChatByGroup reads the chat backed by groupID. Returns ErrNotFound if absent.
func LoadChatByGroup(ctx context.Context, ex Executor, groupID model.GroupID) (*model.Chat, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE group_id = ?`, string(groupID))
	chat, err := scanChat(row)
	if err != nil {
		return nil, fmt.Errorf("load chat for group %s: %w", groupID, err)
	}
	return chat, nil
}

// DeleteChat removes a chat and, through ON DELETE CASCADE, its messages
// and queued outbound messages.
func DeleteChat(ctx context.Context, ex Executor, id model.ChatID, c *Changes) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	c.Chat(id, Removed)
	return nil
}

// SetChatStatus updates the chat status. Past members are recorded only for
// ChatStatusInactive and cleared otherwise.
func SetChatStatus(ctx context.Context, ex Executor, id model.ChatID, status model.ChatStatus, pastMembers []model.UserID, c *Changes) error {
	if status != model.ChatStatusInactive || pastMembers == nil {
		pastMembers = []model.UserID{}
	}
	past, err := json.Marshal(pastMembers)
	if err != nil {
		return fmt.Errorf("set chat status: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		UPDATE chats SET status = ?, past_members = ? WHERE chat_id = ?
	`, string(status), string(past), id.String())
	if err != nil {
		return fmt.Errorf("set chat status %s: %w", id, err)
	}
	c.Chat(id, Updated)
	return nil
}

// SetChatAttributes replaces title and picture.
func SetChatAttributes(ctx context.Context, ex Executor, id model.ChatID, attrs model.ChatAttributes, c *Changes) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE chats SET title = ?, picture = ? WHERE chat_id = ?
	`, attrs.Title, attrs.Picture, id.String())
	if err != nil {
		return fmt.Errorf("set chat attributes %s: %w", id, err)
	}
	c.Chat(id, Updated)
	return nil
}

// IsChatBlocked reports whether the chat exists and is blocked.
func IsChatBlocked(ctx context.Context, ex Executor, id model.ChatID) (bool, error) {
	var status string
	err := ex.QueryRowContext(ctx, `SELECT status FROM chats WHERE chat_id = ?`, id.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check chat blocked %s: %w", id, err)
	}
	return model.ChatStatus(status) == model.ChatStatusBlocked, nil
}

// MarkReadUntil advances the read marker of the chat to the timestamp of
// messageID and marks every earlier incoming message as read. The marker
// never moves backwards.
func MarkReadUntil(ctx context.Context, ex Executor, chatID model.ChatID, messageID model.MessageID, c *Changes) error {
	var ts int64
	err := ex.QueryRowContext(ctx, `
		SELECT timestamp FROM messages WHERE message_id = ? AND chat_id = ?
	`, messageID.String(), chatID.String()).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark read until %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark read until %s: %w", messageID, err)
	}

	if _, err := ex.ExecContext(ctx, `
		UPDATE chats SET last_read_at = MAX(last_read_at, ?) WHERE chat_id = ?
	`, ts, chatID.String()); err != nil {
		return fmt.Errorf("mark read until %s: %w", messageID, err)
	}

	if _, err := ex.ExecContext(ctx, `
		UPDATE messages SET status = ?
		WHERE chat_id = ? AND timestamp <= ? AND status = ?
	`, string(model.MessageStatusRead), chatID.String(), ts, string(model.MessageStatusDelivered)); err != nil {
		return fmt.Errorf("mark read until %s: %w", messageID, err)
	}

	c.Chat(chatID, Updated)
	return nil
}

// ListChatIDs returns all chat ids ordered by creation time.
func ListChatIDs(ctx context.Context, ex Executor) ([]model.ChatID, error) {
	rows, err := ex.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY created_at ASC, chat_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var ids []model.ChatID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		id, err := model.ParseChatID(s)
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanChat(row *sql.Row) (*model.Chat, error) {
	var (
		id, groupID, status, title, past string
		picture                          []byte
		createdAt, lastReadAt            int64
	)
	err := row.Scan(&id, &groupID, &status, &title, &picture, &past, &createdAt, &lastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	chatID, err := model.ParseChatID(id)
	if err != nil {
		return nil, err
	}

	var pastMembers []model.UserID
	if err := json.Unmarshal([]byte(past), &pastMembers); err != nil {
		return nil, fmt.Errorf("decode past members: %w", err)
	}

	return &model.Chat{
		ID:          chatID,
		GroupID:     model.GroupID(groupID),
		Status:      model.ChatStatus(status),
		Attributes:  model.ChatAttributes{Title: title, Picture: picture},
		PastMembers: pastMembers,
		CreatedAt:   FromMillis(createdAt),
		LastReadAt:  FromMillis(lastReadAt),
	}, nil
}
