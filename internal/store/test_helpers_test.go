package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/courier/internal/model"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestChat inserts an active chat with the given group id.
func createTestChat(t *testing.T, s *Store, groupID string) *model.Chat {
	t.Helper()
	chat := &model.Chat{
		ID:         model.NewChatID(),
		GroupID:    model.GroupID(groupID),
		Status:     model.ChatStatusActive,
		Attributes: model.ChatAttributes{Title: "test chat"},
		CreatedAt:  testEpoch,
	}
	if err := InsertChat(context.Background(), s.db, chat, NewChanges()); err != nil {
		t.Fatalf("InsertChat() failed: %v", err)
	}
	return chat
}

// createTestMessage inserts a message into chat with the given status and timestamp.
func createTestMessage(t *testing.T, s *Store, chatID model.ChatID, status model.MessageStatus, ts time.Time) *model.Message {
	t.Helper()
	m := &model.Message{
		ID:        model.NewMessageID(),
		ChatID:    chatID,
		Sender:    "alice@example.com",
		Body:      "hello",
		Status:    status,
		Timestamp: ts,
	}
	if err := StoreMessage(context.Background(), s.db, m, NewChanges()); err != nil {
		t.Fatalf("StoreMessage() failed: %v", err)
	}
	return m
}
