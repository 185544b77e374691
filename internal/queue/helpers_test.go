package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestChat(t *testing.T, s *store.Store, status model.ChatStatus) *model.Chat {
	t.Helper()
	chat := &model.Chat{
		ID:        model.NewChatID(),
		GroupID:   model.GroupID("group-" + model.NewChatID().String()),
		Status:    status,
		CreatedAt: testEpoch,
	}
	require.NoError(t, store.InsertChat(context.Background(), s.DB(), chat, store.NewChanges()))
	return chat
}

func createTestMessage(t *testing.T, s *store.Store, chatID model.ChatID) model.MessageID {
	t.Helper()
	m := &model.Message{
		ID:        model.NewMessageID(),
		ChatID:    chatID,
		Sender:    "alice@example.com",
		Body:      "hi",
		Status:    model.MessageStatusUnsent,
		Timestamp: testEpoch,
	}
	require.NoError(t, store.StoreMessage(context.Background(), s.DB(), m, store.NewChanges()))
	return m.ID
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}
