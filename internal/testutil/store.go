package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

// Epoch is the fixed start time used by fixtures.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Self is the local user in fixtures.
const Self model.UserID = "alice@a.example"

// NewStore opens a fresh store in a temp dir, closed on cleanup.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedChat creates an active chat whose group has Self plus members.
func SeedChat(t *testing.T, s *store.Store, e *FakeEngine, groupID model.GroupID, members ...model.UserID) *model.Chat {
	t.Helper()
	ctx := context.Background()

	staged, err := e.Create(groupID, Self, model.ChatAttributes{Title: "seeded"})
	require.NoError(t, err)
	state, err := e.Join(staged.State, members...)
	require.NoError(t, err)

	chat := &model.Chat{
		ID:         model.NewChatID(),
		GroupID:    groupID,
		Status:     model.ChatStatusActive,
		Attributes: model.ChatAttributes{Title: "seeded"},
		CreatedAt:  Epoch,
	}
	c := store.NewChanges()
	require.NoError(t, store.InsertChat(ctx, s.DB(), chat, c))
	require.NoError(t, store.StoreGroupState(ctx, s.DB(), groupID, state))
	return chat
}

// SeedMessage stores an unsent content message from Self.
func SeedMessage(t *testing.T, s *store.Store, chatID model.ChatID, body string) *model.Message {
	t.Helper()
	m := &model.Message{
		ID:        model.NewMessageID(),
		ChatID:    chatID,
		MimiID:    model.MimiID("mimi-" + body),
		Sender:    Self,
		Body:      body,
		Status:    model.MessageStatusUnsent,
		Timestamp: Epoch,
	}
	require.NoError(t, store.StoreMessage(context.Background(), s.DB(), m, store.NewChanges()))
	return m
}

// LoadGroup decodes the stored fake state of a group.
func LoadGroup(t *testing.T, s *store.Store, e *FakeEngine, groupID model.GroupID) *FakeGroup {
	t.Helper()
	state, err := store.LoadGroupState(context.Background(), s.DB(), groupID)
	require.NoError(t, err)
	g, err := e.Decode(group.State(state))
	require.NoError(t, err)
	return g
}
