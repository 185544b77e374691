package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/model"
)

func TestInsertChat_LoadByIDAndGroup(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	chat := createTestChat(t, s, "group-1")

	got, err := LoadChat(ctx, s.db, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)
	assert.Equal(t, model.GroupID("group-1"), got.GroupID)
	assert.Equal(t, model.ChatStatusActive, got.Status)
	assert.Equal(t, "test chat", got.Attributes.Title)
	assert.Empty(t, got.PastMembers)
	assert.True(t, got.CreatedAt.Equal(testEpoch))

	byGroup, err := LoadChatByGroup(ctx, s.db, "group-1")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, byGroup.ID)
}

func TestInsertChat_DuplicateGroupFails(t *testing.T) {
	s := createTestStore(t)
	createTestChat(t, s, "group-1")

	dup := &model.Chat{ID: model.NewChatID(), GroupID: "group-1", Status: model.ChatStatusActive, CreatedAt: testEpoch}
	err := InsertChat(context.Background(), s.db, dup, NewChanges())
	assert.Error(t, err)
}

func TestLoadChat_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := LoadChat(context.Background(), s.db, model.NewChatID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChat_CascadesMessagesAndQueue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	chat := createTestChat(t, s, "group-1")
	msg := createTestMessage(t, s, chat.ID, model.MessageStatusUnsent, testEpoch)

	_, err := s.db.Exec(`INSERT INTO chat_message_queue (message_id, chat_id, created_at) VALUES (?, ?, 0)`,
		msg.ID.String(), chat.ID.String())
	require.NoError(t, err)

	changes := NewChanges()
	require.NoError(t, DeleteChat(ctx, s.db, chat.ID, changes))
	assert.Equal(t, Removed, changes.Chats[chat.ID])

	_, err = LoadMessage(ctx, s.db, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM chat_message_queue`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSetChatStatus_InactiveRecordsPastMembers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	chat := createTestChat(t, s, "group-1")

	past := []model.UserID{"bob@example.com", "carol@example.com"}
	require.NoError(t, SetChatStatus(ctx, s.db, chat.ID, model.ChatStatusInactive, past, NewChanges()))

	got, err := LoadChat(ctx, s.db, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChatStatusInactive, got.Status)
	assert.Equal(t, past, got.PastMembers)

	require.NoError(t, SetChatStatus(ctx, s.db, chat.ID, model.ChatStatusBlocked, past, NewChanges()))
	got, err = LoadChat(ctx, s.db, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PastMembers)

	blocked, err := IsChatBlocked(ctx, s.db, chat.ID)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestIsChatBlocked_UnknownChat(t *testing.T) {
	s := createTestStore(t)
	blocked, err := IsChatBlocked(context.Background(), s.db, model.NewChatID())
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestMarkReadUntil(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	chat := createTestChat(t, s, "group-1")

	early := createTestMessage(t, s, chat.ID, model.MessageStatusDelivered, testEpoch)
	mid := createTestMessage(t, s, chat.ID, model.MessageStatusSent, testEpoch.Add(time.Second))
	late := createTestMessage(t, s, chat.ID, model.MessageStatusDelivered, testEpoch.Add(5*time.Second))

	require.NoError(t, MarkReadUntil(ctx, s.db, chat.ID, mid.ID, NewChanges()))

	got, err := LoadChat(ctx, s.db, chat.ID)
	require.NoError(t, err)
	assert.True(t, got.LastReadAt.Equal(mid.Timestamp))

	m, err := LoadMessage(ctx, s.db, early.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, m.Status)

	m, err = LoadMessage(ctx, s.db, late.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusDelivered, m.Status)

	// Marker never moves backwards.
	require.NoError(t, MarkReadUntil(ctx, s.db, chat.ID, early.ID, NewChanges()))
	got, err = LoadChat(ctx, s.db, chat.ID)
	require.NoError(t, err)
	assert.True(t, got.LastReadAt.Equal(mid.Timestamp))
}
