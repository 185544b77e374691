package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPushToken_MarksPendingOnlyWhenChanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	token := &PushToken{Operator: "apns", Token: "abc"}

	changed, err := SetPushToken(ctx, s.DB(), token, testEpoch)
	require.NoError(t, err)
	assert.True(t, changed)

	cleared, err := ClearPushTokenPending(ctx, s.DB(), token)
	require.NoError(t, err)
	assert.True(t, cleared)

	changed, err = SetPushToken(ctx, s.DB(), &PushToken{Operator: "apns", Token: "abc"}, testEpoch)
	require.NoError(t, err)
	assert.False(t, changed)

	state, err := LoadPushTokenState(ctx, s.DB())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Pending)

	changed, err = SetPushToken(ctx, s.DB(), nil, testEpoch)
	require.NoError(t, err)
	assert.True(t, changed)

	state, err = LoadPushTokenState(ctx, s.DB())
	require.NoError(t, err)
	assert.True(t, state.Pending)
	assert.Nil(t, state.Token)
}

func TestDuePushToken(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	due, err := DuePushToken(ctx, s.DB(), testEpoch)
	require.NoError(t, err)
	assert.Nil(t, due, "nothing stored")

	_, err = SetPushToken(ctx, s.DB(), &PushToken{Operator: "fcm", Token: "t"}, testEpoch)
	require.NoError(t, err)

	due, err = DuePushToken(ctx, s.DB(), testEpoch)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, "fcm", due.Token.Operator)

	require.NoError(t, SchedulePushTokenRetry(ctx, s.DB(), testEpoch.Add(time.Minute)))
	due, err = DuePushToken(ctx, s.DB(), testEpoch)
	require.NoError(t, err)
	assert.Nil(t, due, "retry deferred")

	due, err = DuePushToken(ctx, s.DB(), testEpoch.Add(time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, due)

	// A retry scheduled absurdly far out is clamped to due.
	require.NoError(t, SchedulePushTokenRetry(ctx, s.DB(), testEpoch.Add(30*24*time.Hour)))
	due, err = DuePushToken(ctx, s.DB(), testEpoch)
	require.NoError(t, err)
	assert.NotNil(t, due)

	_, err = ClearPushTokenPending(ctx, s.DB(), &PushToken{Operator: "fcm", Token: "t"})
	require.NoError(t, err)
	due, err = DuePushToken(ctx, s.DB(), testEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, due)
}

func TestClearPushTokenPending_KeepsNewerToken(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	old := &PushToken{Operator: "fcm", Token: "old"}

	_, err := SetPushToken(ctx, s.DB(), old, testEpoch)
	require.NoError(t, err)
	sending, err := DuePushToken(ctx, s.DB(), testEpoch)
	require.NoError(t, err)
	require.NotNil(t, sending)

	// The platform rotates the token while the old one is in flight.
	_, err = SetPushToken(ctx, s.DB(), &PushToken{Operator: "fcm", Token: "new"}, testEpoch)
	require.NoError(t, err)

	cleared, err := ClearPushTokenPending(ctx, s.DB(), sending.Token)
	require.NoError(t, err)
	assert.False(t, cleared)

	due, err := DuePushToken(ctx, s.DB(), testEpoch)
	require.NoError(t, err)
	require.NotNil(t, due, "newer token must stay pending")
	assert.Equal(t, "new", due.Token.Token)
}

func TestClearPushTokenPending_Removal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := SetPushToken(ctx, s.DB(), &PushToken{Operator: "apns", Token: "abc"}, testEpoch)
	require.NoError(t, err)
	_, err = SetPushToken(ctx, s.DB(), nil, testEpoch)
	require.NoError(t, err)

	cleared, err := ClearPushTokenPending(ctx, s.DB(), &PushToken{Operator: "apns", Token: "abc"})
	require.NoError(t, err)
	assert.False(t, cleared, "removal is still pending")

	cleared, err = ClearPushTokenPending(ctx, s.DB(), nil)
	require.NoError(t, err)
	assert.True(t, cleared)
}
