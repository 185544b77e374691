package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/config"
	"github.com/roach88/courier/internal/eventloop"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/outbound"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/testutil"
)

const domain = "a.example"

type fakeInbound struct {
	mu     sync.Mutex
	seen   []uint64
	reject map[uint64]bool
	chat   model.ChatID
}

func (f *fakeInbound) ProcessQueueMessage(ctx context.Context, msg eventloop.QueueMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[msg.SequenceNumber] {
		return errors.New("undecryptable")
	}
	f.seen = append(f.seen, msg.SequenceNumber)
	return nil
}

func (f *fakeInbound) ProcessHandleMessage(ctx context.Context, handle eventloop.HandleID, msg eventloop.HandleMessage) (model.ChatID, error) {
	return f.chat, nil
}

func (f *fakeInbound) Seen() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.seen...)
}

type testEnv struct {
	store   *store.Store
	engine  *testutil.FakeEngine
	remote  *testutil.FakeRemote
	clock   *testutil.Clock
	inbound *fakeInbound
	client  *Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	fr := testutil.NewFakeRemote(domain, clock.Now)
	e := &testEnv{
		store:   testutil.NewStore(t),
		engine:  testutil.NewFakeEngine(),
		remote:  fr,
		clock:   clock,
		inbound: &fakeInbound{reject: map[uint64]bool{}},
	}
	e.client = New(testutil.Self, e.store, remote.NewClients(domain, fr, nil), e.engine, e.inbound,
		WithClock(clock.Now),
		WithEventLoopCapacity(16),
	)
	t.Cleanup(e.client.Close)
	return e
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.client.Start(context.Background()))
}

func (e *testEnv) seedChat(t *testing.T, members ...model.UserID) *model.Chat {
	t.Helper()
	return testutil.SeedChat(t, e.store, e.engine, model.GroupID("g1@"+domain), members...)
}

func message(seq uint64) eventloop.QueueEvent {
	return eventloop.QueueEvent{Kind: eventloop.EventMessage, Message: &eventloop.QueueMessage{SequenceNumber: seq}}
}

func TestClient_ProcessQueueEventDropsRejectedMessages(t *testing.T) {
	e := newTestEnv(t)
	e.inbound.reject[2] = true
	e.start(t)
	ctx := context.Background()

	for _, seq := range []uint64{1, 2, 3} {
		res, err := e.client.ProcessQueueEvent(ctx, message(seq))
		require.NoError(t, err)
		assert.Equal(t, eventloop.Accumulated, res.Kind)
	}
	res, err := e.client.ProcessQueueEvent(ctx, eventloop.QueueEvent{Kind: eventloop.EventEmpty})
	require.NoError(t, err)

	assert.Equal(t, eventloop.ProcessResult{Kind: eventloop.PartiallyProcessed, Processed: 2, Dropped: 1}, res)
	assert.Equal(t, []uint64{1, 3}, e.inbound.Seen())
}

func TestClient_ProcessHandleMessage(t *testing.T) {
	e := newTestEnv(t)
	e.inbound.chat = model.NewChatID()
	e.start(t)

	got, err := e.client.ProcessHandleMessage(context.Background(), "handle-1", eventloop.HandleMessage{SequenceNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, e.inbound.chat, got)
}

func TestSession_ResumesWaitingOperations(t *testing.T) {
	e := newTestEnv(t)
	chat := e.seedChat(t, "bob@a.example")
	ctx := context.Background()

	op := &queue.PendingOperation{
		GroupID:    chat.GroupID,
		ChatID:     chat.ID,
		Kind:       queue.OperationOther,
		Payload:    []byte("commit"),
		GroupState: []byte("state"),
		Status:     queue.StatusWaitingForQueueResponse,
		RetryDueAt: e.clock.Now(),
		CreatedAt:  e.clock.Now(),
	}
	require.NoError(t, queue.StorePending(ctx, e.store.DB(), op, queue.NewClaim(e.clock.Now())))

	processed, dropped, err := session{e.client}.ProcessQueueMessages(ctx, []eventloop.QueueMessage{{SequenceNumber: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Zero(t, dropped)

	got, err := queue.LoadPending(ctx, e.store.DB(), chat.GroupID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, queue.StatusReadyToRetry, got.Status)
}

func TestClient_EnqueueChatMessageIsSent(t *testing.T) {
	e := newTestEnv(t)
	chat := e.seedChat(t, "bob@a.example")
	m := testutil.SeedMessage(t, e.store, chat.ID, "hello")
	e.start(t)

	ok, err := e.client.EnqueueChatMessage(context.Background(), m.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		got, err := store.LoadMessage(context.Background(), e.store.DB(), m.ID)
		return err == nil && got.Status == model.MessageStatusSent
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_EnqueueChatMessageForBlockedChat(t *testing.T) {
	e := newTestEnv(t)
	chat := e.seedChat(t, "bob@a.example")
	m := testutil.SeedMessage(t, e.store, chat.ID, "hello")
	ctx := context.Background()
	require.NoError(t, store.SetChatStatus(ctx, e.store.DB(), chat.ID, model.ChatStatusBlocked, nil, store.NewChanges()))

	ok, err := e.client.EnqueueChatMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_EnqueueReceipts(t *testing.T) {
	e := newTestEnv(t)
	chat := e.seedChat(t, "bob@a.example")
	m := testutil.SeedMessage(t, e.store, chat.ID, "hello")
	ctx := context.Background()

	require.NoError(t, e.client.EnqueueReceipts(ctx, chat.ID, nil))
	require.NoError(t, e.client.EnqueueReceipts(ctx, chat.ID, []queue.Receipt{
		{MessageID: m.ID, MimiID: m.MimiID, Status: model.ReceiptRead},
	}))

	batch, err := queue.ClaimReceipts(ctx, e.store.DB(), queue.NewClaim(e.clock.Now()))
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, chat.ID, batch.ChatID)
	assert.Len(t, batch.Receipts, 1)
}

func TestClient_EnqueueReceiptsBlockedChat(t *testing.T) {
	e := newTestEnv(t)
	chat := e.seedChat(t, "bob@a.example")
	m := testutil.SeedMessage(t, e.store, chat.ID, "hello")
	ctx := context.Background()
	require.NoError(t, store.SetChatStatus(ctx, e.store.DB(), chat.ID, model.ChatStatusBlocked, nil, store.NewChanges()))

	require.NoError(t, e.client.EnqueueReceipts(ctx, chat.ID, []queue.Receipt{
		{MessageID: m.ID, MimiID: m.MimiID, Status: model.ReceiptRead},
	}))

	batch, err := queue.ClaimReceipts(ctx, e.store.DB(), queue.NewClaim(e.clock.Now()))
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestClient_CreateChatAndAddMembers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	chatID, err := e.client.CreateChat(ctx, model.ChatAttributes{Title: "team"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.remote.CallCount(testutil.MethodCreateGroup))

	msgs, err := e.client.AddMembers(ctx, chatID, "bob@a.example")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].System)
	assert.Equal(t, model.SystemAdd, msgs[0].System.Kind)

	chat, err := store.LoadChat(ctx, e.store.DB(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "team", chat.Attributes.Title)
}

func TestClient_UpdatePushToken(t *testing.T) {
	e := newTestEnv(t)
	e.start(t)
	token := &queue.PushToken{Operator: "apns", Token: "t1"}

	require.NoError(t, e.client.UpdatePushToken(context.Background(), token))

	assert.Eventually(t, func() bool {
		got := e.remote.PushToken()
		return got != nil && *got == *token
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_StartUploadsKeyPackages(t *testing.T) {
	e := newTestEnv(t)
	e.start(t)

	assert.Eventually(t, func() bool {
		return len(e.remote.Published()) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_ScheduleKeyPackageUpload(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	at := e.clock.Now().Add(48 * time.Hour)

	require.NoError(t, e.client.ScheduleKeyPackageUpload(ctx, at))

	tasks, err := queue.ListTimedTasks(ctx, e.store.DB())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.KeyPackageUpload, tasks[0].Kind)
	assert.True(t, at.Equal(tasks[0].DueAt))
}

func TestClient_CloseStopsEventLoop(t *testing.T) {
	e := newTestEnv(t)
	e.start(t)

	e.client.Close()
	e.client.Close()

	_, err := e.client.ProcessQueueEvent(context.Background(), message(1))
	assert.ErrorIs(t, err, eventloop.ErrStopped)
}

func TestWithConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Outbound.TickInterval = 5 * time.Second
	cfg.Outbound.RemoteRPS = 0
	cfg.Queue.Lease = time.Minute
	cfg.EventLoop.Capacity = 8

	c := New(testutil.Self, testutil.NewStore(t), remote.NewClients(domain, testutil.NewFakeRemote(domain, time.Now), nil),
		testutil.NewFakeEngine(), &fakeInbound{}, WithConfig(cfg))
	t.Cleanup(c.Close)

	assert.Equal(t, outbound.Config{TickInterval: 5 * time.Second, RemoteBurst: 5, Lease: time.Minute}, c.outboundCfg)
	assert.Equal(t, 8, c.capacity)
}
