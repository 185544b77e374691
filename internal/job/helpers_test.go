package job_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/job"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/testutil"
)

const domain = "a.example"

type testEnv struct {
	store  *store.Store
	engine *testutil.FakeEngine
	remote *testutil.FakeRemote
	clock  *testutil.Clock
	jc     *job.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	fr := testutil.NewFakeRemote(domain, clock.Now)
	e := &testEnv{
		store:  testutil.NewStore(t),
		engine: testutil.NewFakeEngine(),
		remote: fr,
		clock:  clock,
	}
	e.jc = e.newContext()
	return e
}

// newContext returns a context with its own claim owner.
func (e *testEnv) newContext() *job.Context {
	return &job.Context{
		Clients:  remote.NewClients(domain, e.remote, nil),
		Store:    e.store,
		Notifier: store.NewNotifier(),
		Engine:   e.engine,
		Self:     testutil.Self,
		Owner:    uuid.New(),
		Now:      e.clock.Now,
	}
}

func (e *testEnv) seedChat(t *testing.T, members ...model.UserID) *model.Chat {
	t.Helper()
	return testutil.SeedChat(t, e.store, e.engine, model.GroupID("g1@"+domain), members...)
}

func (e *testEnv) run(op *job.ChatOperation) ([]model.Message, error) {
	return job.Execute[[]model.Message](context.Background(), e.jc, op)
}

func (e *testEnv) systemMessages(t *testing.T, chatID model.ChatID) []model.SystemMessage {
	t.Helper()
	msgs, err := store.ListSystemMessages(context.Background(), e.store.DB(), chatID)
	require.NoError(t, err)
	return msgs
}

func (e *testEnv) pending(t *testing.T, groupID model.GroupID) *queue.PendingOperation {
	t.Helper()
	op, err := queue.LoadPending(context.Background(), e.store.DB(), groupID)
	require.NoError(t, err)
	return op
}

func (e *testEnv) loadChat(t *testing.T, id model.ChatID) *model.Chat {
	t.Helper()
	chat, err := store.LoadChat(context.Background(), e.store.DB(), id)
	require.NoError(t, err)
	return chat
}
