package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/testutil"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seededStore writes one record into every queue and returns the db path.
func seededStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := testutil.Epoch
	chat := testutil.SeedChat(t, s, testutil.NewFakeEngine(), "g1@a.example", "bob@a.example")
	msg := testutil.SeedMessage(t, s, chat.ID, "hello")

	_, err = queue.EnqueueChatMessage(ctx, s.DB(), chat.ID, msg.ID, now)
	require.NoError(t, err)
	require.NoError(t, queue.EnqueueReceipts(ctx, s.DB(), chat.ID, []queue.Receipt{
		{MessageID: msg.ID, MimiID: msg.MimiID, Status: model.ReceiptDelivered},
		{MessageID: msg.ID, MimiID: msg.MimiID, Status: model.ReceiptRead},
	}, now))
	require.NoError(t, queue.StorePending(ctx, s.DB(), &queue.PendingOperation{
		GroupID:    chat.GroupID,
		ChatID:     chat.ID,
		Kind:       queue.OperationLeave,
		Payload:    []byte("proposal"),
		GroupState: []byte("state"),
		Status:     queue.StatusWaitingForQueueResponse,
		RetryDueAt: now,
		CreatedAt:  now,
	}, queue.NewClaim(now)))
	_, err = queue.SetPushToken(ctx, s.DB(), &queue.PushToken{Operator: "fcm", Token: "t"}, now)
	require.NoError(t, err)
	require.NoError(t, queue.EnsureTask(ctx, s.DB(), queue.KeyPackageUpload, now))
	return path
}

func TestQueuesCommand_Golden(t *testing.T) {
	db := seededStore(t)
	g := newGoldie(t)

	tests := []struct {
		name string
		args []string
	}{
		{"queues_text", []string{"queues", "--db", db}},
		{"queues_json", []string{"--format", "json", "queues", "--db", db}},
		{"queues_empty", []string{"queues", "--db", filepath.Join(t.TempDir(), "empty.db")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

func TestMigrateCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "courier.db")

	out, err := execute(t, "migrate", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "schema version: 2\n", out)

	out, err = execute(t, "--format", "json", "migrate", "--db", db)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"schema_version":2}}`, out)
}

func TestScheduleCommand_At(t *testing.T) {
	db := filepath.Join(t.TempDir(), "courier.db")
	g := newGoldie(t)

	out, err := execute(t, "schedule", "key-package-upload", "--db", db, "--at", "2026-03-02T09:30:00+01:00")
	require.NoError(t, err)
	g.Assert(t, "schedule_at", []byte(out))

	out, err = execute(t, "--format", "json", "schedule", "key_package_upload", "--db", db, "--at", "2026-03-02T08:30:00Z")
	require.NoError(t, err)
	g.Assert(t, "schedule_at_json", []byte(out))

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	tasks, err := queue.ListTimedTasks(context.Background(), s.DB())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC).Equal(tasks[0].DueAt))
}

func TestScheduleCommand_In(t *testing.T) {
	db := filepath.Join(t.TempDir(), "courier.db")
	before := time.Now()

	_, err := execute(t, "schedule", "key-package-upload", "--db", db, "--in", "24h")
	require.NoError(t, err)

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	tasks, err := queue.ListTimedTasks(context.Background(), s.DB())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.WithinDuration(t, before.Add(24*time.Hour), tasks[0].DueAt, time.Minute)
}

func TestScheduleCommand_Errors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "courier.db")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown_task", []string{"schedule", "garbage-collect", "--db", db}, `unknown task "garbage-collect"`},
		{"bad_time", []string{"schedule", "key-package-upload", "--db", db, "--at", "tomorrow"}, "invalid --at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestScheduleCommand_AtAndInAreExclusive(t *testing.T) {
	db := filepath.Join(t.TempDir(), "courier.db")

	_, err := execute(t, "schedule", "key-package-upload", "--db", db, "--at", "2026-03-02T08:30:00Z", "--in", "1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "courier dev\n", out)

	out, err = execute(t, "--format", "json", "version")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"version":"dev"}}`, out)
}
