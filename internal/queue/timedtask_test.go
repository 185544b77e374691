package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimTimedTask_OnlyWhenDue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, EnsureTask(ctx, s.DB(), KeyPackageUpload, testEpoch))

	task, err := ClaimTimedTask(ctx, s.DB(), NewClaim(testEpoch.Add(-time.Second)))
	require.NoError(t, err)
	assert.Nil(t, task)

	c := NewClaim(testEpoch)
	task, err = ClaimTimedTask(ctx, s.DB(), c)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, KeyPackageUpload, task.Kind)
	assert.True(t, task.DueAt.Equal(testEpoch))

	task, err = ClaimTimedTask(ctx, s.DB(), c)
	require.NoError(t, err)
	assert.Nil(t, task, "already claimed by this owner")
}

func TestEnsureTask_DoesNotOverride(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, EnsureTask(ctx, s.DB(), KeyPackageUpload, testEpoch))
	require.NoError(t, EnsureTask(ctx, s.DB(), KeyPackageUpload, testEpoch.Add(time.Hour)))

	tasks, err := ListTimedTasks(ctx, s.DB())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].DueAt.Equal(testEpoch))
}

func TestSetDueDate_ReschedulesAndReleases(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, EnsureTask(ctx, s.DB(), KeyPackageUpload, testEpoch))

	c := NewClaim(testEpoch)
	task, err := ClaimTimedTask(ctx, s.DB(), c)
	require.NoError(t, err)
	require.NotNil(t, task)

	next := testEpoch.Add(KeyPackageUploadInterval)
	require.NoError(t, SetDueDate(ctx, s.DB(), KeyPackageUpload, next))

	task, err = ClaimTimedTask(ctx, s.DB(), c.At(next.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Nil(t, task)

	task, err = ClaimTimedTask(ctx, s.DB(), NewClaim(next))
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, task.DueAt.Equal(next))
}
