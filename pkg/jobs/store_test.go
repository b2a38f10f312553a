package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelpkg/registry/internal/dbtest"
)

func setupTestStore(t *testing.T) *JobStore {
	t.Helper()
	return NewJobStore(dbtest.Open(t, &SubmissionJob{}))
}

func newTestJob(url string, requestedAt time.Time) *SubmissionJob {
	return &SubmissionJob{
		ID:            uuid.New().String(),
		RepositoryURL: url,
		NotifyAddress: "dev@example.com",
		RequestedAt:   requestedAt,
	}
}

func TestCreateDefaultsToQueued(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := &SubmissionJob{ID: uuid.New().String(), RepositoryURL: "https://example.com/a.git"}
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, JobStateQueued, got.State)
	assert.False(t, got.RequestedAt.IsZero())
}

func TestGetMissingJob(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkRunningOnlyFromQueued(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := newTestJob("https://example.com/a.git", time.Now())
	require.NoError(t, store.Create(ctx, job))

	require.NoError(t, store.MarkRunning(ctx, job.ID))
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, got.State)
	require.NotNil(t, got.StartedAt)

	assert.Error(t, store.MarkRunning(ctx, job.ID))
}

func TestCompleteAndFail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ok := newTestJob("https://example.com/ok.git", time.Now())
	bad := newTestJob("https://example.com/bad.git", time.Now())
	require.NoError(t, store.Create(ctx, ok))
	require.NoError(t, store.Create(ctx, bad))

	require.NoError(t, store.Complete(ctx, ok.ID, "left-pad", 3, 1200))
	require.NoError(t, store.Fail(ctx, bad.ID, "mirroring", "push refused", 50))

	got, err := store.Get(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, got.State)
	assert.Equal(t, "left-pad", got.PackageName)
	assert.Equal(t, 3, got.VersionsIndexed)
	assert.Equal(t, int64(1200), got.DurationMs)
	assert.NotNil(t, got.FinishedAt)
	assert.True(t, got.IsTerminal())

	got, err = store.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Equal(t, "mirroring", got.FailedPhase)
	assert.Equal(t, "push refused", got.LastError)
}

func TestQueuedReturnsArrivalOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	third := newTestJob("https://example.com/3.git", base.Add(3*time.Second))
	first := newTestJob("https://example.com/1.git", base.Add(1*time.Second))
	second := newTestJob("https://example.com/2.git", base.Add(2*time.Second))
	done := newTestJob("https://example.com/done.git", base)
	for _, j := range []*SubmissionJob{third, first, second, done} {
		require.NoError(t, store.Create(ctx, j))
	}
	require.NoError(t, store.Complete(ctx, done.ID, "done", 1, 1))

	queued, err := store.Queued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, first.ID, queued[0].ID)
	assert.Equal(t, second.ID, queued[1].ID)
	assert.Equal(t, third.ID, queued[2].ID)
}

func TestFailInterrupted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	running := newTestJob("https://example.com/r.git", time.Now())
	queued := newTestJob("https://example.com/q.git", time.Now())
	require.NoError(t, store.Create(ctx, running))
	require.NoError(t, store.Create(ctx, queued))
	require.NoError(t, store.MarkRunning(ctx, running.ID))

	n, err := store.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Equal(t, InterruptedMessage, got.LastError)

	got, err = store.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
}

func TestListPaginationAndFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, newTestJob("https://example.com/a.git", base.Add(time.Duration(i)*time.Second))))
	}
	other := newTestJob("https://example.com/b.git", base.Add(10*time.Second))
	require.NoError(t, store.Create(ctx, other))

	page, next, total, err := store.List(ctx, JobListFilter{}, 4, "")
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, page, 4)
	assert.Equal(t, other.ID, page[0].ID)
	require.NotEmpty(t, next)

	page, next, _, err = store.List(ctx, JobListFilter{}, 4, next)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Empty(t, next)

	page, _, total, err = store.List(ctx, JobListFilter{RepositoryURL: "https://example.com/b.git"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, other.ID, page[0].ID)

	_, _, total, err = store.List(ctx, JobListFilter{State: string(JobStateFailed)}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	_, _, _, err = store.List(ctx, JobListFilter{}, 10, "not-a-time")
	assert.Error(t, err)
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := newTestJob("https://example.com/old.git", time.Now())
	pending := newTestJob("https://example.com/pending.git", time.Now())
	require.NoError(t, store.Create(ctx, old))
	require.NoError(t, store.Create(ctx, pending))
	require.NoError(t, store.Fail(ctx, old.ID, "cloning", "boom", 1))

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = store.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
