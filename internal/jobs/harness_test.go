package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/repository"
	"github.com/varfish-case-importer/internal/testutil"
)

func setup(t *testing.T) (*repository.Store, *domain.BackgroundJob) {
	t.Helper()
	ctx := context.Background()
	store := repository.New(testutil.OpenSQLite(t), testutil.Logger())
	project := &domain.Project{Title: "Heart of Gold"}
	require.NoError(t, store.CreateProject(ctx, project))
	job := &domain.BackgroundJob{ProjectID: project.ID, JobType: domain.JobTypeCaseImport}
	require.NoError(t, store.CreateBackgroundJob(ctx, job))
	return store, job
}

// stepClock returns a clock that advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func messages(t *testing.T, store *repository.Store, jobID int64) []string {
	entries, err := store.ListBackgroundJobLogEntries(context.Background(), jobID, 0)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, string(e.Level)+": "+e.Message)
	}
	return out
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	store, record := setup(t)
	harness := NewHarness(store, testutil.Logger(), WithClock(stepClock(2500*time.Millisecond)))

	outcome, err := harness.Run(ctx, record.ID, func(ctx context.Context, job *Job) error {
		job.Infof("Importing case %s", "Zaphod")
		return job.SetStage(ctx, domain.StagePedigreeCommitted)
	})
	require.NoError(t, err)
	assert.True(t, outcome.Claimed)
	assert.Equal(t, domain.JobStateDone, outcome.State)
	assert.NoError(t, outcome.Err)

	got, err := store.GetBackgroundJobByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, got.State)
	assert.Equal(t, domain.StagePedigreeCommitted, got.Stage)
	require.NotNil(t, got.ElapsedSeconds)
	assert.Equal(t, 2.5, *got.ElapsedSeconds)

	assert.Equal(t, []string{
		"info: Starting caseimport job",
		"info: Importing case Zaphod",
		"info: Job finished successfully",
	}, messages(t, store, record.ID))
}

func TestRun_FailureRecordsTimes(t *testing.T) {
	ctx := context.Background()
	store, record := setup(t)
	harness := NewHarness(store, testutil.Logger())
	boom := errors.New("worker exited with code 1")

	outcome, err := harness.Run(ctx, record.ID, func(context.Context, *Job) error { return boom })
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, boom)

	got, err := store.GetBackgroundJobByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.NotNil(t, got.StartTime)
	assert.NotNil(t, got.EndTime)
	assert.NotNil(t, got.ElapsedSeconds)
	assert.Contains(t, messages(t, store, record.ID), "error: Job failed: worker exited with code 1")
}

func TestRun_Panic(t *testing.T) {
	ctx := context.Background()
	store, record := setup(t)
	harness := NewHarness(store, testutil.Logger())

	outcome, err := harness.Run(ctx, record.ID, func(context.Context, *Job) error { panic("towel missing") })
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.EqualError(t, outcome.Err, "panic: towel missing")

	got, err := store.GetBackgroundJobByID(ctx, record.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EndTime)
}

func TestRun_Redelivery(t *testing.T) {
	ctx := context.Background()
	store, record := setup(t)
	harness := NewHarness(store, testutil.Logger())

	calls := 0
	body := func(context.Context, *Job) error {
		calls++
		return nil
	}
	_, err := harness.Run(ctx, record.ID, body)
	require.NoError(t, err)

	outcome, err := harness.Run(ctx, record.ID, body)
	require.NoError(t, err)
	assert.False(t, outcome.Claimed)
	assert.Equal(t, domain.JobStateDone, outcome.State)
	assert.Equal(t, 1, calls)
}

func TestRun_Cancel(t *testing.T) {
	ctx := context.Background()
	store, record := setup(t)
	harness := NewHarness(store, testutil.Logger(), WithCancelPollInterval(10*time.Millisecond))

	outcome, err := harness.Run(ctx, record.ID, func(ctx context.Context, job *Job) error {
		if err := store.RequestBackgroundJobCancel(context.Background(), job.ID); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(10 * time.Second):
			return errors.New("cancel was not observed")
		}
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCancelled, outcome.State)
	assert.ErrorIs(t, outcome.Err, domain.ErrJobCancelled)

	got, err := store.GetBackgroundJobByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCancelled, got.State)
	assert.NotNil(t, got.ElapsedSeconds)
}

func TestRun_UnknownJob(t *testing.T) {
	store, _ := setup(t)
	harness := NewHarness(store, testutil.Logger())

	_, err := harness.Run(context.Background(), 4242, func(context.Context, *Job) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
