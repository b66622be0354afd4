package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/repository"
	"github.com/varfish-case-importer/internal/tasks"
	"github.com/varfish-case-importer/internal/testutil"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, task string, pk int64) error {
	args := m.Called(ctx, task, pk)
	return args.Error(0)
}

func setup(t *testing.T) (*repository.Store, *domain.Project, *mockQueue) {
	t.Helper()
	store := repository.New(testutil.OpenSQLite(t), testutil.Logger())
	project := &domain.Project{Title: "Heart of Gold"}
	require.NoError(t, store.CreateProject(context.Background(), project))
	return store, project, &mockQueue{}
}

func zaphod() domain.JSONText {
	return domain.JSONText(testutil.Singleton("Zaphod").JSON())
}

func TestActionService_CreateDraft(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())

	action, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateDraft, action.State)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)

	got, err := svc.Get(ctx, action.UUID)
	require.NoError(t, err)
	assert.Equal(t, action.ID, got.ID)
}

func TestActionService_CreateChecksCases(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())

	_, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionUpdate, Payload: zaphod()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.CreateCase(ctx, &domain.Case{ProjectID: project.ID, Name: "FAM_Zaphod",
		Release: domain.ReleaseGRCh37, State: domain.CaseStateActive}))
	_, err = svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = svc.Create(ctx, project.UUID, CreateActionRequest{Action: "rename", Payload: zaphod()})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "action", verr.Field)

	_, err = svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionDelete, Payload: domain.JSONText(`{}`)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payload", verr.Field)
}

func TestActionService_Submit(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())
	queue.On("Enqueue", mock.Anything, tasks.TaskCaseImport, mock.AnythingOfType("int64")).Return(nil).Once()

	action, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	require.NoError(t, err)

	submitted := domain.ActionStateSubmitted
	action, err = svc.Update(ctx, action.UUID, UpdateActionRequest{State: &submitted})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateSubmitted, action.State)
	queue.AssertExpectations(t)

	jobs, err := svc.Jobs(ctx, action.UUID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStateInitial, jobs[0].State)
	assert.Equal(t, domain.JobTypeCaseImport, jobs[0].JobType)

	overwrite := true
	_, err = svc.Update(ctx, action.UUID, UpdateActionRequest{OverwriteTerms: &overwrite})
	assert.ErrorIs(t, err, domain.ErrNotModifiable)
	assert.ErrorIs(t, svc.Delete(ctx, action.UUID), domain.ErrNotModifiable)
}

func TestActionService_SubmitQueueFailure(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())
	queue.On("Enqueue", mock.Anything, tasks.TaskCaseImport, mock.AnythingOfType("int64")).
		Return(errors.New("redis: connection refused")).Once()

	action, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	require.NoError(t, err)

	submitted := domain.ActionStateSubmitted
	_, err = svc.Update(ctx, action.UUID, UpdateActionRequest{State: &submitted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	action, err = svc.Get(ctx, action.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateDraft, action.State)

	jobs, err := svc.Jobs(ctx, action.UUID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStateFailed, jobs[0].State)
	assert.NotNil(t, jobs[0].EndTime)
	entries, err := store.ListBackgroundJobLogEntries(ctx, jobs[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogLevelError, entries[0].Level)

	queue.On("Enqueue", mock.Anything, tasks.TaskCaseImport, mock.AnythingOfType("int64")).Return(nil).Once()
	action, err = svc.Update(ctx, action.UUID, UpdateActionRequest{State: &submitted})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateSubmitted, action.State)
	queue.AssertExpectations(t)
}

func TestActionService_UpdateRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())

	action, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	require.NoError(t, err)

	success := domain.ActionStateSuccess
	_, err = svc.Update(ctx, action.UUID, UpdateActionRequest{State: &success})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestActionService_DeleteDraft(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())

	action, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, action.UUID))

	_, err = svc.Get(ctx, action.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActionService_Warnings(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewActionService(store, queue, testutil.Logger())

	action, err := svc.Create(ctx, project.UUID, CreateActionRequest{Action: domain.ActionCreate, Payload: zaphod()})
	require.NoError(t, err)
	warnings, err := svc.Warnings(ctx, action.UUID)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestJobService(t *testing.T) {
	ctx := context.Background()
	store, project, queue := setup(t)
	svc := NewJobService(store, queue, testutil.Logger())

	c := &domain.Case{ProjectID: project.ID, Name: "FAM_Zaphod", Release: domain.ReleaseGRCh37, State: domain.CaseStateImporting}
	require.NoError(t, store.CreateCase(ctx, c))
	_, err := svc.SubmitSeqvarsQuery(ctx, c.UUID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, store.SetCaseState(ctx, c.ID, domain.CaseStateActive))
	queue.On("Enqueue", mock.Anything, tasks.TaskSeqvarsQueryExecution, mock.AnythingOfType("int64")).Return(nil).Once()
	query, err := svc.SubmitSeqvarsQuery(ctx, c.UUID, domain.JSONText(`{"genotype": {}}`))
	require.NoError(t, err)
	queue.AssertExpectations(t)

	record, err := store.GetBackgroundJobByID(ctx, query.BackgroundJobID)
	require.NoError(t, err)

	job, err := svc.Cancel(ctx, record.UUID)
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)

	require.NoError(t, store.FinishBackgroundJob(ctx, record.ID, domain.JobStateCancelled, record.CreatedAt, 0))
	_, err = svc.Cancel(ctx, record.UUID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
