package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/tasks"
)

// JobService exposes background jobs and starts seqvars queries
type JobService struct {
	repo  domain.Repository
	queue domain.TaskQueue
	log   *logrus.Logger
}

// NewJobService creates a job service
func NewJobService(repo domain.Repository, queue domain.TaskQueue, logger *logrus.Logger) *JobService {
	return &JobService{repo: repo, queue: queue, log: logger}
}

// Get returns the job with the given UUID.
func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*domain.BackgroundJob, error) {
	return s.repo.GetBackgroundJobByUUID(ctx, id)
}

// Cancel asks a job to stop. Finished jobs cannot be cancelled.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (*domain.BackgroundJob, error) {
	job, err := s.repo.GetBackgroundJobByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s: %w", job.UUID, job.State, domain.ErrInvalidTransition)
	}
	if err := s.repo.RequestBackgroundJobCancel(ctx, job.ID); err != nil {
		return nil, err
	}
	job.CancelRequested = true
	s.log.WithField("job_uuid", job.UUID).Info("Job cancellation requested")
	return job, nil
}

// Logs returns the log entries of the job after the entry with ID afterID.
func (s *JobService) Logs(ctx context.Context, job *domain.BackgroundJob, afterID int64) ([]*domain.BackgroundJobLogEntry, error) {
	return s.repo.ListBackgroundJobLogEntries(ctx, job.ID, afterID)
}

// SubmitSeqvarsQuery creates a query execution job for the case and queues it.
func (s *JobService) SubmitSeqvarsQuery(ctx context.Context, caseUUID uuid.UUID, settings domain.JSONText) (*domain.SeqvarsQueryExecutionBackgroundJob, error) {
	c, err := s.repo.GetCaseByUUID(ctx, caseUUID)
	if err != nil {
		return nil, err
	}
	if c.State != domain.CaseStateActive {
		return nil, fmt.Errorf("case %s is %s: %w", c.Name, c.State, domain.ErrInvalidTransition)
	}

	var query *domain.SeqvarsQueryExecutionBackgroundJob
	err = s.repo.InTx(ctx, func(tx domain.Repository) error {
		job := &domain.BackgroundJob{
			ProjectID: c.ProjectID,
			JobType:   domain.JobTypeSeqvarsQueryExecution,
			Name:      "Seqvars query of " + c.Name,
		}
		if err := tx.CreateBackgroundJob(ctx, job); err != nil {
			return err
		}
		query = &domain.SeqvarsQueryExecutionBackgroundJob{
			ProjectID:       c.ProjectID,
			BackgroundJobID: job.ID,
			CaseID:          c.ID,
			Settings:        settings,
		}
		return tx.CreateSeqvarsQueryExecutionBackgroundJob(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("creating seqvars query job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, tasks.TaskSeqvarsQueryExecution, query.ID); err != nil {
		return nil, err
	}
	return query, nil
}
