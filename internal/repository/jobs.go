package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const jobColumns = `id, uuid, project_id, job_type, name, state, stage, cancel_requested,
	start_time, end_time, elapsed_seconds, created_at`

// CreateBackgroundJob inserts a generic background job in the initial state
func (s *Store) CreateBackgroundJob(ctx context.Context, job *domain.BackgroundJob) error {
	if job.UUID == uuid.Nil {
		job.UUID = uuid.New()
	}
	if job.State == "" {
		job.State = domain.JobStateInitial
	}
	job.CreatedAt = s.now()

	id, err := s.insert(ctx, `
		INSERT INTO background_jobs (uuid, project_id, job_type, name, state, stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		job.UUID, job.ProjectID, job.JobType, job.Name, job.State, job.Stage, job.CreatedAt,
	)
	if err != nil {
		return s.fail("creating background job", logrus.Fields{"job_uuid": job.UUID}, err)
	}
	job.ID = id
	return nil
}

// GetBackgroundJobByID retrieves a job by primary key
func (s *Store) GetBackgroundJobByID(ctx context.Context, id int64) (*domain.BackgroundJob, error) {
	var job domain.BackgroundJob
	if err := s.get(ctx, &job, `SELECT `+jobColumns+` FROM background_jobs WHERE id = ?`, id); err != nil {
		return nil, s.fail("getting background job by ID", logrus.Fields{"job_id": id}, err)
	}
	return &job, nil
}

// GetBackgroundJobByUUID retrieves a job by UUID
func (s *Store) GetBackgroundJobByUUID(ctx context.Context, id uuid.UUID) (*domain.BackgroundJob, error) {
	var job domain.BackgroundJob
	if err := s.get(ctx, &job, `SELECT `+jobColumns+` FROM background_jobs WHERE uuid = ?`, id); err != nil {
		return nil, s.fail("getting background job by UUID", logrus.Fields{"job_uuid": id}, err)
	}
	return &job, nil
}

// ClaimBackgroundJob moves a job from initial to running with a conditional
// update so that only one invocation wins.
func (s *Store) ClaimBackgroundJob(ctx context.Context, id int64, startTime time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE background_jobs SET state = ?, start_time = ?
		WHERE id = ? AND state = ?`,
		domain.JobStateRunning, startTime.UTC(), id, domain.JobStateInitial,
	)
	if err != nil {
		return false, s.fail("claiming background job", logrus.Fields{"job_id": id}, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("claiming background job", logrus.Fields{"job_id": id}, err)
	}
	return n == 1, nil
}

// FinishBackgroundJob writes the terminal state together with end time and
// elapsed seconds
func (s *Store) FinishBackgroundJob(ctx context.Context, id int64, state domain.JobState, endTime time.Time, elapsedSeconds float64) error {
	err := s.execOne(ctx, `
		UPDATE background_jobs SET state = ?, end_time = ?, elapsed_seconds = ?
		WHERE id = ?`,
		state, endTime.UTC(), elapsedSeconds, id,
	)
	if err != nil {
		return s.fail("finishing background job", logrus.Fields{"job_id": id, "state": state}, err)
	}
	return nil
}

// FailStaleBackgroundJobs marks running jobs started before startedBefore as
// failed, together with the case import actions they run.
func (s *Store) FailStaleBackgroundJobs(ctx context.Context, startedBefore time.Time) ([]int64, error) {
	var stale []int64
	err := s.InTx(ctx, func(repo domain.Repository) error {
		tx := repo.(*Store)
		var running []*domain.BackgroundJob
		if err := tx.selectRows(ctx, &running, `SELECT `+jobColumns+` FROM background_jobs WHERE state = ?`,
			domain.JobStateRunning); err != nil {
			return err
		}
		now := tx.now()
		for _, job := range running {
			if job.StartTime == nil || !job.StartTime.Before(startedBefore) {
				continue
			}
			if err := tx.AddBackgroundJobLogEntry(ctx, &domain.BackgroundJobLogEntry{
				JobID:   job.ID,
				Level:   domain.LogLevelError,
				Message: fmt.Sprintf("Job still running after %s, marking it failed", now.Sub(*job.StartTime).Round(time.Second)),
			}); err != nil {
				return err
			}
			if err := tx.FinishBackgroundJob(ctx, job.ID, domain.JobStateFailed, now, now.Sub(*job.StartTime).Seconds()); err != nil {
				return err
			}
			if _, err := tx.exec(ctx, `
				UPDATE case_import_actions SET state = ?, updated_at = ?
				WHERE state = ? AND id IN (
					SELECT caseimportaction_id FROM case_import_background_jobs WHERE background_job_id = ?)`,
				domain.ActionStateFailed, now, domain.ActionStateRunning, job.ID); err != nil {
				return err
			}
			stale = append(stale, job.ID)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("failing stale background jobs", logrus.Fields{"started_before": startedBefore}, err)
	}
	return stale, nil
}

// SetBackgroundJobStage records the last completed stage of a job
func (s *Store) SetBackgroundJobStage(ctx context.Context, id int64, stage domain.JobStage) error {
	if err := s.execOne(ctx, `UPDATE background_jobs SET stage = ? WHERE id = ?`, stage, id); err != nil {
		return s.fail("setting background job stage", logrus.Fields{"job_id": id, "stage": stage}, err)
	}
	return nil
}

// RequestBackgroundJobCancel flags a job for cancellation
func (s *Store) RequestBackgroundJobCancel(ctx context.Context, id int64) error {
	if err := s.execOne(ctx, `UPDATE background_jobs SET cancel_requested = ? WHERE id = ?`, true, id); err != nil {
		return s.fail("requesting background job cancel", logrus.Fields{"job_id": id}, err)
	}
	return nil
}

// IsBackgroundJobCancelRequested reports whether cancellation was requested
func (s *Store) IsBackgroundJobCancelRequested(ctx context.Context, id int64) (bool, error) {
	var requested bool
	if err := s.get(ctx, &requested, `SELECT cancel_requested FROM background_jobs WHERE id = ?`, id); err != nil {
		return false, s.fail("reading background job cancel flag", logrus.Fields{"job_id": id}, err)
	}
	return requested, nil
}

// AddBackgroundJobLogEntry appends to a job's log
func (s *Store) AddBackgroundJobLogEntry(ctx context.Context, entry *domain.BackgroundJobLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	id, err := s.insert(ctx, `
		INSERT INTO background_job_log_entries (background_job_id, created_at, level, message)
		VALUES (?, ?, ?, ?) RETURNING id`,
		entry.JobID, entry.CreatedAt.UTC(), entry.Level, entry.Message,
	)
	if err != nil {
		return s.fail("adding background job log entry", logrus.Fields{"job_id": entry.JobID}, err)
	}
	entry.ID = id
	return nil
}

// ListBackgroundJobLogEntries returns the log entries with an ID greater than
// afterID in insertion order
func (s *Store) ListBackgroundJobLogEntries(ctx context.Context, jobID int64, afterID int64) ([]*domain.BackgroundJobLogEntry, error) {
	var entries []*domain.BackgroundJobLogEntry
	err := s.selectRows(ctx, &entries, `
		SELECT id, background_job_id, created_at, level, message
		FROM background_job_log_entries
		WHERE background_job_id = ? AND id > ?
		ORDER BY id`, jobID, afterID)
	if err != nil {
		return nil, s.fail("listing background job log entries", logrus.Fields{"job_id": jobID}, err)
	}
	return entries, nil
}

const caseImportJobColumns = `id, uuid, project_id, background_job_id, caseimportaction_id, created_at`

// CreateCaseImportBackgroundJob links a background job to a case import action
func (s *Store) CreateCaseImportBackgroundJob(ctx context.Context, job *domain.CaseImportBackgroundJob) error {
	if job.UUID == uuid.Nil {
		job.UUID = uuid.New()
	}
	job.CreatedAt = s.now()

	id, err := s.insert(ctx, `
		INSERT INTO case_import_background_jobs (uuid, project_id, background_job_id, caseimportaction_id, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		job.UUID, job.ProjectID, job.BackgroundJobID, job.CaseImportActionID, job.CreatedAt,
	)
	if err != nil {
		return s.fail("creating case import background job", logrus.Fields{"job_uuid": job.UUID}, err)
	}
	job.ID = id
	return nil
}

// GetCaseImportBackgroundJobByID retrieves a case import job by primary key
func (s *Store) GetCaseImportBackgroundJobByID(ctx context.Context, id int64) (*domain.CaseImportBackgroundJob, error) {
	var job domain.CaseImportBackgroundJob
	err := s.get(ctx, &job, `SELECT `+caseImportJobColumns+` FROM case_import_background_jobs WHERE id = ?`, id)
	if err != nil {
		return nil, s.fail("getting case import background job", logrus.Fields{"job_id": id}, err)
	}
	return &job, nil
}

// ListCaseImportBackgroundJobsByAction returns all submissions of an action
func (s *Store) ListCaseImportBackgroundJobsByAction(ctx context.Context, actionID int64) ([]*domain.CaseImportBackgroundJob, error) {
	var jobs []*domain.CaseImportBackgroundJob
	err := s.selectRows(ctx, &jobs, `
		SELECT `+caseImportJobColumns+` FROM case_import_background_jobs
		WHERE caseimportaction_id = ? ORDER BY id`, actionID)
	if err != nil {
		return nil, s.fail("listing case import background jobs", logrus.Fields{"action_id": actionID}, err)
	}
	return jobs, nil
}

const seqvarsQueryJobColumns = `id, uuid, project_id, background_job_id, case_id, settings, result_path, created_at`

// CreateSeqvarsQueryExecutionBackgroundJob inserts a query execution job
func (s *Store) CreateSeqvarsQueryExecutionBackgroundJob(ctx context.Context, job *domain.SeqvarsQueryExecutionBackgroundJob) error {
	if job.UUID == uuid.Nil {
		job.UUID = uuid.New()
	}
	if len(job.Settings) == 0 {
		job.Settings = domain.JSONText(`{}`)
	}
	job.CreatedAt = s.now()

	id, err := s.insert(ctx, `
		INSERT INTO seqvars_query_execution_background_jobs (uuid, project_id, background_job_id, case_id, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		job.UUID, job.ProjectID, job.BackgroundJobID, job.CaseID, job.Settings, job.CreatedAt,
	)
	if err != nil {
		return s.fail("creating seqvars query execution job", logrus.Fields{"job_uuid": job.UUID}, err)
	}
	job.ID = id
	return nil
}

// GetSeqvarsQueryExecutionBackgroundJobByID retrieves a query execution job
func (s *Store) GetSeqvarsQueryExecutionBackgroundJobByID(ctx context.Context, id int64) (*domain.SeqvarsQueryExecutionBackgroundJob, error) {
	var job domain.SeqvarsQueryExecutionBackgroundJob
	err := s.get(ctx, &job, `SELECT `+seqvarsQueryJobColumns+` FROM seqvars_query_execution_background_jobs WHERE id = ?`, id)
	if err != nil {
		return nil, s.fail("getting seqvars query execution job", logrus.Fields{"job_id": id}, err)
	}
	return &job, nil
}

// SetSeqvarsQueryResultPath stores where the query result was written
func (s *Store) SetSeqvarsQueryResultPath(ctx context.Context, id int64, path string) error {
	err := s.execOne(ctx, `UPDATE seqvars_query_execution_background_jobs SET result_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return s.fail("setting seqvars query result path", logrus.Fields{"job_id": id}, err)
	}
	return nil
}
