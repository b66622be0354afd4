package tasks

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/caseimport"
	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/importer/variants"
	"github.com/varfish-case-importer/internal/jobs"
)

// Task names as put on the queue.
const (
	TaskCaseImport            = "run_caseimportactionbackgroundjob"
	TaskSeqvarsQueryExecution = "run_seqvarsqueryexecutionbackgroundjob"
)

// Entrypoints are the task handlers of the worker process
type Entrypoints struct {
	repo       domain.Repository
	harness    *jobs.Harness
	caseImport *caseimport.Executor
	query      *variants.QueryExecutor
	log        *logrus.Logger
}

// NewEntrypoints creates the task handlers
func NewEntrypoints(repo domain.Repository, harness *jobs.Harness, caseImport *caseimport.Executor,
	query *variants.QueryExecutor, logger *logrus.Logger) *Entrypoints {
	return &Entrypoints{
		repo:       repo,
		harness:    harness,
		caseImport: caseImport,
		query:      query,
		log:        logger,
	}
}

// Handlers maps the task names to their handlers.
func (e *Entrypoints) Handlers() map[string]Handler {
	return map[string]Handler{
		TaskCaseImport:            e.RunCaseImportActionBackgroundJob,
		TaskSeqvarsQueryExecution: e.RunSeqvarsQueryExecutionBackgroundJob,
	}
}

// RunCaseImportActionBackgroundJob executes the case import job with primary
// key pk. The outcome of the import is recorded on the job; an error is only
// returned if that bookkeeping failed.
func (e *Entrypoints) RunCaseImportActionBackgroundJob(ctx context.Context, pk int64) error {
	outcome, err := e.caseImport.Execute(ctx, pk)
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"task":    TaskCaseImport,
		"pk":      pk,
		"claimed": outcome.Claimed,
		"state":   outcome.State,
	}).Debug("Case import task finished")
	return nil
}

// RunSeqvarsQueryExecutionBackgroundJob executes the seqvars query job with
// primary key pk.
func (e *Entrypoints) RunSeqvarsQueryExecutionBackgroundJob(ctx context.Context, pk int64) error {
	query, err := e.repo.GetSeqvarsQueryExecutionBackgroundJobByID(ctx, pk)
	if err != nil {
		return fmt.Errorf("loading seqvars query job %d: %w", pk, err)
	}
	outcome, err := e.harness.Run(ctx, query.BackgroundJobID, func(ctx context.Context, job *jobs.Job) error {
		return e.query.Run(ctx, job, query)
	})
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"task":    TaskSeqvarsQueryExecution,
		"pk":      pk,
		"claimed": outcome.Claimed,
		"state":   outcome.State,
	}).Debug("Seqvars query task finished")
	return nil
}
