// Package jobs runs units of work as background jobs. The harness owns the
// bookkeeping around a job body: it claims the job, records start and end time
// and elapsed seconds, persists log entries and converts the outcome of the
// body into a terminal job state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

// Body is the work wrapped by a background job.
type Body func(ctx context.Context, job *Job) error

// Outcome describes how a Run call ended.
type Outcome struct {
	// Claimed is false when the job was not in the initial state, e.g. on a
	// redelivered task. The body did not run in that case.
	Claimed bool
	State   domain.JobState
	// Err is the error returned by the body, if any.
	Err error
}

// Harness executes job bodies
type Harness struct {
	repo         domain.JobRepository
	log          *logrus.Logger
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Harness
type Option func(*Harness)

// WithCancelPollInterval sets how often the cancel flag of a running job is
// checked. Zero disables polling.
func WithCancelPollInterval(d time.Duration) Option {
	return func(h *Harness) { h.pollInterval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// NewHarness creates a job harness
func NewHarness(repo domain.JobRepository, logger *logrus.Logger, opts ...Option) *Harness {
	h := &Harness{
		repo:         repo,
		log:          logger,
		pollInterval: 5 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run claims the background job and runs body. Errors and panics of the body
// end the job in the failed state; they are reported in Outcome.Err and never
// returned as the error of Run. The returned error is only set if the job
// could not be loaded or its bookkeeping could not be written.
func (h *Harness) Run(ctx context.Context, jobID int64, body Body) (Outcome, error) {
	record, err := h.repo.GetBackgroundJobByID(ctx, jobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading background job %d: %w", jobID, err)
	}

	start := h.now()
	claimed, err := h.repo.ClaimBackgroundJob(ctx, jobID, start)
	if err != nil {
		return Outcome{}, fmt.Errorf("claiming background job %d: %w", jobID, err)
	}
	if !claimed {
		current, err := h.repo.GetBackgroundJobByID(ctx, jobID)
		if err != nil {
			return Outcome{}, fmt.Errorf("reloading background job %d: %w", jobID, err)
		}
		h.log.WithFields(logrus.Fields{
			"job_uuid": current.UUID,
			"state":    current.State,
		}).Warn("Background job is not in the initial state, skipping")
		return Outcome{State: current.State}, nil
	}

	job := newJob(h.repo, h.log, record)
	job.Infof("Starting %s job", record.JobType)

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopPoll := h.pollCancel(jobCtx, cancel, jobID)

	bodyErr := h.runBody(jobCtx, job, body)
	stopPoll()
	if bodyErr == nil && context.Cause(jobCtx) == domain.ErrJobCancelled {
		bodyErr = domain.ErrJobCancelled
	}

	state := domain.JobStateDone
	switch {
	case bodyErr == nil:
		job.Infof("Job finished successfully")
	case errors.Is(bodyErr, domain.ErrJobCancelled) || errors.Is(context.Cause(jobCtx), domain.ErrJobCancelled):
		state = domain.JobStateCancelled
		job.Warnf("Job was cancelled: %v", bodyErr)
	default:
		state = domain.JobStateFailed
		job.Errorf("Job failed: %v", bodyErr)
	}

	end := h.now()
	elapsed := end.Sub(start).Seconds()
	// Bookkeeping must survive a cancelled parent context.
	finishCtx := context.WithoutCancel(ctx)
	if err := h.repo.FinishBackgroundJob(finishCtx, jobID, state, end, elapsed); err != nil {
		return Outcome{Claimed: true, State: state, Err: bodyErr}, fmt.Errorf("finishing background job %d: %w", jobID, err)
	}

	h.log.WithFields(logrus.Fields{
		"job_uuid":        record.UUID,
		"job_type":        record.JobType,
		"state":           state,
		"elapsed_seconds": elapsed,
	}).Info("Background job finished")

	return Outcome{Claimed: true, State: state, Err: bodyErr}, nil
}

func (h *Harness) runBody(ctx context.Context, job *Job, body Body) (err error) {
	defer func() {
		if p := recover(); p != nil {
			h.log.WithFields(logrus.Fields{
				"job_uuid": job.UUID,
				"panic":    p,
				"stack":    string(debug.Stack()),
			}).Error("Background job panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return body(ctx, job)
}

// pollCancel watches the cancel flag of the job and cancels ctx with
// domain.ErrJobCancelled once it is set. The returned function stops the
// watcher and waits for it to exit.
func (h *Harness) pollCancel(ctx context.Context, cancel context.CancelCauseFunc, jobID int64) func() {
	if h.pollInterval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				requested, err := h.repo.IsBackgroundJobCancelRequested(ctx, jobID)
				if err != nil {
					h.log.WithError(err).WithField("job_id", jobID).Warn("Could not read cancel flag")
					continue
				}
				if requested {
					cancel(domain.ErrJobCancelled)
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// Job is the handle a body uses to report progress.
type Job struct {
	ID        int64
	UUID      uuid.UUID
	ProjectID int64
	Type      domain.JobType

	repo domain.JobRepository
	log  *logrus.Entry
}

func newJob(repo domain.JobRepository, logger *logrus.Logger, record *domain.BackgroundJob) *Job {
	return &Job{
		ID:        record.ID,
		UUID:      record.UUID,
		ProjectID: record.ProjectID,
		Type:      record.JobType,
		repo:      repo,
		log: logger.WithFields(logrus.Fields{
			"job_uuid": record.UUID,
			"job_type": record.JobType,
		}),
	}
}

// SetStage records the last completed stage of the job.
func (j *Job) SetStage(ctx context.Context, stage domain.JobStage) error {
	if err := j.repo.SetBackgroundJobStage(context.WithoutCancel(ctx), j.ID, stage); err != nil {
		return err
	}
	j.log.WithField("stage", stage).Debug("Job stage reached")
	return nil
}

// Debugf adds a debug entry to the job log.
func (j *Job) Debugf(format string, args ...any) { j.add(domain.LogLevelDebug, format, args...) }

// Infof adds an info entry to the job log.
func (j *Job) Infof(format string, args ...any) { j.add(domain.LogLevelInfo, format, args...) }

// Warnf adds a warning entry to the job log.
func (j *Job) Warnf(format string, args ...any) { j.add(domain.LogLevelWarning, format, args...) }

// Errorf adds an error entry to the job log.
func (j *Job) Errorf(format string, args ...any) { j.add(domain.LogLevelError, format, args...) }

// add persists a log entry and mirrors it to the process log. Entries are
// written outside of any transaction the body may hold.
func (j *Job) add(level domain.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case domain.LogLevelDebug:
		j.log.Debug(msg)
	case domain.LogLevelWarning:
		j.log.Warn(msg)
	case domain.LogLevelError:
		j.log.Error(msg)
	default:
		j.log.Info(msg)
	}

	entry := &domain.BackgroundJobLogEntry{JobID: j.ID, Level: level, Message: msg}
	if err := j.repo.AddBackgroundJobLogEntry(context.Background(), entry); err != nil {
		j.log.WithError(err).Warn("Could not persist job log entry")
	}
}
