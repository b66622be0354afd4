// Package caseimport executes case import actions: it builds or updates the
// case with its pedigree from the phenopacket payload, registers the external
// files and drives the QC and variant importers.
package caseimport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/importer/qc"
	"github.com/varfish-case-importer/internal/importer/variants"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/phenopacket"
	"github.com/varfish-case-importer/internal/storage"
	"github.com/varfish-case-importer/internal/worker"
)

// Config holds the executor settings
type Config struct {
	External domain.ExternalStorageConfig
	Variants variants.Config
}

// ExternalFileSystem opens the external storage of a project
type ExternalFileSystem func(ctx context.Context, projectID int64) (*storage.FileSystem, error)

// Executor runs case import background jobs
type Executor struct {
	repo     domain.Repository
	internal *storage.FileSystem
	runner   worker.Runner
	kits     *KitResolver
	harness  *jobs.Harness
	external ExternalFileSystem
	cfg      Config
	log      *logrus.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithExternalFileSystem replaces the lookup of the project storage settings.
func WithExternalFileSystem(fn ExternalFileSystem) Option {
	return func(e *Executor) { e.external = fn }
}

// NewExecutor creates a case import executor
func NewExecutor(repo domain.Repository, internal *storage.FileSystem, runner worker.Runner, kits *KitResolver,
	harness *jobs.Harness, cfg Config, logger *logrus.Logger, opts ...Option) *Executor {
	e := &Executor{
		repo:     repo,
		internal: internal,
		runner:   runner,
		kits:     kits,
		harness:  harness,
		cfg:      cfg,
		log:      logger,
	}
	e.external = e.projectFileSystem
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) projectFileSystem(ctx context.Context, projectID int64) (*storage.FileSystem, error) {
	settings, err := e.repo.GetProjectStorage(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		settings = nil
	} else if err != nil {
		return nil, fmt.Errorf("loading project storage settings: %w", err)
	}
	return storage.New(storage.ExternalOptions(settings, e.cfg.External), e.log)
}

// Execute runs the case import background job with the given primary key.
// The state of the owning action follows the job: running while the body
// executes, then success or failed. An error is only returned if the job
// could not be loaded or its bookkeeping could not be written; the outcome of
// the import itself is reported in the returned Outcome.
func (e *Executor) Execute(ctx context.Context, caseImportJobID int64) (jobs.Outcome, error) {
	record, err := e.repo.GetCaseImportBackgroundJobByID(ctx, caseImportJobID)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading case import job %d: %w", caseImportJobID, err)
	}
	action, err := e.repo.GetCaseImportActionByID(ctx, record.CaseImportActionID)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading case import action %d: %w", record.CaseImportActionID, err)
	}

	outcome, err := e.harness.Run(ctx, record.BackgroundJobID, func(ctx context.Context, job *jobs.Job) error {
		if err := e.setActionState(ctx, action, domain.ActionStateRunning); err != nil {
			return err
		}
		return e.run(ctx, job, action)
	})
	if err != nil || !outcome.Claimed {
		return outcome, err
	}

	final := domain.ActionStateSuccess
	if outcome.State != domain.JobStateDone {
		final = domain.ActionStateFailed
	}
	if err := e.setActionState(context.WithoutCancel(ctx), action, final); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// setActionState moves the action along its state machine. Transitions the
// machine does not allow are skipped, e.g. for an action run directly from
// the command line while still in draft.
func (e *Executor) setActionState(ctx context.Context, action *domain.CaseImportAction, next domain.CaseImportActionState) error {
	if !action.State.CanTransitionTo(next) {
		e.log.WithFields(logrus.Fields{
			"action_uuid": action.UUID,
			"state":       action.State,
			"next":        next,
		}).Debug("Skipping case import action state change")
		return nil
	}
	if err := e.repo.SetCaseImportActionState(ctx, action.ID, next); err != nil {
		return fmt.Errorf("setting case import action state: %w", err)
	}
	action.State = next
	return nil
}

func (e *Executor) run(ctx context.Context, job *jobs.Job, action *domain.CaseImportAction) error {
	family, err := phenopacket.Decode([]byte(action.Payload))
	if err != nil {
		job.Errorf("Could not decode payload: %v", err)
		return err
	}
	name := caseName(family)

	if action.Action == domain.ActionDelete {
		return e.deleteCase(ctx, job, action.ProjectID, name)
	}

	job.Infof("Running %s for case %s", action.Action, name)
	var c *domain.Case
	err = e.repo.InTx(ctx, func(tx domain.Repository) error {
		var err error
		c, err = e.buildCase(ctx, tx, action.ProjectID, action, family)
		return err
	})
	if err != nil {
		job.Errorf("Could not build pedigree of case %s: %v", name, err)
		return err
	}
	if err := job.SetStage(ctx, domain.StagePedigreeCommitted); err != nil {
		return err
	}

	if action.Action == domain.ActionUpdate {
		for _, kind := range []domain.FileKind{domain.FileKindExternal, domain.FileKindInternal} {
			if err := e.repo.DeleteCaseFiles(ctx, kind, c.ID); err != nil {
				return fmt.Errorf("clearing %s files: %w", kind, err)
			}
		}
	}
	n, err := e.registerFiles(ctx, job.UUID, c, family)
	if err != nil {
		return err
	}
	job.Infof("Registered %d external files", n)
	if err := job.SetStage(ctx, domain.StageFilesRegistered); err != nil {
		return err
	}

	external, err := e.external(ctx, action.ProjectID)
	if err != nil {
		job.Errorf("Could not open external storage: %v", err)
		return err
	}

	if err := qc.NewImporter(e.repo, external, e.log).Run(ctx, job, c); err != nil {
		return err
	}
	if err := job.SetStage(ctx, domain.StageQCDone); err != nil {
		return err
	}

	steps := []struct {
		varType domain.VariantType
		stage   domain.JobStage
	}{
		{domain.VariantTypeSeqvars, domain.StageSeqvarsDone},
		{domain.VariantTypeStrucvars, domain.StageStrucvarsDone},
	}
	for _, step := range steps {
		im := variants.NewImporter(step.varType, e.repo, external, e.internal, e.runner, e.cfg.Variants, e.log)
		if err := im.Run(ctx, job, c); err != nil {
			return err
		}
		if err := job.SetStage(ctx, step.stage); err != nil {
			return err
		}
	}

	if err := e.repo.SetCaseState(ctx, c.ID, domain.CaseStateActive); err != nil {
		return fmt.Errorf("activating case %s: %w", name, err)
	}
	job.Infof("Case %s is active", name)
	e.log.WithFields(logrus.Fields{
		"case_uuid": c.UUID,
		"action":    action.Action,
		"job_uuid":  job.UUID,
	}).Info("Case import finished")
	return nil
}

func (e *Executor) deleteCase(ctx context.Context, job *jobs.Job, projectID int64, name string) error {
	c, err := e.repo.GetCaseByName(ctx, projectID, name)
	if errors.Is(err, domain.ErrNotFound) {
		job.Warnf("Case %s does not exist, nothing to delete", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up case %s: %w", name, err)
	}
	if err := e.repo.DeleteCase(ctx, c.ID); err != nil {
		return fmt.Errorf("deleting case %s: %w", name, err)
	}
	job.Infof("Deleted case %s", name)
	return nil
}
