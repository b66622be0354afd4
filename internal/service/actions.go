// Package service implements the operations behind the HTTP API: managing
// case import actions, submitting them as background jobs and inspecting jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/phenopacket"
	"github.com/varfish-case-importer/internal/tasks"
)

// CreateActionRequest describes a new case import action
type CreateActionRequest struct {
	Action         domain.CaseImportActionType  `json:"action" binding:"required"`
	State          domain.CaseImportActionState `json:"state"`
	Payload        domain.JSONText              `json:"payload" binding:"required"`
	OverwriteTerms bool                         `json:"overwrite_terms"`
}

// UpdateActionRequest changes a draft action. Nil fields are left alone.
type UpdateActionRequest struct {
	Action         *domain.CaseImportActionType  `json:"action"`
	State          *domain.CaseImportActionState `json:"state"`
	Payload        domain.JSONText               `json:"payload"`
	OverwriteTerms *bool                         `json:"overwrite_terms"`
}

// ActionService manages case import actions
type ActionService struct {
	repo  domain.Repository
	queue domain.TaskQueue
	log   *logrus.Logger
}

// NewActionService creates an action service
func NewActionService(repo domain.Repository, queue domain.TaskQueue, logger *logrus.Logger) *ActionService {
	return &ActionService{repo: repo, queue: queue, log: logger}
}

// Create stores a new action in the project. An action created in the
// submitted state is queued right away.
func (s *ActionService) Create(ctx context.Context, projectUUID uuid.UUID, req CreateActionRequest) (*domain.CaseImportAction, error) {
	project, err := s.repo.GetProjectByUUID(ctx, projectUUID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if req.State == "" {
		req.State = domain.ActionStateDraft
	}
	if req.State != domain.ActionStateDraft && req.State != domain.ActionStateSubmitted {
		return nil, domain.NewValidationError("state", "new actions are draft or submitted", req.State)
	}

	action := &domain.CaseImportAction{
		ProjectID:      project.ID,
		Action:         req.Action,
		State:          domain.ActionStateDraft,
		Payload:        req.Payload,
		OverwriteTerms: req.OverwriteTerms,
	}
	if err := s.check(ctx, action); err != nil {
		return nil, err
	}
	if err := s.repo.CreateCaseImportAction(ctx, action); err != nil {
		return nil, fmt.Errorf("creating case import action: %w", err)
	}
	if req.State == domain.ActionStateSubmitted {
		if err := s.submit(ctx, action); err != nil {
			return nil, err
		}
	}
	return action, nil
}

// check validates the action against the cases of its project: create needs
// a free case name, update and delete an existing case.
func (s *ActionService) check(ctx context.Context, action *domain.CaseImportAction) error {
	if !action.Action.IsValid() {
		return domain.NewValidationError("action", "must be one of create, update, delete", action.Action)
	}
	family, err := phenopacket.Decode([]byte(action.Payload))
	if err != nil {
		return domain.NewValidationError("payload", err.Error(), nil)
	}

	_, err = s.repo.GetCaseByName(ctx, action.ProjectID, family.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("looking up case: %w", err)
	}
	switch {
	case action.Action == domain.ActionCreate && exists:
		return fmt.Errorf("case %s: %w", family.ID, domain.ErrAlreadyExists)
	case action.Action != domain.ActionCreate && !exists:
		return fmt.Errorf("case %s: %w", family.ID, domain.ErrNotFound)
	}
	return nil
}

// Get returns the action with the given UUID.
func (s *ActionService) Get(ctx context.Context, id uuid.UUID) (*domain.CaseImportAction, error) {
	return s.repo.GetCaseImportActionByUUID(ctx, id)
}

// Update modifies a draft action. Moving it to submitted queues it.
func (s *ActionService) Update(ctx context.Context, id uuid.UUID, req UpdateActionRequest) (*domain.CaseImportAction, error) {
	action, err := s.repo.GetCaseImportActionByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !action.CanModify() {
		return nil, fmt.Errorf("action %s in state %s: %w", action.UUID, action.State, domain.ErrNotModifiable)
	}
	if req.State != nil && !action.State.CanTransitionTo(*req.State) {
		return nil, fmt.Errorf("%s -> %s: %w", action.State, *req.State, domain.ErrInvalidTransition)
	}

	if req.Action != nil {
		action.Action = *req.Action
	}
	if len(req.Payload) > 0 {
		action.Payload = req.Payload
	}
	if req.OverwriteTerms != nil {
		action.OverwriteTerms = *req.OverwriteTerms
	}
	if err := s.check(ctx, action); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateCaseImportAction(ctx, action); err != nil {
		return nil, fmt.Errorf("updating case import action: %w", err)
	}

	if req.State != nil && *req.State == domain.ActionStateSubmitted {
		if err := s.submit(ctx, action); err != nil {
			return nil, err
		}
	}
	return action, nil
}

// Delete removes a draft action.
func (s *ActionService) Delete(ctx context.Context, id uuid.UUID) error {
	action, err := s.repo.GetCaseImportActionByUUID(ctx, id)
	if err != nil {
		return err
	}
	if !action.CanModify() {
		return fmt.Errorf("action %s in state %s: %w", action.UUID, action.State, domain.ErrNotModifiable)
	}
	return s.repo.DeleteCaseImportAction(ctx, action.ID)
}

// Warnings returns the advisory findings of the payload validator.
func (s *ActionService) Warnings(ctx context.Context, id uuid.UUID) ([]string, error) {
	action, err := s.repo.GetCaseImportActionByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	warnings := phenopacket.Validate([]byte(action.Payload))
	if warnings == nil {
		warnings = []string{}
	}
	return warnings, nil
}

// Jobs lists the background jobs created for the action.
func (s *ActionService) Jobs(ctx context.Context, id uuid.UUID) ([]*domain.BackgroundJob, error) {
	action, err := s.repo.GetCaseImportActionByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListCaseImportBackgroundJobsByAction(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.BackgroundJob, 0, len(records))
	for _, r := range records {
		job, err := s.repo.GetBackgroundJobByID(ctx, r.BackgroundJobID)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// submit moves the action to submitted and creates its job in one
// transaction, then queues the job.
func (s *ActionService) submit(ctx context.Context, action *domain.CaseImportAction) error {
	var record *domain.CaseImportBackgroundJob
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		if err := tx.SetCaseImportActionState(ctx, action.ID, domain.ActionStateSubmitted); err != nil {
			return err
		}
		job := &domain.BackgroundJob{
			ProjectID: action.ProjectID,
			JobType:   domain.JobTypeCaseImport,
			Name:      fmt.Sprintf("Case import (%s)", action.Action),
		}
		if err := tx.CreateBackgroundJob(ctx, job); err != nil {
			return err
		}
		record = &domain.CaseImportBackgroundJob{
			ProjectID:          action.ProjectID,
			BackgroundJobID:    job.ID,
			CaseImportActionID: action.ID,
		}
		return tx.CreateCaseImportBackgroundJob(ctx, record)
	})
	if err != nil {
		return fmt.Errorf("submitting case import action: %w", err)
	}
	action.State = domain.ActionStateSubmitted

	if err := s.queue.Enqueue(ctx, tasks.TaskCaseImport, record.ID); err != nil {
		s.log.WithError(err).WithField("action_uuid", action.UUID).Error("Could not queue case import job")
		if rerr := s.unsubmit(context.WithoutCancel(ctx), action, record, err); rerr != nil {
			return fmt.Errorf("queueing case import job: %w (reverting submission: %v)", err, rerr)
		}
		return fmt.Errorf("queueing case import job: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"action_uuid": action.UUID,
		"job_uuid":    record.UUID,
	}).Info("Case import action submitted")
	return nil
}

// unsubmit puts an action whose job could not be queued back to draft and
// fails the job, so that the action can be submitted again.
func (s *ActionService) unsubmit(ctx context.Context, action *domain.CaseImportAction, record *domain.CaseImportBackgroundJob, cause error) error {
	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		if err := tx.SetCaseImportActionState(ctx, action.ID, domain.ActionStateDraft); err != nil {
			return err
		}
		if err := tx.AddBackgroundJobLogEntry(ctx, &domain.BackgroundJobLogEntry{
			JobID:   record.BackgroundJobID,
			Level:   domain.LogLevelError,
			Message: fmt.Sprintf("Could not queue job: %v", cause),
		}); err != nil {
			return err
		}
		return tx.FinishBackgroundJob(ctx, record.BackgroundJobID, domain.JobStateFailed, time.Now(), 0)
	})
	if err != nil {
		return err
	}
	action.State = domain.ActionStateDraft
	return nil
}
