package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const actionColumns = `id, uuid, project_id, action, state, payload, overwrite_terms, created_at, updated_at`

// CreateCaseImportAction inserts a new case import action
func (s *Store) CreateCaseImportAction(ctx context.Context, action *domain.CaseImportAction) error {
	if action.UUID == uuid.Nil {
		action.UUID = uuid.New()
	}
	if action.State == "" {
		action.State = domain.ActionStateDraft
	}
	action.CreatedAt = s.now()
	action.UpdatedAt = action.CreatedAt

	id, err := s.insert(ctx, `
		INSERT INTO case_import_actions (uuid, project_id, action, state, payload, overwrite_terms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		action.UUID, action.ProjectID, action.Action, action.State, action.Payload,
		action.OverwriteTerms, action.CreatedAt, action.UpdatedAt,
	)
	if err != nil {
		return s.fail("creating case import action", logrus.Fields{"action_uuid": action.UUID}, err)
	}
	action.ID = id

	s.log.WithFields(logrus.Fields{
		"action_uuid": action.UUID,
		"action":      action.Action,
		"state":       action.State,
	}).Debug("Case import action created")
	return nil
}

// GetCaseImportActionByID retrieves an action by primary key
func (s *Store) GetCaseImportActionByID(ctx context.Context, id int64) (*domain.CaseImportAction, error) {
	var action domain.CaseImportAction
	if err := s.get(ctx, &action, `SELECT `+actionColumns+` FROM case_import_actions WHERE id = ?`, id); err != nil {
		return nil, s.fail("getting case import action by ID", logrus.Fields{"action_id": id}, err)
	}
	return &action, nil
}

// GetCaseImportActionByUUID retrieves an action by UUID
func (s *Store) GetCaseImportActionByUUID(ctx context.Context, id uuid.UUID) (*domain.CaseImportAction, error) {
	var action domain.CaseImportAction
	if err := s.get(ctx, &action, `SELECT `+actionColumns+` FROM case_import_actions WHERE uuid = ?`, id); err != nil {
		return nil, s.fail("getting case import action by UUID", logrus.Fields{"action_uuid": id}, err)
	}
	return &action, nil
}

// UpdateCaseImportAction writes action, state, payload and the overwrite flag
func (s *Store) UpdateCaseImportAction(ctx context.Context, action *domain.CaseImportAction) error {
	action.UpdatedAt = s.now()
	err := s.execOne(ctx, `
		UPDATE case_import_actions
		SET action = ?, state = ?, payload = ?, overwrite_terms = ?, updated_at = ?
		WHERE id = ?`,
		action.Action, action.State, action.Payload, action.OverwriteTerms, action.UpdatedAt, action.ID,
	)
	if err != nil {
		return s.fail("updating case import action", logrus.Fields{"action_id": action.ID}, err)
	}
	return nil
}

// SetCaseImportActionState updates only the state of an action
func (s *Store) SetCaseImportActionState(ctx context.Context, id int64, state domain.CaseImportActionState) error {
	err := s.execOne(ctx, `UPDATE case_import_actions SET state = ?, updated_at = ? WHERE id = ?`, state, s.now(), id)
	if err != nil {
		return s.fail("setting case import action state", logrus.Fields{"action_id": id, "state": state}, err)
	}
	return nil
}

// DeleteCaseImportAction removes an action and its jobs
func (s *Store) DeleteCaseImportAction(ctx context.Context, id int64) error {
	if err := s.execOne(ctx, `DELETE FROM case_import_actions WHERE id = ?`, id); err != nil {
		return s.fail("deleting case import action", logrus.Fields{"action_id": id}, err)
	}
	return nil
}
