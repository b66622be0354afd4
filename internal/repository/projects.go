package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const projectColumns = `id, uuid, title, created_at`

// CreateProject inserts a new project
func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	if project.UUID == uuid.Nil {
		project.UUID = uuid.New()
	}
	project.CreatedAt = s.now()

	id, err := s.insert(ctx,
		`INSERT INTO projects (uuid, title, created_at) VALUES (?, ?, ?) RETURNING id`,
		project.UUID, project.Title, project.CreatedAt,
	)
	if err != nil {
		return s.fail("creating project", logrus.Fields{"project_uuid": project.UUID}, err)
	}
	project.ID = id
	return nil
}

// GetProjectByID retrieves a project by primary key
func (s *Store) GetProjectByID(ctx context.Context, id int64) (*domain.Project, error) {
	var project domain.Project
	if err := s.get(ctx, &project, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id); err != nil {
		return nil, s.fail("getting project by ID", logrus.Fields{"project_id": id}, err)
	}
	return &project, nil
}

// GetProjectByUUID retrieves a project by UUID
func (s *Store) GetProjectByUUID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var project domain.Project
	if err := s.get(ctx, &project, `SELECT `+projectColumns+` FROM projects WHERE uuid = ?`, id); err != nil {
		return nil, s.fail("getting project by UUID", logrus.Fields{"project_uuid": id}, err)
	}
	return &project, nil
}

// GetProjectStorage returns the external storage settings of a project
func (s *Store) GetProjectStorage(ctx context.Context, projectID int64) (*domain.ProjectStorage, error) {
	var storage domain.ProjectStorage
	err := s.get(ctx, &storage, `
		SELECT project_id, protocol, host, port, username, password, use_https, prefix
		FROM project_storage WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, s.fail("getting project storage", logrus.Fields{"project_id": projectID}, err)
	}
	return &storage, nil
}

// SaveProjectStorage creates or replaces the storage settings of a project
func (s *Store) SaveProjectStorage(ctx context.Context, storage *domain.ProjectStorage) error {
	_, err := s.exec(ctx, `
		INSERT INTO project_storage (project_id, protocol, host, port, username, password, use_https, prefix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			protocol = excluded.protocol,
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			password = excluded.password,
			use_https = excluded.use_https,
			prefix = excluded.prefix`,
		storage.ProjectID, storage.Protocol, storage.Host, storage.Port,
		storage.Username, storage.Password, storage.UseHTTPS, storage.Prefix,
	)
	if err != nil {
		return s.fail("saving project storage", logrus.Fields{"project_id": storage.ProjectID}, err)
	}
	return nil
}
