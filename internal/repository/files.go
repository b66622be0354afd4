package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const fileColumns = `id, uuid, pedigree_id, individual_id, path, checksum, designation, genomebuild, mimetype,
	file_attributes, identifier_map, created_at`

// caseFileFilter selects the pedigree-scoped and individual-scoped files of one case.
const caseFileFilter = `
	pedigree_id IN (SELECT id FROM pedigrees WHERE case_id = ?)
	OR individual_id IN (
		SELECT i.id FROM individuals i JOIN pedigrees p ON p.id = i.pedigree_id WHERE p.case_id = ?
	)`

func fileTable(kind domain.FileKind) (string, error) {
	switch kind {
	case domain.FileKindExternal:
		return "external_files", nil
	case domain.FileKindInternal:
		return "internal_files", nil
	default:
		return "", fmt.Errorf("unknown file kind %q", kind)
	}
}

// SaveFile inserts a file reference or overwrites the one with the same UUID
func (s *Store) SaveFile(ctx context.Context, kind domain.FileKind, file *domain.FileRecord) error {
	table, err := fileTable(kind)
	if err != nil {
		return err
	}
	if file.UUID == uuid.Nil {
		file.UUID = uuid.New()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = s.now()
	}

	id, err := s.insert(ctx, `
		INSERT INTO `+table+` (uuid, pedigree_id, individual_id, path, checksum, designation, genomebuild, mimetype,
			file_attributes, identifier_map, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			pedigree_id = excluded.pedigree_id,
			individual_id = excluded.individual_id,
			path = excluded.path,
			checksum = excluded.checksum,
			designation = excluded.designation,
			genomebuild = excluded.genomebuild,
			mimetype = excluded.mimetype,
			file_attributes = excluded.file_attributes,
			identifier_map = excluded.identifier_map
		RETURNING id`,
		file.UUID, file.PedigreeID, file.IndividualID, file.Path, file.Checksum, file.Designation,
		file.GenomeBuild, file.MimeType, file.FileAttributes, file.IdentifierMap, file.CreatedAt,
	)
	if err != nil {
		return s.fail("saving file", logrus.Fields{"kind": kind, "path": file.Path, "designation": file.Designation}, err)
	}
	file.ID = id
	return nil
}

// ListCaseFiles returns all files of one kind attached to a case, its
// pedigree or its individuals
func (s *Store) ListCaseFiles(ctx context.Context, kind domain.FileKind, caseID int64) ([]*domain.FileRecord, error) {
	table, err := fileTable(kind)
	if err != nil {
		return nil, err
	}
	var files []*domain.FileRecord
	err = s.selectRows(ctx, &files, `SELECT `+fileColumns+` FROM `+table+` WHERE `+caseFileFilter+` ORDER BY id`, caseID, caseID)
	if err != nil {
		return nil, s.fail("listing case files", logrus.Fields{"kind": kind, "case_id": caseID}, err)
	}
	return files, nil
}

// DeleteCaseFiles removes all files of one kind attached to a case
func (s *Store) DeleteCaseFiles(ctx context.Context, kind domain.FileKind, caseID int64) error {
	table, err := fileTable(kind)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `DELETE FROM `+table+` WHERE `+caseFileFilter, caseID, caseID)
	if err != nil {
		return s.fail("deleting case files", logrus.Fields{"kind": kind, "case_id": caseID}, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.log.WithFields(logrus.Fields{"kind": kind, "case_id": caseID, "count": n}).Debug("Case files deleted")
	}
	return nil
}
