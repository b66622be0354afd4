package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const caseColumns = `id, uuid, project_id, name, genome_release, state, index_name, pedigree_summary, created_at, updated_at`

// CreateCase inserts a new case
func (s *Store) CreateCase(ctx context.Context, c *domain.Case) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt

	id, err := s.insert(ctx, `
		INSERT INTO cases (uuid, project_id, name, genome_release, state, index_name, pedigree_summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		c.UUID, c.ProjectID, c.Name, c.Release, c.State, c.IndexName, c.PedigreeSummary, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return s.fail("creating case", logrus.Fields{"case_name": c.Name, "project_id": c.ProjectID}, err)
	}
	c.ID = id

	s.log.WithFields(logrus.Fields{
		"case_uuid": c.UUID,
		"case_name": c.Name,
	}).Info("Case created successfully")
	return nil
}

// GetCaseByID retrieves a case by primary key
func (s *Store) GetCaseByID(ctx context.Context, id int64) (*domain.Case, error) {
	var c domain.Case
	if err := s.get(ctx, &c, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id); err != nil {
		return nil, s.fail("getting case by ID", logrus.Fields{"case_id": id}, err)
	}
	return &c, nil
}

// GetCaseByUUID retrieves a case by UUID
func (s *Store) GetCaseByUUID(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	var c domain.Case
	if err := s.get(ctx, &c, `SELECT `+caseColumns+` FROM cases WHERE uuid = ?`, id); err != nil {
		return nil, s.fail("getting case by UUID", logrus.Fields{"case_uuid": id}, err)
	}
	return &c, nil
}

// GetCaseByName retrieves a case by its name within a project
func (s *Store) GetCaseByName(ctx context.Context, projectID int64, name string) (*domain.Case, error) {
	var c domain.Case
	err := s.get(ctx, &c, `SELECT `+caseColumns+` FROM cases WHERE project_id = ? AND name = ?`, projectID, name)
	if err != nil {
		return nil, s.fail("getting case by name", logrus.Fields{"project_id": projectID, "case_name": name}, err)
	}
	return &c, nil
}

// UpdateCase writes the mutable fields of a case
func (s *Store) UpdateCase(ctx context.Context, c *domain.Case) error {
	c.UpdatedAt = s.now()
	err := s.execOne(ctx, `
		UPDATE cases SET genome_release = ?, state = ?, index_name = ?, pedigree_summary = ?, updated_at = ?
		WHERE id = ?`,
		c.Release, c.State, c.IndexName, c.PedigreeSummary, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return s.fail("updating case", logrus.Fields{"case_id": c.ID}, err)
	}
	return nil
}

// SetCaseState updates only the state of a case
func (s *Store) SetCaseState(ctx context.Context, id int64, state domain.CaseState) error {
	if err := s.execOne(ctx, `UPDATE cases SET state = ?, updated_at = ? WHERE id = ?`, state, s.now(), id); err != nil {
		return s.fail("setting case state", logrus.Fields{"case_id": id, "state": state}, err)
	}
	return nil
}

// DeleteCase removes a case together with its pedigree, files and QC
func (s *Store) DeleteCase(ctx context.Context, id int64) error {
	if err := s.execOne(ctx, `DELETE FROM cases WHERE id = ?`, id); err != nil {
		return s.fail("deleting case", logrus.Fields{"case_id": id}, err)
	}
	s.log.WithField("case_id", id).Info("Case deleted")
	return nil
}

// CountCases returns the number of cases in a project
func (s *Store) CountCases(ctx context.Context, projectID int64) (int, error) {
	var n int
	if err := s.get(ctx, &n, `SELECT count(*) FROM cases WHERE project_id = ?`, projectID); err != nil {
		return 0, s.fail("counting cases", logrus.Fields{"project_id": projectID}, err)
	}
	return n, nil
}

// CreatePedigree inserts the pedigree of a case
func (s *Store) CreatePedigree(ctx context.Context, p *domain.Pedigree) error {
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	id, err := s.insert(ctx, `INSERT INTO pedigrees (uuid, case_id) VALUES (?, ?) RETURNING id`, p.UUID, p.CaseID)
	if err != nil {
		return s.fail("creating pedigree", logrus.Fields{"case_id": p.CaseID}, err)
	}
	p.ID = id
	return nil
}

// GetPedigreeByCase retrieves the pedigree of a case
func (s *Store) GetPedigreeByCase(ctx context.Context, caseID int64) (*domain.Pedigree, error) {
	var p domain.Pedigree
	if err := s.get(ctx, &p, `SELECT id, uuid, case_id FROM pedigrees WHERE case_id = ?`, caseID); err != nil {
		return nil, s.fail("getting pedigree", logrus.Fields{"case_id": caseID}, err)
	}
	return &p, nil
}

const individualColumns = `id, uuid, pedigree_id, name, father, mother, sex, karyotypic_sex, affected, assay_type, enrichment_kit_id`

// CreateIndividual inserts a pedigree member
func (s *Store) CreateIndividual(ctx context.Context, ind *domain.Individual) error {
	if ind.UUID == uuid.Nil {
		ind.UUID = uuid.New()
	}
	id, err := s.insert(ctx, `
		INSERT INTO individuals (uuid, pedigree_id, name, father, mother, sex, karyotypic_sex, affected, assay_type, enrichment_kit_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		ind.UUID, ind.PedigreeID, ind.Name, ind.Father, ind.Mother, ind.Sex, ind.KaryotypicSex,
		ind.Affected, ind.AssayType, ind.EnrichmentKitID,
	)
	if err != nil {
		return s.fail("creating individual", logrus.Fields{"pedigree_id": ind.PedigreeID, "name": ind.Name}, err)
	}
	ind.ID = id
	return nil
}

// UpdateIndividual writes the fields of an existing individual in place
func (s *Store) UpdateIndividual(ctx context.Context, ind *domain.Individual) error {
	err := s.execOne(ctx, `
		UPDATE individuals
		SET father = ?, mother = ?, sex = ?, karyotypic_sex = ?, affected = ?, assay_type = ?, enrichment_kit_id = ?
		WHERE id = ?`,
		ind.Father, ind.Mother, ind.Sex, ind.KaryotypicSex, ind.Affected, ind.AssayType, ind.EnrichmentKitID, ind.ID,
	)
	if err != nil {
		return s.fail("updating individual", logrus.Fields{"individual_id": ind.ID}, err)
	}
	return nil
}

// DeleteIndividual removes an individual with its terms and files
func (s *Store) DeleteIndividual(ctx context.Context, id int64) error {
	if err := s.execOne(ctx, `DELETE FROM individuals WHERE id = ?`, id); err != nil {
		return s.fail("deleting individual", logrus.Fields{"individual_id": id}, err)
	}
	return nil
}

// ListIndividuals returns the members of a pedigree in creation order
func (s *Store) ListIndividuals(ctx context.Context, pedigreeID int64) ([]*domain.Individual, error) {
	var individuals []*domain.Individual
	err := s.selectRows(ctx, &individuals, `SELECT `+individualColumns+` FROM individuals WHERE pedigree_id = ? ORDER BY id`, pedigreeID)
	if err != nil {
		return nil, s.fail("listing individuals", logrus.Fields{"pedigree_id": pedigreeID}, err)
	}
	return individuals, nil
}

func termTable(kind domain.TermKind) (string, error) {
	switch kind {
	case domain.TermDisease:
		return "diseases", nil
	case domain.TermPhenotypicFeature:
		return "phenotypic_features", nil
	default:
		return "", fmt.Errorf("unknown term kind %q", kind)
	}
}

// AddTerms inserts terms for an individual. A term whose ID is already
// recorded keeps its stored label and excluded flag.
func (s *Store) AddTerms(ctx context.Context, kind domain.TermKind, individualID int64, terms []domain.Term) error {
	table, err := termTable(kind)
	if err != nil {
		return err
	}
	for _, term := range terms {
		_, err := s.exec(ctx, `
			INSERT INTO `+table+` (individual_id, term_id, label, excluded) VALUES (?, ?, ?, ?)
			ON CONFLICT (individual_id, term_id) DO NOTHING`,
			individualID, term.TermID, term.Label, term.Excluded,
		)
		if err != nil {
			return s.fail("adding terms", logrus.Fields{"individual_id": individualID, "kind": kind, "term": term.TermID}, err)
		}
	}
	return nil
}

// DeleteTerms removes all terms of one kind from an individual
func (s *Store) DeleteTerms(ctx context.Context, kind domain.TermKind, individualID int64) error {
	table, err := termTable(kind)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM `+table+` WHERE individual_id = ?`, individualID); err != nil {
		return s.fail("deleting terms", logrus.Fields{"individual_id": individualID, "kind": kind}, err)
	}
	return nil
}

// ListTerms returns the terms of one kind of an individual
func (s *Store) ListTerms(ctx context.Context, kind domain.TermKind, individualID int64) ([]domain.Term, error) {
	table, err := termTable(kind)
	if err != nil {
		return nil, err
	}
	var terms []domain.Term
	err = s.selectRows(ctx, &terms, `
		SELECT id, individual_id, term_id, label, excluded FROM `+table+`
		WHERE individual_id = ? ORDER BY id`, individualID)
	if err != nil {
		return nil, s.fail("listing terms", logrus.Fields{"individual_id": individualID, "kind": kind}, err)
	}
	return terms, nil
}
