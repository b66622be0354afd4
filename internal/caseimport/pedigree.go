package caseimport

import (
	"context"
	"fmt"
	"strings"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/phenopacket"
)

const (
	attrGenomeBuild = "genomebuild"
	attrAssay       = "assay"
	attrDesignation = "designation"
	attrMimeType    = "mimetype"
	attrChecksum    = "checksum"
)

// member is one individual as described by the payload.
type member struct {
	individual *domain.Individual
	diseases   []domain.Term
	phenotypes []domain.Term
	// kitFile is the URI of the first file of the individual's phenopacket.
	kitFile string
	// attrs are the attributes of that file.
	attrs map[string]string
}

// caseName derives the case name from the payload.
func caseName(family *phenopacket.Family) string {
	return family.ID
}

// genomeRelease is taken from the first file declaring a genome build.
func genomeRelease(family *phenopacket.Family) domain.GenomeRelease {
	files := append([]phenopacket.File{}, family.Files...)
	for _, p := range family.Members() {
		files = append(files, p.Files...)
	}
	for _, f := range files {
		release := domain.GenomeRelease(strings.ToLower(f.FileAttributes[attrGenomeBuild]))
		if release.IsValid() {
			return release
		}
	}
	return domain.ReleaseGRCh37
}

func parentName(id string) string {
	if id == "0" {
		return ""
	}
	return id
}

// members converts the pedigree of the payload. Persons without a
// phenopacket get neither terms nor kit.
func members(family *phenopacket.Family) []member {
	var out []member
	for _, person := range family.Persons() {
		ind := &domain.Individual{
			Name:          person.IndividualID,
			Father:        parentName(person.PaternalID),
			Mother:        parentName(person.MaternalID),
			Sex:           sexOf(person.Sex),
			KaryotypicSex: domain.KaryotypeUnknown,
			Affected:      affectedOf(person.AffectedStatus),
		}
		m := member{individual: ind}

		if p := family.Phenopacket(person.IndividualID); p != nil {
			if p.Subject != nil {
				if ind.Sex == domain.SexUnknown {
					ind.Sex = sexOf(p.Subject.Sex)
				}
				if p.Subject.KaryotypicSex != "" {
					ind.KaryotypicSex = domain.KaryotypicSex(p.Subject.KaryotypicSex)
				}
			}
			for _, d := range p.Diseases {
				m.diseases = append(m.diseases, domain.Term{TermID: d.Term.ID, Label: d.Term.Label, Excluded: d.Excluded})
			}
			for _, f := range p.PhenotypicFeatures {
				m.phenotypes = append(m.phenotypes, domain.Term{TermID: f.Type.ID, Label: f.Type.Label, Excluded: f.Excluded})
			}
			if len(p.Files) > 0 {
				m.kitFile = p.Files[0].URI
				m.attrs = p.Files[0].FileAttributes
			}
		}
		out = append(out, m)
	}
	return out
}

func sexOf(s string) domain.Sex {
	switch domain.Sex(strings.ToUpper(s)) {
	case domain.SexMale:
		return domain.SexMale
	case domain.SexFemale:
		return domain.SexFemale
	case domain.SexOther:
		return domain.SexOther
	default:
		return domain.SexUnknown
	}
}

func affectedOf(s string) domain.AffectedStatus {
	switch domain.AffectedStatus(strings.ToUpper(s)) {
	case domain.AffectedAffected:
		return domain.AffectedAffected
	case domain.AffectedUnaffected:
		return domain.AffectedUnaffected
	default:
		return domain.AffectedMissing
	}
}

func pedigreeSummary(ms []member) domain.PedigreeSummary {
	summary := make(domain.PedigreeSummary, 0, len(ms))
	for _, m := range ms {
		orZero := func(s string) string {
			if s == "" {
				return "0"
			}
			return s
		}
		summary = append(summary, domain.PedigreeSummaryEntry{
			Patient:  m.individual.Name,
			Father:   orZero(m.individual.Father),
			Mother:   orZero(m.individual.Mother),
			Sex:      m.individual.Sex.PlinkCode(),
			Affected: m.individual.Affected.PlinkCode(),
		})
	}
	return summary
}

// resolveKit fills in assay type and enrichment kit from the first file of
// the member. Without an explicit assay, a known kit implies an exome and
// its absence a genome.
func (e *Executor) resolveKit(ctx context.Context, repo domain.KitRepository, m *member) error {
	kitID, err := e.kits.Resolve(ctx, repo, m.kitFile)
	if err != nil {
		return err
	}
	m.individual.EnrichmentKitID = kitID

	switch assay := domain.AssayType(strings.ToLower(m.attrs[attrAssay])); assay {
	case domain.AssayPanel, domain.AssayExome, domain.AssayGenome:
		m.individual.AssayType = assay
	default:
		if kitID != nil {
			m.individual.AssayType = domain.AssayExome
		} else {
			m.individual.AssayType = domain.AssayGenome
		}
	}
	return nil
}

// buildCase creates or updates the case with its pedigree and individuals.
// It must run in a transaction.
func (e *Executor) buildCase(ctx context.Context, repo domain.Repository, projectID int64,
	action *domain.CaseImportAction, family *phenopacket.Family) (*domain.Case, error) {
	ms := members(family)
	for i := range ms {
		if err := e.resolveKit(ctx, repo, &ms[i]); err != nil {
			return nil, err
		}
	}

	name := caseName(family)
	var (
		c   *domain.Case
		err error
	)
	switch action.Action {
	case domain.ActionCreate:
		c = &domain.Case{ProjectID: projectID, Name: name, State: domain.CaseStateImporting}
		fillCase(c, family, ms)
		if err := repo.CreateCase(ctx, c); err != nil {
			return nil, fmt.Errorf("creating case %s: %w", name, err)
		}
		pedigree := &domain.Pedigree{CaseID: c.ID}
		if err := repo.CreatePedigree(ctx, pedigree); err != nil {
			return nil, fmt.Errorf("creating pedigree: %w", err)
		}
		for _, m := range ms {
			if err := createMember(ctx, repo, pedigree.ID, m); err != nil {
				return nil, err
			}
		}

	case domain.ActionUpdate:
		c, err = repo.GetCaseByName(ctx, projectID, name)
		if err != nil {
			return nil, fmt.Errorf("looking up case %s: %w", name, err)
		}
		c.State = domain.CaseStateUpdating
		fillCase(c, family, ms)
		if err := repo.UpdateCase(ctx, c); err != nil {
			return nil, fmt.Errorf("updating case %s: %w", name, err)
		}
		pedigree, err := repo.GetPedigreeByCase(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("loading pedigree: %w", err)
		}
		if err := updateMembers(ctx, repo, pedigree.ID, ms, action.OverwriteTerms); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("action %q: %w", action.Action, domain.ErrInvalidTransition)
	}
	return c, nil
}

func fillCase(c *domain.Case, family *phenopacket.Family, ms []member) {
	c.Release = genomeRelease(family)
	c.IndexName = family.Proband.Subject.ID
	c.PedigreeSummary = pedigreeSummary(ms)
}

func createMember(ctx context.Context, repo domain.Repository, pedigreeID int64, m member) error {
	m.individual.PedigreeID = pedigreeID
	if err := repo.CreateIndividual(ctx, m.individual); err != nil {
		return fmt.Errorf("creating individual %s: %w", m.individual.Name, err)
	}
	return addTerms(ctx, repo, m)
}

func addTerms(ctx context.Context, repo domain.Repository, m member) error {
	if err := repo.AddTerms(ctx, domain.TermDisease, m.individual.ID, m.diseases); err != nil {
		return fmt.Errorf("adding diseases of %s: %w", m.individual.Name, err)
	}
	if err := repo.AddTerms(ctx, domain.TermPhenotypicFeature, m.individual.ID, m.phenotypes); err != nil {
		return fmt.Errorf("adding phenotypic features of %s: %w", m.individual.Name, err)
	}
	return nil
}

// updateMembers applies the payload to the stored individuals: those no
// longer named are deleted, new ones are created and the others are updated
// in place. Terms of kept individuals are replaced only with overwriteTerms;
// otherwise payload terms are added next to the stored ones.
func updateMembers(ctx context.Context, repo domain.Repository, pedigreeID int64, ms []member, overwriteTerms bool) error {
	stored, err := repo.ListIndividuals(ctx, pedigreeID)
	if err != nil {
		return fmt.Errorf("loading individuals: %w", err)
	}
	byName := make(map[string]*domain.Individual, len(stored))
	for _, ind := range stored {
		byName[ind.Name] = ind
	}

	wanted := make(map[string]bool, len(ms))
	for _, m := range ms {
		wanted[m.individual.Name] = true
	}
	for _, ind := range stored {
		if !wanted[ind.Name] {
			if err := repo.DeleteIndividual(ctx, ind.ID); err != nil {
				return fmt.Errorf("deleting individual %s: %w", ind.Name, err)
			}
		}
	}

	for _, m := range ms {
		existing, ok := byName[m.individual.Name]
		if !ok {
			if err := createMember(ctx, repo, pedigreeID, m); err != nil {
				return err
			}
			continue
		}

		m.individual.ID = existing.ID
		m.individual.UUID = existing.UUID
		m.individual.PedigreeID = pedigreeID
		if err := repo.UpdateIndividual(ctx, m.individual); err != nil {
			return fmt.Errorf("updating individual %s: %w", m.individual.Name, err)
		}
		if overwriteTerms {
			for _, kind := range []domain.TermKind{domain.TermDisease, domain.TermPhenotypicFeature} {
				if err := repo.DeleteTerms(ctx, kind, existing.ID); err != nil {
					return fmt.Errorf("deleting terms of %s: %w", m.individual.Name, err)
				}
			}
		}
		if err := addTerms(ctx, repo, m); err != nil {
			return err
		}
	}
	return nil
}
