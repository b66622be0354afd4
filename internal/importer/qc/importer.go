// Package qc loads the quality control reports attached to a case into the
// case QC record. Reports are recognized by the detailed type in their MIME
// type; reports of unknown types are skipped.
package qc

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/storage"
)

const (
	attrRegion    = "region"
	defaultRegion = "target"
)

// Store is the persistence the QC importer needs
type Store interface {
	ListCaseFiles(ctx context.Context, kind domain.FileKind, caseID int64) ([]*domain.FileRecord, error)
	GetPedigreeByCase(ctx context.Context, caseID int64) (*domain.Pedigree, error)
	ListIndividuals(ctx context.Context, pedigreeID int64) ([]*domain.Individual, error)
	GetOrCreateCaseQC(ctx context.Context, caseID int64) (*domain.CaseQC, error)
	SetCaseQCState(ctx context.Context, id int64, state domain.CaseQCState) error
	SaveQCMetrics(ctx context.Context, metrics []domain.QCMetric) error
	SaveQCHistogram(ctx context.Context, hist *domain.QCHistogram) error
}

// Importer imports the QC files of a case
type Importer struct {
	store    Store
	external *storage.FileSystem
	log      *logrus.Logger
}

// NewImporter creates a QC importer reading files from external
func NewImporter(store Store, external *storage.FileSystem, logger *logrus.Logger) *Importer {
	return &Importer{
		store:    store,
		external: external,
		log:      logger,
	}
}

// Run processes every quality control file attached to the case, its
// pedigree or its individuals. Files are processed in order and the first
// failure aborts the run. Once all files are imported the QC record leaves
// the draft state.
func (im *Importer) Run(ctx context.Context, job *jobs.Job, c *domain.Case) error {
	files, err := im.store.ListCaseFiles(ctx, domain.FileKindExternal, c.ID)
	if err != nil {
		return fmt.Errorf("listing external files: %w", err)
	}
	pedigree, err := im.store.GetPedigreeByCase(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading pedigree: %w", err)
	}
	individuals, err := im.store.ListIndividuals(ctx, pedigree.ID)
	if err != nil {
		return fmt.Errorf("loading individuals: %w", err)
	}

	caseQC, err := im.store.GetOrCreateCaseQC(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("creating case QC: %w", err)
	}

	imported := 0
	for _, f := range files {
		if f.Designation != domain.DesignationQualityControl {
			continue
		}
		detailed := ParseDetailedType(f.MimeType)
		h, ok := handlers[detailed]
		if !ok {
			continue
		}

		in := input(h.scope, f, c, individuals)
		var res *Result
		err := im.external.WithReader(ctx, f.Path, func(r io.Reader) error {
			var perr error
			res, perr = h.parse(r, in)
			return perr
		})
		if err != nil {
			return fmt.Errorf("importing %s file %s: %w", detailed, f.Path, err)
		}

		region := ""
		if h.regional {
			region = f.FileAttributes.String(attrRegion)
			if region == "" {
				region = defaultRegion
			}
		}
		if err := im.save(ctx, caseQC.ID, detailed.Category(), region, res); err != nil {
			return err
		}
		imported++
		job.Infof("Imported %s QC file %s", detailed.Category(), f.Path)
	}

	if caseQC.State == domain.CaseQCStateDraft {
		if err := im.store.SetCaseQCState(ctx, caseQC.ID, domain.CaseQCStateActive); err != nil {
			return fmt.Errorf("activating case QC: %w", err)
		}
	}
	im.log.WithFields(logrus.Fields{
		"case_uuid": c.UUID,
		"files":     imported,
	}).Info("QC import finished")
	return nil
}

func (im *Importer) save(ctx context.Context, caseQCID int64, category, region string, res *Result) error {
	for i := range res.Metrics {
		res.Metrics[i].CaseQCID = caseQCID
		res.Metrics[i].Category = category
		res.Metrics[i].Region = region
	}
	if err := im.store.SaveQCMetrics(ctx, res.Metrics); err != nil {
		return fmt.Errorf("saving %s metrics: %w", category, err)
	}
	for i := range res.Histograms {
		hist := &res.Histograms[i]
		hist.CaseQCID = caseQCID
		hist.Region = region
		if hist.Category == "" {
			hist.Category = category
		} else {
			hist.Category = category + "/" + hist.Category
		}
		if err := im.store.SaveQCHistogram(ctx, hist); err != nil {
			return fmt.Errorf("saving %s histogram: %w", category, err)
		}
	}
	return nil
}

// input builds the samples a parser of the given scope sees for f.
// Per-individual parsers get the owning individual of the file; for a file
// attached to the pedigree that is the index individual of the case.
// Per-pedigree parsers get every individual.
func input(sc scope, f *domain.FileRecord, c *domain.Case, individuals []*domain.Individual) Input {
	sample := func(ind *domain.Individual) Sample {
		return Sample{Name: ind.Name, FileName: f.IdentifierMap.Lookup(ind.Name)}
	}

	if sc == perPedigree {
		in := Input{Samples: make([]Sample, 0, len(individuals))}
		for _, ind := range individuals {
			in.Samples = append(in.Samples, sample(ind))
		}
		return in
	}

	var owner *domain.Individual
	for _, ind := range individuals {
		if f.IndividualID != nil && ind.ID == *f.IndividualID {
			owner = ind
			break
		}
		if f.IndividualID == nil && ind.Name == c.IndexName {
			owner = ind
			break
		}
	}
	if owner == nil && len(individuals) > 0 {
		owner = individuals[0]
	}
	if owner == nil {
		return Input{}
	}
	return Input{Samples: []Sample{sample(owner)}}
}
