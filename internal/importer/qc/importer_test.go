package qc

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/repository"
	"github.com/varfish-case-importer/internal/storage"
	"github.com/varfish-case-importer/internal/testutil"
)

type fixture struct {
	store       *repository.Store
	project     *domain.Project
	c           *domain.Case
	pedigree    *domain.Pedigree
	individuals map[string]*domain.Individual
	fs          afero.Fs
	importer    *Importer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testutil.Logger()
	store := repository.New(testutil.OpenSQLite(t), logger)

	project := &domain.Project{Title: "Heart of Gold"}
	require.NoError(t, store.CreateProject(ctx, project))
	c := &domain.Case{ProjectID: project.ID, Name: "FAM_Zaphod", Release: domain.ReleaseGRCh38,
		State: domain.CaseStateImporting, IndexName: "Zaphod"}
	require.NoError(t, store.CreateCase(ctx, c))
	pedigree := &domain.Pedigree{CaseID: c.ID}
	require.NoError(t, store.CreatePedigree(ctx, pedigree))

	individuals := map[string]*domain.Individual{}
	for _, name := range []string{"Heinrich", "Zaphod"} {
		ind := &domain.Individual{PedigreeID: pedigree.ID, Name: name, Sex: domain.SexMale, Affected: domain.AffectedUnaffected}
		require.NoError(t, store.CreateIndividual(ctx, ind))
		individuals[name] = ind
	}

	fs := afero.NewMemMapFs()
	external, err := storage.New(storage.Options{Protocol: storage.ProtocolFile, AllowLocal: true, Fs: fs}, logger)
	require.NoError(t, err)

	return &fixture{
		store:       store,
		project:     project,
		c:           c,
		pedigree:    pedigree,
		individuals: individuals,
		fs:          fs,
		importer:    NewImporter(store, external, logger),
	}
}

// addFile writes content and attaches it to the pedigree, or to the named
// individual if owner is not empty.
func (f *fixture) addFile(t *testing.T, owner, path, mimeType, content string, attrs domain.Attributes) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte(content), 0o644))
	record := &domain.FileRecord{
		Path:           path,
		Designation:    domain.DesignationQualityControl,
		GenomeBuild:    "grch38",
		MimeType:       mimeType,
		FileAttributes: attrs,
		IdentifierMap:  domain.IdentifierMap{"Zaphod": "Z-01", "Heinrich": "H-02"},
	}
	if owner == "" {
		record.PedigreeID = &f.pedigree.ID
	} else {
		record.IndividualID = &f.individuals[owner].ID
	}
	require.NoError(t, f.store.SaveFile(context.Background(), domain.FileKindExternal, record))
}

func (f *fixture) run(t *testing.T) jobs.Outcome {
	t.Helper()
	ctx := context.Background()
	record := &domain.BackgroundJob{ProjectID: f.project.ID, JobType: domain.JobTypeCaseImport}
	require.NoError(t, f.store.CreateBackgroundJob(ctx, record))
	outcome, err := jobs.NewHarness(f.store, testutil.Logger()).Run(ctx, record.ID, func(ctx context.Context, job *jobs.Job) error {
		return f.importer.Run(ctx, job, f.c)
	})
	require.NoError(t, err)
	return outcome
}

func TestImporter_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFile(t, "Heinrich", "/qc/heinrich.mapping_metrics.csv", "text/csv+x-dragen-mapping-metrics",
		"MAPPING/ALIGNING SUMMARY,,Total input reads,800000,100.00\n", nil)
	f.addFile(t, "", "/qc/zaphod.target_bed_coverage_metrics.csv", "text/csv+x-dragen-region-coverage-metrics",
		"COVERAGE SUMMARY,,Aligned bases in target region,1000,50.00\n", domain.Attributes{"region": "exome"})
	f.addFile(t, "", "/qc/family.bcftools-stats.txt", "text/plain+x-bcftools-stats",
		"PSC\t0\tZ-01\t100\t20\t30\t1\t1\t1\t30.5\t0\t0\t0\t0\nPSC\t0\tH-02\t110\t21\t31\t1\t1\t1\t31.5\t0\t0\t0\t0\n", nil)
	f.addFile(t, "", "/qc/unknown.json", "application/json+x-future-report", "{not parsed", nil)
	f.addFile(t, "", "/qc/no-detailed-type.txt", "text/plain", "ignored", nil)

	outcome := f.run(t)
	require.NoError(t, outcome.Err)
	assert.Equal(t, domain.JobStateDone, outcome.State)

	caseQC, err := f.store.GetOrCreateCaseQC(ctx, f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseQCStateActive, caseQC.State)

	metrics, err := f.store.ListQCMetrics(ctx, caseQC.ID)
	require.NoError(t, err)

	type key struct{ category, sample, region, name string }
	got := map[key]float64{}
	for _, m := range metrics {
		if m.Value != nil {
			got[key{m.Category, m.Sample, m.Region, m.Name}] = *m.Value
		}
	}
	assert.Equal(t, 800000.0, got[key{"dragen-mapping-metrics", "Heinrich", "", "Total input reads"}])
	assert.Equal(t, 1000.0, got[key{"dragen-region-coverage-metrics", "Zaphod", "exome", "Aligned bases in target region"}])
	assert.Equal(t, 30.5, got[key{"bcftools-stats", "Zaphod", "", "average depth"}])
	assert.Equal(t, 31.5, got[key{"bcftools-stats", "Heinrich", "", "average depth"}])
}

func TestImporter_RunTwiceOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFile(t, "Zaphod", "/qc/zaphod.wgs_fine_hist.csv", "text/csv+x-dragen-wgs-fine-hist",
		"Depth,Overall\n0,10\n1,20\n", nil)

	require.NoError(t, f.run(t).Err)
	require.NoError(t, f.run(t).Err)

	caseQC, err := f.store.GetOrCreateCaseQC(ctx, f.c.ID)
	require.NoError(t, err)
	hists, err := f.store.ListQCHistograms(ctx, caseQC.ID)
	require.NoError(t, err)
	require.Len(t, hists, 1)
	assert.Equal(t, "dragen-wgs-fine-hist", hists[0].Category)
	assert.Equal(t, "Zaphod", hists[0].Sample)
	assert.Equal(t, domain.FloatList{10, 20}, hists[0].Values)
}

func TestImporter_NoQCFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.run(t).Err)

	caseQC, err := f.store.GetOrCreateCaseQC(ctx, f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseQCStateActive, caseQC.State)
}

func TestImporter_ParseErrorFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFile(t, "Zaphod", "/qc/zaphod.idxstats.txt", "text/plain+x-samtools-idxstats", "chr1\t1\n", nil)

	outcome := f.run(t)
	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.ErrorContains(t, outcome.Err, "x-samtools-idxstats")

	caseQC, err := f.store.GetOrCreateCaseQC(ctx, f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseQCStateDraft, caseQC.State)
}

func TestImporter_MissingFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveFile(context.Background(), domain.FileKindExternal, &domain.FileRecord{
		PedigreeID:  &f.pedigree.ID,
		Path:        "/qc/missing.txt",
		Designation: domain.DesignationQualityControl,
		MimeType:    "text/plain+x-cramino",
	}))

	outcome := f.run(t)
	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, domain.ErrNotFound)
}

func TestInput(t *testing.T) {
	c := &domain.Case{IndexName: "Zaphod"}
	individuals := []*domain.Individual{{ID: 1, Name: "Heinrich"}, {ID: 2, Name: "Zaphod"}}
	ids := domain.IdentifierMap{"Zaphod": "Z-01"}

	in := input(perIndividual, &domain.FileRecord{IndividualID: &individuals[0].ID, IdentifierMap: ids}, c, individuals)
	assert.Equal(t, []Sample{{Name: "Heinrich", FileName: "Heinrich"}}, in.Samples)

	in = input(perIndividual, &domain.FileRecord{IdentifierMap: ids}, c, individuals)
	assert.Equal(t, []Sample{{Name: "Zaphod", FileName: "Z-01"}}, in.Samples)

	in = input(perPedigree, &domain.FileRecord{IdentifierMap: ids}, c, individuals)
	assert.Equal(t, []Sample{{Name: "Heinrich", FileName: "Heinrich"}, {Name: "Zaphod", FileName: "Z-01"}}, in.Samples)
}
