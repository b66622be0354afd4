package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/testutil"
)

func setupStore(t *testing.T) (*Store, *domain.Project) {
	t.Helper()
	store := New(testutil.OpenSQLite(t), testutil.Logger())
	project := &domain.Project{Title: "Heart of Gold"}
	require.NoError(t, store.CreateProject(context.Background(), project))
	return store, project
}

func createCase(t *testing.T, store *Store, projectID int64, name string) (*domain.Case, *domain.Pedigree) {
	t.Helper()
	ctx := context.Background()
	c := &domain.Case{
		ProjectID: projectID,
		Name:      name,
		Release:   domain.ReleaseGRCh37,
		State:     domain.CaseStateImporting,
		IndexName: name,
		PedigreeSummary: domain.PedigreeSummary{
			{Patient: name, Father: "0", Mother: "0", Sex: 1, Affected: 2},
		},
	}
	require.NoError(t, store.CreateCase(ctx, c))
	p := &domain.Pedigree{CaseID: c.ID}
	require.NoError(t, store.CreatePedigree(ctx, p))
	return c, p
}

func TestProjects(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)

	got, err := store.GetProjectByUUID(ctx, project.UUID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, got.ID)
	assert.Equal(t, "Heart of Gold", got.Title)

	_, err = store.GetProjectStorage(ctx, project.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	settings := &domain.ProjectStorage{ProjectID: project.ID, Protocol: "s3", Host: "minio", Port: 9000, UseHTTPS: false}
	require.NoError(t, store.SaveProjectStorage(ctx, settings))
	settings.Prefix = "incoming"
	require.NoError(t, store.SaveProjectStorage(ctx, settings))

	stored, err := store.GetProjectStorage(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, *settings, *stored)

	_, err = store.GetProjectByID(ctx, 4242)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCaseImportActions(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)

	action := &domain.CaseImportAction{
		ProjectID: project.ID,
		Action:    domain.ActionCreate,
		Payload:   domain.JSONText(`{"id": "FAM_Zaphod"}`),
	}
	require.NoError(t, store.CreateCaseImportAction(ctx, action))
	assert.Equal(t, domain.ActionStateDraft, action.State)

	action.OverwriteTerms = true
	action.Action = domain.ActionUpdate
	require.NoError(t, store.UpdateCaseImportAction(ctx, action))
	require.NoError(t, store.SetCaseImportActionState(ctx, action.ID, domain.ActionStateSubmitted))

	got, err := store.GetCaseImportActionByUUID(ctx, action.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUpdate, got.Action)
	assert.Equal(t, domain.ActionStateSubmitted, got.State)
	assert.True(t, got.OverwriteTerms)
	assert.JSONEq(t, `{"id": "FAM_Zaphod"}`, string(got.Payload))

	require.NoError(t, store.DeleteCaseImportAction(ctx, action.ID))
	_, err = store.GetCaseImportActionByID(ctx, action.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.SetCaseImportActionState(ctx, action.ID, domain.ActionStateFailed), domain.ErrNotFound)
}

func TestBackgroundJobs(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)

	job := &domain.BackgroundJob{ProjectID: project.ID, JobType: domain.JobTypeCaseImport, Name: "import"}
	require.NoError(t, store.CreateBackgroundJob(ctx, job))
	assert.Equal(t, domain.JobStateInitial, job.State)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	claimed, err := store.ClaimBackgroundJob(ctx, job.ID, start)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimBackgroundJob(ctx, job.ID, start)
	require.NoError(t, err)
	assert.False(t, claimed, "a running job cannot be claimed twice")

	require.NoError(t, store.SetBackgroundJobStage(ctx, job.ID, domain.StagePedigreeCommitted))
	require.NoError(t, store.RequestBackgroundJobCancel(ctx, job.ID))
	requested, err := store.IsBackgroundJobCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, store.FinishBackgroundJob(ctx, job.ID, domain.JobStateFailed, start.Add(90*time.Second), 90))

	got, err := store.GetBackgroundJobByUUID(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, domain.StagePedigreeCommitted, got.Stage)
	require.NotNil(t, got.StartTime)
	require.NotNil(t, got.EndTime)
	require.NotNil(t, got.ElapsedSeconds)
	assert.True(t, start.Equal(*got.StartTime))
	assert.Equal(t, 90.0, *got.ElapsedSeconds)

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, store.AddBackgroundJobLogEntry(ctx, &domain.BackgroundJobLogEntry{
			JobID: job.ID, Level: domain.LogLevelInfo, Message: msg,
		}))
	}
	entries, err := store.ListBackgroundJobLogEntries(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "one", entries[0].Message)

	tail, err := store.ListBackgroundJobLogEntries(ctx, job.ID, entries[0].ID)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[0].Message)
}

func TestFailStaleBackgroundJobs(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)
	now := time.Now().UTC()

	newJob := func(start *time.Time) (*domain.BackgroundJob, *domain.CaseImportAction) {
		action := &domain.CaseImportAction{ProjectID: project.ID, Action: domain.ActionCreate,
			State: domain.ActionStateRunning, Payload: domain.JSONText(`{}`)}
		require.NoError(t, store.CreateCaseImportAction(ctx, action))
		job := &domain.BackgroundJob{ProjectID: project.ID, JobType: domain.JobTypeCaseImport, Name: "import"}
		require.NoError(t, store.CreateBackgroundJob(ctx, job))
		require.NoError(t, store.CreateCaseImportBackgroundJob(ctx, &domain.CaseImportBackgroundJob{
			ProjectID: project.ID, BackgroundJobID: job.ID, CaseImportActionID: action.ID,
		}))
		if start != nil {
			claimed, err := store.ClaimBackgroundJob(ctx, job.ID, *start)
			require.NoError(t, err)
			require.True(t, claimed)
		}
		return job, action
	}
	longAgo := now.Add(-13 * time.Hour)
	recently := now.Add(-time.Minute)
	stale, staleAction := newJob(&longAgo)
	live, liveAction := newJob(&recently)
	waiting, _ := newJob(nil)

	ids, err := store.FailStaleBackgroundJobs(ctx, now.Add(-12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{stale.ID}, ids)

	got, err := store.GetBackgroundJobByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	require.NotNil(t, got.EndTime)
	require.NotNil(t, got.ElapsedSeconds)
	assert.Greater(t, *got.ElapsedSeconds, float64(12*60*60))
	entries, err := store.ListBackgroundJobLogEntries(ctx, stale.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogLevelError, entries[0].Level)

	action, err := store.GetCaseImportActionByID(ctx, staleAction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateFailed, action.State)

	got, err = store.GetBackgroundJobByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, got.State)
	action, err = store.GetCaseImportActionByID(ctx, liveAction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateRunning, action.State)
	got, err = store.GetBackgroundJobByID(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateInitial, got.State)

	ids, err = store.FailStaleBackgroundJobs(ctx, now.Add(-12*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTypedJobs(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)
	c, _ := createCase(t, store, project.ID, "Zaphod")

	action := &domain.CaseImportAction{ProjectID: project.ID, Action: domain.ActionCreate, Payload: domain.JSONText(`{}`)}
	require.NoError(t, store.CreateCaseImportAction(ctx, action))

	for i := 0; i < 2; i++ {
		bg := &domain.BackgroundJob{ProjectID: project.ID, JobType: domain.JobTypeCaseImport}
		require.NoError(t, store.CreateBackgroundJob(ctx, bg))
		require.NoError(t, store.CreateCaseImportBackgroundJob(ctx, &domain.CaseImportBackgroundJob{
			ProjectID: project.ID, BackgroundJobID: bg.ID, CaseImportActionID: action.ID,
		}))
	}
	jobs, err := store.ListCaseImportBackgroundJobsByAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	bg := &domain.BackgroundJob{ProjectID: project.ID, JobType: domain.JobTypeSeqvarsQueryExecution}
	require.NoError(t, store.CreateBackgroundJob(ctx, bg))
	query := &domain.SeqvarsQueryExecutionBackgroundJob{ProjectID: project.ID, BackgroundJobID: bg.ID, CaseID: c.ID}
	require.NoError(t, store.CreateSeqvarsQueryExecutionBackgroundJob(ctx, query))
	require.NoError(t, store.SetSeqvarsQueryResultPath(ctx, query.ID, "varfish-server/query-results/x"))

	got, err := store.GetSeqvarsQueryExecutionBackgroundJobByID(ctx, query.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResultPath)
	assert.Equal(t, "varfish-server/query-results/x", *got.ResultPath)
	assert.JSONEq(t, `{}`, string(got.Settings))
}

func TestCaseTree(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)
	c, pedigree := createCase(t, store, project.ID, "Zaphod")

	dup := &domain.Case{ProjectID: project.ID, Name: "Zaphod", Release: domain.ReleaseGRCh37, State: domain.CaseStateImporting}
	assert.ErrorIs(t, store.CreateCase(ctx, dup), domain.ErrAlreadyExists)

	got, err := store.GetCaseByName(ctx, project.ID, "Zaphod")
	require.NoError(t, err)
	assert.Equal(t, c.UUID, got.UUID)
	assert.Equal(t, c.PedigreeSummary, got.PedigreeSummary)

	_, err = store.GetCaseByName(ctx, project.ID, "Arthur")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ind := &domain.Individual{
		PedigreeID: pedigree.ID, Name: "Zaphod", Sex: domain.SexMale, KaryotypicSex: domain.KaryotypeXY,
		Affected: domain.AffectedAffected, AssayType: domain.AssayExome,
	}
	require.NoError(t, store.CreateIndividual(ctx, ind))

	require.NoError(t, store.AddTerms(ctx, domain.TermPhenotypicFeature, ind.ID, []domain.Term{
		{TermID: "HP:0000001", Label: "Hoopy"},
	}))
	// An existing term keeps its curated label.
	require.NoError(t, store.AddTerms(ctx, domain.TermPhenotypicFeature, ind.ID, []domain.Term{
		{TermID: "HP:0000001", Label: "Froody"},
		{TermID: "HP:0000002", Label: "Towel"},
	}))
	terms, err := store.ListTerms(ctx, domain.TermPhenotypicFeature, ind.ID)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "Hoopy", terms[0].Label)

	require.NoError(t, store.DeleteTerms(ctx, domain.TermPhenotypicFeature, ind.ID))
	terms, err = store.ListTerms(ctx, domain.TermPhenotypicFeature, ind.ID)
	require.NoError(t, err)
	assert.Empty(t, terms)

	ind.AssayType = domain.AssayGenome
	require.NoError(t, store.UpdateIndividual(ctx, ind))
	individuals, err := store.ListIndividuals(ctx, pedigree.ID)
	require.NoError(t, err)
	require.Len(t, individuals, 1)
	assert.Equal(t, domain.AssayGenome, individuals[0].AssayType)
	assert.Nil(t, individuals[0].EnrichmentKitID)

	require.NoError(t, store.SetCaseState(ctx, c.ID, domain.CaseStateActive))
	n, err := store.CountCases(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.DeleteCase(ctx, c.ID))
	individuals, err = store.ListIndividuals(ctx, pedigree.ID)
	require.NoError(t, err)
	assert.Empty(t, individuals)
	_, err = store.GetPedigreeByCase(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)
	c, pedigree := createCase(t, store, project.ID, "Zaphod")
	other, otherPedigree := createCase(t, store, project.ID, "Arthur")

	ind := &domain.Individual{PedigreeID: pedigree.ID, Name: "Zaphod", Sex: domain.SexMale,
		KaryotypicSex: domain.KaryotypeXY, Affected: domain.AffectedAffected, AssayType: domain.AssayExome}
	require.NoError(t, store.CreateIndividual(ctx, ind))

	vcf := &domain.FileRecord{
		PedigreeID:     &pedigree.ID,
		Path:           "s3://data/family.vcf.gz",
		Designation:    domain.DesignationVariantCalls,
		MimeType:       domain.MimeTypeVCFBgzip,
		FileAttributes: domain.Attributes{"variant_type": "seqvars"},
		IdentifierMap:  domain.IdentifierMap{"Zaphod": "ZB-N1-DNA1"},
	}
	require.NoError(t, store.SaveFile(ctx, domain.FileKindExternal, vcf))
	bam := &domain.FileRecord{IndividualID: &ind.ID, Path: "s3://data/zaphod.bam", Designation: "read_alignments"}
	require.NoError(t, store.SaveFile(ctx, domain.FileKindExternal, bam))
	require.NoError(t, store.SaveFile(ctx, domain.FileKindExternal, &domain.FileRecord{
		PedigreeID: &otherPedigree.ID, Path: "s3://data/arthur.vcf.gz", Designation: domain.DesignationVariantCalls,
	}))

	// Saving with the same UUID overwrites.
	vcf.Path = "s3://data/family-v2.vcf.gz"
	firstID := vcf.ID
	require.NoError(t, store.SaveFile(ctx, domain.FileKindExternal, vcf))
	assert.Equal(t, firstID, vcf.ID)

	files, err := store.ListCaseFiles(ctx, domain.FileKindExternal, c.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "s3://data/family-v2.vcf.gz", files[0].Path)
	assert.Equal(t, "seqvars", files[0].FileAttributes.String("variant_type"))
	assert.Equal(t, "ZB-N1-DNA1", files[0].IdentifierMap.Lookup("Zaphod"))
	assert.Nil(t, files[0].Checksum)
	assert.Equal(t, "s3://data/zaphod.bam", files[1].Path)

	internal, err := store.ListCaseFiles(ctx, domain.FileKindInternal, c.ID)
	require.NoError(t, err)
	assert.Empty(t, internal)

	require.NoError(t, store.DeleteCaseFiles(ctx, domain.FileKindExternal, c.ID))
	files, err = store.ListCaseFiles(ctx, domain.FileKindExternal, c.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = store.ListCaseFiles(ctx, domain.FileKindExternal, other.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1, "files of other cases are untouched")
}

func TestQC(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)
	c, _ := createCase(t, store, project.ID, "Zaphod")

	qc, err := store.GetOrCreateCaseQC(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseQCStateDraft, qc.State)

	again, err := store.GetOrCreateCaseQC(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, qc.ID, again.ID)

	value := 42.0
	metric := domain.QCMetric{CaseQCID: qc.ID, Category: "flagstat", Sample: "Zaphod", Name: "mapped", Value: &value}
	require.NoError(t, store.SaveQCMetrics(ctx, []domain.QCMetric{metric}))
	value2 := 43.0
	metric.Value = &value2
	require.NoError(t, store.SaveQCMetrics(ctx, []domain.QCMetric{metric}))

	metrics, err := store.ListQCMetrics(ctx, qc.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 43.0, *metrics[0].Value)
	assert.Nil(t, metrics[0].Percent)

	hist := &domain.QCHistogram{CaseQCID: qc.ID, Category: "wgs_coverage", Sample: "Zaphod",
		Keys: domain.StringList{"0", "1"}, Values: domain.FloatList{10, 20}}
	require.NoError(t, store.SaveQCHistogram(ctx, hist))
	require.NoError(t, store.SaveQCHistogram(ctx, hist))
	hists, err := store.ListQCHistograms(ctx, qc.ID)
	require.NoError(t, err)
	require.Len(t, hists, 1)
	assert.Equal(t, domain.FloatList{10, 20}, hists[0].Values)

	require.NoError(t, store.SetCaseQCState(ctx, qc.ID, domain.CaseQCStateActive))
	qc, err = store.GetOrCreateCaseQC(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseQCStateActive, qc.State)
}

func TestKits(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	kit := &domain.EnrichmentKit{Identifier: "agilent-v6", Title: "Agilent SureSelect v6"}
	require.NoError(t, store.SaveEnrichmentKit(ctx, kit))
	again := &domain.EnrichmentKit{Identifier: "agilent-v6", Title: "Agilent SureSelect Human All Exon v6"}
	require.NoError(t, store.SaveEnrichmentKit(ctx, again))
	assert.Equal(t, kit.ID, again.ID)
	assert.Equal(t, kit.UUID, again.UUID)

	bed := &domain.TargetBedFile{EnrichmentKitID: kit.ID, FileURI: "s3://static/targets/agilent-v6.bed.gz", GenomeRelease: domain.ReleaseGRCh37}
	require.NoError(t, store.SaveTargetBedFile(ctx, bed))

	got, err := store.FindTargetBedFile(ctx, bed.FileURI)
	require.NoError(t, err)
	assert.Equal(t, kit.ID, got.EnrichmentKitID)

	_, err = store.FindTargetBedFile(ctx, "s3://static/targets/unknown.bed.gz")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInTx(t *testing.T) {
	ctx := context.Background()
	store, project := setupStore(t)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(r domain.Repository) error {
		c := &domain.Case{ProjectID: project.ID, Name: "Zaphod", Release: domain.ReleaseGRCh37, State: domain.CaseStateImporting}
		if err := r.CreateCase(ctx, c); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		return r.InTx(ctx, func(inner domain.Repository) error {
			if err := inner.CreatePedigree(ctx, &domain.Pedigree{CaseID: c.ID}); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.CountCases(ctx, project.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back case must not be visible")

	var caseUUID uuid.UUID
	require.NoError(t, store.InTx(ctx, func(r domain.Repository) error {
		c := &domain.Case{ProjectID: project.ID, Name: "Zaphod", Release: domain.ReleaseGRCh37, State: domain.CaseStateImporting}
		if err := r.CreateCase(ctx, c); err != nil {
			return err
		}
		caseUUID = c.UUID
		return nil
	}))
	_, err = store.GetCaseByUUID(ctx, caseUUID)
	assert.NoError(t, err)
}
