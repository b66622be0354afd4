package variants

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/storage"
	"github.com/varfish-case-importer/internal/testutil"
	"github.com/varfish-case-importer/internal/worker"
)

func (f *fixture) addInternal(t *testing.T, path, designation string) {
	t.Helper()
	require.NoError(t, f.store.SaveFile(context.Background(), domain.FileKindInternal, &domain.FileRecord{
		PedigreeID:  &f.pedigree.ID,
		Path:        path,
		Designation: designation,
		GenomeBuild: "grch37",
		MimeType:    domain.MimeTypeVCFBgzip,
	}))
}

func (f *fixture) runQuery(t *testing.T, runner worker.Runner) (jobs.Outcome, *domain.SeqvarsQueryExecutionBackgroundJob, *domain.BackgroundJob) {
	t.Helper()
	ctx := context.Background()
	record := &domain.BackgroundJob{ProjectID: f.project.ID, JobType: domain.JobTypeSeqvarsQueryExecution}
	require.NoError(t, f.store.CreateBackgroundJob(ctx, record))
	query := &domain.SeqvarsQueryExecutionBackgroundJob{
		ProjectID:       f.project.ID,
		BackgroundJobID: record.ID,
		CaseID:          f.c.ID,
		Settings:        domain.JSONText(`{"genotype": {"Zaphod": "variant"}}`),
	}
	require.NoError(t, f.store.CreateSeqvarsQueryExecutionBackgroundJob(ctx, query))

	executor := NewQueryExecutor(f.store, runner, f.cfg, testutil.Logger())
	outcome, err := jobs.NewHarness(f.store, testutil.Logger()).Run(ctx, record.ID, func(ctx context.Context, job *jobs.Job) error {
		return executor.Run(ctx, job, query)
	})
	require.NoError(t, err)
	return outcome, query, record
}

func TestQueryExecutor_PrefersPrefiltered(t *testing.T) {
	f := newFixture(t)
	f.addInternal(t, "varfish-server/ingested.vcf.gz", Designation(domain.VariantTypeSeqvars, RoleIngestedVCF))
	f.addInternal(t, "varfish-server/prefiltered-0.vcf.gz", Designation(domain.VariantTypeSeqvars, RolePrefilteredVCF))
	f.addInternal(t, "varfish-server/prefiltered-1.vcf.gz", Designation(domain.VariantTypeSeqvars, RolePrefilteredVCF))

	var (
		args     []string
		settings map[string]any
	)
	runner := worker.RunnerFunc(func(_ context.Context, a []string, _ map[string]string) error {
		args = a
		data, err := os.ReadFile(a[5])
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &settings)
	})

	outcome, query, record := f.runQuery(t, runner)
	require.NoError(t, outcome.Err)

	out := storage.InBucket("varfish-server", storage.QueryResultsPath(f.c.UUID, record.UUID, "result.tsv"))
	assert.Equal(t, []string{
		"seqvars", "query",
		"--genome-release", "grch37",
		"--path-query-json", args[5],
		"--path-input", "varfish-server/prefiltered-0.vcf.gz",
		"--path-output", out,
	}, args)
	assert.Equal(t, map[string]any{"genotype": map[string]any{"Zaphod": "variant"}}, settings)

	got, err := f.store.GetSeqvarsQueryExecutionBackgroundJobByID(context.Background(), query.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResultPath)
	assert.Equal(t, out, *got.ResultPath)
}

func TestQueryExecutor_FallsBackToIngested(t *testing.T) {
	f := newFixture(t)
	f.addInternal(t, "varfish-server/ingested.vcf.gz", Designation(domain.VariantTypeSeqvars, RoleIngestedVCF))

	var input string
	runner := worker.RunnerFunc(func(_ context.Context, a []string, _ map[string]string) error {
		input = a[7]
		return nil
	})
	outcome, _, _ := f.runQuery(t, runner)
	require.NoError(t, outcome.Err)
	assert.Equal(t, "varfish-server/ingested.vcf.gz", input)
}

func TestQueryExecutor_NoInput(t *testing.T) {
	f := newFixture(t)
	f.addInternal(t, "varfish-server/sv.vcf.gz", Designation(domain.VariantTypeStrucvars, RoleIngestedVCF))

	called := false
	runner := worker.RunnerFunc(func(context.Context, []string, map[string]string) error {
		called = true
		return nil
	})
	outcome, query, _ := f.runQuery(t, runner)
	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, domain.ErrNotFound)
	assert.False(t, called)

	got, err := f.store.GetSeqvarsQueryExecutionBackgroundJobByID(context.Background(), query.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ResultPath)
}
