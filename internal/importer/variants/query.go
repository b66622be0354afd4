package variants

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/storage"
	"github.com/varfish-case-importer/internal/worker"
)

// QueryStore is the persistence the query executor needs
type QueryStore interface {
	GetCaseByID(ctx context.Context, id int64) (*domain.Case, error)
	ListCaseFiles(ctx context.Context, kind domain.FileKind, caseID int64) ([]*domain.FileRecord, error)
	SetSeqvarsQueryResultPath(ctx context.Context, id int64, path string) error
}

// QueryExecutor runs a stored sequence variant query against the imported
// calls of a case.
type QueryExecutor struct {
	store  QueryStore
	runner worker.Runner
	cfg    Config
	tmpFs  afero.Fs
	log    *logrus.Logger
}

// NewQueryExecutor creates a query executor
func NewQueryExecutor(store QueryStore, runner worker.Runner, cfg Config, logger *logrus.Logger) *QueryExecutor {
	return &QueryExecutor{
		store:  store,
		runner: runner,
		cfg:    cfg,
		tmpFs:  afero.NewOsFs(),
		log:    logger,
	}
}

// Run executes query and stores the path of the result table on it.
func (e *QueryExecutor) Run(ctx context.Context, job *jobs.Job, query *domain.SeqvarsQueryExecutionBackgroundJob) error {
	c, err := e.store.GetCaseByID(ctx, query.CaseID)
	if err != nil {
		return fmt.Errorf("loading case: %w", err)
	}

	input, err := e.queryInput(ctx, c)
	if err != nil {
		return err
	}

	settings := []byte(query.Settings)
	if len(settings) == 0 {
		settings = []byte("{}")
	}
	settingsPath, cleanup, err := writeTemp(e.tmpFs, e.cfg.TempDir, "varfish-query-*.json", settings)
	if err != nil {
		return err
	}
	defer cleanup()

	out := storage.InBucket(e.cfg.Bucket, storage.QueryResultsPath(c.UUID, job.UUID, "result.tsv"))
	args := []string{
		"seqvars", "query",
		"--genome-release", string(c.Release),
		"--path-query-json", settingsPath,
		"--path-input", input.Path,
		"--path-output", out,
	}
	job.Infof("Running seqvars query on %s", input.Path)
	if err := e.runner.Run(ctx, args, e.cfg.Env); err != nil {
		return fmt.Errorf("seqvars query: %w", err)
	}

	if err := e.store.SetSeqvarsQueryResultPath(ctx, query.ID, out); err != nil {
		return fmt.Errorf("storing result path: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"case_uuid": c.UUID,
		"job_uuid":  job.UUID,
		"result":    out,
	}).Info("Seqvars query finished")
	return nil
}

// queryInput picks the first prefiltered sequence variant file of the case,
// falling back to the ingested one.
func (e *QueryExecutor) queryInput(ctx context.Context, c *domain.Case) (*domain.FileRecord, error) {
	files, err := e.store.ListCaseFiles(ctx, domain.FileKindInternal, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing internal files: %w", err)
	}

	var ingested *domain.FileRecord
	for _, f := range files {
		switch f.Designation {
		case Designation(domain.VariantTypeSeqvars, RolePrefilteredVCF):
			return f, nil
		case Designation(domain.VariantTypeSeqvars, RoleIngestedVCF):
			if ingested == nil {
				ingested = f
			}
		}
	}
	if ingested == nil {
		return nil, fmt.Errorf("no ingested sequence variants for case %s: %w", c.Name, domain.ErrNotFound)
	}
	return ingested, nil
}
