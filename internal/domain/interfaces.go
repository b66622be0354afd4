package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProjectRepository reads projects and their storage settings
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProjectByID(ctx context.Context, id int64) (*Project, error)
	GetProjectByUUID(ctx context.Context, id uuid.UUID) (*Project, error)
	GetProjectStorage(ctx context.Context, projectID int64) (*ProjectStorage, error)
	SaveProjectStorage(ctx context.Context, storage *ProjectStorage) error
}

// CaseImportActionRepository persists import requests
type CaseImportActionRepository interface {
	CreateCaseImportAction(ctx context.Context, action *CaseImportAction) error
	GetCaseImportActionByID(ctx context.Context, id int64) (*CaseImportAction, error)
	GetCaseImportActionByUUID(ctx context.Context, id uuid.UUID) (*CaseImportAction, error)
	UpdateCaseImportAction(ctx context.Context, action *CaseImportAction) error
	SetCaseImportActionState(ctx context.Context, id int64, state CaseImportActionState) error
	DeleteCaseImportAction(ctx context.Context, id int64) error
}

// JobRepository persists background jobs and their logs
type JobRepository interface {
	CreateBackgroundJob(ctx context.Context, job *BackgroundJob) error
	GetBackgroundJobByID(ctx context.Context, id int64) (*BackgroundJob, error)
	GetBackgroundJobByUUID(ctx context.Context, id uuid.UUID) (*BackgroundJob, error)
	// ClaimBackgroundJob moves a job from initial to running. It returns false
	// if the job was not in the initial state.
	ClaimBackgroundJob(ctx context.Context, id int64, startTime time.Time) (bool, error)
	FinishBackgroundJob(ctx context.Context, id int64, state JobState, endTime time.Time, elapsedSeconds float64) error
	// FailStaleBackgroundJobs fails the running jobs started before the
	// cutoff and returns their IDs.
	FailStaleBackgroundJobs(ctx context.Context, startedBefore time.Time) ([]int64, error)
	SetBackgroundJobStage(ctx context.Context, id int64, stage JobStage) error
	RequestBackgroundJobCancel(ctx context.Context, id int64) error
	IsBackgroundJobCancelRequested(ctx context.Context, id int64) (bool, error)
	AddBackgroundJobLogEntry(ctx context.Context, entry *BackgroundJobLogEntry) error
	ListBackgroundJobLogEntries(ctx context.Context, jobID int64, afterID int64) ([]*BackgroundJobLogEntry, error)

	CreateCaseImportBackgroundJob(ctx context.Context, job *CaseImportBackgroundJob) error
	GetCaseImportBackgroundJobByID(ctx context.Context, id int64) (*CaseImportBackgroundJob, error)
	ListCaseImportBackgroundJobsByAction(ctx context.Context, actionID int64) ([]*CaseImportBackgroundJob, error)

	CreateSeqvarsQueryExecutionBackgroundJob(ctx context.Context, job *SeqvarsQueryExecutionBackgroundJob) error
	GetSeqvarsQueryExecutionBackgroundJobByID(ctx context.Context, id int64) (*SeqvarsQueryExecutionBackgroundJob, error)
	SetSeqvarsQueryResultPath(ctx context.Context, id int64, path string) error
}

// CaseRepository persists cases, pedigrees and individuals
type CaseRepository interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCaseByID(ctx context.Context, id int64) (*Case, error)
	GetCaseByUUID(ctx context.Context, id uuid.UUID) (*Case, error)
	GetCaseByName(ctx context.Context, projectID int64, name string) (*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	SetCaseState(ctx context.Context, id int64, state CaseState) error
	DeleteCase(ctx context.Context, id int64) error
	CountCases(ctx context.Context, projectID int64) (int, error)

	CreatePedigree(ctx context.Context, p *Pedigree) error
	GetPedigreeByCase(ctx context.Context, caseID int64) (*Pedigree, error)

	CreateIndividual(ctx context.Context, ind *Individual) error
	UpdateIndividual(ctx context.Context, ind *Individual) error
	DeleteIndividual(ctx context.Context, id int64) error
	ListIndividuals(ctx context.Context, pedigreeID int64) ([]*Individual, error)

	// AddTerms inserts terms, leaving existing terms with the same term ID alone.
	AddTerms(ctx context.Context, kind TermKind, individualID int64, terms []Term) error
	DeleteTerms(ctx context.Context, kind TermKind, individualID int64) error
	ListTerms(ctx context.Context, kind TermKind, individualID int64) ([]Term, error)
}

// FileRepository persists external and internal file references
type FileRepository interface {
	// SaveFile inserts the file or overwrites the row with the same UUID.
	SaveFile(ctx context.Context, kind FileKind, file *FileRecord) error
	ListCaseFiles(ctx context.Context, kind FileKind, caseID int64) ([]*FileRecord, error)
	DeleteCaseFiles(ctx context.Context, kind FileKind, caseID int64) error
}

// QCRepository persists case QC records
type QCRepository interface {
	GetOrCreateCaseQC(ctx context.Context, caseID int64) (*CaseQC, error)
	SetCaseQCState(ctx context.Context, id int64, state CaseQCState) error
	SaveQCMetrics(ctx context.Context, metrics []QCMetric) error
	SaveQCHistogram(ctx context.Context, hist *QCHistogram) error
	ListQCMetrics(ctx context.Context, caseQCID int64) ([]QCMetric, error)
	ListQCHistograms(ctx context.Context, caseQCID int64) ([]QCHistogram, error)
}

// KitRepository reads the enrichment kit catalog
type KitRepository interface {
	SaveEnrichmentKit(ctx context.Context, kit *EnrichmentKit) error
	SaveTargetBedFile(ctx context.Context, bed *TargetBedFile) error
	FindTargetBedFile(ctx context.Context, fileURI string) (*TargetBedFile, error)
}

// Repository is the persistence interface of the import pipeline
type Repository interface {
	ProjectRepository
	CaseImportActionRepository
	JobRepository
	CaseRepository
	FileRepository
	QCRepository
	KitRepository

	// InTx runs fn in a database transaction. Nested calls reuse the
	// surrounding transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
}

// TaskQueue delivers task invocations to workers at least once
type TaskQueue interface {
	Enqueue(ctx context.Context, task string, pk int64) error
}
