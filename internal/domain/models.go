package domain

import (
	"time"

	"github.com/google/uuid"
)

// Project owns cases and import actions.
type Project struct {
	ID        int64     `db:"id" json:"-"`
	UUID      uuid.UUID `db:"uuid" json:"uuid"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProjectStorage holds the external storage settings of a project.
type ProjectStorage struct {
	ProjectID int64  `db:"project_id" json:"-"`
	Protocol  string `db:"protocol" json:"protocol"`
	Host      string `db:"host" json:"host"`
	Port      int    `db:"port" json:"port"`
	Username  string `db:"username" json:"username"`
	Password  string `db:"password" json:"-"`
	UseHTTPS  bool   `db:"use_https" json:"use_https"`
	Prefix    string `db:"prefix" json:"prefix"`
}

// CaseImportAction is a persisted request to create, update or delete a case.
type CaseImportAction struct {
	ID             int64                 `db:"id" json:"-"`
	UUID           uuid.UUID             `db:"uuid" json:"uuid"`
	ProjectID      int64                 `db:"project_id" json:"-"`
	Action         CaseImportActionType  `db:"action" json:"action"`
	State          CaseImportActionState `db:"state" json:"state"`
	Payload        JSONText              `db:"payload" json:"payload"`
	OverwriteTerms bool                  `db:"overwrite_terms" json:"overwrite_terms"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at" json:"updated_at"`
}

// CanModify reports whether action and payload may still be changed.
func (a *CaseImportAction) CanModify() bool {
	return a.State == ActionStateDraft
}

// BackgroundJob is the generic trackable unit of work.
type BackgroundJob struct {
	ID              int64      `db:"id" json:"-"`
	UUID            uuid.UUID  `db:"uuid" json:"uuid"`
	ProjectID       int64      `db:"project_id" json:"-"`
	JobType         JobType    `db:"job_type" json:"job_type"`
	Name            string     `db:"name" json:"name"`
	State           JobState   `db:"state" json:"state"`
	Stage           JobStage   `db:"stage" json:"stage"`
	CancelRequested bool       `db:"cancel_requested" json:"cancel_requested"`
	StartTime       *time.Time `db:"start_time" json:"start_time"`
	EndTime         *time.Time `db:"end_time" json:"end_time"`
	ElapsedSeconds  *float64   `db:"elapsed_seconds" json:"elapsed_seconds"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// BackgroundJobLogEntry is one timestamped message in a job's log.
type BackgroundJobLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	JobID     int64     `db:"background_job_id" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Level     LogLevel  `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
}

// CaseImportBackgroundJob ties one submission of a CaseImportAction to its job.
type CaseImportBackgroundJob struct {
	ID                 int64     `db:"id" json:"-"`
	UUID               uuid.UUID `db:"uuid" json:"uuid"`
	ProjectID          int64     `db:"project_id" json:"-"`
	BackgroundJobID    int64     `db:"background_job_id" json:"-"`
	CaseImportActionID int64     `db:"caseimportaction_id" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// SeqvarsQueryExecutionBackgroundJob runs one sequence variant query for a case.
type SeqvarsQueryExecutionBackgroundJob struct {
	ID              int64     `db:"id" json:"-"`
	UUID            uuid.UUID `db:"uuid" json:"uuid"`
	ProjectID       int64     `db:"project_id" json:"-"`
	BackgroundJobID int64     `db:"background_job_id" json:"-"`
	CaseID          int64     `db:"case_id" json:"-"`
	Settings        JSONText  `db:"settings" json:"settings"`
	ResultPath      *string   `db:"result_path" json:"result_path"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Case is one patient or family with its imported data.
type Case struct {
	ID              int64           `db:"id" json:"-"`
	UUID            uuid.UUID       `db:"uuid" json:"uuid"`
	ProjectID       int64           `db:"project_id" json:"-"`
	Name            string          `db:"name" json:"name"`
	Release         GenomeRelease   `db:"genome_release" json:"release"`
	State           CaseState       `db:"state" json:"state"`
	IndexName       string          `db:"index_name" json:"index"`
	PedigreeSummary PedigreeSummary `db:"pedigree_summary" json:"pedigree"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Pedigree is the family structure of a case.
type Pedigree struct {
	ID     int64     `db:"id" json:"-"`
	UUID   uuid.UUID `db:"uuid" json:"uuid"`
	CaseID int64     `db:"case_id" json:"-"`
}

// Individual is one member of a pedigree.
type Individual struct {
	ID              int64          `db:"id" json:"-"`
	UUID            uuid.UUID      `db:"uuid" json:"uuid"`
	PedigreeID      int64          `db:"pedigree_id" json:"-"`
	Name            string         `db:"name" json:"name"`
	Father          string         `db:"father" json:"father"`
	Mother          string         `db:"mother" json:"mother"`
	Sex             Sex            `db:"sex" json:"sex"`
	KaryotypicSex   KaryotypicSex  `db:"karyotypic_sex" json:"karyotypic_sex"`
	Affected        AffectedStatus `db:"affected" json:"affected"`
	AssayType       AssayType      `db:"assay_type" json:"assay_type"`
	EnrichmentKitID *int64         `db:"enrichment_kit_id" json:"-"`

	Diseases           []Term `db:"-" json:"diseases,omitempty"`
	PhenotypicFeatures []Term `db:"-" json:"phenotypic_features,omitempty"`
}

// TermKind selects the term table of an individual.
type TermKind string

const (
	TermDisease           TermKind = "disease"
	TermPhenotypicFeature TermKind = "phenotypic_feature"
)

// Term is a disease or phenotypic feature annotation of an individual.
type Term struct {
	ID           int64  `db:"id" json:"-"`
	IndividualID int64  `db:"individual_id" json:"-"`
	TermID       string `db:"term_id" json:"term_id"`
	Label        string `db:"label" json:"label"`
	Excluded     bool   `db:"excluded" json:"excluded"`
}

// FileRecord is an external or internal file reference. Exactly one of
// PedigreeID and IndividualID is set.
type FileRecord struct {
	ID             int64         `db:"id" json:"-"`
	UUID           uuid.UUID     `db:"uuid" json:"uuid"`
	PedigreeID     *int64        `db:"pedigree_id" json:"-"`
	IndividualID   *int64        `db:"individual_id" json:"-"`
	Path           string        `db:"path" json:"path"`
	Checksum       *string       `db:"checksum" json:"checksum"`
	Designation    string        `db:"designation" json:"designation"`
	GenomeBuild    string        `db:"genomebuild" json:"genomebuild"`
	MimeType       string        `db:"mimetype" json:"mimetype"`
	FileAttributes Attributes    `db:"file_attributes" json:"file_attributes"`
	IdentifierMap  IdentifierMap `db:"identifier_map" json:"identifier_map"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// EnrichmentKit is a catalog entry for a capture kit.
type EnrichmentKit struct {
	ID         int64     `db:"id" json:"-"`
	UUID       uuid.UUID `db:"uuid" json:"uuid"`
	Identifier string    `db:"identifier" json:"identifier"`
	Title      string    `db:"title" json:"title"`
}

// TargetBedFile is a known target region file of an enrichment kit.
type TargetBedFile struct {
	ID              int64         `db:"id" json:"-"`
	UUID            uuid.UUID     `db:"uuid" json:"uuid"`
	EnrichmentKitID int64         `db:"enrichment_kit_id" json:"-"`
	FileURI         string        `db:"file_uri" json:"file_uri"`
	GenomeRelease   GenomeRelease `db:"genome_release" json:"genome_release"`
}

// CaseQC is the per-case container of QC metrics.
type CaseQC struct {
	ID        int64       `db:"id" json:"-"`
	UUID      uuid.UUID   `db:"uuid" json:"uuid"`
	CaseID    int64       `db:"case_id" json:"-"`
	State     CaseQCState `db:"state" json:"state"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// QCMetric is a single named value from a QC report.
type QCMetric struct {
	ID       int64    `db:"id" json:"-"`
	CaseQCID int64    `db:"caseqc_id" json:"-"`
	Category string   `db:"category" json:"category"`
	Sample   string   `db:"sample" json:"sample"`
	Region   string   `db:"region" json:"region"`
	Section  string   `db:"section" json:"section"`
	Name     string   `db:"name" json:"name"`
	Value    *float64 `db:"value" json:"value"`
	Percent  *float64 `db:"percent" json:"percent"`
	Text     string   `db:"text_value" json:"text,omitempty"`
}

// QCHistogram is a keyed series from a QC report, e.g. a coverage histogram.
type QCHistogram struct {
	ID       int64      `db:"id" json:"-"`
	CaseQCID int64      `db:"caseqc_id" json:"-"`
	Category string     `db:"category" json:"category"`
	Sample   string     `db:"sample" json:"sample"`
	Region   string     `db:"region" json:"region"`
	Keys     StringList `db:"bin_keys" json:"keys"`
	Values   FloatList  `db:"bin_counts" json:"values"`
}
