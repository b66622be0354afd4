// Package domain contains the core entities of the case import pipeline: import
// actions, background jobs, cases with their pedigree, file references and QC
// records.
package domain

import (
	"errors"
)

// CaseImportActionType is the requested operation of a CaseImportAction.
type CaseImportActionType string

const (
	ActionCreate CaseImportActionType = "create"
	ActionUpdate CaseImportActionType = "update"
	ActionDelete CaseImportActionType = "delete"
)

// IsValid reports whether the action is one of create, update or delete.
func (a CaseImportActionType) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// CaseImportActionState is the lifecycle state of a CaseImportAction.
type CaseImportActionState string

const (
	ActionStateDraft     CaseImportActionState = "draft"
	ActionStateSubmitted CaseImportActionState = "submitted"
	ActionStateRunning   CaseImportActionState = "running"
	ActionStateFailed    CaseImportActionState = "failed"
	ActionStateSuccess   CaseImportActionState = "success"
)

// IsValid reports whether the state is known.
func (s CaseImportActionState) IsValid() bool {
	switch s {
	case ActionStateDraft, ActionStateSubmitted, ActionStateRunning, ActionStateFailed, ActionStateSuccess:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s CaseImportActionState) IsTerminal() bool {
	return s == ActionStateFailed || s == ActionStateSuccess
}

// CanTransitionTo checks if the state transition is allowed.
// Valid transitions:
//
//	draft -> draft | submitted
//	submitted -> running | failed
//	running -> success | failed
//
// Only draft -> submitted is reachable from the API; the remaining edges are
// driven by the job harness.
func (s CaseImportActionState) CanTransitionTo(next CaseImportActionState) bool {
	switch s {
	case ActionStateDraft:
		return next == ActionStateDraft || next == ActionStateSubmitted
	case ActionStateSubmitted:
		return next == ActionStateRunning || next == ActionStateFailed
	case ActionStateRunning:
		return next == ActionStateSuccess || next == ActionStateFailed
	default:
		return false
	}
}

// CaseState is the state of an imported case.
type CaseState string

const (
	CaseStateImporting CaseState = "importing"
	CaseStateUpdating  CaseState = "updating"
	CaseStateActive    CaseState = "active"
)

// JobState is the state of a generic background job.
type JobState string

const (
	JobStateInitial   JobState = "initial"
	JobStateRunning   JobState = "running"
	JobStateDone      JobState = "done"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether the job has finished one way or another.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateDone, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// JobStage records how far a case import got. Stages are written in order so
// that a partially completed import can be reasoned about after the fact.
type JobStage string

const (
	StageNone              JobStage = ""
	StagePedigreeCommitted JobStage = "pedigree-committed"
	StageFilesRegistered   JobStage = "files-registered"
	StageQCDone            JobStage = "qc-done"
	StageSeqvarsDone       JobStage = "seqvars-done"
	StageStrucvarsDone     JobStage = "strucvars-done"
)

// JobType names the kind of work a background job wraps.
type JobType string

const (
	JobTypeCaseImport            JobType = "caseimport"
	JobTypeSeqvarsQueryExecution JobType = "seqvarsqueryexecution"
)

// LogLevel is the severity of a job log entry.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Sex follows the phenopacket Sex enumeration.
type Sex string

const (
	SexUnknown Sex = "UNKNOWN_SEX"
	SexFemale  Sex = "FEMALE"
	SexMale    Sex = "MALE"
	SexOther   Sex = "OTHER_SEX"
)

// PlinkCode returns the sex encoding used in PED files.
func (s Sex) PlinkCode() int {
	switch s {
	case SexMale:
		return 1
	case SexFemale:
		return 2
	default:
		return 0
	}
}

// KaryotypicSex follows the phenopacket KaryotypicSex enumeration.
type KaryotypicSex string

const (
	KaryotypeUnknown KaryotypicSex = "UNKNOWN_KARYOTYPE"
	KaryotypeXX      KaryotypicSex = "XX"
	KaryotypeXY      KaryotypicSex = "XY"
	KaryotypeXO      KaryotypicSex = "XO"
	KaryotypeXXY     KaryotypicSex = "XXY"
	KaryotypeXXX     KaryotypicSex = "XXX"
	KaryotypeXXYY    KaryotypicSex = "XXYY"
	KaryotypeXXXY    KaryotypicSex = "XXXY"
	KaryotypeXXXX    KaryotypicSex = "XXXX"
	KaryotypeXYY     KaryotypicSex = "XYY"
	KaryotypeOther   KaryotypicSex = "OTHER_KARYOTYPE"
)

// AffectedStatus follows the phenopacket pedigree AffectedStatus enumeration.
type AffectedStatus string

const (
	AffectedMissing    AffectedStatus = "MISSING"
	AffectedUnaffected AffectedStatus = "UNAFFECTED"
	AffectedAffected   AffectedStatus = "AFFECTED"
)

// PlinkCode returns the disease encoding used in PED files.
func (a AffectedStatus) PlinkCode() int {
	switch a {
	case AffectedUnaffected:
		return 1
	case AffectedAffected:
		return 2
	default:
		return 0
	}
}

// AssayType is the sequencing assay of an individual.
type AssayType string

const (
	AssayPanel  AssayType = "panel"
	AssayExome  AssayType = "exome"
	AssayGenome AssayType = "genome"
)

// GenomeRelease identifies the reference genome.
type GenomeRelease string

const (
	ReleaseGRCh37 GenomeRelease = "grch37"
	ReleaseGRCh38 GenomeRelease = "grch38"
)

// IsValid reports whether the release is supported.
func (r GenomeRelease) IsValid() bool {
	return r == ReleaseGRCh37 || r == ReleaseGRCh38
}

// VariantType distinguishes the two variant pipelines.
type VariantType string

const (
	VariantTypeSeqvars   VariantType = "seqvars"
	VariantTypeStrucvars VariantType = "strucvars"
)

// FileKind selects between caller-supplied and pipeline-produced file references.
type FileKind string

const (
	FileKindExternal FileKind = "external"
	FileKindInternal FileKind = "internal"
)

// CaseQCState marks whether all QC files of a case have been processed.
type CaseQCState string

const (
	CaseQCStateDraft  CaseQCState = "draft"
	CaseQCStateActive CaseQCState = "active"
)

// Designations of external and internal files.
const (
	DesignationVariantCalls     = "variant_calls"
	DesignationQualityControl   = "quality_control"
	DesignationSequencingTarget = "sequencing_targets"
)

// MIME types of variant call files.
const (
	MimeTypeVCFBgzip = "text/plain+x-bgzip+x-variant-call-format"
	MimeTypeTabix    = "application/x-tabix"
)

// Sentinel errors
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNotModifiable       = errors.New("case import action is not modifiable outside of draft state")
	ErrAmbiguousFile       = errors.New("more than one matching external file")
	ErrPathEscape          = errors.New("path escapes configured prefix")
	ErrUnsupportedProtocol = errors.New("unsupported file system protocol")
	ErrLocalNotAllowed     = errors.New("local file system access is not allowed")
	ErrPayloadDecode       = errors.New("could not decode case import payload")
	ErrWorkerFailed        = errors.New("worker process failed")
	ErrJobCancelled        = errors.New("job was cancelled")
)
