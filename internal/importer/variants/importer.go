// Package variants imports the sequence and structural variant calls of a case:
// the external VCF is copied into internal storage, ingested by the worker and,
// for sequence variants, prefiltered.
package variants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/storage"
	"github.com/varfish-case-importer/internal/worker"
)

// Designation suffixes of the internal files written per variant type.
const (
	RoleOrigCopy        = "orig-copy"
	RoleIngestedVCF     = "ingested-vcf"
	RoleIngestedTBI     = "ingested-tbi"
	RolePrefilteredVCF  = "prefiltered-vcf"
	RolePrefilteredTBI  = "prefiltered-tbi"
	attrPrefilterConfig = "prefilter_config"
	attrPrefilterIndex  = "prefilter_index"
)

// Designation returns e.g. "variant_calls/seqvars/ingested-vcf".
func Designation(varType domain.VariantType, role string) string {
	return fmt.Sprintf("%s/%s/%s", domain.DesignationVariantCalls, varType, role)
}

// Store is the persistence the importers need
type Store interface {
	domain.FileRepository
	GetPedigreeByCase(ctx context.Context, caseID int64) (*domain.Pedigree, error)
	ListIndividuals(ctx context.Context, pedigreeID int64) ([]*domain.Individual, error)
}

// Config holds the settings shared by the importers
type Config struct {
	// Bucket of the internal storage; worker paths are given as bucket/key.
	Bucket       string
	MehariDBPath string
	// TempDir receives pedigree and parameter files; empty uses the OS default.
	TempDir          string
	Env              map[string]string
	PrefilterConfigs []domain.PrefilterConfig
}

// Importer runs the import of one variant type
type Importer struct {
	varType  domain.VariantType
	store    Store
	external *storage.FileSystem
	internal *storage.FileSystem
	runner   worker.Runner
	cfg      Config
	tmpFs    afero.Fs
	log      *logrus.Logger
	today    func() time.Time
}

// NewImporter creates an importer for varType
func NewImporter(varType domain.VariantType, store Store, external, internal *storage.FileSystem,
	runner worker.Runner, cfg Config, logger *logrus.Logger) *Importer {
	return &Importer{
		varType:  varType,
		store:    store,
		external: external,
		internal: internal,
		runner:   runner,
		cfg:      cfg,
		tmpFs:    afero.NewOsFs(),
		log:      logger,
		today:    time.Now,
	}
}

// Run copies, ingests and (for sequence variants) prefilters the variant
// calls of the case. A case without a matching external VCF is skipped.
func (im *Importer) Run(ctx context.Context, job *jobs.Job, c *domain.Case) error {
	orig, err := im.CopyExternalInternal(ctx, job, c)
	if err != nil {
		return err
	}
	if orig == nil {
		job.Debugf("No %s variant calls for case %s", im.varType, c.Name)
		return nil
	}

	ingested, err := im.Annotate(ctx, job, c, orig)
	if err != nil {
		return err
	}

	if im.varType == domain.VariantTypeSeqvars {
		if _, err := im.Prefilter(ctx, job, c, ingested); err != nil {
			return err
		}
	}
	return nil
}

// CopyExternalInternal finds the external VCF of the case for this variant
// type and copies it to internal storage. It returns nil if the case has no
// such file and fails with domain.ErrAmbiguousFile if it has more than one.
func (im *Importer) CopyExternalInternal(ctx context.Context, job *jobs.Job, c *domain.Case) (*domain.FileRecord, error) {
	files, err := im.store.ListCaseFiles(ctx, domain.FileKindExternal, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing external files: %w", err)
	}

	var matches []*domain.FileRecord
	for _, f := range files {
		if f.Designation != domain.DesignationVariantCalls || f.MimeType != domain.MimeTypeVCFBgzip {
			continue
		}
		attrs, err := domain.DecodeFileAttributes(f.FileAttributes)
		if err != nil {
			return nil, err
		}
		if attrs.VariantType == string(im.varType) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("%d %s variant call files for case %s: %w", len(matches), im.varType, c.Name, domain.ErrAmbiguousFile)
	}
	src := matches[0]

	dst := storage.InBucket(im.cfg.Bucket, storage.CaseDataPath(c.UUID, job.UUID, im.varType, "orig-copy.vcf.gz"))
	job.Infof("Copying %s to %s", src.Path, dst)
	n, err := storage.Copy(ctx, im.external, src.Path, im.internal, dst)
	if err != nil {
		return nil, fmt.Errorf("copying %s: %w", src.Path, err)
	}
	im.log.WithFields(logrus.Fields{
		"case_uuid": c.UUID,
		"src":       src.Path,
		"dst":       dst,
		"bytes":     n,
	}).Info("External variant calls copied")

	record := &domain.FileRecord{
		UUID:           artifactUUID(job.UUID, im.varType, RoleOrigCopy),
		PedigreeID:     src.PedigreeID,
		IndividualID:   src.IndividualID,
		Path:           dst,
		Checksum:       src.Checksum,
		Designation:    Designation(im.varType, RoleOrigCopy),
		GenomeBuild:    string(c.Release),
		MimeType:       src.MimeType,
		FileAttributes: src.FileAttributes,
		IdentifierMap:  src.IdentifierMap,
	}
	if err := im.store.SaveFile(ctx, domain.FileKindInternal, record); err != nil {
		return nil, fmt.Errorf("registering copied file: %w", err)
	}
	return record, nil
}

// Annotate writes the pedigree and runs "<var_type> ingest" on the copied VCF.
// On success the ingested VCF and its index are registered.
func (im *Importer) Annotate(ctx context.Context, job *jobs.Job, c *domain.Case, orig *domain.FileRecord) (*domain.FileRecord, error) {
	pedPath, cleanup, err := im.writePedigree(ctx, c, orig.IdentifierMap)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out := storage.InBucket(im.cfg.Bucket, storage.CaseDataPath(c.UUID, job.UUID, im.varType, "ingested.vcf.gz"))
	args := []string{
		string(im.varType), "ingest",
		"--file-date", im.today().Format("20060102"),
		"--case-uuid", c.UUID.String(),
		"--genomebuild", string(c.Release),
		"--path-mehari-db", im.cfg.MehariDBPath,
		"--path-ped", pedPath,
		"--path-in", orig.Path,
		"--path-out", out,
	}
	job.Infof("Running %s ingest for case %s", im.varType, c.Name)
	if err := im.runner.Run(ctx, args, im.cfg.Env); err != nil {
		return nil, fmt.Errorf("%s ingest: %w", im.varType, err)
	}

	vcf := im.derived(job, orig, RoleIngestedVCF, out, domain.MimeTypeVCFBgzip, nil)
	tbi := im.derived(job, orig, RoleIngestedTBI, out+".tbi", domain.MimeTypeTabix, nil)
	for _, f := range []*domain.FileRecord{vcf, tbi} {
		if err := im.store.SaveFile(ctx, domain.FileKindInternal, f); err != nil {
			return nil, fmt.Errorf("registering ingested file: %w", err)
		}
	}
	return vcf, nil
}

// prefilterParams is one entry of the parameter file passed to the worker.
type prefilterParams struct {
	MaxFreq     float64 `json:"max_freq"`
	MaxExonDist int     `json:"max_exon_dist"`
	PathOut     string  `json:"path_out"`
}

// Prefilter runs "seqvars prefilter" once over all configured parameter sets
// and registers one VCF and index pair per set.
func (im *Importer) Prefilter(ctx context.Context, job *jobs.Job, c *domain.Case, ingested *domain.FileRecord) ([]*domain.FileRecord, error) {
	if len(im.cfg.PrefilterConfigs) == 0 {
		return nil, nil
	}

	params := make([]prefilterParams, len(im.cfg.PrefilterConfigs))
	for i, pc := range im.cfg.PrefilterConfigs {
		params[i] = prefilterParams{
			MaxFreq:     pc.MaxFreq,
			MaxExonDist: pc.MaxExonDist,
			PathOut: storage.InBucket(im.cfg.Bucket,
				storage.CaseDataPath(c.UUID, job.UUID, im.varType, fmt.Sprintf("prefiltered-%d.vcf.gz", i))),
		}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding prefilter parameters: %w", err)
	}
	paramsPath, cleanup, err := writeTemp(im.tmpFs, im.cfg.TempDir, "varfish-prefilter-*.json", data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{"seqvars", "prefilter", "--params", "@" + paramsPath, "--path-in", ingested.Path}
	job.Infof("Running seqvars prefilter with %d parameter sets", len(params))
	if err := im.runner.Run(ctx, args, im.cfg.Env); err != nil {
		return nil, fmt.Errorf("seqvars prefilter: %w", err)
	}

	var out []*domain.FileRecord
	for i, p := range params {
		cfgJSON, err := json.Marshal(im.cfg.PrefilterConfigs[i])
		if err != nil {
			return nil, err
		}
		extra := domain.Attributes{
			attrPrefilterConfig: string(cfgJSON),
			attrPrefilterIndex:  i,
		}
		vcf := im.derived(job, ingested, fmt.Sprintf("%s-%d", RolePrefilteredVCF, i), p.PathOut, domain.MimeTypeVCFBgzip, extra)
		tbi := im.derived(job, ingested, fmt.Sprintf("%s-%d", RolePrefilteredTBI, i), p.PathOut+".tbi", domain.MimeTypeTabix, extra)
		vcf.Designation = Designation(im.varType, RolePrefilteredVCF)
		tbi.Designation = Designation(im.varType, RolePrefilteredTBI)
		for _, f := range []*domain.FileRecord{vcf, tbi} {
			if err := im.store.SaveFile(ctx, domain.FileKindInternal, f); err != nil {
				return nil, fmt.Errorf("registering prefiltered file: %w", err)
			}
		}
		out = append(out, vcf)
	}
	return out, nil
}

// derived builds the record of a file produced from src.
func (im *Importer) derived(job *jobs.Job, src *domain.FileRecord, role, path, mimeType string, extra domain.Attributes) *domain.FileRecord {
	attrs := domain.Attributes{}
	for k, v := range src.FileAttributes {
		attrs[k] = v
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &domain.FileRecord{
		UUID:           artifactUUID(job.UUID, im.varType, role),
		PedigreeID:     src.PedigreeID,
		IndividualID:   src.IndividualID,
		Path:           path,
		Designation:    Designation(im.varType, role),
		GenomeBuild:    src.GenomeBuild,
		MimeType:       mimeType,
		FileAttributes: attrs,
		IdentifierMap:  src.IdentifierMap,
	}
}

// artifactUUID derives a stable identifier from the job and the role of the
// artifact so that a redelivered job overwrites instead of duplicating.
func artifactUUID(jobUUID uuid.UUID, varType domain.VariantType, role string) uuid.UUID {
	return uuid.NewSHA1(jobUUID, []byte(string(varType)+"/"+role))
}

// writePedigree writes the case pedigree in PLINK PED format, with sample
// names as they appear in the VCF.
func (im *Importer) writePedigree(ctx context.Context, c *domain.Case, ids domain.IdentifierMap) (string, func(), error) {
	pedigree, err := im.store.GetPedigreeByCase(ctx, c.ID)
	if err != nil {
		return "", nil, fmt.Errorf("loading pedigree: %w", err)
	}
	individuals, err := im.store.ListIndividuals(ctx, pedigree.ID)
	if err != nil {
		return "", nil, fmt.Errorf("loading individuals: %w", err)
	}
	return writeTemp(im.tmpFs, im.cfg.TempDir, "varfish-*.ped", []byte(FormatPED(c.Name, individuals, ids)))
}

// writeTemp stores data in a new temporary file for the worker and returns
// its name along with a function removing it.
func writeTemp(fs afero.Fs, dir, pattern string, data []byte) (string, func(), error) {
	f, err := afero.TempFile(fs, dir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("creating temporary file: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = fs.Remove(name) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing %s: %w", name, err)
	}
	return name, cleanup, nil
}
