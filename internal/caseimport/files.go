package caseimport

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/phenopacket"
)

// externalFile converts a manifest entry. The UUID is derived from the job and
// the position of the entry so that a repeated registration overwrites rows.
func externalFile(jobUUID uuid.UUID, key string, c *domain.Case, f phenopacket.File) *domain.FileRecord {
	attrs := make(domain.Attributes, len(f.FileAttributes))
	for k, v := range f.FileAttributes {
		attrs[k] = v
	}
	record := &domain.FileRecord{
		UUID:           uuid.NewSHA1(jobUUID, []byte("external/"+key)),
		Path:           f.URI,
		Designation:    f.FileAttributes[attrDesignation],
		GenomeBuild:    f.FileAttributes[attrGenomeBuild],
		MimeType:       f.FileAttributes[attrMimeType],
		FileAttributes: attrs,
		IdentifierMap:  domain.IdentifierMap(f.IndividualToFileIdentifiers),
	}
	if record.GenomeBuild == "" {
		record.GenomeBuild = string(c.Release)
	}
	if checksum := f.FileAttributes[attrChecksum]; checksum != "" {
		record.Checksum = &checksum
	}
	return record
}

// registerFiles stores the file manifest of the payload as external files.
// Pedigree-level files belong to the pedigree. The first file of each
// individual names its target BED file and is not stored.
func (e *Executor) registerFiles(ctx context.Context, jobUUID uuid.UUID, c *domain.Case, family *phenopacket.Family) (int, error) {
	pedigree, err := e.repo.GetPedigreeByCase(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("loading pedigree: %w", err)
	}
	individuals, err := e.repo.ListIndividuals(ctx, pedigree.ID)
	if err != nil {
		return 0, fmt.Errorf("loading individuals: %w", err)
	}
	byName := make(map[string]*domain.Individual, len(individuals))
	for _, ind := range individuals {
		byName[ind.Name] = ind
	}

	n := 0
	for i, f := range family.Files {
		record := externalFile(jobUUID, fmt.Sprintf("pedigree/%d", i), c, f)
		record.PedigreeID = &pedigree.ID
		if err := e.repo.SaveFile(ctx, domain.FileKindExternal, record); err != nil {
			return n, fmt.Errorf("registering file %s: %w", f.URI, err)
		}
		n++
	}

	for _, p := range family.Members() {
		if len(p.Files) < 2 {
			continue
		}
		ind, ok := byName[p.Subject.ID]
		if !ok {
			e.log.WithField("individual", p.Subject.ID).Warn("Phenopacket subject is not in the pedigree, skipping its files")
			continue
		}
		for i, f := range p.Files[1:] {
			record := externalFile(jobUUID, fmt.Sprintf("individual/%s/%d", ind.UUID, i+1), c, f)
			record.IndividualID = &ind.ID
			if err := e.repo.SaveFile(ctx, domain.FileKindExternal, record); err != nil {
				return n, fmt.Errorf("registering file %s of %s: %w", f.URI, ind.Name, err)
			}
			n++
		}
	}
	return n, nil
}
