package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/varfish-case-importer/internal/domain"
)

// KitCatalog is the seed file for the enrichment kit catalog.
//
//	kits:
//	  - identifier: agilent-all-exon-v6
//	    title: Agilent SureSelect Human All Exon V6
//	    target_bed_files:
//	      - file_uri: s3://varfish-static/targets/grch37/agilent-all-exon-v6.bed.gz
//	        genome_release: grch37
type KitCatalog struct {
	Kits []KitEntry `yaml:"kits"`
}

// KitEntry is one enrichment kit with its target BED files
type KitEntry struct {
	Identifier     string          `yaml:"identifier"`
	Title          string          `yaml:"title"`
	TargetBedFiles []TargetBedFile `yaml:"target_bed_files"`
}

// TargetBedFile is one target region file of a kit
type TargetBedFile struct {
	FileURI       string `yaml:"file_uri"`
	GenomeRelease string `yaml:"genome_release"`
}

// LoadKitCatalog reads and checks a kit catalog file.
func LoadKitCatalog(path string) (*KitCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading kit catalog: %w", err)
	}
	return ParseKitCatalog(data)
}

// ParseKitCatalog decodes a kit catalog document.
func ParseKitCatalog(data []byte) (*KitCatalog, error) {
	var catalog KitCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing kit catalog: %w", err)
	}

	seen := make(map[string]bool)
	for i, kit := range catalog.Kits {
		if kit.Identifier == "" {
			return nil, fmt.Errorf("kit %d: identifier is required", i)
		}
		if seen[kit.Identifier] {
			return nil, fmt.Errorf("kit %q: %w", kit.Identifier, domain.ErrAlreadyExists)
		}
		seen[kit.Identifier] = true
		for _, bed := range kit.TargetBedFiles {
			if bed.FileURI == "" {
				return nil, fmt.Errorf("kit %q: target bed file without file_uri", kit.Identifier)
			}
			if !domain.GenomeRelease(bed.GenomeRelease).IsValid() {
				return nil, fmt.Errorf("kit %q: invalid genome release %q", kit.Identifier, bed.GenomeRelease)
			}
		}
	}
	return &catalog, nil
}

// Seed writes the catalog to repo in one transaction and returns the number
// of target BED files saved. Existing entries are updated in place.
func (c *KitCatalog) Seed(ctx context.Context, repo domain.Repository) (int, error) {
	saved := 0
	err := repo.InTx(ctx, func(tx domain.Repository) error {
		for _, entry := range c.Kits {
			kit := &domain.EnrichmentKit{Identifier: entry.Identifier, Title: entry.Title}
			if err := tx.SaveEnrichmentKit(ctx, kit); err != nil {
				return err
			}
			for _, bed := range entry.TargetBedFiles {
				err := tx.SaveTargetBedFile(ctx, &domain.TargetBedFile{
					EnrichmentKitID: kit.ID,
					FileURI:         bed.FileURI,
					GenomeRelease:   domain.GenomeRelease(bed.GenomeRelease),
				})
				if err != nil {
					return err
				}
				saved++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seeding kit catalog: %w", err)
	}
	return saved, nil
}
