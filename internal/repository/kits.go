package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

// SaveEnrichmentKit upserts a kit on its identifier
func (s *Store) SaveEnrichmentKit(ctx context.Context, kit *domain.EnrichmentKit) error {
	if kit.UUID == uuid.Nil {
		kit.UUID = uuid.New()
	}
	err := s.ext.QueryRowxContext(ctx, s.ext.Rebind(`
		INSERT INTO enrichment_kits (uuid, identifier, title) VALUES (?, ?, ?)
		ON CONFLICT (identifier) DO UPDATE SET title = excluded.title
		RETURNING id, uuid`),
		kit.UUID, kit.Identifier, kit.Title,
	).Scan(&kit.ID, &kit.UUID)
	if err != nil {
		return s.fail("saving enrichment kit", logrus.Fields{"identifier": kit.Identifier}, err)
	}
	return nil
}

// SaveTargetBedFile upserts a target BED file on its URI
func (s *Store) SaveTargetBedFile(ctx context.Context, bed *domain.TargetBedFile) error {
	if bed.UUID == uuid.Nil {
		bed.UUID = uuid.New()
	}
	err := s.ext.QueryRowxContext(ctx, s.ext.Rebind(`
		INSERT INTO target_bed_files (uuid, enrichment_kit_id, file_uri, genome_release) VALUES (?, ?, ?, ?)
		ON CONFLICT (file_uri) DO UPDATE SET
			enrichment_kit_id = excluded.enrichment_kit_id,
			genome_release = excluded.genome_release
		RETURNING id, uuid`),
		bed.UUID, bed.EnrichmentKitID, bed.FileURI, bed.GenomeRelease,
	).Scan(&bed.ID, &bed.UUID)
	if err != nil {
		return s.fail("saving target BED file", logrus.Fields{"file_uri": bed.FileURI}, err)
	}
	return nil
}

// FindTargetBedFile looks up a catalog entry by its file URI
func (s *Store) FindTargetBedFile(ctx context.Context, fileURI string) (*domain.TargetBedFile, error) {
	var bed domain.TargetBedFile
	err := s.get(ctx, &bed, `
		SELECT id, uuid, enrichment_kit_id, file_uri, genome_release
		FROM target_bed_files WHERE file_uri = ?`, fileURI)
	if err != nil {
		return nil, s.fail("finding target BED file", logrus.Fields{"file_uri": fileURI}, err)
	}
	return &bed, nil
}
