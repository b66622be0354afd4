package caseimport

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const defaultKitCacheSize = 256

// KitResolver maps the URI of a target BED file to the enrichment kit it
// belongs to. Hits are cached; misses are not, so kits seeded later are found.
type KitResolver struct {
	cache *lru.Cache[string, int64]
	log   *logrus.Logger
}

// NewKitResolver creates a resolver caching up to size entries
func NewKitResolver(size int, logger *logrus.Logger) (*KitResolver, error) {
	if size <= 0 {
		size = defaultKitCacheSize
	}
	cache, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("creating kit cache: %w", err)
	}
	return &KitResolver{cache: cache, log: logger}, nil
}

// Resolve returns the ID of the kit owning fileURI, or nil if the file is
// not in the catalog. Lookups go through repo, which inside an import is the
// transaction of the pedigree being built.
func (k *KitResolver) Resolve(ctx context.Context, repo domain.KitRepository, fileURI string) (*int64, error) {
	if fileURI == "" {
		return nil, nil
	}
	if id, ok := k.cache.Get(fileURI); ok {
		return &id, nil
	}

	bed, err := repo.FindTargetBedFile(ctx, fileURI)
	if errors.Is(err, domain.ErrNotFound) {
		k.log.WithField("file_uri", fileURI).Debug("Target BED file not in kit catalog")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving enrichment kit: %w", err)
	}
	k.cache.Add(fileURI, bed.EnrichmentKitID)
	id := bed.EnrichmentKitID
	return &id, nil
}
