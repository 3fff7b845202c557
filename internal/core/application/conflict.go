package application

import (
	"context"
	"errors"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
)

// derivedSetProvider abstracts the cache service for conflict detection.
type derivedSetProvider interface {
	DerivedAddressSet(ctx context.Context, extendedKey string) (map[string]uint32, error)
	DerivedAddressSetCached(ctx context.Context, extendedKey string) (map[string]uint32, error)
}

// ConflictDetector cross-checks manually entered addresses against the
// address sets derivable from the configured extended keys.
type ConflictDetector struct {
	sets derivedSetProvider
}

// NewConflictDetector returns a detector backed by the given provider of
// derived address sets, typically the monitoring cache service.
func NewConflictDetector(sets derivedSetProvider) *ConflictDetector {
	return &ConflictDetector{sets: sets}
}

// Detect classifies every plain-address entry that collides with an address
// derivable from one of the extended keys. Entries marked separate produce a
// ConflictReport, the rest are returned as silent duplicates to be dropped
// from aggregation.
//
// In cachedOnly mode keys without a cache entry are skipped instead of
// triggering a scan, so detection stays cheap at startup; collisions with
// such keys are caught by the next non-cached run.
func (d *ConflictDetector) Detect(
	ctx context.Context, addressEntries []domain.WalletEntry, extendedKeys []string,
	cachedOnly bool,
) ([]domain.ConflictReport, []string, error) {
	conflicts := make([]domain.ConflictReport, 0)
	duplicates := make([]string, 0)

	for _, key := range extendedKeys {
		var (
			set map[string]uint32
			err error
		)
		if cachedOnly {
			set, err = d.sets.DerivedAddressSetCached(ctx, key)
			if errors.Is(err, domain.ErrCacheEntryNotFound) {
				continue
			}
		} else {
			set, err = d.sets.DerivedAddressSet(ctx, key)
		}
		if err != nil {
			return nil, nil, err
		}

		for _, entry := range addressEntries {
			index, ok := set[entry.Value]
			if !ok {
				continue
			}
			if entry.Separate {
				conflicts = append(conflicts, domain.ConflictReport{
					Address:     entry.Value,
					ExtendedKey: key,
					Index:       index,
				})
				continue
			}
			duplicates = append(duplicates, entry.Value)
		}
	}

	return conflicts, duplicates, nil
}
