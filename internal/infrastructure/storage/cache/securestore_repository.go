package cachestorage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
	"github.com/satcat21/btc-mempaper-sub000/pkg/securestore"
)

var cacheBucketKey = []byte("monitoring-cache")

// SecureStoreRepository persists monitoring cache entries as JSON values in
// a bucket of an encrypted key-value store. The store must be unlocked by
// the caller before the repository is used.
type SecureStoreRepository struct {
	store securestore.SecureStorage
}

// NewSecureStoreRepository returns a repository backed by the given store,
// creating its bucket if needed.
func NewSecureStoreRepository(
	store securestore.SecureStorage,
) (*SecureStoreRepository, error) {
	if err := store.CreateBucket(cacheBucketKey); err != nil {
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}
	return &SecureStoreRepository{store: store}, nil
}

func (r *SecureStoreRepository) GetEntry(
	_ context.Context, extendedKey string,
) (*domain.MonitoringCacheEntry, error) {
	raw, err := r.store.GetFromBucket(cacheBucketKey, []byte(extendedKey))
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	if len(raw) <= 0 {
		return nil, domain.ErrCacheEntryNotFound
	}

	entry := &domain.MonitoringCacheEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return entry, nil
}

func (r *SecureStoreRepository) PutEntry(
	_ context.Context, entry *domain.MonitoringCacheEntry,
) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	if err := r.store.AddToBucket(cacheBucketKey, []byte(entry.Xpub), raw); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (r *SecureStoreRepository) DeleteEntry(_ context.Context, extendedKey string) error {
	if err := r.store.RemoveFromBucket(cacheBucketKey, []byte(extendedKey)); err != nil {
		return fmt.Errorf("removing cache entry: %w", err)
	}
	return nil
}
