package cachestorage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
)

// InMemoryRepository is a volatile MonitoringCacheRepository, mainly useful
// in tests and for running without persistence.
type InMemoryRepository struct {
	lock    sync.RWMutex
	entries map[string][]byte
}

// NewInMemoryRepository returns an empty volatile repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{entries: make(map[string][]byte)}
}

func (r *InMemoryRepository) GetEntry(
	_ context.Context, extendedKey string,
) (*domain.MonitoringCacheEntry, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	raw, ok := r.entries[extendedKey]
	if !ok {
		return nil, domain.ErrCacheEntryNotFound
	}

	entry := &domain.MonitoringCacheEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *InMemoryRepository) PutEntry(
	_ context.Context, entry *domain.MonitoringCacheEntry,
) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[entry.Xpub] = raw
	return nil
}

func (r *InMemoryRepository) DeleteEntry(_ context.Context, extendedKey string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.entries, extendedKey)
	return nil
}
