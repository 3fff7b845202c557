package domain

import "context"

// MonitoringCacheRepository persists MonitoringCacheEntry values, one per
// extended key. Implementations must write entries atomically: an entry is
// either fully replaced or left untouched.
type MonitoringCacheRepository interface {
	// GetEntry returns the entry for the given extended key, or
	// ErrCacheEntryNotFound if the key has never been scanned.
	GetEntry(ctx context.Context, extendedKey string) (*MonitoringCacheEntry, error)
	// PutEntry stores the entry, replacing any previous one wholesale.
	PutEntry(ctx context.Context, entry *MonitoringCacheEntry) error
	// DeleteEntry removes the entry for the given extended key, if any.
	DeleteEntry(ctx context.Context, extendedKey string) error
}
