package domain

import "errors"

var (
	// ErrInvalidKeyFormat is returned for a malformed extended key or
	// address; no network access is attempted in this case.
	ErrInvalidKeyFormat = errors.New("invalid extended key format")
	// ErrAddressConflict is returned when a manually entered address
	// duplicates one derivable from a configured extended key. Aggregation
	// is refused until the duplication is resolved to avoid double-counting
	// the same coins.
	ErrAddressConflict = errors.New("address conflicts with extended key derivation")
	// ErrCacheEntryNotFound is returned by cache repositories for a key that
	// has never been scanned.
	ErrCacheEntryNotFound = errors.New("monitoring cache entry not found")
)
