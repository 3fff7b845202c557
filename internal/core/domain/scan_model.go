package domain

import (
	"github.com/satcat21/btc-mempaper-sub000/pkg/xpub"
)

// ScanResult is the outcome of a completed gap-limit scan for one extended
// key. Addresses cover the contiguous index range [0, FinalCount).
type ScanResult struct {
	Addresses  []xpub.DerivedAddress
	FinalCount int
	// Aborted is set when the scan hit the derivation ceiling before any
	// usage was found. The result is best-effort, not an error, so callers
	// can warn the user that it may be incomplete.
	Aborted bool
}
