package domain

import (
	"github.com/shopspring/decimal"
)

// EntryKind discriminates the two wallet entry variants.
type EntryKind int

const (
	// PlainAddress is a single chain address entered by the user.
	PlainAddress EntryKind = iota
	// ExtendedKey is an xpub/ypub/zpub whose addresses are discovered by
	// gap-limit scanning.
	ExtendedKey
)

func (k EntryKind) String() string {
	switch k {
	case PlainAddress:
		return "address"
	case ExtendedKey:
		return "extended_key"
	default:
		return "unknown"
	}
}

// WalletEntry is a single user-configured wallet item: either a plain address
// or an extended public key.
type WalletEntry struct {
	Kind    EntryKind `json:"kind"`
	Value   string    `json:"value"`
	Comment string    `json:"comment,omitempty"`
	// Separate marks a plain address the user claims to be an independent
	// wallet. If such an address turns out to be derivable from one of the
	// configured extended keys, aggregation fails closed with a conflict
	// instead of silently dropping the duplicate.
	Separate bool `json:"separate,omitempty"`
}

// ConflictReport flags a manually entered address that duplicates an address
// derivable from a configured extended key. Computed on demand, never
// persisted.
type ConflictReport struct {
	Address     string `json:"address"`
	ExtendedKey string `json:"extended_key"`
	Index       uint32 `json:"derivation_index"`
}

// Provenance tells how a per-key balance was obtained.
type Provenance string

const (
	// FromCache means the cached total was returned unchanged.
	FromCache Provenance = "cache"
	// FromSubsetCheck means the monitored subset was re-probed and the total
	// recomputed without re-deriving addresses.
	FromSubsetCheck Provenance = "subset-check"
	// FromFullScan means a full gap-limit scan was executed.
	FromFullScan Provenance = "full-scan"
	// FromStartupShortCircuit means no cache entry existed yet and the
	// caller asked not to block on a full scan.
	FromStartupShortCircuit Provenance = "startup-short-circuit"
)

// WalletBalanceSummary is the aggregate of a whole wallet computation.
type WalletBalanceSummary struct {
	Addresses         []string         `json:"addresses"`
	ExtendedKeys      []string         `json:"extended_keys"`
	TotalBTC          decimal.Decimal  `json:"total_btc"`
	TotalFiat         decimal.Decimal  `json:"total_fiat"`
	FiatCurrency      string           `json:"fiat_currency"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	Conflicts         []ConflictReport `json:"conflicts,omitempty"`
	// Incomplete is set when at least one scan hit the derivation ceiling,
	// meaning the totals are a best-effort lower bound.
	Incomplete bool `json:"incomplete,omitempty"`
	// Pending lists extended keys skipped because startup mode was requested
	// and no cache entry existed yet for them.
	Pending []string `json:"pending,omitempty"`
}
