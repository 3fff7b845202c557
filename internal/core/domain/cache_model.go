package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoredAddress is a member of the cheap-to-recheck subset of a scanned
// extended key. The derivation index is tracked explicitly so that a balance
// change can be attributed to its true position in the derivation sequence.
type MonitoredAddress struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
}

// MonitoringCacheEntry is the persisted outcome of a full scan for one
// extended key. It is only ever mutated by wholesale replacement (after a
// full rescan) or by an incremental balances-only update, never partially
// written.
//
// Invariants: Monitored addresses all fall within [0, FinalAddressCount) and
// never include a spent-and-empty address; TotalBalance equals the sum of the
// positive AddressBalances at the moment the entry was written.
type MonitoringCacheEntry struct {
	Xpub               string             `json:"xpub"`
	LastFullScan       time.Time          `json:"last_full_scan"`
	TotalBalance       decimal.Decimal    `json:"total_balance_btc"`
	Monitored          []MonitoredAddress `json:"monitoring_addresses"`
	AddressBalances    map[string]uint64  `json:"address_balances"`
	FundedAddressCount int                `json:"funded_address_count"`
	FinalAddressCount  int                `json:"final_address_count"`
	// Incomplete mirrors ScanResult.Aborted for entries written after a
	// ceiling-bounded scan.
	Incomplete bool `json:"incomplete,omitempty"`
}

// IsStale returns whether the entry is older than maxAge at the given time.
func (e *MonitoringCacheEntry) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(e.LastFullScan) >= maxAge
}

// MonitoredAddressList returns the plain addresses of the monitored subset.
func (e *MonitoringCacheEntry) MonitoredAddressList() []string {
	addresses := make([]string, 0, len(e.Monitored))
	for _, m := range e.Monitored {
		addresses = append(addresses, m.Address)
	}
	return addresses
}

// IsMonitored returns whether the given address belongs to the monitored
// subset.
func (e *MonitoringCacheEntry) IsMonitored(address string) bool {
	for _, m := range e.Monitored {
		if m.Address == address {
			return true
		}
	}
	return false
}

// SumPositiveBalances recomputes the BTC total from the stored per-address
// balances in satoshis.
func SumPositiveBalances(balances map[string]uint64) decimal.Decimal {
	var totalSats uint64
	for _, balance := range balances {
		totalSats += balance
	}
	return BTCFromSats(totalSats)
}

// BTCFromSats converts an amount of satoshis to BTC.
func BTCFromSats(sats uint64) decimal.Decimal {
	return decimal.New(int64(sats), -8)
}
