package explorer

import "context"

// AddressStats holds the chain stats of a single address as reported by the
// block-explorer API: cumulative funded/spent amounts and the number of
// transactions the address appears in.
type AddressStats struct {
	Address     string
	FundedSats  uint64
	SpentSats   uint64
	TxCount     int
	Unreachable bool
}

// BalanceSats returns the current confirmed balance of the address in satoshis.
func (s AddressStats) BalanceSats() uint64 {
	if s.SpentSats > s.FundedSats {
		return 0
	}
	return s.FundedSats - s.SpentSats
}

// WasEverUsed returns whether the address has ever received funds.
func (s AddressStats) WasEverUsed() bool {
	return s.TxCount > 0 || s.FundedSats > 0
}

// IsSpentAndEmpty returns whether the address received funds in the past and
// holds none today. Such addresses must not be re-probed nor re-exposed.
func (s AddressStats) IsSpentAndEmpty() bool {
	return s.WasEverUsed() && s.BalanceSats() == 0
}

// Service is the representation of a block explorer that allows to fetch the
// chain stats of addresses and basic info about the chain tip.
type Service interface {
	// GetAddressStats fetches the chain stats for the given address.
	GetAddressStats(ctx context.Context, address string) (*AddressStats, error)
	// GetBlockHeight returns the number of blocks of the blockchain.
	GetBlockHeight(ctx context.Context) (int, error)
}
