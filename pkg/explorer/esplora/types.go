package esplora

import (
	"encoding/json"
	"fmt"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
)

// addressInfo is the JSON shape of the /address/{address} endpoint. Only the
// confirmed chain stats are of interest, unconfirmed mempool activity is left
// out of balance computations.
type addressInfo struct {
	Address    string     `json:"address"`
	ChainStats chainStats `json:"chain_stats"`
}

type chainStats struct {
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
	TxCount      int    `json:"tx_count"`
}

// NewAddressStatsFromJSON is the factory for an AddressStats given its JSON
// format as returned by the explorer.
func NewAddressStatsFromJSON(addrJSON string) (*explorer.AddressStats, error) {
	info := &addressInfo{}
	if err := json.Unmarshal([]byte(addrJSON), info); err != nil {
		return nil, fmt.Errorf("invalid address stats JSON")
	}

	return &explorer.AddressStats{
		Address:    info.Address,
		FundedSats: info.ChainStats.FundedTxoSum,
		SpentSats:  info.ChainStats.SpentTxoSum,
		TxCount:    info.ChainStats.TxCount,
	}, nil
}
