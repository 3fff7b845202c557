package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
)

type mockExplorer struct {
	mu    sync.Mutex
	calls int
	stats map[string]*explorer.AddressStats
	err   error
}

func (m *mockExplorer) GetAddressStats(
	_ context.Context, address string,
) (*explorer.AddressStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if st, ok := m.stats[address]; ok {
		return st, nil
	}
	return &explorer.AddressStats{Address: address}, nil
}

func (m *mockExplorer) GetBlockHeight(_ context.Context) (int, error) {
	return 0, nil
}

func TestBalanceProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// first receive address of the canonical test vector wallet
	const validAddress = "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"

	t.Run("invalid address skips the network", func(t *testing.T) {
		t.Parallel()

		svc := &mockExplorer{}
		probe := NewBalanceProbe(svc, nil, 2, 1000)

		stats := probe.Probe(ctx, "definitely-not-an-address")
		require.False(t, stats.Unreachable)
		require.False(t, stats.WasEverUsed())
		require.Zero(t, stats.BalanceSats())
		require.Equal(t, 0, svc.calls)
	})

	t.Run("valid address is looked up", func(t *testing.T) {
		t.Parallel()

		svc := &mockExplorer{stats: map[string]*explorer.AddressStats{
			validAddress: {
				Address: validAddress, FundedSats: 150000, SpentSats: 50000, TxCount: 3,
			},
		}}
		probe := NewBalanceProbe(svc, nil, 2, 1000)

		stats := probe.Probe(ctx, validAddress)
		require.False(t, stats.Unreachable)
		require.Equal(t, uint64(100000), stats.BalanceSats())
		require.True(t, stats.WasEverUsed())
		require.Equal(t, 1, svc.calls)
	})

	t.Run("testnet addresses pass validation on testnet params", func(t *testing.T) {
		t.Parallel()

		const testnetAddress = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

		svc := &mockExplorer{stats: map[string]*explorer.AddressStats{
			testnetAddress: {Address: testnetAddress, FundedSats: 5000, TxCount: 1},
		}}
		probe := NewBalanceProbe(svc, &chaincfg.TestNet3Params, 2, 1000)

		stats := probe.Probe(ctx, testnetAddress)
		require.False(t, stats.Unreachable)
		require.True(t, stats.WasEverUsed())
		require.Equal(t, 1, svc.calls)

		// the same address must not slip through a mainnet-configured probe
		mainnetProbe := NewBalanceProbe(svc, &chaincfg.MainNetParams, 2, 1000)
		stats = mainnetProbe.Probe(ctx, testnetAddress)
		require.False(t, stats.WasEverUsed())
		require.Equal(t, 1, svc.calls)
	})

	t.Run("explorer failure degrades to unreachable", func(t *testing.T) {
		t.Parallel()

		svc := &mockExplorer{err: errors.New("connection refused")}
		probe := NewBalanceProbe(svc, nil, 2, 1000)

		stats := probe.Probe(ctx, validAddress)
		require.True(t, stats.Unreachable)
		require.Zero(t, stats.BalanceSats())
	})

	t.Run("batch preserves input order", func(t *testing.T) {
		t.Parallel()

		svc := &mockExplorer{stats: map[string]*explorer.AddressStats{
			validAddress: {Address: validAddress, FundedSats: 1000, TxCount: 1},
		}}
		probe := NewBalanceProbe(svc, nil, 4, 1000)

		addresses := []string{"bad-address", validAddress, "another-bad-one"}
		stats := probe.ProbeBatch(ctx, addresses)
		require.Len(t, stats, 3)
		for i, st := range stats {
			require.Equal(t, addresses[i], st.Address)
		}
		require.True(t, stats[1].WasEverUsed())
		require.False(t, stats[0].WasEverUsed())
		require.False(t, stats[2].WasEverUsed())
	})
}
