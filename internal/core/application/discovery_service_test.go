package application

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
	"github.com/satcat21/btc-mempaper-sub000/pkg/pricefeed"
	"github.com/satcat21/btc-mempaper-sub000/pkg/xpub"
)

type fixedRateFeed struct {
	rate decimal.Decimal
	err  error
}

func (f fixedRateFeed) FetchRate(
	_ context.Context, _ string,
) (decimal.Decimal, error) {
	return f.rate, f.err
}

func (f fixedRateFeed) Convert(
	_ context.Context, amountBTC decimal.Decimal, _ string,
) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amountBTC.Mul(f.rate), nil
}

func newDiscoveryFixture(
	t *testing.T, probe *oracleProbe, feed pricefeed.Service,
) *WalletDiscoveryService {
	t.Helper()
	cacheSvc, _ := newCacheServiceFixture(t, probe)
	return NewWalletDiscoveryService(
		cacheSvc, probe, NewConflictDetector(cacheSvc), feed, "USD",
	)
}

func TestWalletDiscoveryService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deriver, err := xpub.NewDeriver(testZpub)
	require.NoError(t, err)

	t.Run("derived duplicate is counted once", func(t *testing.T) {
		t.Parallel()

		probe := newOracleProbe()
		probe.fundIndex(t, deriver, 3, 100000)
		svc := newDiscoveryFixture(t, probe, nil)

		derivedAddr, err := deriver.Derive(3)
		require.NoError(t, err)

		summary, err := svc.ComputeTotal(ctx, []domain.WalletEntry{
			{Kind: domain.ExtendedKey, Value: testZpub},
			{Kind: domain.PlainAddress, Value: derivedAddr},
		}, false)
		require.NoError(t, err)
		require.Equal(t, 1, summary.DuplicatesRemoved)
		require.Empty(t, summary.Conflicts)
		require.Equal(t, "0.001", summary.TotalBTC.String())
	})

	t.Run("separate-marked duplicate fails closed", func(t *testing.T) {
		t.Parallel()

		probe := newOracleProbe()
		probe.fundIndex(t, deriver, 3, 100000)
		svc := newDiscoveryFixture(t, probe, nil)

		derivedAddr, err := deriver.Derive(3)
		require.NoError(t, err)

		summary, err := svc.ComputeTotal(ctx, []domain.WalletEntry{
			{Kind: domain.ExtendedKey, Value: testZpub},
			{Kind: domain.PlainAddress, Value: derivedAddr, Separate: true},
		}, false)
		require.ErrorIs(t, err, domain.ErrAddressConflict)
		require.Len(t, summary.Conflicts, 1)
		require.Equal(t, derivedAddr, summary.Conflicts[0].Address)
		require.Equal(t, testZpub, summary.Conflicts[0].ExtendedKey)
		require.Equal(t, uint32(3), summary.Conflicts[0].Index)
		require.True(t, summary.TotalBTC.IsZero())
	})

	t.Run("repeated entries are dropped silently", func(t *testing.T) {
		t.Parallel()

		probe := newOracleProbe()
		probe.mu.Lock()
		probe.funded["bc1plainaddress"] = 30000
		probe.mu.Unlock()
		svc := newDiscoveryFixture(t, probe, nil)

		summary, err := svc.ComputeTotal(ctx, []domain.WalletEntry{
			{Kind: domain.PlainAddress, Value: "bc1plainaddress"},
			{Kind: domain.PlainAddress, Value: "bc1plainaddress"},
		}, false)
		require.NoError(t, err)
		require.Equal(t, 1, summary.DuplicatesRemoved)
		require.Equal(t, "0.0003", summary.TotalBTC.String())
	})

	t.Run("startup mode skips unscanned keys", func(t *testing.T) {
		t.Parallel()

		probe := newOracleProbe()
		probe.fundIndex(t, deriver, 3, 100000)
		probe.mu.Lock()
		probe.funded["bc1plainaddress"] = 30000
		probe.mu.Unlock()
		svc := newDiscoveryFixture(t, probe, nil)

		entries := []domain.WalletEntry{
			{Kind: domain.ExtendedKey, Value: testZpub},
			{Kind: domain.PlainAddress, Value: "bc1plainaddress"},
		}

		summary, err := svc.ComputeTotal(ctx, entries, true)
		require.NoError(t, err)
		require.Equal(t, []string{testZpub}, summary.Pending)
		require.Equal(t, "0.0003", summary.TotalBTC.String())

		// a regular run populates the cache
		summary, err = svc.ComputeTotal(ctx, entries, false)
		require.NoError(t, err)
		require.Empty(t, summary.Pending)
		require.Equal(t, "0.0013", summary.TotalBTC.String())

		// startup mode now serves the key from the cache
		summary, err = svc.ComputeTotal(ctx, entries, true)
		require.NoError(t, err)
		require.Empty(t, summary.Pending)
		require.Equal(t, "0.0013", summary.TotalBTC.String())
	})

	t.Run("fiat total follows the feed rate", func(t *testing.T) {
		t.Parallel()

		probe := newOracleProbe()
		probe.fundIndex(t, deriver, 3, 100000)
		feed := fixedRateFeed{rate: decimal.NewFromInt(60000)}
		svc := newDiscoveryFixture(t, probe, feed)

		summary, err := svc.ComputeTotal(ctx, []domain.WalletEntry{
			{Kind: domain.ExtendedKey, Value: testZpub},
		}, false)
		require.NoError(t, err)
		require.Equal(t, "USD", summary.FiatCurrency)
		require.Equal(t, "60", summary.TotalFiat.String())
	})

	t.Run("feed failure degrades to zero fiat", func(t *testing.T) {
		t.Parallel()

		probe := newOracleProbe()
		probe.fundIndex(t, deriver, 3, 100000)
		feed := fixedRateFeed{err: pricefeed.ErrNoQuote}
		svc := newDiscoveryFixture(t, probe, feed)

		summary, err := svc.ComputeTotal(ctx, []domain.WalletEntry{
			{Kind: domain.ExtendedKey, Value: testZpub},
		}, false)
		require.NoError(t, err)
		require.Equal(t, "0.001", summary.TotalBTC.String())
		require.True(t, summary.TotalFiat.IsZero())
	})
}
