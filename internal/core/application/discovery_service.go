package application

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
	"github.com/satcat21/btc-mempaper-sub000/pkg/pricefeed"
	"github.com/satcat21/btc-mempaper-sub000/pkg/xpub"
)

// WalletDiscoveryService computes the aggregate balance of a user-configured
// wallet: plain addresses are probed directly, extended keys go through the
// monitoring cache, and conflicts between the two variants are detected
// before any figure is summed.
type WalletDiscoveryService struct {
	cache     *MonitoringCacheService
	probe     UsageProbe
	conflicts *ConflictDetector
	feed      pricefeed.Service
	currency  string

	// computations are serialized: overlapping wallet-wide runs would fight
	// over the explorer rate limit without improving freshness
	computeLock sync.Mutex
}

// NewWalletDiscoveryService returns the wallet-wide aggregation service.
// feed may be nil, in which case fiat totals stay zero.
func NewWalletDiscoveryService(
	cache *MonitoringCacheService, probe UsageProbe, conflicts *ConflictDetector,
	feed pricefeed.Service, fiatCurrency string,
) *WalletDiscoveryService {
	return &WalletDiscoveryService{
		cache:     cache,
		probe:     probe,
		conflicts: conflicts,
		feed:      feed,
		currency:  fiatCurrency,
	}
}

// ComputeTotal aggregates the confirmed balance of every wallet entry.
//
// If any separate-marked address turns out to be derivable from a configured
// extended key the computation fails closed: the returned summary carries
// the conflict reports and the error is ErrAddressConflict, with no totals.
//
// In startup mode extended keys without a cache entry are not scanned, they
// are listed in the summary's Pending field and contribute zero, so the
// first figure after boot appears without waiting for full discovery.
func (s *WalletDiscoveryService) ComputeTotal(
	ctx context.Context, entries []domain.WalletEntry, startupMode bool,
) (*domain.WalletBalanceSummary, error) {
	s.computeLock.Lock()
	defer s.computeLock.Unlock()

	summary := &domain.WalletBalanceSummary{
		TotalBTC:     decimal.Zero,
		TotalFiat:    decimal.Zero,
		FiatCurrency: s.currency,
	}

	addressEntries, extendedKeys := s.partition(entries, summary)

	conflicts, duplicates, err := s.conflicts.Detect(
		ctx, addressEntries, extendedKeys, startupMode,
	)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		summary.Conflicts = conflicts
		return summary, domain.ErrAddressConflict
	}

	dropped := make(map[string]struct{}, len(duplicates))
	for _, addr := range duplicates {
		dropped[addr] = struct{}{}
		summary.DuplicatesRemoved++
	}

	total := decimal.Zero

	for _, key := range extendedKeys {
		balance, incomplete, err := s.keyBalance(ctx, key, startupMode, summary)
		if err != nil {
			return nil, err
		}
		summary.ExtendedKeys = append(summary.ExtendedKeys, key)
		summary.Incomplete = summary.Incomplete || incomplete
		total = total.Add(balance)
	}

	addresses := make([]string, 0, len(addressEntries))
	for _, entry := range addressEntries {
		if _, ok := dropped[entry.Value]; ok {
			continue
		}
		addresses = append(addresses, entry.Value)
	}
	summary.Addresses = addresses

	for _, st := range s.probe.ProbeBatch(ctx, addresses) {
		if st.Unreachable {
			summary.Incomplete = true
			continue
		}
		total = total.Add(domain.BTCFromSats(st.BalanceSats()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary.TotalBTC = total
	summary.TotalFiat = s.fiatValue(ctx, total)
	return summary, nil
}

// partition splits the entries into plain addresses and extended keys,
// silently removing exact repetitions of the same value.
func (s *WalletDiscoveryService) partition(
	entries []domain.WalletEntry, summary *domain.WalletBalanceSummary,
) ([]domain.WalletEntry, []string) {
	seen := make(map[string]struct{}, len(entries))
	addressEntries := make([]domain.WalletEntry, 0, len(entries))
	extendedKeys := make([]string, 0, len(entries))

	for _, entry := range entries {
		if _, ok := seen[entry.Value]; ok {
			summary.DuplicatesRemoved++
			continue
		}
		seen[entry.Value] = struct{}{}

		switch {
		case entry.Kind == domain.ExtendedKey || xpub.IsExtendedKey(entry.Value):
			extendedKeys = append(extendedKeys, entry.Value)
		default:
			addressEntries = append(addressEntries, entry)
		}
	}
	return addressEntries, extendedKeys
}

func (s *WalletDiscoveryService) keyBalance(
	ctx context.Context, key string, startupMode bool,
	summary *domain.WalletBalanceSummary,
) (decimal.Decimal, bool, error) {
	if startupMode {
		balance, incomplete, err := s.cache.CachedBalance(ctx, key)
		if err == nil {
			return balance, incomplete, nil
		}
		if errors.Is(err, domain.ErrCacheEntryNotFound) {
			summary.Pending = append(summary.Pending, key)
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}

	balance, provenance, incomplete, err := s.cache.GetOrScan(ctx, key)
	if err != nil {
		return decimal.Zero, false, err
	}
	log.Debugf("key %s balance %s BTC (%s)", shortKey(key), balance, provenance)
	return balance, incomplete, nil
}

// fiatValue converts the BTC total at the current rate, degrading to zero
// with a warning when the price venue is unavailable.
func (s *WalletDiscoveryService) fiatValue(
	ctx context.Context, amountBTC decimal.Decimal,
) decimal.Decimal {
	if s.feed == nil || s.currency == "" {
		return decimal.Zero
	}
	fiat, err := s.feed.Convert(ctx, amountBTC, s.currency)
	if err != nil {
		log.WithError(err).Warnf("failed to convert total to %s", s.currency)
		return decimal.Zero
	}
	return fiat
}
