package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
	"github.com/satcat21/btc-mempaper-sub000/pkg/xpub"
)

// MonitoringCacheService answers balance queries for extended keys, running
// a full gap-limit scan only when the cached outcome of a previous scan is
// missing, expired, or contradicted by a live re-check of its monitored
// address subset.
type MonitoringCacheService struct {
	repo    domain.MonitoringCacheRepository
	scanner Scanner
	probe   UsageProbe
	cfg     ScanConfig
	maxAge  time.Duration

	keyLocksLock sync.Mutex
	keyLocks     map[string]*sync.Mutex

	nowFunc func() time.Time
}

// NewMonitoringCacheService returns a cache service wired to the given
// repository, scanner and probe. maxAge bounds how long a cache entry stays
// trusted without a full rescan.
func NewMonitoringCacheService(
	repo domain.MonitoringCacheRepository, scanner Scanner, probe UsageProbe,
	cfg ScanConfig, maxAge time.Duration,
) *MonitoringCacheService {
	return &MonitoringCacheService{
		repo:     repo,
		scanner:  scanner,
		probe:    probe,
		cfg:      cfg,
		maxAge:   maxAge,
		keyLocks: map[string]*sync.Mutex{},
		nowFunc:  time.Now,
	}
}

// GetOrScan returns the confirmed balance of the extended key in BTC, along
// with the provenance of the figure and whether it may be incomplete because
// a scan hit the derivation ceiling.
//
// A fresh cache hit is validated by re-probing only the monitored subset: if
// nothing changed the cached total is served as-is, if a balance moved the
// stored balances are updated in place, and if the movement touches the last
// derivation batch (hinting that new addresses past the scanned prefix may
// now be in use) a full rescan runs instead.
func (s *MonitoringCacheService) GetOrScan(
	ctx context.Context, extendedKey string,
) (decimal.Decimal, domain.Provenance, bool, error) {
	lock := s.lockFor(extendedKey)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.repo.GetEntry(ctx, extendedKey)
	if err != nil && !errors.Is(err, domain.ErrCacheEntryNotFound) {
		return decimal.Zero, domain.FromFullScan, false, err
	}

	if entry == nil || entry.IsStale(s.maxAge, s.nowFunc()) {
		entry, err = s.runFullScan(ctx, extendedKey)
		if err != nil {
			return decimal.Zero, domain.FromFullScan, false, err
		}
		return entry.TotalBalance, domain.FromFullScan, entry.Incomplete, nil
	}

	changed, rescanNeeded, balances, monitored := s.checkMonitoredSubset(ctx, entry)
	if err := ctx.Err(); err != nil {
		return decimal.Zero, domain.FromSubsetCheck, false, err
	}

	if rescanNeeded {
		log.Debugf(
			"balance change near the scanned frontier of key %s, running full rescan",
			shortKey(extendedKey),
		)
		entry, err = s.runFullScan(ctx, extendedKey)
		if err != nil {
			return decimal.Zero, domain.FromFullScan, false, err
		}
		return entry.TotalBalance, domain.FromFullScan, entry.Incomplete, nil
	}

	if !changed {
		return entry.TotalBalance, domain.FromCache, entry.Incomplete, nil
	}

	entry.AddressBalances = balances
	entry.Monitored = monitored
	entry.FundedAddressCount = len(balances)
	entry.TotalBalance = domain.SumPositiveBalances(balances)
	if err := s.repo.PutEntry(ctx, entry); err != nil {
		return decimal.Zero, domain.FromSubsetCheck, false, err
	}
	return entry.TotalBalance, domain.FromSubsetCheck, entry.Incomplete, nil
}

// CachedBalance returns the cached balance of the extended key without any
// probing or scanning. It returns ErrCacheEntryNotFound for keys that were
// never scanned.
func (s *MonitoringCacheService) CachedBalance(
	ctx context.Context, extendedKey string,
) (decimal.Decimal, bool, error) {
	entry, err := s.repo.GetEntry(ctx, extendedKey)
	if err != nil {
		return decimal.Zero, false, err
	}
	return entry.TotalBalance, entry.Incomplete, nil
}

// Entry returns the raw cache entry for the extended key, scanning first if
// none exists or the existing one expired.
func (s *MonitoringCacheService) Entry(
	ctx context.Context, extendedKey string,
) (*domain.MonitoringCacheEntry, error) {
	lock := s.lockFor(extendedKey)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.repo.GetEntry(ctx, extendedKey)
	if err != nil && !errors.Is(err, domain.ErrCacheEntryNotFound) {
		return nil, err
	}
	if entry != nil && !entry.IsStale(s.maxAge, s.nowFunc()) {
		return entry, nil
	}
	return s.runFullScan(ctx, extendedKey)
}

// DerivedAddressSet returns every address of the scanned prefix of the
// extended key mapped to its derivation index, scanning if needed. It is the
// authoritative input of conflict detection.
func (s *MonitoringCacheService) DerivedAddressSet(
	ctx context.Context, extendedKey string,
) (map[string]uint32, error) {
	entry, err := s.Entry(ctx, extendedKey)
	if err != nil {
		return nil, err
	}
	return s.deriveSet(extendedKey, entry.FinalAddressCount)
}

// DerivedAddressSetCached is like DerivedAddressSet but never triggers a
// scan: keys without a cache entry yield ErrCacheEntryNotFound.
func (s *MonitoringCacheService) DerivedAddressSetCached(
	ctx context.Context, extendedKey string,
) (map[string]uint32, error) {
	entry, err := s.repo.GetEntry(ctx, extendedKey)
	if err != nil {
		return nil, err
	}
	return s.deriveSet(extendedKey, entry.FinalAddressCount)
}

func (s *MonitoringCacheService) deriveSet(
	extendedKey string, count int,
) (map[string]uint32, error) {
	deriver, err := xpub.NewDeriver(extendedKey)
	if err != nil {
		return nil, err
	}
	derived, err := deriver.DeriveRange(0, uint32(count))
	if err != nil {
		return nil, err
	}
	set := make(map[string]uint32, len(derived))
	for _, da := range derived {
		set[da.Address] = da.Index
	}
	return set, nil
}

// runFullScan executes a complete gap-limit scan and replaces the cache
// entry wholesale with its outcome. The monitored subset keeps funded and
// never-used addresses only: spent-and-empty ones are dropped so that later
// subset re-checks never touch them again.
func (s *MonitoringCacheService) runFullScan(
	ctx context.Context, extendedKey string,
) (*domain.MonitoringCacheEntry, error) {
	deriver, err := xpub.NewDeriver(extendedKey)
	if err != nil {
		return nil, err
	}

	result, stats, err := s.scanner.Scan(ctx, deriver)
	if err != nil {
		return nil, err
	}

	monitored := make([]domain.MonitoredAddress, 0, len(result.Addresses))
	balances := make(map[string]uint64)
	fundedCount := 0
	for _, da := range result.Addresses {
		st := stats[da.Address]
		if balance := st.BalanceSats(); balance > 0 {
			balances[da.Address] = balance
			fundedCount++
			monitored = append(monitored, domain.MonitoredAddress{
				Address: da.Address, Index: da.Index,
			})
			continue
		}
		if !st.WasEverUsed() && !st.Unreachable {
			monitored = append(monitored, domain.MonitoredAddress{
				Address: da.Address, Index: da.Index,
			})
		}
	}

	entry := &domain.MonitoringCacheEntry{
		Xpub:               extendedKey,
		LastFullScan:       s.nowFunc(),
		TotalBalance:       domain.SumPositiveBalances(balances),
		Monitored:          monitored,
		AddressBalances:    balances,
		FundedAddressCount: fundedCount,
		FinalAddressCount:  result.FinalCount,
		Incomplete:         result.Aborted,
	}
	if err := s.repo.PutEntry(ctx, entry); err != nil {
		return nil, err
	}

	log.Debugf(
		"scanned key %s: %d addresses, %d funded, total %s BTC",
		shortKey(extendedKey), entry.FinalAddressCount, fundedCount,
		entry.TotalBalance,
	)
	return entry, nil
}

// checkMonitoredSubset re-probes the monitored addresses of a fresh entry
// and reports whether any balance changed, whether the change warrants a
// full rescan, the updated balance map and the surviving monitored subset.
// An address that went to zero after being used is spent-and-empty now and
// leaves the subset so it is never probed again. Unreachable probes leave
// the stored balance untouched so that a flaky explorer never zeroes out a
// wallet.
func (s *MonitoringCacheService) checkMonitoredSubset(
	ctx context.Context, entry *domain.MonitoringCacheEntry,
) (changed, rescanNeeded bool, balances map[string]uint64, monitored []domain.MonitoredAddress) {
	balances = make(map[string]uint64, len(entry.AddressBalances))
	for addr, balance := range entry.AddressBalances {
		balances[addr] = balance
	}

	addresses := entry.MonitoredAddressList()
	if len(addresses) == 0 {
		return false, false, balances, entry.Monitored
	}

	lastBatchStart := entry.FinalAddressCount - s.cfg.StandardIncrement
	if lastBatchStart < 0 {
		lastBatchStart = 0
	}

	spent := make(map[string]struct{})
	for i, st := range s.probe.ProbeBatch(ctx, addresses) {
		if st.Unreachable {
			continue
		}
		m := entry.Monitored[i]
		previous := balances[m.Address]
		current := st.BalanceSats()

		// an address that was used and is empty now leaves the subset even
		// when the balance delta is zero: a never-used address can receive
		// and fully spend funds between two checks
		if st.IsSpentAndEmpty() {
			spent[m.Address] = struct{}{}
		}

		activity := current != previous
		if _, ok := spent[m.Address]; ok {
			// the subset shrank or the balance moved to zero, the entry
			// must be rewritten either way
			activity = true
		}
		if !activity {
			continue
		}

		changed = true
		if current > 0 {
			balances[m.Address] = current
		} else {
			delete(balances, m.Address)
		}
		// usage appearing within the last derivation batch means addresses
		// beyond the scanned prefix may be active by now
		if int(m.Index) >= lastBatchStart {
			rescanNeeded = true
		}
	}

	monitored = make([]domain.MonitoredAddress, 0, len(entry.Monitored))
	for _, m := range entry.Monitored {
		if _, ok := spent[m.Address]; ok {
			continue
		}
		monitored = append(monitored, m)
	}
	return changed, rescanNeeded, balances, monitored
}

func (s *MonitoringCacheService) lockFor(extendedKey string) *sync.Mutex {
	s.keyLocksLock.Lock()
	defer s.keyLocksLock.Unlock()

	lock, ok := s.keyLocks[extendedKey]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[extendedKey] = lock
	}
	return lock
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12] + "..."
}
