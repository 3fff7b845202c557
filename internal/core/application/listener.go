package application

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/satcat21/btc-mempaper-sub000/pkg/monitor"
)

// BalanceListener bridges the background monitor and the monitoring cache:
// it keeps the monitor's observable set in sync with the cached monitored
// subsets and reacts to balance-change events by refreshing the affected
// key through the cache service.
type BalanceListener struct {
	monitorSvc monitor.Service
	cache      *MonitoringCacheService

	// onChange is invoked after a balance change was folded into the cache,
	// letting the caller recompute wallet-wide totals.
	onChange func(ctx context.Context)

	// observablesLock guards the observables map and the started flag
	observablesLock sync.Mutex
	observables     map[string]*monitor.AddressObservable
	started         bool

	quit chan struct{}
}

// NewBalanceListener returns a listener wired to the given monitor and cache
// service. onChange may be nil.
func NewBalanceListener(
	monitorSvc monitor.Service, cache *MonitoringCacheService,
	onChange func(ctx context.Context),
) *BalanceListener {
	return &BalanceListener{
		monitorSvc:  monitorSvc,
		cache:       cache,
		onChange:    onChange,
		observables: map[string]*monitor.AddressObservable{},
		quit:        make(chan struct{}),
	}
}

// Start begins consuming monitor events. It is idempotent.
func (l *BalanceListener) Start() {
	l.observablesLock.Lock()
	defer l.observablesLock.Unlock()

	if l.started {
		return
	}
	l.started = true
	go l.listenToEventChannel()
}

// Stop unregisters every observable and terminates the event loop.
func (l *BalanceListener) Stop() {
	l.observablesLock.Lock()
	defer l.observablesLock.Unlock()

	if !l.started {
		return
	}
	l.started = false

	for key, observable := range l.observables {
		l.monitorSvc.RemoveObservable(observable)
		delete(l.observables, key)
	}

	close(l.quit)
}

// SyncKey registers observables for the monitored subset of the given
// extended key, replacing any previously registered ones for it. The cache
// entry is created by a full scan if the key was never scanned.
func (l *BalanceListener) SyncKey(ctx context.Context, extendedKey string) error {
	entry, err := l.cache.Entry(ctx, extendedKey)
	if err != nil {
		return err
	}

	l.observablesLock.Lock()
	defer l.observablesLock.Unlock()

	for addr, observable := range l.observables {
		if observable.ExtendedKey != extendedKey {
			continue
		}
		if !entry.IsMonitored(addr) {
			l.monitorSvc.RemoveObservable(observable)
			delete(l.observables, addr)
		}
	}

	for _, m := range entry.Monitored {
		if _, ok := l.observables[m.Address]; ok {
			continue
		}
		observable := &monitor.AddressObservable{
			ExtendedKey: extendedKey,
			Address:     m.Address,
			Index:       m.Index,
			LastBalance: entry.AddressBalances[m.Address],
		}
		l.observables[m.Address] = observable
		l.monitorSvc.AddObservable(observable)
	}
	return nil
}

// WatchAddress registers a standalone plain address with the monitor.
func (l *BalanceListener) WatchAddress(address string, lastBalance uint64) {
	l.observablesLock.Lock()
	defer l.observablesLock.Unlock()

	if _, ok := l.observables[address]; ok {
		return
	}
	observable := &monitor.AddressObservable{
		Address:     address,
		LastBalance: lastBalance,
	}
	l.observables[address] = observable
	l.monitorSvc.AddObservable(observable)
}

func (l *BalanceListener) listenToEventChannel() {
	eventChan := l.monitorSvc.GetEventChannel()
	for {
		select {
		case <-l.quit:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			switch e := event.(type) {
			case monitor.QuitEvent:
				return
			case monitor.AddressEvent:
				l.handleAddressEvent(e)
			}
		}
	}
}

func (l *BalanceListener) handleAddressEvent(event monitor.AddressEvent) {
	ctx := context.Background()

	switch event.EventType {
	case monitor.AddressUnreachable:
		log.Warnf("address %s unreachable, keeping last known balance", event.Address)
		return
	case monitor.AddressBalanceChanged:
	default:
		return
	}

	log.Debugf(
		"balance of %s moved from %d to %d sats",
		event.Address, event.PrevBalance, event.Stats.BalanceSats(),
	)

	if event.ExtendedKey != "" {
		// fold the change into the cache, which re-checks the monitored
		// subset and rescans if the change sits near the scanned frontier
		if _, _, _, err := l.cache.GetOrScan(ctx, event.ExtendedKey); err != nil {
			log.WithError(err).Warnf(
				"failed to refresh key %s after balance change",
				shortKey(event.ExtendedKey),
			)
			return
		}
		if err := l.SyncKey(ctx, event.ExtendedKey); err != nil {
			log.WithError(err).Warnf(
				"failed to resync observables of key %s", shortKey(event.ExtendedKey),
			)
		}
	}

	if l.onChange != nil {
		l.onChange(ctx)
	}
}
