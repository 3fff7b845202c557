package monitor

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
)

// AddressObservable watches a single monitored address, optionally tied to
// the extended key it was derived from.
type AddressObservable struct {
	ExtendedKey string
	Address     string
	Index       uint32
	LastBalance uint64
}

func (a *AddressObservable) Observe(
	ctx context.Context,
	explorerSvc explorer.Service,
	eventChan chan Event,
	errChan chan error,
	rateLimiter *rate.Limiter,
) {
	if a == nil {
		return
	}

	if err := rateLimiter.Wait(ctx); err != nil {
		errChan <- err
		return
	}

	stats, err := explorerSvc.GetAddressStats(ctx, a.Address)
	if err != nil {
		eventChan <- AddressEvent{
			EventType:   AddressUnreachable,
			ExtendedKey: a.ExtendedKey,
			Address:     a.Address,
			Index:       a.Index,
			PrevBalance: a.LastBalance,
		}
		errChan <- err
		return
	}

	if stats.BalanceSats() == a.LastBalance {
		return
	}

	event := AddressEvent{
		EventType:   AddressBalanceChanged,
		ExtendedKey: a.ExtendedKey,
		Address:     a.Address,
		Index:       a.Index,
		PrevBalance: a.LastBalance,
		Stats:       *stats,
	}
	a.LastBalance = stats.BalanceSats()
	eventChan <- event
}

func (a *AddressObservable) Key() string {
	return a.Address
}
