package application

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/satcat21/btc-mempaper-sub000/pkg/circuitbreaker"
	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
)

// UsageProbe looks up the usage info of addresses against the external
// explorer. Lookups never fail: an invalid address or an unreachable
// explorer degrades to a zero/never-used result so that a single bad address
// cannot halt a scan.
type UsageProbe interface {
	Probe(ctx context.Context, address string) explorer.AddressStats
	ProbeBatch(ctx context.Context, addresses []string) []explorer.AddressStats
}

type balanceProbe struct {
	explorerSvc explorer.Service
	net         *chaincfg.Params
	cb          *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	concurrency int
}

// NewBalanceProbe returns a UsageProbe fanning out to the given explorer
// with at most concurrency parallel requests, paced by requestsPerSecond.
func NewBalanceProbe(
	explorerSvc explorer.Service, net *chaincfg.Params,
	concurrency int, requestsPerSecond float64,
) UsageProbe {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}

	return &balanceProbe{
		explorerSvc: explorerSvc,
		net:         net,
		cb:          circuitbreaker.NewCircuitBreaker("explorer"),
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), concurrency),
		concurrency: concurrency,
	}
}

func (p *balanceProbe) Probe(ctx context.Context, address string) explorer.AddressStats {
	// an invalid address short-circuits to a never-used result without
	// touching the network
	if _, err := btcutil.DecodeAddress(address, p.net); err != nil {
		log.Debugf("probe: skipping invalid address %s", address)
		return explorer.AddressStats{Address: address}
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return explorer.AddressStats{Address: address, Unreachable: true}
	}

	iStats, err := p.cb.Execute(func() (interface{}, error) {
		return p.explorerSvc.GetAddressStats(ctx, address)
	})
	if err != nil {
		log.WithError(err).Warnf("probe: lookup failed for address %s", address)
		return explorer.AddressStats{Address: address, Unreachable: true}
	}

	return *iStats.(*explorer.AddressStats)
}

func (p *balanceProbe) ProbeBatch(
	ctx context.Context, addresses []string,
) []explorer.AddressStats {
	stats := make([]explorer.AddressStats, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, address := range addresses {
		i, address := i, address
		g.Go(func() error {
			stats[i] = p.Probe(gctx, address)
			return nil
		})
	}
	// the group never returns an error, every probe degrades instead
	g.Wait()

	return stats
}
