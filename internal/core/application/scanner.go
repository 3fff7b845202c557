package application

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
	"github.com/satcat21/btc-mempaper-sub000/pkg/xpub"
)

// ScanConfig holds the knobs of the gap-limit discovery algorithm.
type ScanConfig struct {
	// GapLimit is the consecutive-unused threshold after which, once usage
	// has been confirmed somewhere, the scan converges.
	GapLimit int
	// BootstrapIncrement is the widening step while no usage has been
	// confirmed yet.
	BootstrapIncrement int
	// StandardIncrement is the widening step once usage has been confirmed.
	StandardIncrement int
	// BootstrapMaxAddresses is the hard ceiling of derived addresses.
	BootstrapMaxAddresses int
}

// DefaultScanConfig returns the scan configuration used when none is
// provided explicitly.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		GapLimit:              20,
		BootstrapIncrement:    20,
		StandardIncrement:     20,
		BootstrapMaxAddresses: 1000,
	}
}

// Scanner discovers the active address prefix of an extended key.
type Scanner interface {
	Scan(ctx context.Context, deriver *xpub.Deriver) (
		*domain.ScanResult, map[string]explorer.AddressStats, error,
	)
}

// GapLimitScanner drives an address deriver and a usage probe to find the
// full active-address prefix of an extended key.
//
// The scan starts in a bootstrap phase that keeps widening the derivation
// past apparent gaps until usage is confirmed somewhere: a wallet may simply
// start its activity far from index 0, and a plain single-pass gap-limit
// walk would stop the moment it meets GapLimit consecutive unused addresses
// even if funds exist beyond that point. Once usage is confirmed, ordinary
// gap-limit semantics apply.
type GapLimitScanner struct {
	probe UsageProbe
	cfg   ScanConfig

	inflightLock sync.Mutex
	inflight     map[string]*inflightScan
}

type inflightScan struct {
	done   chan struct{}
	result *domain.ScanResult
	stats  map[string]explorer.AddressStats
	err    error
}

// NewGapLimitScanner returns a scanner using the given probe and config.
func NewGapLimitScanner(probe UsageProbe, cfg ScanConfig) *GapLimitScanner {
	if cfg.GapLimit <= 0 || cfg.BootstrapIncrement <= 0 ||
		cfg.StandardIncrement <= 0 || cfg.BootstrapMaxAddresses <= 0 {
		cfg = DefaultScanConfig()
	}

	return &GapLimitScanner{
		probe:    probe,
		cfg:      cfg,
		inflight: map[string]*inflightScan{},
	}
}

// Scan finds the active address prefix of the deriver's extended key and
// returns it along with the usage info accumulated for every derived
// address. Exactly one scan executes per extended key: a concurrent caller
// for the same key waits for the running scan and shares its outcome instead
// of duplicating the expensive fan-out.
func (s *GapLimitScanner) Scan(
	ctx context.Context, deriver *xpub.Deriver,
) (*domain.ScanResult, map[string]explorer.AddressStats, error) {
	key := deriver.Key()

	s.inflightLock.Lock()
	if running, ok := s.inflight[key]; ok {
		s.inflightLock.Unlock()
		select {
		case <-running.done:
			return running.result, running.stats, running.err
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	running := &inflightScan{done: make(chan struct{})}
	s.inflight[key] = running
	s.inflightLock.Unlock()

	result, stats, err := s.runScan(ctx, deriver)

	running.result, running.stats, running.err = result, stats, err
	s.inflightLock.Lock()
	delete(s.inflight, key)
	s.inflightLock.Unlock()
	close(running.done)

	return result, stats, err
}

func (s *GapLimitScanner) runScan(
	ctx context.Context, deriver *xpub.Deriver,
) (*domain.ScanResult, map[string]explorer.AddressStats, error) {
	scanID := uuid.NewString()[:8]

	derived := make([]xpub.DerivedAddress, 0, s.cfg.BootstrapIncrement)
	stats := make(map[string]explorer.AddressStats)
	usageConfirmed := false
	aborted := false
	targetCount := s.cfg.BootstrapIncrement

	log.Debugf("scan %s: starting discovery for %s key", scanID, deriver.ScriptType())

	for {
		if targetCount > s.cfg.BootstrapMaxAddresses {
			targetCount = s.cfg.BootstrapMaxAddresses
		}

		// derive and probe only the newly added indices, usage info of
		// previously probed addresses is retained
		batch, err := deriver.DeriveRange(uint32(len(derived)), uint32(targetCount))
		if err != nil {
			return nil, nil, err
		}

		batchAddresses := make([]string, len(batch))
		for i, da := range batch {
			batchAddresses[i] = da.Address
		}
		for i, st := range s.probe.ProbeBatch(ctx, batchAddresses) {
			stats[batch[i].Address] = st
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		derived = append(derived, batch...)
		if !usageConfirmed {
			usageConfirmed = s.anyUsed(derived, stats)
		}

		atCeiling := len(derived) >= s.cfg.BootstrapMaxAddresses

		if s.windowUsed(derived, stats) {
			// activity within the last GapLimit addresses, keep widening
			if atCeiling {
				log.Warnf(
					"scan %s: derivation ceiling of %d reached with recent activity, "+
						"results may be incomplete", scanID, s.cfg.BootstrapMaxAddresses,
				)
				aborted = true
				break
			}
			targetCount = len(derived) + s.cfg.StandardIncrement
			log.Debugf("scan %s: widening to %d addresses", scanID, targetCount)
			continue
		}

		if !usageConfirmed {
			if atCeiling {
				// the wallet appears unused
				log.Debugf(
					"scan %s: no usage found within %d addresses, giving up",
					scanID, s.cfg.BootstrapMaxAddresses,
				)
				aborted = true
				break
			}
			// no usage seen anywhere yet: the wallet may start its activity
			// far from index 0, so keep expanding instead of stopping at an
			// apparent gap
			targetCount = len(derived) + s.cfg.BootstrapIncrement
			log.Debugf("scan %s: bootstrapping to %d addresses", scanID, targetCount)
			continue
		}

		// usage confirmed and the last GapLimit addresses are clean
		break
	}

	log.Debugf(
		"scan %s: converged with %d addresses (aborted=%t)",
		scanID, len(derived), aborted,
	)

	return &domain.ScanResult{
		Addresses:  derived,
		FinalCount: len(derived),
		Aborted:    aborted,
	}, stats, nil
}

// windowUsed reports whether any of the last GapLimit derived addresses was
// ever used.
func (s *GapLimitScanner) windowUsed(
	derived []xpub.DerivedAddress, stats map[string]explorer.AddressStats,
) bool {
	start := len(derived) - s.cfg.GapLimit
	if start < 0 {
		start = 0
	}
	for _, da := range derived[start:] {
		if stats[da.Address].WasEverUsed() {
			return true
		}
	}
	return false
}

func (s *GapLimitScanner) anyUsed(
	derived []xpub.DerivedAddress, stats map[string]explorer.AddressStats,
) bool {
	for _, da := range derived {
		if stats[da.Address].WasEverUsed() {
			return true
		}
	}
	return false
}
