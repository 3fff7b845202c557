package monitor

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
)

// Event are emitted through a channel during observation.
type Event interface {
	Type() EventType
}

// Observable represents a watched object whose chain state is re-checked at
// every interval tick.
type Observable interface {
	Observe(
		ctx context.Context,
		explorerSvc explorer.Service,
		eventChan chan Event,
		errChan chan error,
		rateLimiter *rate.Limiter,
	)
	Key() string
}

// Service is the interface for the balance monitor.
type Service interface {
	Start()
	Stop()
	AddObservable(observable Observable)
	RemoveObservable(observable Observable)
	GetEventChannel() chan Event
}
