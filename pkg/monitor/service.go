package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
)

const (
	eventQueueMaxSize = 100
	errorQueueMaxSize = 10
)

type balanceMonitor struct {
	interval     time.Duration
	explorerSvc  explorer.Service
	errChan      chan error
	eventChan    chan Event
	observables  map[string]*observableHandler
	errorHandler func(err error)
	rateLimiter  *rate.Limiter
	mutex        *sync.RWMutex
	wg           *sync.WaitGroup
}

// Opts defines the parameters needed for creating a monitor service with the
// NewService method.
type Opts struct {
	ExplorerSvc       explorer.Service
	Interval          time.Duration
	RequestsPerSecond float64
	ErrorHandler      func(err error)
}

// NewService returns a balance monitor ready to watch for balance changes of
// monitored addresses. Use Start and Stop methods to manage it.
func NewService(opts Opts) Service {
	requestsPerSecond := opts.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(err error) {}
	}

	return &balanceMonitor{
		interval:     opts.Interval,
		explorerSvc:  opts.ExplorerSvc,
		errChan:      make(chan error, errorQueueMaxSize),
		eventChan:    make(chan Event, eventQueueMaxSize),
		observables:  map[string]*observableHandler{},
		errorHandler: errorHandler,
		rateLimiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		mutex:        &sync.RWMutex{},
		wg:           &sync.WaitGroup{},
	}
}

// Start consumes the error channel until the monitor is stopped, forwarding
// every observation error to the configured handler.
func (b *balanceMonitor) Start() {
	for err := range b.errChan {
		b.errorHandler(err)
	}
}

// Stop stops all observable handlers and signals the event channel consumer.
func (b *balanceMonitor) Stop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, handler := range b.observables {
		handler.stop()
	}
	b.observables = map[string]*observableHandler{}
	b.wg.Wait()
	b.eventChan <- QuitEvent{}
	close(b.errChan)
}

// GetEventChannel returns the channel events are emitted on.
func (b *balanceMonitor) GetEventChannel() chan Event {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.eventChan
}

// AddObservable starts watching the given observable, unless the same key is
// watched already.
func (b *balanceMonitor) AddObservable(observable Observable) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, ok := b.observables[observable.Key()]; !ok {
		handler := newObservableHandler(
			observable, b.explorerSvc, b.wg, b.interval,
			b.eventChan, b.errChan, b.rateLimiter,
		)

		b.observables[observable.Key()] = handler
		b.wg.Add(1)
		go handler.start()
	}
}

// RemoveObservable stops watching the given observable.
func (b *balanceMonitor) RemoveObservable(observable Observable) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if handler, ok := b.observables[observable.Key()]; ok {
		handler.stop()
		delete(b.observables, observable.Key())
	}
}

type observableHandler struct {
	observable  Observable
	explorerSvc explorer.Service
	wg          *sync.WaitGroup
	ticker      *time.Ticker
	eventChan   chan Event
	errChan     chan error
	rateLimiter *rate.Limiter
	quitChan    chan struct{}
	stopOnce    sync.Once
}

func newObservableHandler(
	observable Observable,
	explorerSvc explorer.Service,
	wg *sync.WaitGroup,
	interval time.Duration,
	eventChan chan Event,
	errChan chan error,
	rateLimiter *rate.Limiter,
) *observableHandler {
	return &observableHandler{
		observable:  observable,
		explorerSvc: explorerSvc,
		wg:          wg,
		ticker:      time.NewTicker(interval),
		eventChan:   eventChan,
		errChan:     errChan,
		rateLimiter: rateLimiter,
		quitChan:    make(chan struct{}),
	}
}

func (h *observableHandler) start() {
	defer h.wg.Done()

	// observe once immediately, then at every tick
	h.observe()
	for {
		select {
		case <-h.ticker.C:
			h.observe()
		case <-h.quitChan:
			h.ticker.Stop()
			return
		}
	}
}

func (h *observableHandler) observe() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.observable.Observe(
			ctx, h.explorerSvc, h.eventChan, h.errChan, h.rateLimiter,
		)
	}()

	select {
	case <-done:
	case <-h.quitChan:
	}
}

func (h *observableHandler) stop() {
	h.stopOnce.Do(func() {
		close(h.quitChan)
	})
}
