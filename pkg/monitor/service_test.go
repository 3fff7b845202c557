package monitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
	"github.com/satcat21/btc-mempaper-sub000/pkg/monitor"
)

type mockExplorer struct {
	lock     sync.Mutex
	balances map[string]uint64
	failing  bool
}

func (m *mockExplorer) GetAddressStats(
	_ context.Context, address string,
) (*explorer.AddressStats, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.failing {
		return nil, errors.New("connection refused")
	}

	balance := m.balances[address]
	return &explorer.AddressStats{
		Address:    address,
		FundedSats: balance,
		TxCount:    1,
	}, nil
}

func (m *mockExplorer) GetBlockHeight(_ context.Context) (int, error) {
	return 810000, nil
}

func (m *mockExplorer) setBalance(address string, balance uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.balances[address] = balance
}

func TestObserveBalanceChange(t *testing.T) {
	explorerSvc := &mockExplorer{balances: map[string]uint64{"addr1": 1000}}

	svc := monitor.NewService(monitor.Opts{
		ExplorerSvc:       explorerSvc,
		Interval:          20 * time.Millisecond,
		RequestsPerSecond: 1000,
	})
	go svc.Start()

	svc.AddObservable(&monitor.AddressObservable{
		ExtendedKey: "zpub-test",
		Address:     "addr1",
		Index:       3,
		LastBalance: 0,
	})

	event := nextAddressEvent(t, svc.GetEventChannel())
	require.Equal(t, monitor.AddressBalanceChanged, event.Type())
	require.Equal(t, "addr1", event.Address)
	require.Equal(t, uint32(3), event.Index)
	require.Equal(t, uint64(0), event.PrevBalance)
	require.Equal(t, uint64(1000), event.Stats.BalanceSats())

	// a further change is picked up on a later tick
	explorerSvc.setBalance("addr1", 2500)
	event = nextAddressEvent(t, svc.GetEventChannel())
	require.Equal(t, uint64(1000), event.PrevBalance)
	require.Equal(t, uint64(2500), event.Stats.BalanceSats())

	svc.Stop()
	requireQuitEvent(t, svc.GetEventChannel())
}

func TestObserveUnreachableExplorer(t *testing.T) {
	explorerSvc := &mockExplorer{balances: map[string]uint64{}, failing: true}

	errCount := 0
	errDone := make(chan struct{})
	svc := monitor.NewService(monitor.Opts{
		ExplorerSvc:       explorerSvc,
		Interval:          20 * time.Millisecond,
		RequestsPerSecond: 1000,
		ErrorHandler: func(err error) {
			errCount++
			select {
			case <-errDone:
			default:
				close(errDone)
			}
		},
	})
	go svc.Start()

	svc.AddObservable(&monitor.AddressObservable{Address: "addr1"})

	event := nextAddressEvent(t, svc.GetEventChannel())
	require.Equal(t, monitor.AddressUnreachable, event.Type())

	select {
	case <-errDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error handler")
	}

	svc.Stop()
}

func TestStartBlocksUntilStop(t *testing.T) {
	explorerSvc := &mockExplorer{balances: map[string]uint64{}}

	svc := monitor.NewService(monitor.Opts{
		ExplorerSvc:       explorerSvc,
		Interval:          20 * time.Millisecond,
		RequestsPerSecond: 1000,
	})

	// Start consumes the error channel for the monitor's whole lifetime, so
	// callers must run it on its own goroutine
	done := make(chan struct{})
	go func() {
		svc.Start()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Start returned before Stop was called")
	case <-time.After(50 * time.Millisecond):
	}

	svc.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func nextAddressEvent(t *testing.T, events chan monitor.Event) monitor.AddressEvent {
	t.Helper()
	for {
		select {
		case event := <-events:
			if addrEvent, ok := event.(monitor.AddressEvent); ok {
				return addrEvent
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for address event")
		}
	}
}

func requireQuitEvent(t *testing.T, events chan monitor.Event) {
	t.Helper()
	for {
		select {
		case event := <-events:
			if event.Type() == monitor.QuitSignal {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for quit event")
		}
	}
}
