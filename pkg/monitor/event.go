package monitor

import "github.com/satcat21/btc-mempaper-sub000/pkg/explorer"

const (
	QuitSignal EventType = iota
	AddressBalanceChanged
	AddressUnreachable
)

type EventType int

func (et EventType) String() string {
	switch et {
	case QuitSignal:
		return "QuitSignal"
	case AddressBalanceChanged:
		return "AddressBalanceChanged"
	case AddressUnreachable:
		return "AddressUnreachable"
	default:
		return "Unknown"
	}
}

type QuitEvent struct{}

func (q QuitEvent) Type() EventType {
	return QuitSignal
}

// AddressEvent is emitted when the observed balance of a monitored address
// differs from the last known one, or when the address became unreachable.
type AddressEvent struct {
	EventType   EventType
	ExtendedKey string
	Address     string
	Index       uint32
	PrevBalance uint64
	Stats       explorer.AddressStats
}

func (a AddressEvent) Type() EventType {
	return a.EventType
}
