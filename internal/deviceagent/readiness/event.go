package readiness

import "fmt"

// EventKind identifies a readiness transition reported by a producer.
type EventKind int

const (
	NetworkUp EventKind = iota + 1
	NetworkDown
	TimeSynced
	BrokerConnectedEvent
	BrokerDisconnectedEvent
)

func (k EventKind) String() string {
	switch k {
	case NetworkUp:
		return "NetworkUp"
	case NetworkDown:
		return "NetworkDown"
	case TimeSynced:
		return "TimeSynced"
	case BrokerConnectedEvent:
		return "BrokerConnected"
	case BrokerDisconnectedEvent:
		return "BrokerDisconnected"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a typed readiness notification.
type Event struct {
	Kind EventKind
	// Session is the broker session generation the event belongs to.
	// Zero for non-broker events.
	Session uint64
	// Err carries the transport error behind a BrokerDisconnected event, if any.
	Err error
}

// Notifier accepts readiness events from producers.
type Notifier interface {
	Notify(Event)
}

// Apply updates g for e. Broker events use SetExclusive so the connected and
// disconnected conditions are never both visible.
func Apply(g *Gate, e Event) {
	switch e.Kind {
	case NetworkUp:
		g.Set(NetworkAvailable)
	case NetworkDown:
		g.Clear(NetworkAvailable)
	case TimeSynced:
		g.Set(TimeSynchronized)
	case BrokerConnectedEvent:
		g.SetExclusive(BrokerConnected, BrokerDisconnected)
	case BrokerDisconnectedEvent:
		g.SetExclusive(BrokerDisconnected, BrokerConnected)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }
