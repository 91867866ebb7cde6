package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// lossTracker reports the end of a session at most once. A loss that arrives
// before Dial has returned the session is held back and makes establish fail,
// so the caller always hears about it one way or the other.
type lossTracker struct {
	onLost ConnectionLostHandler
	closed atomic.Bool
	once   sync.Once

	stateMu     sync.Mutex
	established bool
	lostEarly   bool
	earlyErr    error
}

func (t *lossTracker) lost(err error) {
	t.stateMu.Lock()
	if !t.established {
		if !t.lostEarly {
			t.lostEarly, t.earlyErr = true, err
		}
		t.stateMu.Unlock()
		return
	}
	t.stateMu.Unlock()

	if t.closed.Load() {
		return
	}
	t.once.Do(func() {
		t.closed.Store(true)
		if t.onLost != nil {
			t.onLost(err)
		}
	})
}

// establish marks the session as handed to the caller.
func (t *lossTracker) establish() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.lostEarly {
		t.closed.Store(true)
		if t.earlyErr != nil {
			return fmt.Errorf("%w: connection lost during connect: %w", ErrBrokerConnect, t.earlyErr)
		}
		return fmt.Errorf("%w: connection lost during connect", ErrBrokerConnect)
	}
	t.established = true
	return nil
}
