// Package readiness implements the shared set of boolean conditions the agent
// waits on before talking to the broker.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrReadinessTimeout is returned when the awaited conditions did not hold in time.
var ErrReadinessTimeout = errors.New("readiness timeout")

// Condition is a bit set of readiness conditions.
type Condition uint32

const (
	// NetworkAvailable is set and cleared by the network watcher.
	NetworkAvailable Condition = 1 << 0
	// TimeSynchronized is set once by the clock sync source and never cleared.
	TimeSynchronized Condition = 1 << 1
	// BrokerConnected is set while a broker session is up.
	BrokerConnected Condition = 1 << 3
	// BrokerDisconnected is set while no broker session is up.
	BrokerDisconnected Condition = 1 << 4
)

var conditionNames = []struct {
	c    Condition
	name string
}{
	{NetworkAvailable, "NetworkAvailable"},
	{TimeSynchronized, "TimeSynchronized"},
	{BrokerConnected, "BrokerConnected"},
	{BrokerDisconnected, "BrokerDisconnected"},
}

func (c Condition) String() string {
	if c == 0 {
		return "None"
	}
	var names []string
	for _, n := range conditionNames {
		if c&n.c != 0 {
			names = append(names, n.name)
			c &^= n.c
		}
	}
	if c != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(c)))
	}
	return strings.Join(names, "|")
}

// Gate holds the current conditions. All methods are safe for concurrent use.
type Gate struct {
	mu   sync.Mutex
	bits Condition

	// changed is closed and replaced whenever bits changes.
	changed chan struct{}
}

// NewGate returns a gate with no condition asserted.
func NewGate() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// Set asserts c. Setting an already asserted condition is a no-op.
func (g *Gate) Set(c Condition) {
	g.SetExclusive(c, 0)
}

// Clear deasserts c. Clearing an already clear condition is a no-op.
func (g *Gate) Clear(c Condition) {
	g.SetExclusive(0, c)
}

// SetExclusive asserts set and deasserts clear in one step, so no waiter can
// observe both or neither of a mutually exclusive pair.
func (g *Gate) SetExclusive(set, clear Condition) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := (g.bits &^ clear) | set
	if next == g.bits {
		return
	}
	g.bits = next
	close(g.changed)
	g.changed = make(chan struct{})
}

// Get returns the currently asserted conditions.
func (g *Gate) Get() Condition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Has reports whether every condition in c is asserted.
func (g *Gate) Has(c Condition) bool {
	return g.Get()&c == c
}

// WaitUntil blocks until every condition in c is asserted at the same time.
// It returns ErrReadinessTimeout if ctx reaches its deadline first and
// ctx.Err() if ctx is cancelled.
func (g *Gate) WaitUntil(ctx context.Context, c Condition) error {
	for {
		g.mu.Lock()
		bits, changed := g.bits, g.changed
		g.mu.Unlock()

		if bits&c == c {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: waiting for %s", ErrReadinessTimeout, c&^g.Get())
			}
			return ctx.Err()
		}
	}
}

// WaitFor is WaitUntil bounded by timeout. A zero timeout waits without limit.
func (g *Gate) WaitFor(ctx context.Context, c Condition, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return g.WaitUntil(ctx, c)
}
