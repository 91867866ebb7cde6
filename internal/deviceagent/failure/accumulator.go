// Package failure keeps a persisted, sticky record of connectivity failures
// since the last confirmed delivery.
package failure

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devicelink/internal/pkg/metrics"
	"github.com/autopeer-io/devicelink/pkg/log"
)

// Record is the accumulated failure state.
type Record struct {
	Count     uint32    `json:"count" yaml:"count"`
	Mask      Kind      `json:"mask" yaml:"mask"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// IsZero reports whether no failure has been recorded.
func (r Record) IsZero() bool {
	return r.Count == 0 && r.Mask == 0
}

// Accumulator counts failures and ORs their kinds until Reset. Every mutation
// is written through to the store.
type Accumulator struct {
	// persistMu is held across mutate-and-save so the store sees records in
	// mutation order. mu alone guards record.
	persistMu sync.Mutex
	mu        sync.Mutex
	record    Record

	store Store
	clock clock.PassiveClock
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock sets the clock used for UpdatedAt.
func WithClock(c clock.PassiveClock) Option {
	return func(a *Accumulator) { a.clock = c }
}

// New restores the last persisted record from store. A nil store keeps the
// record in memory only. A load error is logged and the accumulator starts empty.
// A restored non-zero record means the device restarted before a confirmed
// delivery, which is recorded as Restart.
func New(ctx context.Context, store Store, opts ...Option) *Accumulator {
	if store == nil {
		store = NewMemoryStore()
	}
	a := &Accumulator{store: store, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(a)
	}

	rec, err := store.Load(ctx)
	if err != nil {
		log.FromContext(ctx).Error(err, "Failed to load failure record, starting empty")
	} else {
		a.record = rec
	}
	if !a.record.IsZero() {
		a.Record(ctx, Restart)
	}
	a.observe()
	return a
}

// Record increments the count and adds kind to the mask.
func (a *Accumulator) Record(ctx context.Context, kind Kind) Record {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	a.mu.Lock()
	a.record.Count++
	a.record.Mask |= kind
	a.record.UpdatedAt = a.clock.Now()
	rec := a.record
	a.mu.Unlock()

	metrics.FailuresTotal.WithLabelValues(kind.String()).Inc()
	a.observe()
	a.persist(ctx, rec)
	return rec
}

// Reset clears the record. It is called after a confirmed delivery.
func (a *Accumulator) Reset(ctx context.Context) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	a.mu.Lock()
	if a.record.IsZero() {
		a.mu.Unlock()
		return
	}
	a.record = Record{UpdatedAt: a.clock.Now()}
	rec := a.record
	a.mu.Unlock()

	a.observe()
	a.persist(ctx, rec)
}

// Snapshot returns a copy of the current record.
func (a *Accumulator) Snapshot() Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record
}

func (a *Accumulator) observe() {
	rec := a.Snapshot()
	metrics.FailureCount.Set(float64(rec.Count))
	metrics.FailureMask.Set(float64(rec.Mask))
}

func (a *Accumulator) persist(ctx context.Context, rec Record) {
	if err := a.store.Save(ctx, rec); err != nil {
		log.FromContext(ctx).Error(err, "Failed to persist failure record", "count", rec.Count, "mask", rec.Mask.String())
	}
}
