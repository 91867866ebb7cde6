package failure

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestAccumulatorRecordAndReset(t *testing.T) {
	ctx := context.Background()
	fake := clocktesting.NewFakePassiveClock(epoch)
	store := NewMemoryStore()
	acc := New(ctx, store, WithClock(fake))

	acc.Record(ctx, JWT)
	fake.SetTime(epoch.Add(time.Minute))
	rec := acc.Record(ctx, MQTT)

	assert.Equal(t, uint32(2), rec.Count)
	assert.Equal(t, JWT|MQTT, rec.Mask)
	assert.Equal(t, epoch.Add(time.Minute), rec.UpdatedAt)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, persisted)

	acc.Reset(ctx)
	assert.True(t, acc.Snapshot().IsZero())
	persisted, err = store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, persisted.IsZero())
}

func TestAccumulatorMaskIsSticky(t *testing.T) {
	ctx := context.Background()
	acc := New(ctx, nil)

	acc.Record(ctx, SNTP)
	acc.Record(ctx, SNTP)
	acc.Record(ctx, Timeout|WiFi)

	rec := acc.Snapshot()
	assert.Equal(t, uint32(3), rec.Count)
	assert.Equal(t, SNTP|Timeout|WiFi, rec.Mask)
	assert.True(t, rec.Mask.Has(Timeout))
	assert.False(t, rec.Mask.Has(MQTT))
}

func TestAccumulatorRestoresFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Record{Count: 4, Mask: MQTT | IP}))

	acc := New(ctx, store)
	restored := acc.Snapshot()
	assert.Equal(t, uint32(5), restored.Count)
	assert.Equal(t, MQTT|IP|Restart, restored.Mask)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, restored, persisted)

	rec := acc.Record(ctx, JWT)
	assert.Equal(t, uint32(6), rec.Count)
	assert.Equal(t, MQTT|IP|Restart|JWT, rec.Mask)
}

func TestAccumulatorEmptyStoreIsNotARestart(t *testing.T) {
	ctx := context.Background()
	acc := New(ctx, NewMemoryStore())
	assert.True(t, acc.Snapshot().IsZero())
}

// gatedStore blocks the first Save until release is closed.
type gatedStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func (s *gatedStore) Save(ctx context.Context, rec Record) error {
	s.first.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.MemoryStore.Save(ctx, rec)
}

func TestAccumulatorSavesInMutationOrder(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	acc := New(ctx, store)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		acc.Record(ctx, MQTT)
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		acc.Reset(ctx)
	}()
	// Give Reset a chance to run while the first save is still pending.
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, acc.Snapshot().Count, persisted.Count)
	assert.Equal(t, acc.Snapshot().Mask, persisted.Mask)

	restarted := New(ctx, store.MemoryStore)
	assert.Equal(t, acc.Snapshot().IsZero(), restarted.Snapshot().IsZero())
}

type brokenStore struct{}

func (brokenStore) Load(context.Context) (Record, error) { return Record{}, errors.New("disk gone") }
func (brokenStore) Save(context.Context, Record) error   { return errors.New("disk gone") }

func TestAccumulatorStoreErrorsAreNotFatal(t *testing.T) {
	ctx := context.Background()
	acc := New(ctx, brokenStore{})

	rec := acc.Record(ctx, MQTT)
	assert.Equal(t, uint32(1), rec.Count)
	acc.Reset(ctx)
	assert.True(t, acc.Snapshot().IsZero())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "none", Kind(0).String())
	assert.Equal(t, "jwt,mqtt", (JWT | MQTT).String())
	assert.Equal(t, "restart,wifi", (Restart | WiFi).String())
	assert.Equal(t, "timeout,0x100", (Timeout | 1<<8).String())
}

func TestKindValues(t *testing.T) {
	assert.Equal(t, Kind(1), Restart)
	assert.Equal(t, Kind(2), JWT)
	assert.Equal(t, Kind(4), SNTP)
	assert.Equal(t, Kind(8), MQTT)
	assert.Equal(t, Kind(16), Timeout)
	assert.Equal(t, Kind(32), WiFi)
	assert.Equal(t, Kind(64), IP)
}

func TestStores(t *testing.T) {
	ctx := context.Background()

	sqlite, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "state", "failures.yaml")),
		"sqlite": sqlite,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			empty, err := store.Load(ctx)
			require.NoError(t, err)
			assert.True(t, empty.IsZero())

			want := Record{Count: 7, Mask: JWT | Timeout, UpdatedAt: epoch}
			require.NoError(t, store.Save(ctx, want))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want.Count, got.Count)
			assert.Equal(t, want.Mask, got.Mask)
			assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

			require.NoError(t, store.Save(ctx, Record{}))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.True(t, got.IsZero())
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "failures.yaml")

	acc := New(ctx, NewFileStore(path))
	acc.Record(ctx, WiFi)
	acc.Record(ctx, Timeout)

	reopened := New(ctx, NewFileStore(path))
	rec := reopened.Snapshot()
	assert.Equal(t, uint32(3), rec.Count)
	assert.Equal(t, WiFi|Timeout|Restart, rec.Mask)
}
