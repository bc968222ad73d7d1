package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordEvent(t *testing.T) {
	t.Run("Lazy Creation", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		require.Zero(t, r.Len())
		require.Empty(t, r.Enumerate())

		id := NewBucketIdentity("l", "r", "GET", true)
		r.RecordEvent(id, 100, 300)
		r.RecordEvent(id, 200, 400)

		entries := r.Enumerate()
		require.Len(t, entries, 1)
		require.Equal(t, id, entries[0].Identity)
		require.Equal(t, int64(2), entries[0].FirstResponse.Count())
		require.Equal(t, int64(2), entries[0].Completion.Count())

		completion := entries[0].Completion.Snapshot(time.Nanosecond)
		require.Equal(t, int64(300), completion.Min())
		require.Equal(t, int64(400), completion.Max())
	})

	t.Run("Concurrent First Observation", func(t *testing.T) {
		var created atomic.Int64
		r := NewRegistry(func() Reservoir {
			created.Add(1)
			return NewUniformReservoir(16)
		}, nil)

		id := NewBucketIdentity("l", "r", "GET", true)
		start := make(chan struct{})
		var wg sync.WaitGroup
		workers := 64
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				<-start
				r.RecordEvent(id, 1, 2)
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, 1, r.Len())
		require.Equal(t, int64(2), created.Load())
		require.Equal(t, int64(workers), r.Enumerate()[0].FirstResponse.Count())
	})
}

func TestRegistry_Enumerate(t *testing.T) {
	r := NewRegistry(nil, nil)
	ids := []BucketIdentity{
		NewBucketIdentity("c", "r", "GET", true),
		NewBucketIdentity("a", "r", "SET", true),
		NewBucketIdentity("a", "r", "GET", true),
		NewBucketIdentity("b", "r", "GET", true),
	}
	for _, id := range ids {
		r.RecordEvent(id, 1, 1)
	}
	// An empty bucket holds no information and is skipped.
	r.getOrCreate(NewBucketIdentity("0", "r", "GET", true))
	require.Equal(t, 5, r.Len())

	entries := r.Enumerate()
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i-1].Identity.Less(entries[i].Identity))
	}
	require.Equal(t, NewBucketIdentity("a", "r", "GET", true), entries[0].Identity)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(nil, nil)
	id := NewBucketIdentity("l", "r", "GET", true)
	r.RecordEvent(id, 1, 1)
	r.RecordEvent(id, 1, 1)

	r.Remove(id)
	require.Zero(t, r.Len())
	require.Empty(t, r.Enumerate())

	// Removing twice or removing an unknown identity is harmless.
	r.Remove(id)
	r.Remove(NewBucketIdentity("x", "y", "z", true))

	r.RecordEvent(id, 5, 5)
	entries := r.Enumerate()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].FirstResponse.Count())
}

func TestRegistry_Collect(t *testing.T) {
	t.Run("Without Remove", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		id := NewBucketIdentity("l", "r", "GET", true)
		r.RecordEvent(id, 1, 1)

		visits := 0
		r.Collect(false, func(BucketIdentity, Reservoir, Reservoir) { visits++ })
		r.Collect(false, func(BucketIdentity, Reservoir, Reservoir) { visits++ })
		require.Equal(t, 2, visits)
		require.Equal(t, 1, r.Len())
	})

	t.Run("With Remove", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		r.RecordEvent(NewBucketIdentity("l", "r", "GET", true), 1, 1)
		r.RecordEvent(NewBucketIdentity("l", "r", "SET", true), 1, 1)

		var seen []OperationType
		r.Collect(true, func(id BucketIdentity, _, _ Reservoir) { seen = append(seen, id.Operation()) })
		require.Equal(t, []OperationType{"GET", "SET"}, seen)
		require.Zero(t, r.Len())

		r.Collect(true, func(BucketIdentity, Reservoir, Reservoir) { t.Fatal("unexpected bucket") })
	})

	t.Run("No Event Lost Across Resets", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		keys := make([]BucketIdentity, 4)
		for i := range keys {
			keys[i] = NewBucketIdentity(Endpoint(fmt.Sprintf("l%d", i)), "r", "GET", true)
		}

		var collected atomic.Int64
		drain := func() {
			r.Collect(true, func(_ BucketIdentity, first, _ Reservoir) {
				collected.Add(first.Count())
			})
		}

		workers, perWorker := 8, 2000
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(w int) {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					r.RecordEvent(keys[(w+j)%len(keys)], int64(j), int64(j))
				}
			}(i)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 200; i++ {
				drain()
			}
		}()

		wg.Wait()
		<-done
		drain()

		require.Equal(t, int64(workers*perWorker), collected.Load())
	})
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry(nil, nil)
	id := NewBucketIdentity("l", "r", "GET", true)
	r.RecordEvent(id, 1, 1)
	entry := r.Enumerate()[0]

	r.Clear()
	require.Zero(t, r.Len())
	require.Zero(t, entry.FirstResponse.Count())
	require.Zero(t, entry.Completion.Count())
}
