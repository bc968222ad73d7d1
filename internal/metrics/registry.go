package metrics

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const registryShards = 32

// bucket holds the two reservoirs of one identity. retired is set, under mu,
// once the bucket has been removed from its shard; writers that still hold a
// pointer to it must look the identity up again.
type bucket struct {
	mu            sync.Mutex
	identity      BucketIdentity
	firstResponse Reservoir
	completion    Reservoir
	retired       bool
}

func (b *bucket) empty() bool {
	return b.firstResponse.Count() == 0 && b.completion.Count() == 0
}

type registryShard struct {
	mu      sync.RWMutex
	buckets map[BucketIdentity]*bucket
}

// Entry is one bucket as returned by Registry.Enumerate.
type Entry struct {
	Identity      BucketIdentity
	FirstResponse Reservoir
	Completion    Reservoir
}

// Registry maps bucket identities to reservoir pairs. Identities are spread
// over shards so concurrent writers to different buckets rarely contend; a
// shard lock is only held for lookup and insertion, never for ingestion.
//
// Lock order is bucket, then shard. Writers never hold a bucket lock while
// acquiring a shard lock.
type Registry struct {
	shards       [registryShards]*registryShard
	newReservoir ReservoirFactory
	logger       *zap.Logger
}

// NewRegistry creates an empty registry. A nil factory selects the default
// HDR reservoir; a nil logger disables logging.
func NewRegistry(factory ReservoirFactory, logger *zap.Logger) *Registry {
	if factory == nil {
		factory = NewReservoirFactory(DefaultOptions())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{newReservoir: factory, logger: logger}
	for i := range r.shards {
		r.shards[i] = &registryShard{buckets: make(map[BucketIdentity]*bucket)}
	}
	return r
}

func (r *Registry) shardFor(id BucketIdentity) *registryShard {
	var h xxhash.Digest
	h.Reset()
	_, _ = h.WriteString(string(id.local))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(id.remote))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(id.operation))
	return r.shards[h.Sum64()%registryShards]
}

// getOrCreate returns the live bucket for id, creating it exactly once.
func (r *Registry) getOrCreate(id BucketIdentity) *bucket {
	shard := r.shardFor(id)

	shard.mu.RLock()
	b, ok := shard.buckets[id]
	shard.mu.RUnlock()
	if ok {
		return b
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if b, ok := shard.buckets[id]; ok {
		return b
	}
	b = &bucket{
		identity:      id,
		firstResponse: r.newReservoir(),
		completion:    r.newReservoir(),
	}
	shard.buckets[id] = b
	r.logger.Debug("latency bucket created", zap.Stringer("bucket", id))
	return b
}

// RecordEvent ingests both latencies into the bucket for id.
func (r *Registry) RecordEvent(id BucketIdentity, firstResponseNanos, completionNanos int64) {
	for {
		b := r.getOrCreate(id)
		b.mu.Lock()
		if b.retired {
			// Removed between lookup and lock; the next lookup creates a
			// fresh bucket.
			b.mu.Unlock()
			continue
		}
		b.firstResponse.Ingest(firstResponseNanos)
		b.completion.Ingest(completionNanos)
		b.mu.Unlock()
		return
	}
}

// buckets returns every live bucket sorted by identity. Each shard lock is
// held only while its map is copied.
func (r *Registry) buckets() []*bucket {
	var out []*bucket
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, b := range shard.buckets {
			out = append(out, b)
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].identity.Less(out[j].identity)
	})
	return out
}

// Enumerate returns the non-empty buckets ordered by identity.
func (r *Registry) Enumerate() []Entry {
	all := r.buckets()
	entries := make([]Entry, 0, len(all))
	for _, b := range all {
		b.mu.Lock()
		live := !b.retired && !b.empty()
		b.mu.Unlock()
		if !live {
			continue
		}
		entries = append(entries, Entry{
			Identity:      b.identity,
			FirstResponse: b.firstResponse,
			Completion:    b.completion,
		})
	}
	return entries
}

// Collect calls fn for every non-empty bucket in identity order while holding
// that bucket's lock, so both reservoirs are read at the same instant. When
// remove is true the bucket is retired and unlinked before the lock is
// released; events racing with it land in a fresh bucket.
func (r *Registry) Collect(remove bool, fn func(id BucketIdentity, firstResponse, completion Reservoir)) {
	for _, b := range r.buckets() {
		b.mu.Lock()
		if b.retired {
			b.mu.Unlock()
			continue
		}
		if !b.empty() {
			fn(b.identity, b.firstResponse, b.completion)
		}
		if remove {
			r.retireLocked(b)
		}
		b.mu.Unlock()
	}
}

// Remove deletes the bucket for id. Later events for id start a new bucket.
func (r *Registry) Remove(id BucketIdentity) {
	shard := r.shardFor(id)
	shard.mu.RLock()
	b, ok := shard.buckets[id]
	shard.mu.RUnlock()
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.retired {
		r.retireLocked(b)
	}
}

// retireLocked marks b retired and unlinks it. The caller holds b.mu.
func (r *Registry) retireLocked(b *bucket) {
	b.retired = true
	shard := r.shardFor(b.identity)
	shard.mu.Lock()
	if shard.buckets[b.identity] == b {
		delete(shard.buckets, b.identity)
	}
	shard.mu.Unlock()
	r.logger.Debug("latency bucket removed", zap.Stringer("bucket", b.identity))
}

// Len returns the number of buckets, including empty ones.
func (r *Registry) Len() int {
	n := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		n += len(shard.buckets)
		shard.mu.RUnlock()
	}
	return n
}

// Clear removes every bucket and releases its reservoirs.
func (r *Registry) Clear() {
	for _, b := range r.buckets() {
		b.mu.Lock()
		if !b.retired {
			r.retireLocked(b)
			b.firstResponse.Clear()
			b.completion.Clear()
		}
		b.mu.Unlock()
	}
}
