package metrics

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// UniformReservoir keeps a uniform random sample of at most size values
// (Vitter's algorithm R) and computes exact percentiles over that sample. With
// fewer than size samples the percentiles are exact over all observations.
type UniformReservoir struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	values []int64
	size   int
	count  int64
	min    int64
	max    int64
}

func NewUniformReservoir(size int) *UniformReservoir {
	if size <= 0 {
		size = DefaultUniformSampleSize
	}
	return &UniformReservoir{
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		values: make([]int64, 0, size),
		size:   size,
	}
}

func (r *UniformReservoir) Ingest(nanos int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || nanos < r.min {
		r.min = nanos
	}
	if r.count == 0 || nanos > r.max {
		r.max = nanos
	}
	r.count++

	if len(r.values) < r.size {
		r.values = append(r.values, nanos)
		return
	}
	if idx := r.rnd.Int63n(r.count); idx < int64(r.size) {
		r.values[idx] = nanos
	}
}

func (r *UniformReservoir) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *UniformReservoir) Snapshot(unit time.Duration) Snapshot {
	r.mu.Lock()
	raw := rawStats{count: r.count, min: r.min, max: r.max}
	sorted := append([]int64(nil), r.values...)
	r.mu.Unlock()

	if raw.count == 0 || len(sorted) == 0 {
		return newSnapshot(raw, unit)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, p := range Percentiles {
		raw.percentiles[i] = quantile(sorted, p/100)
	}
	return newSnapshot(raw, unit)
}

func (r *UniformReservoir) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = r.values[:0]
	r.count, r.min, r.max = 0, 0, 0
}

// quantile interpolates linearly between the two order statistics around
// q*(n+1). sorted must be non-empty and ascending.
func quantile(sorted []int64, q float64) float64 {
	n := len(sorted)
	pos := q * float64(n+1)
	switch {
	case pos < 1:
		return float64(sorted[0])
	case pos >= float64(n):
		return float64(sorted[n-1])
	}
	lower := float64(sorted[int(pos)-1])
	upper := float64(sorted[int(pos)])
	return lower + (pos-math.Floor(pos))*(upper-lower)
}
