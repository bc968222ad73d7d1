package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options configure a Collector. They are fixed for the collector's lifetime.
type Options struct {
	Enabled bool
	// LocalDistinction keys buckets by local endpoint. When false all local
	// endpoints collapse into AnyLocal, which bounds bucket cardinality when
	// connections use ephemeral ports.
	LocalDistinction bool
	// ResetLatenciesAfterEvent removes every bucket that RetrieveMetrics reads.
	ResetLatenciesAfterEvent bool
	// TargetUnit is the unit of every reported value.
	TargetUnit time.Duration

	Reservoir        ReservoirKind
	ReservoirSize    int           // uniform reservoir sample size
	HistogramMax     time.Duration // highest value tracked by the hdr reservoir
	HistogramSigFigs int           // hdr precision, 1-5
}

// DefaultOptions returns an enabled collector that collapses local endpoints,
// resets on read and reports microseconds.
func DefaultOptions() Options {
	return Options{
		Enabled:                  true,
		LocalDistinction:         false,
		ResetLatenciesAfterEvent: true,
		TargetUnit:               time.Microsecond,
		Reservoir:                ReservoirHDR,
		ReservoirSize:            DefaultUniformSampleSize,
		HistogramMax:             DefaultHistogramMax,
		HistogramSigFigs:         DefaultHistogramSigFigs,
	}
}

func (o *Options) normalize() {
	if o.TargetUnit <= 0 {
		o.TargetUnit = time.Microsecond
	}
	if o.Reservoir == "" {
		o.Reservoir = ReservoirHDR
	}
	if o.ReservoirSize <= 0 {
		o.ReservoirSize = DefaultUniformSampleSize
	}
	if o.HistogramMax <= 0 {
		o.HistogramMax = DefaultHistogramMax
	}
	if o.HistogramSigFigs < 1 || o.HistogramSigFigs > 5 {
		o.HistogramSigFigs = DefaultHistogramSigFigs
	}
}

// CommandMetrics is the retrieved state of one bucket.
type CommandMetrics struct {
	Identity      BucketIdentity
	Count         int64
	Unit          time.Duration
	FirstResponse Snapshot
	Completion    Snapshot
}

// Option customizes a Collector.
type Option func(*Collector)

// WithLogger sets the logger used by the collector and its registry.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReservoirFactory overrides the reservoir selected by Options.Reservoir.
func WithReservoirFactory(factory ReservoirFactory) Option {
	return func(c *Collector) {
		if factory != nil {
			c.factory = factory
		}
	}
}

// Collector records per-connection, per-command latencies. It is safe for
// concurrent use; RecordCommandLatency is the hot path and only contends with
// other writers to the same bucket. Writers share lifecycle's read lock, so
// Shutdown waits for in-flight records and none can recreate a bucket after
// the registry is cleared.
type Collector struct {
	opts     Options
	logger   *zap.Logger
	factory  ReservoirFactory
	registry *Registry

	lifecycle    sync.RWMutex
	closed       atomic.Bool
	shutdownOnce sync.Once
}

// NewCollector creates a collector. Zero-valued tuning fields in opts fall back
// to their defaults.
func NewCollector(opts Options, options ...Option) *Collector {
	opts.normalize()
	c := &Collector{
		opts:   opts,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.factory == nil {
		c.factory = NewReservoirFactory(opts)
	}
	c.registry = NewRegistry(c.factory, c.logger)
	return c
}

// RecordCommandLatency records one completed command. It does nothing when the
// collector is disabled or shut down. Latencies are taken as given: callers are
// expected to pass non-negative values with completion >= firstResponse.
func (c *Collector) RecordCommandLatency(local, remote Endpoint, op OperationType, firstResponse, completion time.Duration) {
	if !c.opts.Enabled {
		return
	}
	id := NewBucketIdentity(local, remote, op, c.opts.LocalDistinction)

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.closed.Load() {
		return
	}
	c.registry.RecordEvent(id, int64(firstResponse), int64(completion))
}

// RetrieveMetrics returns the metrics of every non-empty bucket. With
// ResetLatenciesAfterEvent each returned bucket is removed in the same critical
// section it was read in.
func (c *Collector) RetrieveMetrics() map[BucketIdentity]CommandMetrics {
	out := make(map[BucketIdentity]CommandMetrics)
	if c.closed.Load() {
		return out
	}
	unit := c.opts.TargetUnit
	c.registry.Collect(c.opts.ResetLatenciesAfterEvent, func(id BucketIdentity, firstResponse, completion Reservoir) {
		first := firstResponse.Snapshot(unit)
		out[id] = CommandMetrics{
			Identity:      id,
			Count:         first.Count(),
			Unit:          unit,
			FirstResponse: first,
			Completion:    completion.Snapshot(unit),
		}
	})
	return out
}

// IsEnabled reports whether events are being recorded.
func (c *Collector) IsEnabled() bool {
	return c.opts.Enabled && !c.closed.Load()
}

// Options returns the normalized options the collector was built with.
func (c *Collector) Options() Options {
	return c.opts
}

// Shutdown drops all buckets and stops recording. Calling it again is a no-op.
func (c *Collector) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.lifecycle.Lock()
		c.closed.Store(true)
		buckets := c.registry.Len()
		c.registry.Clear()
		c.lifecycle.Unlock()
		c.logger.Info("latency collector shut down", zap.Int("buckets_released", buckets))
	})
}

// SortedIdentities returns the keys of m in identity order.
func SortedIdentities(m map[BucketIdentity]CommandMetrics) []BucketIdentity {
	ids := make([]BucketIdentity, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
