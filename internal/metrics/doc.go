// Package metrics collects command latencies per connection and command type.
//
// Every completed command reports two latencies: the time until its first
// response arrived and the time until it completed. The [Collector] groups
// them into buckets keyed by a [BucketIdentity] of local endpoint, remote
// endpoint and [OperationType], and keeps one [Reservoir] per latency in each
// bucket.
//
//	collector := metrics.NewCollector(metrics.Options{
//		Enabled:    true,
//		TargetUnit: time.Millisecond,
//	})
//	defer collector.Shutdown()
//
//	collector.RecordCommandLatency(local, remote, "GET", firstResponse, completion)
//
//	for id, m := range collector.RetrieveMetrics() {
//		p99, _ := m.Completion.Percentile(99)
//		fmt.Println(id, m.Count, p99)
//	}
//
// # Buckets
//
// With LocalDistinction disabled the local endpoint is replaced by [AnyLocal],
// so connections that only differ in their ephemeral port share a bucket.
// Buckets are created on the first event and live until they are read with
// ResetLatenciesAfterEvent enabled, or until [Collector.Shutdown].
//
// # Reservoirs
//
// Two implementations are provided: [HDRReservoir] (HdrHistogram, fixed memory)
// and [UniformReservoir] (bounded uniform sample, sorted on read). Both report
// count, min, max and the values at [Percentiles] as a [Snapshot].
//
// # Thread Safety
//
// The [Registry] shards buckets by an xxhash of their identity. Shard locks
// are held for lookup and insertion only; ingestion locks a single bucket.
// Reading a bucket and removing it happen under that bucket's lock, so an
// event racing with a reset is either part of the returned snapshot or
// recorded in a fresh bucket.
package metrics
