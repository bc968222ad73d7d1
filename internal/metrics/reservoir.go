package metrics

import (
	"fmt"
	"strings"
	"time"
)

// Reservoir accumulates latency samples in nanoseconds. Implementations must
// be safe for concurrent use and must never lose a count.
//
// Samples are expected to be non-negative; reservoirs do not validate them.
type Reservoir interface {
	Ingest(nanos int64)
	Count() int64
	// Snapshot returns the current statistics converted to unit. An empty
	// reservoir yields a zero Snapshot.
	Snapshot(unit time.Duration) Snapshot
	Clear()
}

// ReservoirFactory creates an empty reservoir for a new bucket.
type ReservoirFactory func() Reservoir

// ReservoirKind selects a Reservoir implementation.
type ReservoirKind string

const (
	// ReservoirHDR is a streaming HdrHistogram estimator.
	ReservoirHDR ReservoirKind = "hdr"
	// ReservoirUniform keeps a bounded uniform sample and sorts it on read.
	ReservoirUniform ReservoirKind = "uniform"
)

const (
	DefaultHistogramMax      = time.Minute
	DefaultHistogramSigFigs  = 2
	DefaultUniformSampleSize = 1028
)

// ParseReservoirKind validates a reservoir name from configuration.
func ParseReservoirKind(s string) (ReservoirKind, error) {
	switch kind := ReservoirKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case "":
		return ReservoirHDR, nil
	case ReservoirHDR, ReservoirUniform:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown reservoir %q (use hdr or uniform)", s)
	}
}

// NewReservoirFactory returns the factory described by opts.
func NewReservoirFactory(opts Options) ReservoirFactory {
	opts.normalize()
	switch opts.Reservoir {
	case ReservoirUniform:
		size := opts.ReservoirSize
		return func() Reservoir { return NewUniformReservoir(size) }
	default:
		highest := int64(opts.HistogramMax)
		sigFigs := opts.HistogramSigFigs
		return func() Reservoir { return NewHDRReservoir(highest, sigFigs) }
	}
}
