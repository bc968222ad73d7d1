package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// HDRReservoir estimates percentiles with an HdrHistogram while tracking the
// exact count, min and max beside it.
type HDRReservoir struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	count int64
	min   int64
	max   int64
}

// NewHDRReservoir tracks samples from 1ns up to highest nanoseconds with the
// given number of significant figures (1-5).
func NewHDRReservoir(highest int64, sigFigs int) *HDRReservoir {
	if highest < 2 {
		highest = int64(DefaultHistogramMax)
	}
	if sigFigs < 1 || sigFigs > 5 {
		sigFigs = DefaultHistogramSigFigs
	}
	return &HDRReservoir{hist: hdrhistogram.New(1, highest, sigFigs)}
}

// Ingest records one sample. Values outside the trackable range are clamped
// for the histogram only; count, min and max use the raw value.
func (r *HDRReservoir) Ingest(nanos int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := nanos
	if v < r.hist.LowestTrackableValue() {
		v = r.hist.LowestTrackableValue()
	}
	if v > r.hist.HighestTrackableValue() {
		v = r.hist.HighestTrackableValue()
	}
	// RecordValue only fails for values outside [lowest, highest], which
	// the clamp above rules out.
	if err := r.hist.RecordValue(v); err != nil {
		panic(fmt.Sprintf("hdr reservoir: clamped value %d rejected: %v", v, err))
	}

	if r.count == 0 || nanos < r.min {
		r.min = nanos
	}
	if r.count == 0 || nanos > r.max {
		r.max = nanos
	}
	r.count++
}

func (r *HDRReservoir) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *HDRReservoir) Snapshot(unit time.Duration) Snapshot {
	r.mu.Lock()
	raw := rawStats{count: r.count, min: r.min, max: r.max}
	if r.count > 0 {
		for i, p := range Percentiles {
			raw.percentiles[i] = float64(r.hist.ValueAtQuantile(p))
		}
	}
	r.mu.Unlock()
	return newSnapshot(raw, unit)
}

func (r *HDRReservoir) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist.Reset()
	r.count, r.min, r.max = 0, 0, 0
}
