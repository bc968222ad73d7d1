package metrics

import (
	"fmt"
	"strings"
	"time"
)

// Percentiles lists the distribution points reported for every reservoir, in
// ascending order.
var Percentiles = [...]float64{75, 95, 98, 99, 99.9}

// Snapshot is an immutable summary of a reservoir. All values are expressed in
// Unit. The zero Snapshot describes an empty reservoir.
type Snapshot struct {
	count       int64
	min         int64
	max         int64
	percentiles [len(Percentiles)]int64
	unit        time.Duration
}

// rawStats is what a reservoir hands to newSnapshot: nanosecond values taken
// inside the reservoir's critical section.
type rawStats struct {
	count       int64
	min         int64
	max         int64
	percentiles [len(Percentiles)]float64
}

// newSnapshot converts nanosecond statistics into unit. Percentiles are
// converted from their float value by ordinary division, then clamped into
// [min, max] and forced non-decreasing.
func newSnapshot(raw rawStats, unit time.Duration) Snapshot {
	if unit <= 0 {
		unit = time.Nanosecond
	}
	s := Snapshot{count: raw.count, unit: unit}
	if raw.count == 0 {
		return s
	}
	s.min = raw.min / int64(unit)
	s.max = raw.max / int64(unit)

	prev := s.min
	for i, ns := range raw.percentiles {
		v := int64(ns / float64(unit))
		if v < prev {
			v = prev
		}
		if v > s.max {
			v = s.max
		}
		s.percentiles[i] = v
		prev = v
	}
	return s
}

func (s Snapshot) Count() int64        { return s.count }
func (s Snapshot) Min() int64          { return s.min }
func (s Snapshot) Max() int64          { return s.max }
func (s Snapshot) Unit() time.Duration { return s.unit }

// Percentile returns the value at p, which must be one of Percentiles.
func (s Snapshot) Percentile(p float64) (int64, bool) {
	for i, candidate := range Percentiles {
		if candidate == p {
			return s.percentiles[i], true
		}
	}
	return 0, false
}

// PercentileValues returns a fresh map of percentile to value.
func (s Snapshot) PercentileValues() map[float64]int64 {
	out := make(map[float64]int64, len(Percentiles))
	for i, p := range Percentiles {
		out[p] = s.percentiles[i]
	}
	return out
}

// PercentileLabel renders p as a compact label: 75 -> "p75", 99.9 -> "p999".
func PercentileLabel(p float64) string {
	return "p" + strings.ReplaceAll(fmt.Sprintf("%g", p), ".", "")
}

var unitNames = []struct {
	unit  time.Duration
	short string
	long  string
}{
	{time.Nanosecond, "ns", "nanoseconds"},
	{time.Microsecond, "us", "microseconds"},
	{time.Millisecond, "ms", "milliseconds"},
	{time.Second, "s", "seconds"},
	{time.Minute, "m", "minutes"},
	{time.Hour, "h", "hours"},
}

// UnitName returns the short name of a time unit ("ms", "us", ...). Units that
// are not a whole standard unit fall back to the duration's string form.
func UnitName(unit time.Duration) string {
	for _, n := range unitNames {
		if n.unit == unit {
			return n.short
		}
	}
	return unit.String()
}

// ParseUnit accepts short ("ms"), long ("milliseconds") or upper-case
// ("MILLISECONDS") unit names.
func ParseUnit(s string) (time.Duration, error) {
	cleaned := strings.ToLower(strings.TrimSpace(s))
	switch cleaned {
	case "µs", "μs", "micros":
		return time.Microsecond, nil
	case "millis":
		return time.Millisecond, nil
	case "nanos":
		return time.Nanosecond, nil
	}
	for _, n := range unitNames {
		if cleaned == n.short || cleaned == n.long {
			return n.unit, nil
		}
	}
	return 0, fmt.Errorf("unknown time unit %q (use ns, us, ms, s, m or h)", s)
}
