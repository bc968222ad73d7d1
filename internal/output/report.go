package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/torosent/cmdlatency/internal/metrics"
)

// Report is one publication of collector metrics.
type Report struct {
	ID        ulid.ULID
	Timestamp time.Time
	Unit      time.Duration
	// Reset is true when reading the collector cleared the reported buckets,
	// so consecutive reports cover disjoint intervals.
	Reset   bool
	Buckets []metrics.CommandMetrics
}

// NewReport orders the retrieved metrics by identity and stamps them with a
// new ULID.
func NewReport(retrieved map[metrics.BucketIdentity]metrics.CommandMetrics, unit time.Duration, reset bool, now time.Time) Report {
	ids := metrics.SortedIdentities(retrieved)
	buckets := make([]metrics.CommandMetrics, 0, len(ids))
	for _, id := range ids {
		buckets = append(buckets, retrieved[id])
	}
	return Report{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Timestamp: now,
		Unit:      unit,
		Reset:     reset,
		Buckets:   buckets,
	}
}

// TotalCommands sums the observation count of every bucket.
func (r Report) TotalCommands() int64 {
	var total int64
	for _, b := range r.Buckets {
		total += b.Count
	}
	return total
}

// Document is the serialized form of a Report shared by the JSON and YAML
// printers and the file sink.
type Document struct {
	ID        string           `json:"id" yaml:"id"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Unit      string           `json:"unit" yaml:"unit"`
	Reset     bool             `json:"reset" yaml:"reset"`
	Buckets   []BucketDocument `json:"buckets" yaml:"buckets"`
}

type BucketDocument struct {
	Local         string           `json:"local" yaml:"local"`
	Remote        string           `json:"remote" yaml:"remote"`
	Command       string           `json:"command" yaml:"command"`
	Count         int64            `json:"count" yaml:"count"`
	Unit          string           `json:"unit" yaml:"unit"`
	FirstResponse SnapshotDocument `json:"first_response" yaml:"first_response"`
	Completion    SnapshotDocument `json:"completion" yaml:"completion"`
}

type SnapshotDocument struct {
	// Metric is the bucket's registry-style name for this phase.
	Metric string `json:"metric" yaml:"metric"`
	Count  int64  `json:"count" yaml:"count"`
	Min    int64  `json:"min" yaml:"min"`
	Max    int64  `json:"max" yaml:"max"`
	P75    int64  `json:"p75" yaml:"p75"`
	P95    int64  `json:"p95" yaml:"p95"`
	P98    int64  `json:"p98" yaml:"p98"`
	P99    int64  `json:"p99" yaml:"p99"`
	P999   int64  `json:"p999" yaml:"p999"`
}

// Document converts the report into its serialized form.
func (r Report) Document() Document {
	doc := Document{
		ID:        r.ID.String(),
		Timestamp: r.Timestamp.UTC(),
		Unit:      metrics.UnitName(r.Unit),
		Reset:     r.Reset,
		Buckets:   make([]BucketDocument, 0, len(r.Buckets)),
	}
	for _, b := range r.Buckets {
		doc.Buckets = append(doc.Buckets, BucketDocument{
			Local:         string(b.Identity.Local()),
			Remote:        string(b.Identity.Remote()),
			Command:       string(b.Identity.Operation()),
			Count:         b.Count,
			Unit:          metrics.UnitName(b.Unit),
			FirstResponse: snapshotDocument(b.Identity.MetricName(metrics.PhaseFirstResponse), b.FirstResponse),
			Completion:    snapshotDocument(b.Identity.MetricName(metrics.PhaseCompletion), b.Completion),
		})
	}
	return doc
}

func snapshotDocument(metric string, s metrics.Snapshot) SnapshotDocument {
	v := s.PercentileValues()
	return SnapshotDocument{
		Metric: metric,
		Count:  s.Count(),
		Min:    s.Min(),
		Max:    s.Max(),
		P75:    v[75],
		P95:    v[95],
		P98:    v[98],
		P99:    v[99],
		P999:   v[99.9],
	}
}

// PrintReport outputs a human-readable table, one row per bucket and phase.
func PrintReport(w io.Writer, report Report) {
	unit := metrics.UnitName(report.Unit)
	fmt.Fprintf(w, "\n--- Command Latencies (%s) ---\n", report.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Report:            %s\n", report.ID)
	fmt.Fprintf(w, "Buckets:           %d\n", len(report.Buckets))
	fmt.Fprintf(w, "Commands:          %d\n", report.TotalCommands())
	if len(report.Buckets) == 0 {
		fmt.Fprintln(w, "\nNo commands recorded.")
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "BUCKET\tPHASE\tCOUNT\tMIN\tP75\tP95\tP98\tP99\tP99.9\tMAX\t\n")
	for _, b := range report.Buckets {
		writeSnapshotRow(tw, b.Identity.String(), "first", b.FirstResponse)
		writeSnapshotRow(tw, "", "completion", b.Completion)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nAll latencies in %s.\n", unit)
}

func writeSnapshotRow(w io.Writer, label, phase string, s metrics.Snapshot) {
	v := s.PercentileValues()
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
		label, phase, s.Count(), s.Min(), v[75], v[95], v[98], v[99], v[99.9], s.Max())
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report.Document())
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, report Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report.Document()); err != nil {
		return err
	}
	return enc.Close()
}
