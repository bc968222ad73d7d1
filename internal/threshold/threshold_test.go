package threshold

import (
	"strings"
	"testing"
	"time"

	"github.com/torosent/cmdlatency/internal/metrics"
	"github.com/torosent/cmdlatency/internal/output"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "completion percentile",
			input: "completion:p99 < 500",
			want: Threshold{
				Metric:    "completion",
				Aggregate: "p99",
				Operator:  "<",
				Value:     500,
				Raw:       "completion:p99 < 500",
			},
		},
		{
			name:  "first response with command filter",
			input: "first_response{command=get}:max <= 50",
			want: Threshold{
				Metric:    "first_response",
				Command:   "GET",
				Aggregate: "max",
				Operator:  "<=",
				Value:     50,
				Raw:       "first_response{command=get}:max <= 50",
			},
		},
		{
			name:  "p999",
			input: "completion:p999<1000.5",
			want: Threshold{
				Metric:    "completion",
				Aggregate: "p999",
				Operator:  "<",
				Value:     1000.5,
				Raw:       "completion:p999<1000.5",
			},
		},
		{
			name:  "command count",
			input: "commands:count > 100",
			want: Threshold{
				Metric:    "commands",
				Aggregate: "count",
				Operator:  ">",
				Value:     100,
				Raw:       "commands:count > 100",
			},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing operator", input: "completion:p95 500", wantError: true},
		{name: "invalid metric", input: "http_req_duration:p95 < 500", wantError: true},
		{name: "invalid percentile", input: "completion:p50 < 500", wantError: true},
		{name: "count on latency", input: "completion:count < 500", wantError: true},
		{name: "percentile on commands", input: "commands:p99 < 5", wantError: true},
		{name: "invalid operator", input: "completion:p95 << 500", wantError: true},
		{name: "not a number", input: "completion:p95 < abc", wantError: true},
		{name: "malformed filter", input: "completion{op=GET}:p95 < 5", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		wantCount int
		wantError bool
	}{
		{
			name: "multiple valid thresholds",
			input: []string{
				"completion:p95 < 500",
				"first_response:max < 100",
				"commands:count > 100",
			},
			wantCount: 3,
		},
		{
			name:      "empty slice",
			input:     []string{},
			wantCount: 0,
		},
		{
			name: "one valid, one invalid",
			input: []string{
				"completion:p95 < 500",
				"invalid threshold",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultiple(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseMultiple() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && len(got) != tt.wantCount {
				t.Errorf("ParseMultiple() returned %d thresholds, want %d", len(got), tt.wantCount)
			}
		})
	}
}

// buildReport records events into a millisecond collector and publishes one
// report from it.
func buildReport(t *testing.T, reset bool, record func(*metrics.Collector)) output.Report {
	t.Helper()
	c := metrics.NewCollector(metrics.Options{
		Enabled:                  true,
		LocalDistinction:         true,
		ResetLatenciesAfterEvent: reset,
		TargetUnit:               time.Millisecond,
	})
	defer c.Shutdown()
	record(c)
	return output.NewReport(c.RetrieveMetrics(), time.Millisecond, reset, time.Now())
}

func sampleEvents(c *metrics.Collector) {
	for i := 0; i < 3; i++ {
		c.RecordCommandLatency("A:1", "B:80", "GET", 2*time.Millisecond, 5*time.Millisecond)
	}
	c.RecordCommandLatency("A:2", "B:80", "SET", 10*time.Millisecond, 40*time.Millisecond)
}

func TestEvaluator(t *testing.T) {
	report := buildReport(t, true, sampleEvents)

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all thresholds pass",
			thresholds: []string{
				"completion:p99 < 50",
				"first_response:max <= 10",
				"commands:count == 4",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "worst bucket decides",
			thresholds: []string{
				"completion:p99 < 20",
				"completion:min < 10",
			},
			wantPass: []bool{false, false},
		},
		{
			name: "lower bounds use the lowest bucket",
			thresholds: []string{
				"completion:min >= 10",
				"completion:max > 4",
				"first_response:max == 10",
			},
			wantPass: []bool{false, true, false},
		},
		{
			name: "command filter",
			thresholds: []string{
				"completion{command=GET}:p99 < 20",
				"commands{command=SET}:count == 1",
				"first_response{command=GET}:min >= 2",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "no matching command fails",
			thresholds: []string{
				"completion{command=DEL}:p99 < 20",
				"commands{command=DEL}:count == 0",
			},
			wantPass: []bool{false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			e := NewEvaluator(thresholds)
			e.Observe(report)
			results := e.Results()
			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}
			for i, result := range results {
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f, %s)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual, result.Message)
				}
			}
		})
	}
}

func TestEvaluatorAccumulatesResetReports(t *testing.T) {
	thresholds, err := ParseMultiple([]string{"commands:count == 5", "completion:max < 30"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	e := NewEvaluator(thresholds)

	e.Observe(buildReport(t, true, func(c *metrics.Collector) {
		c.RecordCommandLatency("A:1", "B:80", "GET", time.Millisecond, 40*time.Millisecond)
	}))
	e.Observe(buildReport(t, true, func(c *metrics.Collector) {
		for i := 0; i < 4; i++ {
			c.RecordCommandLatency("A:1", "B:80", "GET", time.Millisecond, 2*time.Millisecond)
		}
	}))
	e.Observe(buildReport(t, true, func(*metrics.Collector) {}))

	if e.Reports() != 3 {
		t.Errorf("Reports() = %d, want 3", e.Reports())
	}
	results := e.Results()
	if !results[0].Pass {
		t.Errorf("count should sum across reset reports: %s", results[0].Message)
	}
	if results[1].Pass || results[1].Actual != 40 {
		t.Errorf("max should remember the worst interval: %s", results[1].Message)
	}
	if AllPassed(results) {
		t.Error("AllPassed() = true, want false")
	}
}

func TestEvaluatorLowerBoundAcrossBuckets(t *testing.T) {
	thresholds, err := ParseMultiple([]string{"completion:min >= 10", "completion:max < 100"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	straddle := func(c *metrics.Collector) {
		c.RecordCommandLatency("A:1", "B:80", "GET", time.Millisecond, time.Millisecond)
		c.RecordCommandLatency("A:2", "B:80", "GET", time.Millisecond, 50*time.Millisecond)
	}

	single := NewEvaluator(thresholds)
	single.Observe(buildReport(t, true, straddle))
	results := single.Results()
	if results[0].Pass || results[0].Actual != 1 {
		t.Errorf("min >= 10 over buckets 1 and 50: got pass=%v actual=%v, want fail with 1",
			results[0].Pass, results[0].Actual)
	}
	if !results[1].Pass || results[1].Actual != 50 {
		t.Errorf("max < 100: got pass=%v actual=%v, want pass with 50", results[1].Pass, results[1].Actual)
	}

	// The same buckets split over two resetting reports, low one first.
	merged := NewEvaluator(thresholds)
	merged.Observe(buildReport(t, true, func(c *metrics.Collector) {
		c.RecordCommandLatency("A:1", "B:80", "GET", time.Millisecond, time.Millisecond)
	}))
	merged.Observe(buildReport(t, true, func(c *metrics.Collector) {
		c.RecordCommandLatency("A:2", "B:80", "GET", time.Millisecond, 50*time.Millisecond)
	}))
	results = merged.Results()
	if results[0].Pass || results[0].Actual != 1 {
		t.Errorf("merged min >= 10: got pass=%v actual=%v, want fail with 1", results[0].Pass, results[0].Actual)
	}
	if results[1].Actual != 50 {
		t.Errorf("merged max = %v, want 50", results[1].Actual)
	}
}

func TestEvaluatorReplacesCumulativeReports(t *testing.T) {
	thresholds, err := ParseMultiple([]string{"commands:count == 2", "completion:max < 30"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	e := NewEvaluator(thresholds)

	c := metrics.NewCollector(metrics.Options{Enabled: true, TargetUnit: time.Millisecond})
	defer c.Shutdown()
	c.RecordCommandLatency("A:1", "B:80", "GET", time.Millisecond, 2*time.Millisecond)
	e.Observe(output.NewReport(c.RetrieveMetrics(), time.Millisecond, false, time.Now()))
	c.RecordCommandLatency("A:1", "B:80", "GET", time.Millisecond, 3*time.Millisecond)
	e.Observe(output.NewReport(c.RetrieveMetrics(), time.Millisecond, false, time.Now()))

	results := e.Results()
	if !AllPassed(results) {
		for _, r := range results {
			t.Log(r.Message)
		}
		t.Fatal("cumulative reports should be replaced, not summed")
	}
}

func TestEvaluatorWithoutReports(t *testing.T) {
	thresholds, _ := ParseMultiple([]string{"completion:p99 < 5"})
	results := NewEvaluator(thresholds).Results()
	if len(results) != 1 || results[0].Pass {
		t.Fatalf("unobserved threshold should fail, got %+v", results)
	}
	if !strings.Contains(results[0].Message, "no matching commands") {
		t.Errorf("Message = %q", results[0].Message)
	}
	if NewEvaluator(nil).Results() != nil {
		t.Error("no thresholds should yield nil results")
	}
}

func TestCompareValues(t *testing.T) {
	// Each row is a p99 latency checked against a 250us limit.
	const limit = 250.0
	tests := []struct {
		actual   float64
		operator string
		want     bool
	}{
		{180, "<", true},
		{250, "<", false},
		{310, "<", false},
		{250, "<=", true},
		{250 + 1e-12, "<=", true},
		{251, "<=", false},
		{310, ">", true},
		{250, ">", false},
		{250, ">=", true},
		{249.5, ">=", false},
		{250.0000000001, "==", true},
		{249, "==", false},
		{180, "!=", false},
		{180, "=<", false},
	}

	for _, tt := range tests {
		if got := compareValues(tt.actual, tt.operator, limit); got != tt.want {
			t.Errorf("compareValues(%g %s %g) = %v, want %v", tt.actual, tt.operator, limit, got, tt.want)
		}
	}
}

func TestParseMultipleReportsEveryError(t *testing.T) {
	_, err := ParseMultiple([]string{"completion:p99 < 5", "bogus", "commands:p99 > 1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"threshold[1]", "threshold[2]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "threshold[0]") {
		t.Errorf("error %q blames a valid threshold", err)
	}
}

func TestExtractMetricValue(t *testing.T) {
	report := buildReport(t, false, sampleEvents)

	tests := []struct {
		name        string
		threshold   Threshold
		want        float64
		wantMatched bool
		wantError   bool
	}{
		{"completion max", Threshold{Metric: "completion", Aggregate: "max"}, 40, true, false},
		{"completion min under an upper bound", Threshold{Metric: "completion", Aggregate: "min", Operator: "<"}, 40, true, false},
		{"completion min under a lower bound", Threshold{Metric: "completion", Aggregate: "min", Operator: ">="}, 5, true, false},
		{"completion max farthest from equality", Threshold{Metric: "completion", Aggregate: "max", Operator: "==", Value: 10}, 40, true, false},
		{"first response p75 filtered", Threshold{Metric: "first_response", Command: "GET", Aggregate: "p75"}, 2, true, false},
		{"commands count", Threshold{Metric: "commands", Aggregate: "count"}, 4, true, false},
		{"commands count filtered", Threshold{Metric: "commands", Command: "GET", Aggregate: "count"}, 3, true, false},
		{"no match", Threshold{Metric: "completion", Command: "DEL", Aggregate: "max"}, 0, false, false},
		{"unsupported metric", Threshold{Metric: "invalid_metric", Aggregate: "p95"}, 0, false, true},
		{"unsupported aggregate", Threshold{Metric: "completion", Aggregate: "avg"}, 0, false, true},
		{"unsupported commands aggregate", Threshold{Metric: "commands", Aggregate: "p99"}, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched, err := extractMetricValue(tt.threshold, report)
			if (err != nil) != tt.wantError {
				t.Errorf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if tt.wantError {
				return
			}
			if matched != tt.wantMatched {
				t.Errorf("matched = %v, want %v", matched, tt.wantMatched)
			}
			if got != tt.want {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
