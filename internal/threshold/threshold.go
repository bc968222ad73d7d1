package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/torosent/cmdlatency/internal/metrics"
	"github.com/torosent/cmdlatency/internal/output"
)

const (
	MetricFirstResponse = "first_response"
	MetricCompletion    = "completion"
	MetricCommands      = "commands"
)

// Threshold represents a latency assertion that can pass or fail.
type Threshold struct {
	Metric    string  // "first_response", "completion" or "commands"
	Command   string  // optional command filter, upper case
	Aggregate string  // e.g., "p99", "max", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // in the report unit for latency metrics
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator accumulates published reports and evaluates thresholds against
// them. Latency aggregates keep the worst value of any matching bucket: the
// lowest for ">" and ">=", the one farthest from the limit for "==" and the
// highest otherwise. Command counts are summed across reports that reset the collector
// and replaced by reports that do not.
type Evaluator struct {
	mu         sync.Mutex
	thresholds []Threshold
	state      []observation
	reports    int
}

type observation struct {
	value float64
	seen  bool
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
		state:      make([]observation, len(thresholds)),
	}
}

// Observe folds one report into the evaluator. It is safe to use as a
// publisher observer.
func (e *Evaluator) Observe(report output.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reports++
	for i, t := range e.thresholds {
		value, matched, err := extractMetricValue(t, report)
		if err != nil {
			continue
		}
		st := &e.state[i]
		switch {
		case t.Metric == MetricCommands && report.Reset:
			st.value += value
			st.seen = true
		case t.Metric == MetricCommands:
			st.value = value
			st.seen = true
		case !matched:
			if !report.Reset {
				// Cumulative reports carry everything observed so far.
				*st = observation{}
			}
		case report.Reset:
			if !st.seen || worse(t, value, st.value) {
				st.value = value
			}
			st.seen = true
		default:
			st.value = value
			st.seen = true
		}
	}
}

// Reports returns the number of observed reports.
func (e *Evaluator) Reports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reports
}

// Results evaluates every threshold against the reports observed so far.
func (e *Evaluator) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for i, t := range e.thresholds {
		results = append(results, evaluateOne(t, e.state[i]))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, obs observation) Result {
	if !obs.seen {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: no matching commands observed", t.Raw),
		}
	}

	pass := compareValues(obs.value, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, obs.value, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    obs.value,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+)(?:\{command=([A-Za-z0-9_.:\-]+)\})?:([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// epsilon absorbs float noise for the inclusive operators.
const epsilon = 1e-9

var comparators = map[string]func(actual, limit float64) bool{
	"<":  func(a, l float64) bool { return a < l },
	"<=": func(a, l float64) bool { return a <= l || math.Abs(a-l) < epsilon },
	">":  func(a, l float64) bool { return a > l },
	">=": func(a, l float64) bool { return a >= l || math.Abs(a-l) < epsilon },
	"==": func(a, l float64) bool { return math.Abs(a-l) < epsilon },
}

// Parse reads one threshold of the form
//
//	metric[{command=NAME}]:aggregate operator value
//
// for example "completion:p99 < 500", "first_response{command=GET}:max < 50"
// or "commands:count > 1000".
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, errors.New("empty threshold string")
	}
	m := thresholdPattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric[{command=NAME}]:aggregate operator value, e.g. 'completion:p99 < 500')", s)
	}

	t := Threshold{
		Metric:    m[1],
		Command:   strings.ToUpper(m[2]),
		Aggregate: m[3],
		Operator:  m[4],
		Raw:       s,
	}
	value, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %w", m[5], err)
	}
	t.Value = value

	switch {
	case !isValidMetric(t.Metric):
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: first_response, completion, commands)", t.Metric)
	case t.Metric == MetricCommands && t.Aggregate != "count":
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for commands (use 'count')", t.Aggregate)
	case t.Metric != MetricCommands && !isLatencyAggregate(t.Aggregate):
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: min, max, p75, p95, p98, p99, p999)", t.Aggregate)
	case comparators[t.Operator] == nil:
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", t.Operator)
	}
	return t, nil
}

// ParseMultiple parses every entry and reports all malformed ones together.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}
	parsed := make([]Threshold, 0, len(thresholds))
	var errs []error
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold[%d]: %w", i, err))
			continue
		}
		parsed = append(parsed, t)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return parsed, nil
}

func isValidMetric(metric string) bool {
	return metric == MetricFirstResponse || metric == MetricCompletion || metric == MetricCommands
}

func isLatencyAggregate(aggregate string) bool {
	if aggregate == "min" || aggregate == "max" {
		return true
	}
	_, ok := percentileFor(aggregate)
	return ok
}

// percentileFor maps a label such as "p999" back to 99.9.
func percentileFor(aggregate string) (float64, bool) {
	for _, p := range metrics.Percentiles {
		if aggregate == metrics.PercentileLabel(p) {
			return p, true
		}
	}
	return 0, false
}

// extractMetricValue reduces a report to the value a threshold compares. The
// boolean is false when no bucket matched a latency threshold.
func extractMetricValue(t Threshold, report output.Report) (float64, bool, error) {
	var count int64
	worst := 0.0
	matched := false
	for _, b := range report.Buckets {
		if t.Command != "" && !strings.EqualFold(string(b.Identity.Operation()), t.Command) {
			continue
		}
		if b.Count == 0 {
			continue
		}
		count += b.Count

		var snap metrics.Snapshot
		switch t.Metric {
		case MetricFirstResponse:
			snap = b.FirstResponse
		case MetricCompletion:
			snap = b.Completion
		case MetricCommands:
			continue
		default:
			return 0, false, fmt.Errorf("unknown metric: %s", t.Metric)
		}
		v, err := extractLatencyAggregate(t.Aggregate, snap)
		if err != nil {
			return 0, false, err
		}
		if !matched || worse(t, v, worst) {
			worst = v
		}
		matched = true
	}

	if t.Metric == MetricCommands {
		if t.Aggregate != "count" {
			return 0, false, fmt.Errorf("unsupported aggregate %q for commands (use 'count')", t.Aggregate)
		}
		return float64(count), true, nil
	}
	if !isValidMetric(t.Metric) {
		return 0, false, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	return worst, matched, nil
}

func extractLatencyAggregate(aggregate string, snap metrics.Snapshot) (float64, error) {
	switch aggregate {
	case "min":
		return float64(snap.Min()), nil
	case "max":
		return float64(snap.Max()), nil
	}
	p, ok := percentileFor(aggregate)
	if !ok {
		return 0, fmt.Errorf("unsupported aggregate %q for latency metrics", aggregate)
	}
	v, _ := snap.Percentile(p)
	return float64(v), nil
}

// worse reports whether candidate is closer to failing t than current.
func worse(t Threshold, candidate, current float64) bool {
	switch t.Operator {
	case ">", ">=":
		return candidate < current
	case "==":
		return math.Abs(candidate-t.Value) > math.Abs(current-t.Value)
	default:
		return candidate > current
	}
}

func compareValues(actual float64, operator string, limit float64) bool {
	cmp, ok := comparators[operator]
	return ok && cmp(actual, limit)
}
