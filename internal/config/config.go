package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/cmdlatency/internal/logging"
	"github.com/torosent/cmdlatency/internal/metrics"
)

type Config struct {
	Collector  CollectorConfig  `mapstructure:"collector"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Output     OutputConfig     `mapstructure:"output"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
	Thresholds []string         `mapstructure:"thresholds"`
	ConfigFile string           `mapstructure:"-"`
}

// CollectorConfig mirrors metrics.Options in configuration-friendly types.
type CollectorConfig struct {
	Enabled                  bool          `mapstructure:"enabled"`
	LocalDistinction         bool          `mapstructure:"local_distinction"`
	ResetLatenciesAfterEvent bool          `mapstructure:"reset_latencies_after_event"`
	TargetUnit               string        `mapstructure:"target_unit"`
	Reservoir                string        `mapstructure:"reservoir"`      // "hdr" or "uniform"
	ReservoirSize            int           `mapstructure:"reservoir_size"` // uniform sample size
	HistogramMax             time.Duration `mapstructure:"histogram_max"`
	HistogramSigFigs         int           `mapstructure:"histogram_sigfigs"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// SimulationConfig drives the synthetic command workload.
type SimulationConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	Rate          int           `mapstructure:"rate"`
	Total         int           `mapstructure:"total"`
	Duration      time.Duration `mapstructure:"duration"`
	Arrival       ArrivalModel  `mapstructure:"arrival"`
	LocalHost     string        `mapstructure:"local_host"`
	LocalPorts    int           `mapstructure:"local_ports"` // number of simulated client connections
	Remotes       []string      `mapstructure:"remotes"`
	Commands      []string      `mapstructure:"commands"`
	FirstResponse time.Duration `mapstructure:"first_response"` // median first-response latency
	Completion    time.Duration `mapstructure:"completion"`     // median completion latency
	Jitter        float64       `mapstructure:"jitter"`         // log-normal sigma
	Seed          int64         `mapstructure:"seed"`           // 0 picks a time-based seed
}

type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

type OutputConfig struct {
	Format       OutputFormat  `mapstructure:"format"`
	EmitInterval time.Duration `mapstructure:"emit_interval"` // 0 disables periodic reports
	File         string        `mapstructure:"file"`          // JSON lines, appended
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Enabled reports whether an exporter endpoint was configured, either here or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoggingOptions converts the log section for the logging package.
func (l LogConfig) LoggingOptions() logging.Options {
	return logging.Options{Level: l.Level, Format: l.Format}
}

// Default returns the configuration used when neither a file nor flags
// override a value.
func Default() *Config {
	def := metrics.DefaultOptions()
	return &Config{
		Collector: CollectorConfig{
			Enabled:                  def.Enabled,
			LocalDistinction:         def.LocalDistinction,
			ResetLatenciesAfterEvent: def.ResetLatenciesAfterEvent,
			TargetUnit:               metrics.UnitName(def.TargetUnit),
			Reservoir:                string(def.Reservoir),
			ReservoirSize:            def.ReservoirSize,
			HistogramMax:             def.HistogramMax,
			HistogramSigFigs:         def.HistogramSigFigs,
		},
		Simulation: SimulationConfig{
			Concurrency:   4,
			Duration:      10 * time.Second,
			Arrival:       ArrivalModelUniform,
			LocalHost:     "127.0.0.1",
			LocalPorts:    8,
			Remotes:       []string{"127.0.0.1:6379"},
			Commands:      []string{"GET", "SET"},
			FirstResponse: 400 * time.Microsecond,
			Completion:    time.Millisecond,
			Jitter:        0.5,
		},
		Output: OutputConfig{
			Format:       OutputFormatText,
			EmitInterval: 5 * time.Second,
		},
		Tracing: TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// CollectorOptions converts the collector section to metrics.Options.
func (c Config) CollectorOptions() (metrics.Options, error) {
	unit, err := metrics.ParseUnit(c.Collector.TargetUnit)
	if err != nil {
		return metrics.Options{}, fmt.Errorf("collector.target_unit: %w", err)
	}
	kind, err := metrics.ParseReservoirKind(c.Collector.Reservoir)
	if err != nil {
		return metrics.Options{}, fmt.Errorf("collector.reservoir: %w", err)
	}
	return metrics.Options{
		Enabled:                  c.Collector.Enabled,
		LocalDistinction:         c.Collector.LocalDistinction,
		ResetLatenciesAfterEvent: c.Collector.ResetLatenciesAfterEvent,
		TargetUnit:               unit,
		Reservoir:                kind,
		ReservoirSize:            c.Collector.ReservoirSize,
		HistogramMax:             c.Collector.HistogramMax,
		HistogramSigFigs:         c.Collector.HistogramSigFigs,
	}, nil
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string
	var warnings []string

	issues = append(issues, validateCollectorConfig(c)...)
	issues = append(issues, validateSimulationConfig(c.Simulation)...)
	issues = append(issues, validateOutputConfig(c.Output)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		issues = append(issues, fmt.Sprintf("log.level: %v", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		issues = append(issues, "log.format must be json or console")
	}

	if c.Collector.LocalDistinction && c.Simulation.LocalPorts > 1000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: local distinction with %d local ports creates up to %d buckets per remote and command.", c.Simulation.LocalPorts, c.Simulation.LocalPorts))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateCollectorConfig(c Config) []string {
	var issues []string
	if _, err := c.CollectorOptions(); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Collector.ReservoirSize < 0 {
		issues = append(issues, "collector.reservoir_size must be non-negative")
	}
	if c.Collector.HistogramMax < 0 {
		issues = append(issues, "collector.histogram_max must be non-negative")
	}
	if c.Collector.HistogramSigFigs != 0 && (c.Collector.HistogramSigFigs < 1 || c.Collector.HistogramSigFigs > 5) {
		issues = append(issues, "collector.histogram_sigfigs must be between 1 and 5")
	}
	return issues
}

func validateSimulationConfig(s SimulationConfig) []string {
	var issues []string
	if s.Concurrency < 1 {
		issues = append(issues, "simulation.concurrency must be at least 1")
	}
	if s.Rate < 0 {
		issues = append(issues, "simulation.rate must be non-negative")
	}
	if s.Total < 0 {
		issues = append(issues, "simulation.total must be non-negative")
	}
	if s.Duration < 0 {
		issues = append(issues, "simulation.duration must be non-negative")
	}
	switch s.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("simulation.arrival must be uniform or poisson, got %q", s.Arrival))
	}
	if s.Arrival == ArrivalModelPoisson && s.Rate == 0 {
		issues = append(issues, "simulation.arrival poisson requires a rate")
	}
	if s.LocalPorts < 1 {
		issues = append(issues, "simulation.local_ports must be at least 1")
	}
	if len(s.Remotes) == 0 {
		issues = append(issues, "simulation.remotes must list at least one endpoint")
	}
	for i, r := range s.Remotes {
		if strings.TrimSpace(r) == "" {
			issues = append(issues, fmt.Sprintf("simulation.remotes[%d] is empty", i))
		}
	}
	if len(s.Commands) == 0 {
		issues = append(issues, "simulation.commands must list at least one command")
	}
	if s.FirstResponse < 0 {
		issues = append(issues, "simulation.first_response must be non-negative")
	}
	if s.Completion < s.FirstResponse {
		issues = append(issues, "simulation.completion must not be shorter than first_response")
	}
	if s.Jitter < 0 {
		issues = append(issues, "simulation.jitter must be non-negative")
	}
	return issues
}

func validateOutputConfig(o OutputConfig) []string {
	var issues []string
	switch o.Format {
	case "", OutputFormatText, OutputFormatJSON, OutputFormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("output.format must be text, json or yaml, got %q", o.Format))
	}
	if o.EmitInterval < 0 {
		issues = append(issues, "output.emit_interval must be non-negative")
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}
	return issues
}
