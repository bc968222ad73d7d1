package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// configureFlags sets up all CLI flags on the provided flag set. Defaults
// shown in help come from Default(); only flags the user sets override the
// config file.
func configureFlags(flags *pflag.FlagSet) {
	def := Default()

	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Collector flags
	flags.Bool("enabled", def.Collector.Enabled, "Record command latencies")
	flags.Bool("local-distinction", def.Collector.LocalDistinction, "Keep a separate bucket per local endpoint")
	flags.Bool("reset-after-read", def.Collector.ResetLatenciesAfterEvent, "Clear buckets each time metrics are retrieved")
	flags.String("unit", def.Collector.TargetUnit, "Unit for reported latencies (ns, us, ms, s)")
	flags.String("reservoir", def.Collector.Reservoir, "Latency reservoir: 'hdr' or 'uniform'")
	flags.Int("reservoir-size", def.Collector.ReservoirSize, "Sample size of the uniform reservoir")
	flags.Duration("histogram-max", def.Collector.HistogramMax, "Highest latency tracked by the hdr reservoir")
	flags.Int("histogram-sigfigs", def.Collector.HistogramSigFigs, "Significant figures kept by the hdr reservoir (1-5)")

	// Simulation flags
	flags.IntP("concurrency", "c", def.Simulation.Concurrency, "Number of concurrent simulated clients")
	flags.IntP("rate", "r", 0, "Commands per second limit (0 means unlimited)")
	flags.DurationP("duration", "d", def.Simulation.Duration, "How long to run the simulation (0 runs until interrupted or --total)")
	flags.IntP("total", "t", 0, "Total number of commands to simulate (0 means unlimited)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used when pacing commands (uniform or poisson)")
	flags.String("local-host", def.Simulation.LocalHost, "Host of the simulated local endpoints")
	flags.Int("local-ports", def.Simulation.LocalPorts, "Number of simulated local connections")
	flags.StringSlice("remote", nil, "Remote endpoint host:port (repeatable)")
	flags.StringSlice("command", nil, "Command type to simulate (repeatable)")
	flags.Duration("first-response", def.Simulation.FirstResponse, "Median first-response latency")
	flags.Duration("completion", def.Simulation.Completion, "Median completion latency")
	flags.Float64("jitter", def.Simulation.Jitter, "Log-normal spread of simulated latencies")
	flags.Int64("seed", 0, "Random seed for the simulation (0 picks one)")

	// Output flags
	flags.String("format", string(OutputFormatText), "Report format: 'text', 'json' or 'yaml'")
	flags.Duration("emit-interval", def.Output.EmitInterval, "Interval between periodic reports (0 disables them)")
	flags.String("output-file", "", "Append every report as a JSON line to this file")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", def.Tracing.Protocol, "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("tracing-service-name", "", "Service name reported in traces")
	flags.Float64("tracing-sample-rate", def.Tracing.SampleRate, "Trace sampling ratio between 0.0 and 1.0")

	// Logging flags
	flags.String("log-level", def.Log.Level, "Log level: debug, info, warn or error")
	flags.String("log-format", def.Log.Format, "Log format: console or json")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Latency thresholds (repeatable, e.g., 'completion:p99 < 5')")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"enabled", &cfg.Collector.Enabled},
		{"local-distinction", &cfg.Collector.LocalDistinction},
		{"reset-after-read", &cfg.Collector.ResetLatenciesAfterEvent},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, f := range boolFlags {
		if fs.Changed(f.name) {
			val, err := fs.GetBool(f.name)
			if err != nil {
				return err
			}
			*f.dst = val
		}
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"reservoir-size", &cfg.Collector.ReservoirSize},
		{"histogram-sigfigs", &cfg.Collector.HistogramSigFigs},
		{"concurrency", &cfg.Simulation.Concurrency},
		{"rate", &cfg.Simulation.Rate},
		{"total", &cfg.Simulation.Total},
		{"local-ports", &cfg.Simulation.LocalPorts},
	}
	for _, f := range intFlags {
		if fs.Changed(f.name) {
			val, err := fs.GetInt(f.name)
			if err != nil {
				return err
			}
			*f.dst = val
		}
	}

	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"unit", &cfg.Collector.TargetUnit},
		{"reservoir", &cfg.Collector.Reservoir},
		{"local-host", &cfg.Simulation.LocalHost},
		{"output-file", &cfg.Output.File},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
	}
	for _, f := range stringFlags {
		if fs.Changed(f.name) {
			val, err := fs.GetString(f.name)
			if err != nil {
				return err
			}
			*f.dst = strings.TrimSpace(val)
		}
	}

	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Simulation.Arrival = ArrivalModel(val)
	}
	if fs.Changed("format") {
		val, err := fs.GetString("format")
		if err != nil {
			return err
		}
		cfg.Output.Format = OutputFormat(val)
	}

	if fs.Changed("histogram-max") {
		val, err := fs.GetDuration("histogram-max")
		if err != nil {
			return err
		}
		cfg.Collector.HistogramMax = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Simulation.Duration = val
	}
	if fs.Changed("first-response") {
		val, err := fs.GetDuration("first-response")
		if err != nil {
			return err
		}
		cfg.Simulation.FirstResponse = val
	}
	if fs.Changed("completion") {
		val, err := fs.GetDuration("completion")
		if err != nil {
			return err
		}
		cfg.Simulation.Completion = val
	}
	if fs.Changed("emit-interval") {
		val, err := fs.GetDuration("emit-interval")
		if err != nil {
			return err
		}
		cfg.Output.EmitInterval = val
	}

	if fs.Changed("jitter") {
		val, err := fs.GetFloat64("jitter")
		if err != nil {
			return err
		}
		cfg.Simulation.Jitter = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Simulation.Seed = val
	}

	if fs.Changed("remote") {
		val, err := fs.GetStringSlice("remote")
		if err != nil {
			return err
		}
		cfg.Simulation.Remotes = val
	}
	if fs.Changed("command") {
		val, err := fs.GetStringSlice("command")
		if err != nil {
			return err
		}
		cfg.Simulation.Commands = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	return nil
}
