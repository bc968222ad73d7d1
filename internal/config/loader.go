package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// FromFlags builds a Config from an already parsed flag set that was set up
// with RegisterFlags. Precedence is defaults, then the --config file, then
// flags that were explicitly set.
func (Loader) FromFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Output.Format = OutputFormat(strings.ToLower(strings.TrimSpace(string(cfg.Output.Format))))
	cfg.Simulation.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(string(cfg.Simulation.Arrival))))
	for i, c := range cfg.Simulation.Commands {
		cfg.Simulation.Commands[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "collector"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("collector: %w", err)
		}
		if err := applyCollectorSettings(&cfg.Collector, entry); err != nil {
			return fmt.Errorf("collector: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "simulation"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("simulation: %w", err)
		}
		if err := applySimulationSettings(&cfg.Simulation, entry); err != nil {
			return fmt.Errorf("simulation: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		if err := applyOutputSettings(&cfg.Output, entry); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracingSettings(&cfg.Tracing, entry); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if raw, ok := lookupSetting(entry, "level"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("log.level: %w", err)
			}
			cfg.Log.Level = strings.TrimSpace(val)
		}
		if raw, ok := lookupSetting(entry, "format"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("log.format: %w", err)
			}
			cfg.Log.Format = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	return nil
}

func applyCollectorSettings(c *CollectorConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		c.Enabled = val
	}
	if raw, ok := lookupSetting(settings, "localdistinction", "local_distinction", "local-distinction"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("local_distinction: %w", err)
		}
		c.LocalDistinction = val
	}
	if raw, ok := lookupSetting(settings, "resetlatenciesafterevent", "reset_latencies_after_event", "reset-latencies-after-event"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("reset_latencies_after_event: %w", err)
		}
		c.ResetLatenciesAfterEvent = val
	}
	if raw, ok := lookupSetting(settings, "targetunit", "target_unit", "target-unit"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target_unit: %w", err)
		}
		c.TargetUnit = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "reservoir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("reservoir: %w", err)
		}
		c.Reservoir = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "reservoirsize", "reservoir_size", "reservoir-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("reservoir_size: %w", err)
		}
		c.ReservoirSize = val
	}
	if raw, ok := lookupSetting(settings, "histogrammax", "histogram_max", "histogram-max"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("histogram_max: %w", err)
		}
		c.HistogramMax = dur
	}
	if raw, ok := lookupSetting(settings, "histogramsigfigs", "histogram_sigfigs", "histogram-sigfigs"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("histogram_sigfigs: %w", err)
		}
		c.HistogramSigFigs = val
	}
	return nil
}

func applySimulationSettings(s *SimulationConfig, settings map[string]interface{}) error {
	intFields := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"concurrency"}, &s.Concurrency},
		{[]string{"rate"}, &s.Rate},
		{[]string{"total"}, &s.Total},
		{[]string{"localports", "local-ports", "local_ports"}, &s.LocalPorts},
	}
	for _, f := range intFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[len(f.keys)-1], err)
			}
			*f.dst = val
		}
	}

	durationFields := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"duration"}, &s.Duration},
		{[]string{"firstresponse", "first-response", "first_response"}, &s.FirstResponse},
		{[]string{"completion"}, &s.Completion},
	}
	for _, f := range durationFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[len(f.keys)-1], err)
			}
			*f.dst = dur
		}
	}

	if raw, ok := lookupSetting(settings, "arrival", "arrival_model", "arrival-model"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		s.Arrival = ArrivalModel(val)
	}
	if raw, ok := lookupSetting(settings, "localhost", "local_host", "local-host"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("local_host: %w", err)
		}
		s.LocalHost = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "remotes"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("remotes: %w", err)
		}
		s.Remotes = val
	}
	if raw, ok := lookupSetting(settings, "commands"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("commands: %w", err)
		}
		s.Commands = val
	}
	if raw, ok := lookupSetting(settings, "jitter"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("jitter: %w", err)
		}
		s.Jitter = val
	}
	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		s.Seed = int64(val)
	}
	return nil
}

func applyOutputSettings(o *OutputConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		o.Format = OutputFormat(val)
	}
	if raw, ok := lookupSetting(settings, "emitinterval", "emit_interval", "emit-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("emit_interval: %w", err)
		}
		o.EmitInterval = dur
	}
	if raw, ok := lookupSetting(settings, "file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("file: %w", err)
		}
		o.File = strings.TrimSpace(val)
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	return nil
}
