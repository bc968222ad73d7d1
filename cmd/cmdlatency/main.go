package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/cmdlatency/internal/config"
	"github.com/torosent/cmdlatency/internal/logging"
	"github.com/torosent/cmdlatency/internal/metrics"
	"github.com/torosent/cmdlatency/internal/output"
	"github.com/torosent/cmdlatency/internal/runner"
	"github.com/torosent/cmdlatency/internal/threshold"
	"github.com/torosent/cmdlatency/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

var errThresholdsFailed = errors.New("thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cmdlatency",
		Short: "Collect per-connection, per-command latency metrics from a simulated client",
		Long: "cmdlatency drives a synthetic command workload through the latency collector,\n" +
			"periodically publishes first-response and completion percentiles per\n" +
			"(local, remote, command) bucket and checks them against thresholds.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader().FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(string(cfg.Output.Format))
	if err != nil {
		return err
	}
	collectorOpts, err := cfg.CollectorOptions()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.LoggingOptions())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(collectorOpts, metrics.WithLogger(logger.Named("collector")))
	defer collector.Shutdown()

	sinks := []output.Sink{output.NewWriterSink(stdout, format)}
	if cfg.Output.File != "" {
		fileSink, err := output.NewFileSink(cfg.Output.File)
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
		logger.Info("appending reports to file", zap.String("path", fileSink.Path()))
	}

	evaluator := threshold.NewEvaluator(thresholds)
	publisher := output.NewPublisher(collector, cfg.Output.EmitInterval, sinks,
		output.WithTracer(tp.Tracer()),
		output.WithPublisherLogger(logger.Named("publisher")),
		output.WithObserver(evaluator.Observe),
	)

	client, err := newSimulatedClient(cfg.Simulation, collector, tp.Tracer())
	if err != nil {
		return err
	}
	r := runner.New(runner.Options{
		Connections: cfg.Simulation.Concurrency,
		Commands:    cfg.Simulation.Total,
		Duration:    cfg.Simulation.Duration,
		Rate:        float64(cfg.Simulation.Rate),
		Arrival:     toRunnerArrival(cfg.Simulation.Arrival),
		Seed:        cfg.Simulation.Seed,
		Executor:    client,
		Logger:      logger.Named("runner"),
	})

	logger.Info("starting simulation",
		zap.Int("concurrency", cfg.Simulation.Concurrency),
		zap.Duration("duration", cfg.Simulation.Duration),
		zap.Int("total", cfg.Simulation.Total),
		zap.Bool("collector_enabled", collector.IsEnabled()),
		zap.String("unit", metrics.UnitName(collectorOpts.TargetUnit)),
	)

	var result runner.Result
	runCtx, stopPublishing := context.WithCancel(ctx)
	defer stopPublishing()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stopPublishing()
		result = r.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return publisher.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("simulation finished",
		zap.Int64("commands", result.Issued),
		zap.Int64("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed),
		zap.Float64("throughput", result.Throughput()),
	)

	if _, _, err := publisher.PublishNow(context.Background()); err != nil {
		return fmt.Errorf("final report: %w", err)
	}
	logger.Info("reports published",
		zap.Int64("published", publisher.Published()),
		zap.Int("evaluated", evaluator.Reports()),
	)
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := tp.Flush(flushCtx); err != nil {
		logger.Warn("tracing flush", zap.Error(err))
	}
	cancelFlush()

	if len(thresholds) == 0 {
		return nil
	}
	results := evaluator.Results()
	resultsOut := stdout
	if format != output.FormatText {
		resultsOut = os.Stderr
	}
	printThresholdResults(resultsOut, results)
	if !threshold.AllPassed(results) {
		return fmt.Errorf("%d of %d %w", countFailed(results), len(results), errThresholdsFailed)
	}
	return nil
}

func toRunnerArrival(model config.ArrivalModel) runner.Arrival {
	switch strings.ToLower(string(model)) {
	case string(config.ArrivalModelPoisson):
		return runner.ArrivalPoisson
	default:
		return runner.ArrivalUniform
	}
}

func printThresholdResults(w io.Writer, results []threshold.Result) {
	fmt.Fprintln(w, "\nThresholds:")
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

func countFailed(results []threshold.Result) int {
	failed := 0
	for _, r := range results {
		if !r.Pass {
			failed++
		}
	}
	return failed
}
