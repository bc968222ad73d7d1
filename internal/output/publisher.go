package output

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/cmdlatency/internal/metrics"
	"github.com/torosent/cmdlatency/internal/tracing"
)

// Publisher periodically retrieves collector metrics and hands the resulting
// report to every sink and observer.
type Publisher struct {
	collector *metrics.Collector
	sinks     []Sink
	observers []func(Report)
	interval  time.Duration
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex // serializes publications
	published atomic.Int64
}

type PublisherOption func(*Publisher)

func WithTracer(tracer trace.Tracer) PublisherOption {
	return func(p *Publisher) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers fn to receive every published report after the sinks.
func WithObserver(fn func(Report)) PublisherOption {
	return func(p *Publisher) {
		if fn != nil {
			p.observers = append(p.observers, fn)
		}
	}
}

func withClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a publisher. An interval of zero disables the periodic
// loop; PublishNow still works.
func NewPublisher(collector *metrics.Collector, interval time.Duration, sinks []Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		collector: collector,
		sinks:     sinks,
		interval:  interval,
		tracer:    noop.NewTracerProvider().Tracer("cmdlatency"),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Published returns the number of reports emitted so far.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Run publishes a report every interval until ctx is done. Sink failures are
// logged and do not stop the loop. With a zero interval it only waits for ctx.
// Run holds no state between calls, so a publisher may be run again after a
// previous Run returned.
func (p *Publisher) Run(ctx context.Context) error {
	if p.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := p.PublishNow(ctx); err != nil {
				p.logger.Warn("publish latency report", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// PublishNow retrieves the collector's metrics and emits a report. It returns
// false without emitting anything when the collector is not enabled. Sink
// errors are joined; every sink is attempted.
func (p *Publisher) PublishNow(ctx context.Context) (Report, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.collector.IsEnabled() {
		return Report{}, false, nil
	}

	opts := p.collector.Options()
	_, span := tracing.StartPublishSpan(ctx, p.tracer, opts.ResetLatenciesAfterEvent)

	report := NewReport(p.collector.RetrieveMetrics(), opts.TargetUnit, opts.ResetLatenciesAfterEvent, p.now())

	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Emit(report); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range p.observers {
		fn(report)
	}
	p.published.Add(1)

	err := errors.Join(errs...)
	tracing.EndSpan(span, err,
		tracing.AttrReportID.String(report.ID.String()),
		tracing.AttrBuckets.Int(len(report.Buckets)),
	)
	p.logger.Debug("published latency report",
		zap.Stringer("report_id", report.ID),
		zap.Int("buckets", len(report.Buckets)),
		zap.Int64("commands", report.TotalCommands()),
	)
	return report, true, err
}
