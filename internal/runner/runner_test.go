package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/torosent/cmdlatency/internal/runner"
)

// sleepyClient counts commands per connection and sleeps a fixed latency.
type sleepyClient struct {
	latency time.Duration

	mu       sync.Mutex
	perConn  map[int]int
	inFlight map[int]bool
	overlap  bool
}

func newSleepyClient(latency time.Duration) *sleepyClient {
	return &sleepyClient{latency: latency, perConn: map[int]int{}, inFlight: map[int]bool{}}
}

func (c *sleepyClient) Execute(ctx context.Context, conn int) error {
	c.mu.Lock()
	if c.inFlight[conn] {
		c.overlap = true
	}
	c.inFlight[conn] = true
	c.perConn[conn]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight[conn] = false
		c.mu.Unlock()
	}()

	if c.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(c.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *sleepyClient) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.perConn {
		n += v
	}
	return n
}

func TestRunnerCommandBudget(t *testing.T) {
	client := newSleepyClient(time.Millisecond)
	res := runner.New(runner.Options{Connections: 4, Commands: 25, Executor: client}).Run(context.Background())

	if res.Issued != 25 || client.total() != 25 {
		t.Fatalf("issued=%d executed=%d, want 25", res.Issued, client.total())
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}
	if client.overlap {
		t.Error("a connection ran two commands at once")
	}
	for conn := range client.perConn {
		if conn < 0 || conn >= 4 {
			t.Errorf("unexpected connection index %d", conn)
		}
	}
}

func TestRunnerDuration(t *testing.T) {
	client := newSleepyClient(5 * time.Millisecond)
	start := time.Now()
	res := runner.New(runner.Options{Connections: 10, Duration: 50 * time.Millisecond, Executor: client}).Run(context.Background())
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Fatalf("duration enforcement off: %s", elapsed)
	}
	if res.Elapsed <= 0 || res.Issued == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Throughput() <= 0 {
		t.Errorf("Throughput() = %v, want > 0", res.Throughput())
	}
}

func TestRunnerRateCapsThroughput(t *testing.T) {
	client := newSleepyClient(0)
	duration := 100 * time.Millisecond
	res := runner.New(runner.Options{
		Connections: 20,
		Duration:    duration,
		Rate:        100,
		Executor:    client,
		NewLimiter:  func(perSecond float64) *rate.Limiter { return rate.NewLimiter(rate.Limit(perSecond), 1) },
	}).Run(context.Background())

	// ~100/s for 100ms plus the initial token, with slack.
	if res.Issued > 13 {
		t.Fatalf("rate exceeded: issued=%d", res.Issued)
	}
	if int64(client.total()) != res.Issued {
		t.Fatalf("executed %d, issued %d", client.total(), res.Issued)
	}
}

func TestRunnerPoissonArrival(t *testing.T) {
	var calls atomic.Int64
	start := time.Now()
	res := runner.New(runner.Options{
		Connections: 4,
		Commands:    5,
		Rate:        100,
		Arrival:     runner.ArrivalPoisson,
		Exponential: func() float64 { return 1 },
		Executor: runner.ExecutorFunc(func(context.Context, int) error {
			calls.Add(1)
			return nil
		}),
	}).Run(context.Background())

	if res.Issued != 5 || calls.Load() != 5 {
		t.Fatalf("issued=%d calls=%d, want 5", res.Issued, calls.Load())
	}
	// Five gaps of 10ms each.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("poisson pacing too fast: %s", elapsed)
	}
}

func TestRunnerCountsAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	errRefused := errors.New("connection refused")
	res := runner.New(runner.Options{
		Connections: 2,
		Commands:    10,
		Executor:    runner.ExecutorFunc(func(context.Context, int) error { return errRefused }),
		Logger:      zap.New(core),
	}).Run(context.Background())

	if res.Failed != 10 {
		t.Fatalf("Failed = %d, want 10", res.Failed)
	}
	failures := logs.FilterMessage("command failed")
	if failures.Len() != 10 {
		t.Fatalf("failure logs = %d, want 10", failures.Len())
	}
	for _, entry := range failures.All() {
		if _, ok := entry.ContextMap()["conn"]; !ok {
			t.Fatal("failure log is missing the connection index")
		}
	}
	if logs.FilterMessage("runner finished").Len() != 1 {
		t.Fatal("expected one runner finished entry")
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	client := newSleepyClient(time.Millisecond)

	done := make(chan runner.Result, 1)
	go func() { done <- runner.New(runner.Options{Connections: 2, Executor: client}).Run(ctx) }()
	select {
	case res := <-done:
		if res.Issued == 0 {
			t.Fatal("expected some commands before cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestResultThroughput(t *testing.T) {
	if got := (runner.Result{Issued: 10}).Throughput(); got != 0 {
		t.Errorf("zero elapsed throughput = %v, want 0", got)
	}
	if got := (runner.Result{Issued: 10, Elapsed: 2 * time.Second}).Throughput(); got != 5 {
		t.Errorf("Throughput() = %v, want 5", got)
	}
}
