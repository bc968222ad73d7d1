package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Executor runs one command on the simulated connection conn, an index in
// [0, Options.Connections). A connection never runs two commands at once.
type Executor interface {
	Execute(ctx context.Context, conn int) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, conn int) error

func (f ExecutorFunc) Execute(ctx context.Context, conn int) error { return f(ctx, conn) }

// Arrival selects how command start times are spaced.
type Arrival string

const (
	ArrivalUniform Arrival = "uniform"
	ArrivalPoisson Arrival = "poisson"
)

// Options configure a Runner. The zero value of every limit means unbounded.
type Options struct {
	Connections int           // concurrent connections, at least 1
	Commands    int           // commands to issue in total
	Duration    time.Duration // wall-clock cap
	Rate        float64       // commands per second across all connections
	Arrival     Arrival
	Seed        int64 // seeds the poisson gaps; 0 picks one

	Executor Executor
	Logger   *zap.Logger

	// Test hooks.
	Exponential func() float64 // unit-mean exponential variate
	NewLimiter  func(perSecond float64) *rate.Limiter
}

func (o Options) withDefaults() Options {
	o.Connections = max(o.Connections, 1)
	o.Commands = max(o.Commands, 0)
	o.Duration = max(o.Duration, 0)
	o.Rate = max(o.Rate, 0)
	if o.Arrival == "" {
		o.Arrival = ArrivalUniform
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.NewLimiter == nil {
		o.NewLimiter = defaultLimiter
	}
	return o
}

// defaultLimiter allows a one-second burst so connections do not queue
// behind each other at high rates.
func defaultLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(int(perSecond), 1))
}
