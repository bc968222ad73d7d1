package runner

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result summarizes a run.
type Result struct {
	Issued  int64 // commands handed to a connection
	Failed  int64 // commands whose Execute returned an error
	Elapsed time.Duration
}

// Throughput returns issued commands per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Issued) / r.Elapsed.Seconds()
}

// Runner spreads a paced stream of commands over a fixed set of connections.
type Runner struct {
	opts  Options
	pacer pacer
}

func New(opts Options) *Runner {
	opts = opts.withDefaults()
	return &Runner{opts: opts, pacer: newPacer(opts)}
}

// Run issues commands until Commands have been issued, Duration elapses or ctx
// is cancelled, then waits for in-flight commands to return.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	if r.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Duration)
		defer cancel()
	}

	var issued, failed atomic.Int64
	// One dispatcher owns pacing so connections cannot overshoot the rate
	// together; tickets are handed out only when a connection is free.
	tickets := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(tickets)
		for r.opts.Commands == 0 || issued.Load() < int64(r.opts.Commands) {
			if r.pacer.wait(ctx) != nil {
				return nil
			}
			select {
			case tickets <- struct{}{}:
				issued.Add(1)
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})

	for conn := 0; conn < r.opts.Connections; conn++ {
		conn := conn
		g.Go(func() error {
			for range tickets {
				if r.opts.Executor == nil {
					continue
				}
				if err := r.opts.Executor.Execute(ctx, conn); err != nil {
					failed.Add(1)
					if ctx.Err() == nil {
						r.opts.Logger.Debug("command failed", zap.Int("conn", conn), zap.Error(err))
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Issued: issued.Load(), Failed: failed.Load(), Elapsed: time.Since(start)}
	r.opts.Logger.Debug("runner finished",
		zap.Int64("issued", res.Issued),
		zap.Int64("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("throughput", res.Throughput()),
	)
	return res
}
