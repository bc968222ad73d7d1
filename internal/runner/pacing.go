package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer blocks until the next command may start.
type pacer interface {
	wait(ctx context.Context) error
}

func newPacer(opts Options) pacer {
	if opts.Rate <= 0 {
		return unpaced{}
	}
	if opts.Arrival == ArrivalPoisson {
		draw := opts.Exponential
		if draw == nil {
			draw = rand.New(rand.NewSource(opts.Seed)).ExpFloat64
		}
		return &poissonPacer{
			mean: time.Duration(float64(time.Second) / opts.Rate),
			draw: draw,
		}
	}
	return limiterPacer{opts.NewLimiter(opts.Rate)}
}

type unpaced struct{}

func (unpaced) wait(ctx context.Context) error { return ctx.Err() }

// limiterPacer spaces commands evenly with a token bucket.
type limiterPacer struct {
	limiter *rate.Limiter
}

func (p limiterPacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// poissonPacer sleeps exponentially distributed gaps with the given mean, so
// arrivals form a Poisson process.
type poissonPacer struct {
	mean time.Duration

	mu   sync.Mutex // guards draw; rand.Rand is not safe for concurrent use
	draw func() float64
}

func (p *poissonPacer) gap() time.Duration {
	p.mu.Lock()
	v := p.draw()
	p.mu.Unlock()
	if v <= 0 {
		return 0
	}
	gap := float64(p.mean) * v
	if gap > float64(time.Hour) {
		return time.Hour
	}
	return time.Duration(gap)
}

func (p *poissonPacer) wait(ctx context.Context) error {
	gap := p.gap()
	if gap <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
