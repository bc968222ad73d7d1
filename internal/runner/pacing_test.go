package runner

import (
	"context"
	"testing"
	"time"
)

func TestNewPacer(t *testing.T) {
	if _, ok := newPacer(Options{}.withDefaults()).(unpaced); !ok {
		t.Error("no rate should give an unpaced pacer")
	}
	if _, ok := newPacer(Options{Rate: 10}.withDefaults()).(limiterPacer); !ok {
		t.Error("uniform arrival should use the limiter")
	}
	p, ok := newPacer(Options{Rate: 200, Arrival: ArrivalPoisson}.withDefaults()).(*poissonPacer)
	if !ok {
		t.Fatal("poisson arrival should use exponential gaps")
	}
	if p.mean != 5*time.Millisecond {
		t.Errorf("mean gap = %v, want 5ms", p.mean)
	}
}

func TestPoissonPacerGap(t *testing.T) {
	tests := []struct {
		draw float64
		want time.Duration
	}{
		{1, 5 * time.Millisecond},
		{2.5, 12500 * time.Microsecond},
		{0, 0},
		{1e12, time.Hour},
	}
	for _, tt := range tests {
		p := &poissonPacer{mean: 5 * time.Millisecond, draw: func() float64 { return tt.draw }}
		if got := p.gap(); got != tt.want {
			t.Errorf("gap(draw=%v) = %v, want %v", tt.draw, got, tt.want)
		}
	}
}

func TestPoissonPacerWaitCancelled(t *testing.T) {
	p := &poissonPacer{mean: time.Hour, draw: func() float64 { return 1 }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.wait(ctx); err == nil {
		t.Fatal("wait on a cancelled context should fail")
	}
}

func TestUnpacedWait(t *testing.T) {
	if err := (unpaced{}).wait(context.Background()); err != nil {
		t.Errorf("wait() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (unpaced{}).wait(ctx); err == nil {
		t.Error("unpaced wait should report cancellation")
	}
}
