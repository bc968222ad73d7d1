package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/cmdlatency/internal/config"
	"github.com/torosent/cmdlatency/internal/metrics"
	"github.com/torosent/cmdlatency/internal/tracing"
)

// firstLocalPort is the first simulated ephemeral client port.
const firstLocalPort = 49152

// commandSample is one simulated command before it runs.
type commandSample struct {
	local         metrics.Endpoint
	remote        metrics.Endpoint
	command       metrics.OperationType
	firstResponse time.Duration
	completion    time.Duration
}

// simulatedClient plays the role of a client connection pool. Each runner
// connection owns a share of the local ports; a command picks one of them, a
// remote and a command type, waits out log-normal latencies and records what
// it measured with the collector.
type simulatedClient struct {
	collector *metrics.Collector
	tracer    trace.Tracer

	locals      []metrics.Endpoint
	connections int
	remotes     []metrics.Endpoint
	commands    []metrics.OperationType

	firstMedian time.Duration
	tailMedian  time.Duration // completion minus first response
	jitter      float64

	mu  sync.Mutex
	rnd *rand.Rand

	wait func(ctx context.Context, d time.Duration) error
}

func newSimulatedClient(cfg config.SimulationConfig, collector *metrics.Collector, tracer trace.Tracer) (*simulatedClient, error) {
	if len(cfg.Remotes) == 0 {
		return nil, fmt.Errorf("simulation: no remotes configured")
	}
	if len(cfg.Commands) == 0 {
		return nil, fmt.Errorf("simulation: no commands configured")
	}
	ports := cfg.LocalPorts
	if ports < 1 {
		ports = 1
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &simulatedClient{
		collector:   collector,
		tracer:      tracer,
		locals:      localEndpoints(cfg.LocalHost, ports),
		connections: max(cfg.Concurrency, 1),
		firstMedian: cfg.FirstResponse,
		tailMedian:  cfg.Completion - cfg.FirstResponse,
		jitter:      cfg.Jitter,
		rnd:         rand.New(rand.NewSource(seed)),
		wait:        waitFor,
	}
	if s.tailMedian < 0 {
		s.tailMedian = 0
	}
	for _, r := range cfg.Remotes {
		s.remotes = append(s.remotes, metrics.Endpoint(strings.TrimSpace(r)))
	}
	for _, c := range cfg.Commands {
		s.commands = append(s.commands, metrics.OperationType(strings.ToUpper(strings.TrimSpace(c))))
	}
	return s, nil
}

func localEndpoints(host string, ports int) []metrics.Endpoint {
	ip := net.ParseIP(host)
	out := make([]metrics.Endpoint, 0, ports)
	for i := 0; i < ports; i++ {
		port := firstLocalPort + i
		if ip != nil {
			out = append(out, metrics.EndpointFromAddr(&net.TCPAddr{IP: ip, Port: port}))
			continue
		}
		out = append(out, metrics.Endpoint(net.JoinHostPort(host, strconv.Itoa(port))))
	}
	return out
}

// localIndex picks a local port owned by conn: ports conn, conn+N, conn+2N...
// for N connections. With fewer ports than connections, ports are shared.
// Callers hold s.mu.
func (s *simulatedClient) localIndex(conn int) int {
	n := len(s.locals)
	if conn < 0 || conn >= n || conn >= s.connections {
		return ((conn % n) + n) % n
	}
	owned := (n - conn + s.connections - 1) / s.connections
	return conn + s.connections*s.rnd.Intn(owned)
}

func (s *simulatedClient) sample(conn int) commandSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := logNormal(s.rnd, s.firstMedian, s.jitter)
	return commandSample{
		local:         s.locals[s.localIndex(conn)],
		remote:        s.remotes[s.rnd.Intn(len(s.remotes))],
		command:       s.commands[s.rnd.Intn(len(s.commands))],
		firstResponse: first,
		completion:    first + logNormal(s.rnd, s.tailMedian, s.jitter),
	}
}

// logNormal draws a duration whose median is median and whose log has
// standard deviation sigma.
func logNormal(rnd *rand.Rand, median time.Duration, sigma float64) time.Duration {
	if median <= 0 {
		return 0
	}
	if sigma <= 0 {
		return median
	}
	v := float64(median) * math.Exp(sigma*rnd.NormFloat64())
	if v > float64(time.Hour) {
		v = float64(time.Hour)
	}
	return time.Duration(v)
}

// Execute runs one simulated command on connection conn. A command cut short
// by ctx is not recorded.
func (s *simulatedClient) Execute(ctx context.Context, conn int) error {
	cmd := s.sample(conn)
	ctx, span := tracing.StartCommandSpan(ctx, s.tracer, string(cmd.command), string(cmd.local), string(cmd.remote))

	start := time.Now()
	if err := s.wait(ctx, cmd.firstResponse); err != nil {
		tracing.EndSpan(span, err)
		return err
	}
	firstResponse := time.Since(start)
	if err := s.wait(ctx, cmd.completion-cmd.firstResponse); err != nil {
		tracing.EndSpan(span, err)
		return err
	}
	completion := time.Since(start)

	s.collector.RecordCommandLatency(cmd.local, cmd.remote, cmd.command, firstResponse, completion)
	tracing.EndSpan(span, nil)
	return nil
}

func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
