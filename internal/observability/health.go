package observability

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
)

// DefaultPollInterval is how often dependencies are probed.
const DefaultPollInterval = 30 * time.Second

// DefaultDependencyTimeout bounds a single probe invocation.
const DefaultDependencyTimeout = 5 * time.Second

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// DependencyStatus is the last observed state of one dependency.
type DependencyStatus struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	LastError string        `json:"last_error,omitempty"`
	CheckedAt int64         `json:"checked_at"`
}

// HealthPoller runs registered probes on an interval and retains the latest
// status per dependency.
type HealthPoller struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	statuses map[string]DependencyStatus
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHealthPoller creates a poller. Zero interval and timeout fall back to
// the defaults.
func NewHealthPoller(interval, timeout time.Duration, clk clock.Clock, logger *log.Logger) *HealthPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultDependencyTimeout
	}
	return &HealthPoller{
		probes:   make(map[string]Probe),
		statuses: make(map[string]DependencyStatus),
		interval: interval,
		timeout:  timeout,
		clock:    clk,
		logger:   logger,
	}
}

// RegisterProbe adds or replaces a dependency probe.
func (p *HealthPoller) RegisterProbe(name string, probe Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name] = probe
}

// Start launches the polling loop. Probes also run once immediately so
// status is available before the first interval elapses.
func (p *HealthPoller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.PollOnce(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// Stop halts the polling loop and waits for it to exit.
func (p *HealthPoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// PollOnce runs every registered probe once. Each probe races against the
// poller's timeout so one hung dependency cannot wedge the loop.
func (p *HealthPoller) PollOnce(ctx context.Context) {
	p.mu.RLock()
	probes := make(map[string]Probe, len(p.probes))
	for name, probe := range p.probes {
		probes[name] = probe
	}
	p.mu.RUnlock()

	for name, probe := range probes {
		start := p.clock.Now()
		err := p.runProbe(ctx, probe)
		status := DependencyStatus{
			Name:      name,
			Healthy:   err == nil,
			Latency:   p.clock.Now().Sub(start),
			CheckedAt: p.clock.NowMillis(),
		}
		if err != nil {
			status.LastError = err.Error()
			if p.logger != nil {
				p.logger.Printf("health: dependency %s unhealthy: %v", name, err)
			}
		}
		p.mu.Lock()
		p.statuses[name] = status
		p.mu.Unlock()
	}
}

// runProbe invokes the probe under the timeout. The probe runs in its own
// goroutine so a probe ignoring its context still cannot block the poll; it
// is abandoned after the deadline.
func (p *HealthPoller) runProbe(ctx context.Context, probe Probe) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- probe(ctx)
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("probe timed out after %s", p.timeout)
	}
}

// Status returns the last status of one dependency.
func (p *HealthPoller) Status(name string) (DependencyStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.statuses[name]
	return status, ok
}

// Statuses returns all dependency statuses sorted by name.
func (p *HealthPoller) Statuses() []DependencyStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]DependencyStatus, 0, len(p.statuses))
	for _, status := range p.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllHealthy reports whether every polled dependency is currently healthy.
// An empty poller is healthy.
func (p *HealthPoller) AllHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, status := range p.statuses {
		if !status.Healthy {
			return false
		}
	}
	return true
}
