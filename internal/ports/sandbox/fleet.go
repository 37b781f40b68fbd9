package sandbox

import (
	"context"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// Fleet simulates a node fleet for the kill-first-launcher test. The probe
// it reports after a kill is configurable so tests can drive both the
// passing and failing paths.
type Fleet struct {
	mu             sync.Mutex
	launcherDown   bool
	baseline       ports.FleetProbe
	degraded       ports.FleetProbe
	killsRequested int
}

// NewFleet returns a fleet whose post-kill probe still passes continuity.
func NewFleet() *Fleet {
	return &Fleet{
		baseline: ports.FleetProbe{
			AvailableServices: 10,
			TotalServices:     10,
			DataIntact:        true,
			PeersConnected:    8,
			QuorumAchievable:  true,
			LatencyMs:         40,
		},
		degraded: ports.FleetProbe{
			AvailableServices: 9,
			TotalServices:     10,
			DataIntact:        true,
			PeersConnected:    7,
			QuorumAchievable:  true,
			LatencyMs:         60,
		},
	}
}

// SetDegraded overrides the probe reported while the launcher is down.
func (f *Fleet) SetDegraded(p ports.FleetProbe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = p
}

// Baseline probes the healthy fleet.
func (f *Fleet) Baseline(ctx context.Context) (ports.FleetProbe, error) {
	if err := ctx.Err(); err != nil {
		return ports.FleetProbe{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseline, nil
}

// KillFirstLauncher stops the designated bootstrap node.
func (f *Fleet) KillFirstLauncher(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launcherDown = true
	f.killsRequested++
	return nil
}

// Probe observes the fleet in its current state.
func (f *Fleet) Probe(ctx context.Context) (ports.FleetProbe, error) {
	if err := ctx.Err(); err != nil {
		return ports.FleetProbe{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launcherDown {
		return f.degraded, nil
	}
	return f.baseline, nil
}

// RestoreLauncher brings the bootstrap node back.
func (f *Fleet) RestoreLauncher(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launcherDown = false
	return nil
}

// Kills returns how many kill requests the fleet received.
func (f *Fleet) Kills() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killsRequested
}

var _ ports.Fleet = (*Fleet)(nil)
