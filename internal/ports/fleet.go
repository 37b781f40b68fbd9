package ports

import "context"

// FleetProbe is a point-in-time observation of the node fleet.
type FleetProbe struct {
	AvailableServices int     // Services currently responding
	TotalServices     int     // Services expected
	DataIntact        bool    // Whether stored data verified clean
	PeersConnected    int     // Peer connections observed
	QuorumAchievable  bool    // Whether consensus quorum can still be met
	LatencyMs         float64 // Representative request latency
}

// Availability returns the fraction of services responding.
func (p FleetProbe) Availability() float64 {
	if p.TotalServices == 0 {
		return 0
	}
	return float64(p.AvailableServices) / float64(p.TotalServices)
}

// Fleet controls and observes the remote node fleet. The kill-first-launcher
// test drives it.
type Fleet interface {
	// Baseline probes the fleet before any disruption.
	Baseline(ctx context.Context) (FleetProbe, error)

	// KillFirstLauncher stops the designated bootstrap node.
	KillFirstLauncher(ctx context.Context) error

	// Probe observes the fleet in its current state.
	Probe(ctx context.Context) (FleetProbe, error)

	// RestoreLauncher brings the bootstrap node back.
	RestoreLauncher(ctx context.Context) error
}
