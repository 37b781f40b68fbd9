// Package integrity aggregates ecosystem health, runs the decentralization
// attestation with its kill-first-launcher test, and evaluates performance
// gates against recorded traffic.
package integrity

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/core/ledger"
	"github.com/qinfinity/qcored/internal/core/pipeline"
	"github.com/qinfinity/qcored/internal/events"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/observability"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
)

// Module is one health-checkable ecosystem module. Critical modules escalate
// the overall status to critical when unreachable.
type Module struct {
	Name     string
	Critical bool
	Check    observability.Probe
}

// StatBus is an event bus that can report its own delivery totals. The
// in-process bus satisfies it.
type StatBus interface {
	ports.EventBus
	Stats() events.Stats
}

// Options configure the validator.
type Options struct {
	ProbeTimeout   time.Duration // per-module health check deadline
	PublishTimeout time.Duration // attestation publication deadline
	Gates          GateLimits
}

func (o *Options) fill() {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	o.Gates = o.Gates.fill()
}

// Validator drives the integrity checks. Every collaborator arrives as a
// capability port so the validator never imports another component's
// internals.
type Validator struct {
	modules  []Module
	executor *pipeline.Executor
	ledger   *ledger.Ledger
	recorder *observability.Recorder
	detector *observability.AnomalyDetector
	crypto   ports.Crypto
	storage  ports.ContentStorage
	fleet    ports.Fleet
	bus      StatBus
	art      *artifacts.Store
	clock    clock.Clock
	ids      clock.IDGenerator
	logger   *log.Logger
	facts    Facts
	opts     Options
}

// NewValidator wires an integrity validator. Ledger, recorder, fleet and bus
// may be nil; the corresponding checks then degrade gracefully.
func NewValidator(modules []Module, executor *pipeline.Executor, led *ledger.Ledger,
	recorder *observability.Recorder, crypto ports.Crypto, storage ports.ContentStorage,
	fleet ports.Fleet, bus StatBus, art *artifacts.Store,
	clk clock.Clock, ids clock.IDGenerator, logger *log.Logger, facts Facts, opts Options) *Validator {
	opts.fill()
	return &Validator{
		modules:  modules,
		executor: executor,
		ledger:   led,
		recorder: recorder,
		detector: observability.NewAnomalyDetector(),
		crypto:   crypto,
		storage:  storage,
		fleet:    fleet,
		bus:      bus,
		art:      art,
		clock:    clk,
		ids:      ids,
		logger:   logger,
		facts:    facts,
		opts:     opts,
	}
}

// ModuleHealth is one module's probe outcome.
type ModuleHealth struct {
	Name      string  `json:"name"`
	Critical  bool    `json:"critical"`
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// DataFlowHealth is the outcome of running the canonical chain.
type DataFlowHealth struct {
	ExecutionID       string `json:"execution_id"`
	Completed         bool   `json:"completed"`
	IntegrityViolated bool   `json:"integrity_violated"`
	Steps             int    `json:"steps"`
	Healthy           bool   `json:"healthy"`
}

// BusHealth summarizes event-bus coherence.
type BusHealth struct {
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped"`
	Subscriptions int    `json:"subscriptions"`
	Coherent      bool   `json:"coherent"`
}

// QflowHealth is the workflow-coherence dimension: can the plane still
// execute distributed work, coordinate nodes, keep workflow integrity and
// reach its serverless capacity.
type QflowHealth struct {
	DistributedExecution bool   `json:"distributed_execution"`
	NodeCoordination     bool   `json:"node_coordination"`
	WorkflowIntegrity    bool   `json:"workflow_integrity"`
	ServerlessLiveness   bool   `json:"serverless_liveness"`
	Status               string `json:"status"`
	Detail               string `json:"detail,omitempty"`
}

// HealthReport aggregates every health dimension.
type HealthReport struct {
	Timestamp int64          `json:"timestamp"`
	Overall   string         `json:"overall"`
	Modules   []ModuleHealth `json:"modules"`
	DataFlow  DataFlowHealth `json:"data_flow"`
	Bus       BusHealth      `json:"bus"`
	Qflow     QflowHealth    `json:"qflow"`
}

// Statuses a report can carry. Degraded loses to critical.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// EcosystemHealth probes every module in parallel, runs the canonical chain
// end to end and checks event-bus coherence.
func (v *Validator) EcosystemHealth(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		Timestamp: v.clock.NowMillis(),
		Overall:   StatusHealthy,
		Modules:   make([]ModuleHealth, len(v.modules)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, module := range v.modules {
		i, module := i, module
		g.Go(func() error {
			report.Modules[i] = v.probeModule(gctx, module)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "integrity.health", "module probes", err)
	}
	for _, mh := range report.Modules {
		report.Overall = worse(report.Overall, mh.Status)
	}

	report.DataFlow = v.dataFlowHealth(ctx)
	if !report.DataFlow.Healthy {
		if report.DataFlow.IntegrityViolated {
			report.Overall = StatusCritical
		} else {
			report.Overall = worse(report.Overall, StatusDegraded)
		}
	}

	report.Bus = v.busHealth()
	if !report.Bus.Coherent {
		report.Overall = worse(report.Overall, StatusDegraded)
	}

	report.Qflow = v.qflowHealth(ctx, report.DataFlow)
	if report.Qflow.Status != StatusHealthy {
		report.Overall = worse(report.Overall, report.Qflow.Status)
	}

	v.emit("ecosystem.health.validated", map[string]any{
		"overall": report.Overall,
		"modules": len(report.Modules),
	})
	return report, nil
}

func (v *Validator) probeModule(ctx context.Context, module Module) ModuleHealth {
	mh := ModuleHealth{Name: module.Name, Critical: module.Critical, Status: StatusHealthy}
	ctx, cancel := context.WithTimeout(ctx, v.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := module.Check(ctx)
	mh.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		mh.Error = err.Error()
		if module.Critical {
			mh.Status = StatusCritical
		} else {
			mh.Status = StatusDegraded
		}
	}
	return mh
}

// dataFlowHealth runs the forward chain over a fixed payload and checks
// every hop completed without a hash mismatch.
func (v *Validator) dataFlowHealth(ctx context.Context) DataFlowHealth {
	executionID := "healthcheck-" + v.ids.New()
	payload := []byte("qinfinity canonical data-flow health payload")

	exec, err := v.executor.Run(ctx, executionID, pipeline.Forward(), payload, pipeline.RunOptions{
		Level: "standard",
		Actor: "integrity-validator",
	})
	df := DataFlowHealth{ExecutionID: executionID}
	if exec != nil {
		df.Completed = exec.Completed()
		df.IntegrityViolated = exec.IntegrityViolated
		df.Steps = len(exec.Results)
	}
	df.Healthy = err == nil && df.Completed && !df.IntegrityViolated
	return df
}

// qflowHealth aggregates the workflow-coherence checks. Workflow integrity
// comes from the canonical chain run; distributed execution additionally
// verifies the chained ledger records when a ledger is wired; coordination
// and serverless liveness come from a fleet probe.
func (v *Validator) qflowHealth(ctx context.Context, flow DataFlowHealth) QflowHealth {
	qh := QflowHealth{
		WorkflowIntegrity:    !flow.IntegrityViolated,
		DistributedExecution: flow.Healthy,
	}

	if v.ledger != nil && flow.Healthy {
		report, err := v.ledger.Verify(ctx, flow.ExecutionID)
		if err != nil || !report.ChainValid || report.TotalRecords == 0 {
			qh.DistributedExecution = false
			qh.Detail = "ledger chain verification failed"
		}
	}

	// No fleet port wired means single-node operation; coordination and
	// serverless capacity are trivially satisfied.
	qh.NodeCoordination = true
	qh.ServerlessLiveness = true
	if v.fleet != nil {
		probe, err := v.fleet.Probe(ctx)
		if err != nil {
			qh.NodeCoordination = false
			qh.ServerlessLiveness = false
			qh.Detail = "fleet probe failed: " + err.Error()
		} else {
			qh.NodeCoordination = probe.PeersConnected > 0 && probe.QuorumAchievable
			qh.ServerlessLiveness = probe.Availability() >= minContinuity
		}
	}

	qh.Status = StatusHealthy
	if !qh.DistributedExecution || !qh.NodeCoordination ||
		!qh.WorkflowIntegrity || !qh.ServerlessLiveness {
		qh.Status = StatusDegraded
	}
	if !qh.WorkflowIntegrity {
		qh.Status = StatusCritical
	}
	return qh
}

// busHealth checks delivery coherence: drops must stay under 1% of
// published envelopes.
func (v *Validator) busHealth() BusHealth {
	if v.bus == nil {
		return BusHealth{Coherent: true}
	}
	stats := v.bus.Stats()
	bh := BusHealth{
		Published:     stats.Published,
		Dropped:       stats.Dropped,
		Subscriptions: stats.Subscriptions,
	}
	bh.Coherent = stats.Published == 0 ||
		float64(stats.Dropped)/float64(stats.Published) <= 0.01
	return bh
}

// worse returns the more severe of two statuses.
func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (v *Validator) emit(topic string, payload map[string]any) {
	if v.bus == nil {
		return
	}
	_ = v.bus.Publish(topic, ports.Envelope{
		ID:        v.ids.New(),
		Topic:     topic,
		Timestamp: v.clock.NowMillis(),
		Actor:     ports.Actor{Identity: "integrity-validator", Role: "system"},
		Payload:   payload,
	})
}
