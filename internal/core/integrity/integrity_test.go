package integrity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/core/pipeline"
	"github.com/qinfinity/qcored/internal/events"
	"github.com/qinfinity/qcored/internal/observability"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
)

type integrityFixture struct {
	validator *Validator
	crypto    *sandbox.Crypto
	storage   *sandbox.Storage
	fleet     *sandbox.Fleet
	recorder  *observability.Recorder
	art       *artifacts.Store
	clock     *clock.Manual
}

func healthyModules() []Module {
	ok := func(ctx context.Context) error { return nil }
	return []Module{
		{Name: "squid", Critical: true, Check: ok},
		{Name: "qwallet", Critical: true, Check: ok},
		{Name: "qmarket", Critical: false, Check: ok},
	}
}

func compliantFacts() Facts {
	return Facts{IPFSGateway: "http://127.0.0.1:8080", LibP2PPeers: 5}
}

func newIntegrityFixture(t *testing.T, modules []Module, facts Facts) *integrityFixture {
	t.Helper()
	crypto := sandbox.NewCrypto()
	storage := sandbox.NewStorage()
	fleet := sandbox.NewFleet()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	recorder := observability.NewRecorder(0, 0, 0, clk)
	art := artifacts.NewStore(t.TempDir())
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	executor := pipeline.NewExecutor(crypto, storage, sandbox.NewIndex(), sandbox.NewAudit(),
		nil, nil, recorder, clk, clock.NewSequenceGenerator("hx"), nil)
	validator := NewValidator(modules, executor, nil, recorder, crypto, storage,
		fleet, bus, art, clk, clock.NewSequenceGenerator("att"), nil, facts, Options{})
	return &integrityFixture{
		validator: validator, crypto: crypto, storage: storage, fleet: fleet,
		recorder: recorder, art: art, clock: clk,
	}
}

// TestValidator_EcosystemHealth tests health aggregation over healthy
// modules and the canonical data-flow chain
func TestValidator_EcosystemHealth(t *testing.T) {
	f := newIntegrityFixture(t, healthyModules(), compliantFacts())

	report, err := f.validator.EcosystemHealth(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Overall != StatusHealthy {
		t.Errorf("overall = %s, want healthy: %+v", report.Overall, report)
	}
	if !report.DataFlow.Healthy || report.DataFlow.Steps != 5 {
		t.Errorf("data flow = %+v, want a healthy 5-step chain", report.DataFlow)
	}
	if !report.Bus.Coherent {
		t.Errorf("bus = %+v, want coherent", report.Bus)
	}
	if report.Qflow.Status != StatusHealthy {
		t.Errorf("qflow = %+v, want healthy", report.Qflow)
	}
	if !report.Qflow.DistributedExecution || !report.Qflow.NodeCoordination ||
		!report.Qflow.WorkflowIntegrity || !report.Qflow.ServerlessLiveness {
		t.Errorf("qflow checks = %+v, want all passing", report.Qflow)
	}
}

// TestValidator_QflowDegradesOnLostCoordination tests that a fleet without
// peers or quorum degrades the workflow-coherence dimension
func TestValidator_QflowDegradesOnLostCoordination(t *testing.T) {
	f := newIntegrityFixture(t, healthyModules(), compliantFacts())
	ctx := context.Background()

	f.fleet.SetDegraded(ports.FleetProbe{
		AvailableServices: 5,
		TotalServices:     10,
		DataIntact:        true,
		PeersConnected:    0,
		QuorumAchievable:  false,
		LatencyMs:         90,
	})
	if err := f.fleet.KillFirstLauncher(ctx); err != nil {
		t.Fatalf("kill: %v", err)
	}

	report, err := f.validator.EcosystemHealth(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Qflow.NodeCoordination {
		t.Error("node coordination should fail with no peers and no quorum")
	}
	if report.Qflow.ServerlessLiveness {
		t.Error("serverless liveness should fail at 50% availability")
	}
	if !report.Qflow.WorkflowIntegrity {
		t.Error("workflow integrity should still hold, the chain ran clean")
	}
	if report.Qflow.Status != StatusDegraded {
		t.Errorf("qflow status = %s, want degraded", report.Qflow.Status)
	}
	if report.Overall != StatusDegraded {
		t.Errorf("overall = %s, want degraded", report.Overall)
	}
}

// TestValidator_CriticalModuleEscalates tests that an unreachable critical
// module drives the overall status to critical
func TestValidator_CriticalModuleEscalates(t *testing.T) {
	down := errors.New("connection refused")
	modules := []Module{
		{Name: "squid", Critical: true, Check: func(ctx context.Context) error { return down }},
		{Name: "qmarket", Critical: false, Check: func(ctx context.Context) error { return nil }},
	}
	f := newIntegrityFixture(t, modules, compliantFacts())

	report, err := f.validator.EcosystemHealth(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Overall != StatusCritical {
		t.Errorf("overall = %s, want critical", report.Overall)
	}
}

// TestValidator_DegradedModuleStaysDegraded tests that a failing
// non-critical module only degrades the ecosystem
func TestValidator_DegradedModuleStaysDegraded(t *testing.T) {
	modules := []Module{
		{Name: "squid", Critical: true, Check: func(ctx context.Context) error { return nil }},
		{Name: "qmarket", Critical: false, Check: func(ctx context.Context) error {
			return errors.New("slow")
		}},
	}
	f := newIntegrityFixture(t, modules, compliantFacts())

	report, err := f.validator.EcosystemHealth(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Overall != StatusDegraded {
		t.Errorf("overall = %s, want degraded", report.Overall)
	}
}

// TestValidator_AttestCompliant tests the full attestation path: all five
// checks compliant, kill test passing, publication and local artifact
func TestValidator_AttestCompliant(t *testing.T) {
	f := newIntegrityFixture(t, healthyModules(), compliantFacts())

	att, err := f.validator.Attest(context.Background())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if att.OverallStatus != Compliant {
		t.Fatalf("overall = %s, want compliant: %+v", att.OverallStatus, att.Checks)
	}
	if len(att.Checks) != 5 {
		t.Errorf("checks = %d, want 5", len(att.Checks))
	}
	if att.KillTest == nil || !att.KillTest.Passed {
		t.Fatalf("kill test = %+v, want passed", att.KillTest)
	}
	if att.KillTest.Availability < 0.8 {
		t.Errorf("availability = %v, want >= 0.8", att.KillTest.Availability)
	}
	if att.KillTest.RecoveryFactor > 2.0 {
		t.Errorf("recovery factor = %v, want <= 2.0", att.KillTest.RecoveryFactor)
	}

	payload := fmt.Sprintf("%s|%d|%s|%d", att.ID, att.Timestamp, "compliant", 5)
	digest := f.crypto.Hash([]byte(payload))
	if att.Signature != hex.EncodeToString(digest[:]) {
		t.Errorf("signature = %s, want hash over id, timestamp, status and check count", att.Signature)
	}

	if att.ContentAddress == "" || strings.HasPrefix(att.ContentAddress, "mock-cid-") {
		t.Errorf("content address = %q, want a real publication", att.ContentAddress)
	}
	if _, err := f.storage.Get(context.Background(), att.ContentAddress); err != nil {
		t.Errorf("published attestation not retrievable: %v", err)
	}
	if !f.art.Exists(attestationDomain, attestationArtifact) {
		t.Error("attestation artifact missing")
	}
	if !f.art.Exists(attestationDomain, attestationArtifact+".cid") {
		t.Error("attestation cid companion missing")
	}
	if f.fleet.Kills() != 1 {
		t.Errorf("kills = %d, want exactly one", f.fleet.Kills())
	}
}

// TestValidator_AttestFailsOnBrokenContinuity tests non-compliance when the
// fleet loses availability while the launcher is down
func TestValidator_AttestFailsOnBrokenContinuity(t *testing.T) {
	f := newIntegrityFixture(t, healthyModules(), compliantFacts())
	f.fleet.SetDegraded(ports.FleetProbe{
		AvailableServices: 5, TotalServices: 10,
		DataIntact: true, PeersConnected: 4, QuorumAchievable: true, LatencyMs: 60,
	})

	att, err := f.validator.Attest(context.Background())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if att.OverallStatus != NonCompliant {
		t.Fatalf("overall = %s, want non_compliant at 50%% availability", att.OverallStatus)
	}
	if att.KillTest == nil || att.KillTest.ContinuityOK {
		t.Errorf("kill test = %+v, want continuity failure", att.KillTest)
	}
	if att.ContentAddress != "" {
		t.Errorf("content address = %q, non-compliant attestations are not published", att.ContentAddress)
	}
}

// TestValidator_AttestFailsOnCentralDatabase tests non-compliance driven by
// deployment facts
func TestValidator_AttestFailsOnCentralDatabase(t *testing.T) {
	facts := compliantFacts()
	facts.CentralDatabases = []string{"postgres://analytics"}
	f := newIntegrityFixture(t, healthyModules(), facts)

	att, err := f.validator.Attest(context.Background())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if att.OverallStatus != NonCompliant {
		t.Fatalf("overall = %s, want non_compliant", att.OverallStatus)
	}
	if att.Checks[CheckNoCentralDatabase].Status != NonCompliant {
		t.Errorf("check = %+v, want non_compliant with evidence",
			att.Checks[CheckNoCentralDatabase])
	}
}

// TestValidator_AttestPublishFallback tests the mock CID fallback when
// content storage refuses the publication
func TestValidator_AttestPublishFallback(t *testing.T) {
	f := newIntegrityFixture(t, healthyModules(), compliantFacts())
	f.storage.FailNextPuts(1)

	att, err := f.validator.Attest(context.Background())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if att.OverallStatus != Compliant {
		t.Fatalf("overall = %s, want compliant despite storage failure", att.OverallStatus)
	}
	if !strings.HasPrefix(att.ContentAddress, "mock-cid-") {
		t.Errorf("content address = %q, want the mock fallback", att.ContentAddress)
	}
}

// TestValidator_PerformanceGates tests the latency, burn-rate and cache
// gates against recorded traffic
func TestValidator_PerformanceGates(t *testing.T) {
	f := newIntegrityFixture(t, healthyModules(), compliantFacts())
	for i := 0; i < 100; i++ {
		f.recorder.Record("payment.settle", 20*time.Millisecond, false)
	}

	report, err := f.validator.PerformanceGates()
	if err != nil {
		t.Fatalf("gates: %v", err)
	}
	if !report.Passed() {
		t.Fatalf("report = %+v, want passed", report)
	}
	if len(report.Results) != 4 {
		t.Errorf("gates = %d, want 4", len(report.Results))
	}

	for i := 0; i < 100; i++ {
		f.recorder.Record("pipeline.store", 300*time.Millisecond, false)
	}
	report, err = f.validator.PerformanceGates()
	if err != nil {
		t.Fatalf("gates: %v", err)
	}
	if report.Passed() {
		t.Fatal("300ms p95 should fail the latency gates")
	}
	failed := map[string]bool{}
	for _, result := range report.Results {
		if !result.Passed {
			failed[result.Name] = true
		}
	}
	if !failed["p95_latency_ms"] || !failed["p99_latency_ms"] {
		t.Errorf("failed gates = %v, want both latency gates", failed)
	}
}
