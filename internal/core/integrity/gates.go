package integrity

import (
	"fmt"
	"time"

	"github.com/qinfinity/qcored/internal/observability"
)

// GateLimits bound the performance gates.
type GateLimits struct {
	MaxP95          time.Duration
	MaxP99          time.Duration
	MaxBurnRate     float64 // observed error rate over the SLO error budget
	MinCacheHitRate float64
	ErrorBudget     float64
}

func (g GateLimits) fill() GateLimits {
	if g.MaxP95 <= 0 {
		g.MaxP95 = 150 * time.Millisecond
	}
	if g.MaxP99 <= 0 {
		g.MaxP99 = 200 * time.Millisecond
	}
	if g.MaxBurnRate <= 0 {
		g.MaxBurnRate = 0.10
	}
	if g.MinCacheHitRate <= 0 {
		g.MinCacheHitRate = 0.85
	}
	if g.ErrorBudget <= 0 {
		g.ErrorBudget = observability.DefaultSLOTargets().ErrorBudget
	}
	return g
}

// GateResult is one gate's evaluation.
type GateResult struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
	Passed bool    `json:"passed"`
}

// GateReport is the overall performance verdict.
type GateReport struct {
	Timestamp int64        `json:"timestamp"`
	Status    string       `json:"status"` // "passed" or "failed"
	Results   []GateResult `json:"results"`
	Anomalies []string     `json:"anomalies,omitempty"`
}

// Passed reports whether every gate held and no critical anomaly fired.
func (r *GateReport) Passed() bool {
	return r.Status == "passed"
}

const performanceDomain = "performance"

// PerformanceGates evaluates recorded traffic against the latency, burn-rate
// and cache gates. Worst-case per-operation percentiles are gated so one slow
// operation cannot hide behind a fast fleet; each p95 also feeds the anomaly
// detector, and a critical anomaly fails the report outright.
func (v *Validator) PerformanceGates() (*GateReport, error) {
	report := &GateReport{
		Timestamp: v.clock.NowMillis(),
		Status:    "passed",
	}

	var snaps []observability.Snapshot
	if v.recorder != nil {
		snaps = v.recorder.Snapshots()
	}
	var worstP95, worstP99 time.Duration
	var totalCount, totalErrors uint64
	for _, snap := range snaps {
		if snap.P95 > worstP95 {
			worstP95 = snap.P95
		}
		if snap.P99 > worstP99 {
			worstP99 = snap.P99
		}
		totalCount += snap.Count
		totalErrors += snap.Errors

		anomaly := v.detector.Observe("latency.p95."+snap.Operation,
			float64(snap.P95.Microseconds())/1000)
		if anomaly.Severity == observability.SeverityCritical {
			report.Anomalies = append(report.Anomalies,
				fmt.Sprintf("%s: p95 z-score %.2f", snap.Operation, anomaly.ZScore))
		}
	}

	errorRate := 0.0
	if totalCount > 0 {
		errorRate = float64(totalErrors) / float64(totalCount)
	}
	burn := errorRate / v.opts.Gates.ErrorBudget

	cacheRate := 1.0
	if v.ledger != nil {
		stats := v.ledger.Stats()
		if stats.Hits+stats.Misses > 0 {
			cacheRate = stats.Rate
		}
	}

	report.Results = []GateResult{
		gate("p95_latency_ms", ms(worstP95), ms(v.opts.Gates.MaxP95), ms(worstP95) <= ms(v.opts.Gates.MaxP95)),
		gate("p99_latency_ms", ms(worstP99), ms(v.opts.Gates.MaxP99), ms(worstP99) <= ms(v.opts.Gates.MaxP99)),
		gate("error_burn_rate", burn, v.opts.Gates.MaxBurnRate, burn <= v.opts.Gates.MaxBurnRate),
		gate("cache_hit_rate", cacheRate, v.opts.Gates.MinCacheHitRate, cacheRate >= v.opts.Gates.MinCacheHitRate),
	}

	for _, result := range report.Results {
		if !result.Passed {
			report.Status = "failed"
		}
	}
	if len(report.Anomalies) > 0 {
		report.Status = "failed"
	}

	if v.art != nil {
		name := fmt.Sprintf("gates-%d.json", report.Timestamp)
		if _, err := v.art.SaveJSON(performanceDomain, name, report); err != nil && v.logger != nil {
			v.logger.Printf("integrity: store gate report: %v", err)
		}
	}

	v.emit("performance.gates.validated", map[string]any{
		"status":    report.Status,
		"gates":     len(report.Results),
		"anomalies": len(report.Anomalies),
	})
	return report, nil
}

func gate(name string, value, limit float64, passed bool) GateResult {
	return GateResult{Name: name, Value: value, Limit: limit, Passed: passed}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
