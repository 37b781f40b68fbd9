package observability

import (
	"math"
	"sync"
)

// Anomaly severity levels.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns a human readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detector thresholds.
const (
	// MinBaselineSamples is how many observations a metric needs before
	// deviations are scored at all.
	MinBaselineSamples = 10

	warningZScore  = 2.0
	criticalZScore = 3.0
)

// Anomaly describes one flagged observation.
type Anomaly struct {
	Metric   string   `json:"metric"`
	Value    float64  `json:"value"`
	Mean     float64  `json:"mean"`
	StdDev   float64  `json:"std_dev"`
	ZScore   float64  `json:"z_score"`
	Severity Severity `json:"severity"`
}

type baseline struct {
	count uint64
	mean  float64
	m2    float64
}

// observe folds a value into the running mean and variance (Welford).
func (b *baseline) observe(v float64) {
	b.count++
	delta := v - b.mean
	b.mean += delta / float64(b.count)
	b.m2 += delta * (v - b.mean)
}

func (b *baseline) stdDev() float64 {
	if b.count < 2 {
		return 0
	}
	return math.Sqrt(b.m2 / float64(b.count-1))
}

// AnomalyDetector maintains a per-metric rolling baseline and flags
// observations whose z-score exceeds the warning or critical threshold.
// A metric with fewer than MinBaselineSamples observations is never flagged.
type AnomalyDetector struct {
	mu        sync.Mutex
	baselines map[string]*baseline
}

// NewAnomalyDetector creates an empty detector.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{baselines: make(map[string]*baseline)}
}

// Observe records a value and returns the anomaly assessment for it. The
// value is folded into the baseline after scoring so a spike does not mask
// itself.
func (d *AnomalyDetector) Observe(metric string, value float64) Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.baselines[metric]
	if b == nil {
		b = &baseline{}
		d.baselines[metric] = b
	}

	out := Anomaly{Metric: metric, Value: value, Severity: SeverityNone}
	if b.count >= MinBaselineSamples {
		out.Mean = b.mean
		out.StdDev = b.stdDev()
		if out.StdDev > 0 {
			out.ZScore = (value - b.mean) / out.StdDev
			abs := math.Abs(out.ZScore)
			switch {
			case abs > criticalZScore:
				out.Severity = SeverityCritical
			case abs > warningZScore:
				out.Severity = SeverityWarning
			}
		}
	}
	b.observe(value)
	return out
}

// BaselineCount returns how many observations a metric has.
func (d *AnomalyDetector) BaselineCount(metric string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b := d.baselines[metric]; b != nil {
		return b.count
	}
	return 0
}
