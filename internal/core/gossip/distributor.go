// Package gossip simulates gossipsub-style job distribution across a node
// set under backpressure. The simulation runs in virtual time over a
// discrete event queue, so results are deterministic for a given seed.
package gossip

import (
	"container/heap"
	"context"
	"sort"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
)

// Policy defaults.
const (
	DefaultMaxBackoff      = 3
	DefaultWorkTime        = 10 * time.Millisecond
	DefaultAnnounceEvery   = 2 * time.Millisecond
	DefaultReannounceDelay = 5 * time.Millisecond

	// MaxLostFraction is the pass bar for job loss.
	MaxLostFraction = 0.01
)

// Options configure one distribution run.
type Options struct {
	MaxBackoff      int
	WorkTime        time.Duration
	AnnounceEvery   time.Duration
	ReannounceDelay time.Duration
}

func (o *Options) fill() {
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.WorkTime <= 0 {
		o.WorkTime = DefaultWorkTime
	}
	if o.AnnounceEvery <= 0 {
		o.AnnounceEvery = DefaultAnnounceEvery
	}
	if o.ReannounceDelay <= 0 {
		o.ReannounceDelay = DefaultReannounceDelay
	}
}

// NodeReport is the per-node outcome of a run.
type NodeReport struct {
	ID           string `json:"id"`
	Processed    int    `json:"processed"`
	BackoffLevel int    `json:"backoff_level"`
}

// Result summarizes one distribution run.
type Result struct {
	TotalJobs   int           `json:"total_jobs"`
	Delivered   int           `json:"delivered"`
	Lost        int           `json:"lost"`
	Reannounced int           `json:"reannounced"`
	Fairness    float64       `json:"fairness"`
	Starvation  bool          `json:"starvation"`
	Nodes       []NodeReport  `json:"nodes"`
	VirtualTime time.Duration `json:"virtual_time_ns"`
	Passed      bool          `json:"passed"`
}

type simNode struct {
	id        string
	busyUntil time.Duration
	processed int
	backoff   int
}

// event kinds in the virtual timeline.
type eventKind int

const (
	evAnnounce eventKind = iota
	evComplete
)

type event struct {
	at   time.Duration
	seq  int
	kind eventKind
	job  int
	node *simNode
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)         { *q = append(*q, x.(*event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Distributor runs fair-distribution simulations.
type Distributor struct {
	bus   ports.EventBus
	clock clock.Clock
	ids   clock.IDGenerator
	rand  clock.Rand
}

// NewDistributor wires a distributor. The randomness source drives victim
// selection only; inject a seeded one for reproducible runs.
func NewDistributor(bus ports.EventBus, clk clock.Clock, ids clock.IDGenerator, rnd clock.Rand) *Distributor {
	return &Distributor{bus: bus, clock: clk, ids: ids, rand: rnd}
}

// Run distributes jobCount identical jobs across the named nodes and reports
// fairness, loss and backoff pressure.
func (d *Distributor) Run(ctx context.Context, jobCount int, nodeIDs []string, opts Options) (Result, error) {
	const op = "gossip.run"
	if jobCount <= 0 {
		return Result{}, fault.New(fault.KindValidation, op, "job count must be positive")
	}
	if len(nodeIDs) == 0 {
		return Result{}, fault.New(fault.KindValidation, op, "node set is empty")
	}
	opts.fill()

	nodes := make([]*simNode, len(nodeIDs))
	for i, id := range nodeIDs {
		nodes[i] = &simNode{id: id}
	}

	queue := &eventQueue{}
	heap.Init(queue)
	seq := 0
	push := func(at time.Duration, kind eventKind, job int, node *simNode) {
		heap.Push(queue, &event{at: at, seq: seq, kind: kind, job: job, node: node})
		seq++
	}
	for job := 0; job < jobCount; job++ {
		push(time.Duration(job)*opts.AnnounceEvery, evAnnounce, job, nil)
	}

	result := Result{TotalJobs: jobCount}
	var now time.Duration

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, fault.Wrap(fault.KindTimeout, op, "simulation cancelled", err)
		}
		ev := heap.Pop(queue).(*event)
		now = ev.at

		switch ev.kind {
		case evComplete:
			// busyUntil already reflects the completion; nothing to do,
			// the node became eligible at this instant.

		case evAnnounce:
			eligible := eligibleNodes(nodes, now)
			if len(eligible) == 0 {
				victim := nodes[d.rand.Intn(len(nodes))]
				if victim.backoff >= opts.MaxBackoff {
					result.Lost++
					continue
				}
				victim.backoff++
				result.Reannounced++
				delay := time.Duration(victim.backoff) * opts.ReannounceDelay
				push(now+delay, evAnnounce, ev.job, nil)
				continue
			}

			chosen := leastLoaded(eligible)
			chosen.busyUntil = now + opts.WorkTime
			chosen.processed++
			if chosen.backoff > 0 {
				chosen.backoff--
			}
			result.Delivered++
			push(chosen.busyUntil, evComplete, ev.job, chosen)
		}
	}
	result.VirtualTime = now

	d.score(&result, nodes, opts)
	d.emit(result)
	return result, nil
}

// eligibleNodes returns the nodes idle at the given instant.
func eligibleNodes(nodes []*simNode, now time.Duration) []*simNode {
	var out []*simNode
	for _, node := range nodes {
		if node.busyUntil <= now {
			out = append(out, node)
		}
	}
	return out
}

// leastLoaded picks the node with the fewest processed jobs; ties break by
// lower backoff, then by ID, so runs are reproducible.
func leastLoaded(nodes []*simNode) *simNode {
	chosen := nodes[0]
	for _, node := range nodes[1:] {
		switch {
		case node.processed < chosen.processed:
			chosen = node
		case node.processed == chosen.processed && node.backoff < chosen.backoff:
			chosen = node
		case node.processed == chosen.processed && node.backoff == chosen.backoff && node.id < chosen.id:
			chosen = node
		}
	}
	return chosen
}

// score computes fairness, starvation and the pass verdict.
func (d *Distributor) score(result *Result, nodes []*simNode, opts Options) {
	var sum, sumSq float64
	for _, node := range nodes {
		x := float64(node.processed)
		sum += x
		sumSq += x * x
		result.Nodes = append(result.Nodes, NodeReport{
			ID:           node.id,
			Processed:    node.processed,
			BackoffLevel: node.backoff,
		})
	}
	sort.Slice(result.Nodes, func(i, j int) bool { return result.Nodes[i].ID < result.Nodes[j].ID })

	if sumSq > 0 {
		result.Fairness = (sum * sum) / (float64(len(nodes)) * sumSq)
	}
	average := sum / float64(len(nodes))
	for _, node := range nodes {
		if float64(node.processed) < 0.5*average {
			result.Starvation = true
		}
	}

	backoffOK := true
	for _, node := range nodes {
		if node.backoff > opts.MaxBackoff {
			backoffOK = false
		}
	}
	lostOK := float64(result.Lost) <= MaxLostFraction*float64(result.TotalJobs)
	result.Passed = lostOK && backoffOK
}

// emit publishes the run outcome when a bus is wired.
func (d *Distributor) emit(result Result) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish("dataflow.gossipsub.validated", ports.Envelope{
		ID:        d.ids.New(),
		Topic:     "dataflow.gossipsub.validated",
		Timestamp: d.clock.NowMillis(),
		Actor:     ports.Actor{Identity: "gossip", Role: "system"},
		Payload: map[string]any{
			"total_jobs": result.TotalJobs,
			"lost":       result.Lost,
			"fairness":   result.Fairness,
			"passed":     result.Passed,
		},
	})
}
