// Package consensus collects signed votes from a node set for critical
// operations, evaluates operation-specific thresholds and drives recovery
// when a round falls short.
package consensus

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
)

// OperationType scopes a consensus round.
type OperationType int

const (
	OpDefault OperationType = iota
	OpPayment
	OpGovernance
	OpLicensing
)

// String returns the operation name.
func (o OperationType) String() string {
	switch o {
	case OpPayment:
		return "payment"
	case OpGovernance:
		return "governance"
	case OpLicensing:
		return "licensing"
	case OpDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Threshold returns the number of votes the operation requires out of the
// standard five-node set.
func (o OperationType) Threshold() int {
	if o == OpPayment {
		return 4
	}
	return 3
}

// ParseOperation maps an operation name to its type, defaulting on unknown
// names.
func ParseOperation(name string) OperationType {
	switch name {
	case "payment":
		return OpPayment
	case "governance":
		return OpGovernance
	case "licensing":
		return OpLicensing
	default:
		return OpDefault
	}
}

// Tuning defaults.
const (
	DefaultParticipants    = 5
	DefaultVoteTimeout     = 3 * time.Second
	DefaultMaxRecovery     = 3
	DefaultRecoveryBackoff = 100 * time.Millisecond

	// minConfidence is the bar below which a reached threshold still
	// triggers recovery.
	minConfidence = 0.8
)

// RecoveryAction names what a recovery attempt did.
type RecoveryAction int

const (
	RecoveryRetryUnresponsive RecoveryAction = iota
	RecoveryExpandNodeSet
	RecoverySimpleFallback
)

// String returns the action name.
func (a RecoveryAction) String() string {
	switch a {
	case RecoveryRetryUnresponsive:
		return "retry_unresponsive"
	case RecoveryExpandNodeSet:
		return "expand_node_set"
	case RecoverySimpleFallback:
		return "simple_fallback"
	default:
		return "unknown"
	}
}

// RecoveryRecord is one entry in a round's recovery log.
type RecoveryRecord struct {
	Attempt   int    `json:"attempt"`
	Action    string `json:"action"`
	NewVotes  int    `json:"new_votes"`
	Succeeded bool   `json:"succeeded"`
	Timestamp int64  `json:"timestamp"`
}

// Round is one operation-scoped vote collection with its recovery history.
type Round struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id"`
	StepID      string           `json:"step_id"`
	Operation   string           `json:"operation"`
	Threshold   int              `json:"threshold"`
	Votes       []ports.NodeVote `json:"votes"`
	Reached     bool             `json:"reached"`
	Decision    string           `json:"decision,omitempty"`
	Confidence  float64          `json:"confidence"`
	Recovery    []RecoveryRecord `json:"recovery,omitempty"`
	StartedAt   int64            `json:"started_at"`
	FinishedAt  int64            `json:"finished_at"`
}

// Options configure a Coordinator.
type Options struct {
	Participants    int
	VoteTimeout     time.Duration
	MaxRecovery     int
	RecoveryBackoff time.Duration
}

func (o *Options) fill() {
	if o.Participants <= 0 {
		o.Participants = DefaultParticipants
	}
	if o.VoteTimeout <= 0 {
		o.VoteTimeout = DefaultVoteTimeout
	}
	if o.MaxRecovery <= 0 {
		o.MaxRecovery = DefaultMaxRecovery
	}
	if o.RecoveryBackoff <= 0 {
		o.RecoveryBackoff = DefaultRecoveryBackoff
	}
}

const archiveDomain = "consensus"

// Coordinator runs consensus rounds against a candidate node pool.
type Coordinator struct {
	collector ports.VoteCollector
	identity  ports.Identity
	art       *artifacts.Store
	bus       ports.EventBus
	clock     clock.Clock
	ids       clock.IDGenerator
	logger    *log.Logger
	pool      []string
	opts      Options
}

// NewCoordinator wires a coordinator over the candidate pool. Identity,
// artifact store and bus may be nil.
func NewCoordinator(collector ports.VoteCollector, identity ports.Identity, art *artifacts.Store,
	bus ports.EventBus, clk clock.Clock, ids clock.IDGenerator, logger *log.Logger,
	pool []string, opts Options) *Coordinator {
	opts.fill()
	return &Coordinator{
		collector: collector,
		identity:  identity,
		art:       art,
		bus:       bus,
		clock:     clk,
		ids:       ids,
		logger:    logger,
		pool:      pool,
		opts:      opts,
	}
}

// Validate runs one consensus round for (executionID, stepID, operation).
// The returned round is always archived, reached or not; an exhausted round
// additionally returns a terminal error.
func (c *Coordinator) Validate(ctx context.Context, executionID, stepID string, operation OperationType) (*Round, error) {
	const op = "consensus.validate"
	if len(c.pool) == 0 {
		return nil, fault.New(fault.KindValidation, op, "candidate pool is empty")
	}

	round := &Round{
		ID:          c.ids.New(),
		ExecutionID: executionID,
		StepID:      stepID,
		Operation:   operation.String(),
		Threshold:   operation.Threshold(),
		StartedAt:   c.clock.NowMillis(),
	}

	participants := c.pool
	if len(participants) > c.opts.Participants {
		participants = participants[:c.opts.Participants]
	}

	votes := c.collect(ctx, round, participants)
	round.Votes = votes
	c.analyze(round)

	for attempt := 1; !round.Reached && attempt <= c.opts.MaxRecovery; attempt++ {
		time.Sleep(c.opts.RecoveryBackoff << (attempt - 1))
		record := RecoveryRecord{Attempt: attempt, Timestamp: c.clock.NowMillis()}

		switch attempt {
		case 1:
			record.Action = RecoveryRetryUnresponsive.String()
			missing := c.unresponsive(participants, round.Votes)
			fresh := c.collect(ctx, round, missing)
			record.NewVotes = len(fresh)
			round.Votes = append(round.Votes, fresh...)

		case 2:
			record.Action = RecoveryExpandNodeSet.String()
			expanded := c.expansion(participants, round.Votes)
			fresh := c.collect(ctx, round, expanded)
			record.NewVotes = len(fresh)
			round.Votes = append(round.Votes, fresh...)

		default:
			record.Action = RecoverySimpleFallback.String()
		}

		if record.Action == RecoverySimpleFallback.String() {
			c.analyzeSimple(round)
		} else {
			c.analyze(round)
		}
		record.Succeeded = round.Reached
		round.Recovery = append(round.Recovery, record)
	}

	round.FinishedAt = c.clock.NowMillis()
	c.archive(round)

	if !round.Reached {
		c.emit("consensus.failed", round)
		return round, fault.New(fault.KindExhausted, op,
			"recovery attempts exhausted for round "+round.ID)
	}
	c.emit("consensus.validated", round)
	return round, nil
}

// collect fans vote requests out to the given nodes in parallel. Timeouts
// and refusals drop the vote; invalid signatures are discarded.
func (c *Coordinator) collect(ctx context.Context, round *Round, nodes []string) []ports.NodeVote {
	if len(nodes) == 0 {
		return nil
	}
	req := ports.VoteRequest{
		RoundID:     round.ID,
		ExecutionID: round.ExecutionID,
		StepID:      round.StepID,
		Operation:   round.Operation,
		Deadline:    c.clock.NowMillis() + c.opts.VoteTimeout.Milliseconds(),
	}

	var mu sync.Mutex
	var votes []ports.NodeVote
	group, groupCtx := errgroup.WithContext(ctx)

	for _, node := range nodes {
		node := node
		group.Go(func() error {
			voteCtx, cancel := context.WithTimeout(groupCtx, c.opts.VoteTimeout)
			defer cancel()

			vote, err := c.collector.RequestVote(voteCtx, node, req)
			if err != nil {
				if c.logger != nil {
					c.logger.Printf("consensus: node %s did not vote in round %s: %v", node, round.ID, err)
				}
				return nil
			}
			if !c.verify(groupCtx, round, vote) {
				if c.logger != nil {
					c.logger.Printf("consensus: node %s vote rejected in round %s: bad signature", node, round.ID)
				}
				return nil
			}
			mu.Lock()
			votes = append(votes, vote)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return votes
}

// verify checks the vote signature against the identity port when wired.
func (c *Coordinator) verify(ctx context.Context, round *Round, vote ports.NodeVote) bool {
	if c.identity == nil {
		return true
	}
	decision := "reject"
	if vote.Approve {
		decision = "approve"
	}
	payload := []byte(round.ID + ":" + decision)
	ok, err := c.identity.VerifySignature(ctx, vote.Node, payload, vote.Signature)
	return err == nil && ok
}

// analyze applies the threshold, majority and confidence rules.
func (c *Coordinator) analyze(round *Round) {
	round.Reached = false
	round.Decision = ""
	round.Confidence = 0

	if len(round.Votes) < round.Threshold {
		return
	}
	approve, reject, confidence := tally(round.Votes)

	majority := approve
	round.Decision = "approve"
	if reject > approve {
		majority = reject
		round.Decision = "reject"
	}
	round.Confidence = confidence * (float64(majority) / float64(len(round.Votes)))
	if round.Confidence < minConfidence {
		return
	}
	round.Reached = true
}

// analyzeSimple is the last-resort mechanism: a bare majority of whatever
// votes were collected decides, without the confidence gate.
func (c *Coordinator) analyzeSimple(round *Round) {
	if len(round.Votes) == 0 {
		return
	}
	approve, reject, confidence := tally(round.Votes)

	majority := approve
	round.Decision = "approve"
	if reject > approve {
		majority = reject
		round.Decision = "reject"
	}
	round.Confidence = confidence * (float64(majority) / float64(len(round.Votes)))
	round.Reached = approve != reject
}

// tally returns approval counts and the average confidence.
func tally(votes []ports.NodeVote) (approve, reject int, avgConfidence float64) {
	var sum float64
	for _, vote := range votes {
		if vote.Approve {
			approve++
		} else {
			reject++
		}
		sum += vote.Confidence
	}
	return approve, reject, sum / float64(len(votes))
}

// unresponsive returns the participants that have no vote yet.
func (c *Coordinator) unresponsive(participants []string, votes []ports.NodeVote) []string {
	voted := make(map[string]bool, len(votes))
	for _, vote := range votes {
		voted[vote.Node] = true
	}
	var out []string
	for _, node := range participants {
		if !voted[node] {
			out = append(out, node)
		}
	}
	return out
}

// expansion returns pool nodes outside the original participant set that
// have not voted, or the remaining unresponsive participants when the pool
// has nothing left to offer.
func (c *Coordinator) expansion(participants []string, votes []ports.NodeVote) []string {
	used := make(map[string]bool, len(participants))
	for _, node := range participants {
		used[node] = true
	}
	voted := make(map[string]bool, len(votes))
	for _, vote := range votes {
		voted[vote.Node] = true
	}

	var out []string
	for _, node := range c.pool {
		if !used[node] && !voted[node] {
			out = append(out, node)
		}
	}
	if len(out) == 0 {
		return c.unresponsive(participants, votes)
	}
	return out
}

// archive persists the round with signatures stripped.
func (c *Coordinator) archive(round *Round) {
	if c.art == nil {
		return
	}
	stripped := *round
	stripped.Votes = make([]ports.NodeVote, len(round.Votes))
	for i, vote := range round.Votes {
		vote.Signature = nil
		stripped.Votes[i] = vote
	}
	if _, err := c.art.SaveJSON(archiveDomain, stripped.ID+".json", stripped); err != nil && c.logger != nil {
		c.logger.Printf("consensus: archive round %s: %v", round.ID, err)
	}
}

// emit publishes the round outcome when a bus is wired.
func (c *Coordinator) emit(topic string, round *Round) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(topic, ports.Envelope{
		ID:        c.ids.New(),
		Topic:     topic,
		Timestamp: c.clock.NowMillis(),
		Actor:     ports.Actor{Identity: "consensus", Role: "system"},
		Payload: map[string]any{
			"round_id":   round.ID,
			"operation":  round.Operation,
			"reached":    round.Reached,
			"decision":   round.Decision,
			"confidence": round.Confidence,
			"recovery":   len(round.Recovery),
		},
	})
}
