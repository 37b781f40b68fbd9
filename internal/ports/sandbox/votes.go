package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// VoteCollector simulates remote vote collection. Each node can be
// configured with the attempt number from which it starts responding, its
// decision and its confidence; unresponsive nodes return a timeout-shaped
// error. Attempt counting is per node, so recovery retries can succeed where
// the first collection failed.
type VoteCollector struct {
	mu       sync.Mutex
	nodes    map[string]*nodeBehavior
	attempts map[string]int
	crypto   *Crypto
}

type nodeBehavior struct {
	respondFrom int // 1-based attempt index the node answers from
	approve     bool
	confidence  float64
}

// NewVoteCollector returns a collector where every configured node answers
// immediately with an approval.
func NewVoteCollector() *VoteCollector {
	return &VoteCollector{
		nodes:    make(map[string]*nodeBehavior),
		attempts: make(map[string]int),
		crypto:   NewCrypto(),
	}
}

// SetNode configures a node's behavior. respondFrom is the 1-based request
// attempt the node starts answering at; 1 means always responsive.
func (v *VoteCollector) SetNode(node string, respondFrom int, approve bool, confidence float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nodes[node] = &nodeBehavior{
		respondFrom: respondFrom,
		approve:     approve,
		confidence:  confidence,
	}
}

// RequestVote returns the node's configured vote or an error when the node
// is still unresponsive at this attempt.
func (v *VoteCollector) RequestVote(ctx context.Context, node string, req ports.VoteRequest) (ports.NodeVote, error) {
	if err := ctx.Err(); err != nil {
		return ports.NodeVote{}, err
	}

	v.mu.Lock()
	behavior, known := v.nodes[node]
	v.attempts[node]++
	attempt := v.attempts[node]
	v.mu.Unlock()

	if !known {
		return ports.NodeVote{}, fmt.Errorf("sandbox votes: unknown node %s", node)
	}
	if attempt < behavior.respondFrom {
		return ports.NodeVote{}, fmt.Errorf("sandbox votes: node %s unresponsive", node)
	}

	decision := "reject"
	if behavior.approve {
		decision = "approve"
	}
	payload := []byte(req.RoundID + ":" + decision)
	sig, err := v.crypto.Sign(payload, node)
	if err != nil {
		return ports.NodeVote{}, err
	}

	return ports.NodeVote{
		Node:       node,
		Approve:    behavior.approve,
		Confidence: behavior.confidence,
		Signature:  sig,
		Timestamp:  req.Deadline,
	}, nil
}

var _ ports.VoteCollector = (*VoteCollector)(nil)
