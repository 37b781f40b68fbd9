package ports

import "context"

// VoteRequest asks a node to vote on a critical operation.
type VoteRequest struct {
	RoundID     string // Consensus round ID
	ExecutionID string // Execution being validated
	StepID      string // Step within the execution
	Operation   string // Operation type, e.g. "payment"
	Deadline    int64  // Unix milliseconds the vote must arrive by
}

// NodeVote is a single node's signed vote.
type NodeVote struct {
	Node       string  // Voting node ID
	Approve    bool    // Decision
	Confidence float64 // Confidence in [0, 1]
	Signature  []byte  // Node's signature over the decision
	Timestamp  int64   // Unix milliseconds
}

// VoteCollector requests signed votes from remote nodes. Implementations
// must honor the context deadline.
type VoteCollector interface {
	RequestVote(ctx context.Context, node string, req VoteRequest) (NodeVote, error)
}
