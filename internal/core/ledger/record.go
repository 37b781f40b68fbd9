// Package ledger implements the append-only, hash-chained execution record
// store. Records carry vector clock snapshots for causal ordering and are
// published to content-addressed storage after the append commits.
package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/ports"
)

// Summary condenses one pipeline execution phase into the fields the chain
// covers.
type Summary struct {
	StepCount  int    `json:"step_count"`
	DurationMS int64  `json:"duration_ms"`
	Outcome    string `json:"outcome"`
}

// Record is one immutable entry in the ledger. ContentAddress is assigned at
// most once, after external publication; it is excluded from the hash so
// late publication never changes the chain.
type Record struct {
	ID             string            `json:"id"`
	ExecutionID    string            `json:"execution_id"`
	Timestamp      int64             `json:"timestamp"`
	NodeID         string            `json:"node_id"`
	Clock          clock.VectorClock `json:"clock"`
	PrevHash       string            `json:"prev_hash,omitempty"`
	Summary        Summary           `json:"summary"`
	Hash           string            `json:"hash"`
	ContentAddress string            `json:"content_address,omitempty"`
	Published      bool              `json:"published"`
}

// hashableRecord mirrors Record without the hash and publication fields.
// Hashing goes through a canonical msgpack encoding so map key order can
// never perturb the digest.
type hashableRecord struct {
	ID          string            `codec:"id"`
	ExecutionID string            `codec:"execution_id"`
	Timestamp   int64             `codec:"timestamp"`
	NodeID      string            `codec:"node_id"`
	Clock       clock.VectorClock `codec:"clock"`
	PrevHash    string            `codec:"prev_hash"`
	Summary     Summary           `codec:"summary"`
}

// hashHandle is shared; Canonical sorts map keys during encoding.
var hashHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true
	return h
}()

// recordHash computes the hex digest of everything a record asserts.
func recordHash(crypto ports.Crypto, r Record) (string, error) {
	mirror := hashableRecord{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		Timestamp:   r.Timestamp,
		NodeID:      r.NodeID,
		Clock:       r.Clock,
		PrevHash:    r.PrevHash,
		Summary: Summary{
			StepCount:  r.Summary.StepCount,
			DurationMS: r.Summary.DurationMS,
			Outcome:    r.Summary.Outcome,
		},
	}

	var encoded []byte
	if err := codec.NewEncoderBytes(&encoded, hashHandle).Encode(mirror); err != nil {
		return "", fmt.Errorf("ledger: encode record %s: %w", r.ID, err)
	}
	digest := crypto.Hash(encoded)
	return hex.EncodeToString(digest[:]), nil
}
