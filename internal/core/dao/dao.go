// Package dao implements DAO governance: the DAO registry, the proposal
// lifecycle, weighted vote collection with signature verification and
// auto-closure on quorum plus supermajority.
package dao

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/fault"
)

// Visibility controls who can see a DAO's proposals.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityDAOOnly Visibility = "dao-only"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) valid() bool {
	switch v {
	case VisibilityPublic, VisibilityDAOOnly, VisibilityPrivate:
		return true
	}
	return false
}

// TokenRequirement gates proposal creation on a minimum balance and switches
// vote weighting to token balances.
type TokenRequirement struct {
	Currency  string          `json:"currency"`
	MinAmount decimal.Decimal `json:"min_amount"`
}

// WeightConfig holds the per-DAO vote weight rules.
type WeightConfig struct {
	// PerToken multiplies the floor of the voter's token balance when the
	// DAO has a token requirement.
	PerToken int64 `json:"per_token"`
	// PerNFT multiplies the voter's NFT count otherwise.
	PerNFT int64 `json:"per_nft"`
	// Base is the fallback weight for voters holding neither.
	Base int64 `json:"base"`
}

// DefaultWeights returns the standing weight rules: one token one weight,
// ten per NFT, one otherwise.
func DefaultWeights() WeightConfig {
	return WeightConfig{PerToken: 1, PerNFT: 10, Base: 1}
}

func (w WeightConfig) fill() WeightConfig {
	d := DefaultWeights()
	if w.PerToken <= 0 {
		w.PerToken = d.PerToken
	}
	if w.PerNFT <= 0 {
		w.PerNFT = d.PerNFT
	}
	if w.Base <= 0 {
		w.Base = d.Base
	}
	return w
}

// DAO is a governed group. Its ID doubles as the membership group name on
// the identity port.
type DAO struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Visibility     Visibility        `json:"visibility"`
	Quorum         int               `json:"quorum"`
	VotingDuration time.Duration     `json:"voting_duration"`
	TokenGate      *TokenRequirement `json:"token_gate,omitempty"`
	Weights        WeightConfig      `json:"weights"`
	Active         bool              `json:"active"`
}

func (d *DAO) validate() error {
	const op = "dao.register"
	if d.ID == "" {
		return fault.New(fault.KindValidation, op, "dao id is required")
	}
	if !d.Visibility.valid() {
		return fault.New(fault.KindValidation, op, "unknown visibility "+string(d.Visibility))
	}
	if d.Quorum < 1 {
		return fault.New(fault.KindValidation, op, "quorum must be positive")
	}
	if d.VotingDuration <= 0 {
		return fault.New(fault.KindValidation, op, "voting duration must be positive")
	}
	return nil
}

// ProposalStatus is the two-state proposal lifecycle.
type ProposalStatus string

const (
	ProposalActive ProposalStatus = "active"
	ProposalClosed ProposalStatus = "closed"
)

// OptionTally accumulates votes for one option.
type OptionTally struct {
	Count  int   `json:"count"`
	Weight int64 `json:"weight"`
}

// Proposal is one question put to a DAO. Results are frozen on closure.
type Proposal struct {
	ID          string                 `json:"id"`
	DAOID       string                 `json:"dao_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Options     []string               `json:"options"`
	Creator     string                 `json:"creator"`
	CreatedAt   int64                  `json:"created_at"`
	ExpiresAt   int64                  `json:"expires_at"`
	Status      ProposalStatus         `json:"status"`
	Quorum      int                    `json:"quorum"`
	Results     map[string]OptionTally `json:"results"`
	VoteCount   int                    `json:"vote_count"`
	CloseReason string                 `json:"close_reason,omitempty"`
	ClosedAt    int64                  `json:"closed_at,omitempty"`
}

// Winner returns the highest-weight option of a closed proposal and its
// share of the total voted weight.
func (p *Proposal) Winner() (string, float64) {
	var best string
	var bestWeight, total int64
	for _, option := range p.Options {
		tally := p.Results[option]
		total += tally.Weight
		if tally.Weight > bestWeight {
			bestWeight = tally.Weight
			best = option
		}
	}
	if total == 0 {
		return "", 0
	}
	return best, float64(bestWeight) / float64(total)
}

// Vote is one member's verified choice on a proposal.
type Vote struct {
	ID         string `json:"id"`
	ProposalID string `json:"proposal_id"`
	Voter      string `json:"voter"`
	Option     string `json:"option"`
	Weight     int64  `json:"weight"`
	Signature  []byte `json:"signature,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Verified   bool   `json:"verified"`
}
