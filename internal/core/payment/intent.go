package payment

import (
	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/fault"
)

// Status is the closed payment intent state set.
type Status int

const (
	StatusPending Status = iota
	StatusSettled
	StatusExpired
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSettled:
		return "SETTLED"
	case StatusExpired:
		return "EXPIRED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Intent is an authorized but not-yet-settled payment request.
type Intent struct {
	ID        string            `json:"id"`
	Payer     string            `json:"payer"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	Module    string            `json:"module"`
	Purpose   string            `json:"purpose"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Status    Status            `json:"-"`
	State     string            `json:"status"`
	CreatedAt int64             `json:"created_at"`
	ExpiresAt int64             `json:"expires_at"`
	TxID      string            `json:"tx_id,omitempty"`
	SettledAt int64             `json:"settled_at,omitempty"`
	FailKind  string            `json:"fail_kind,omitempty"`
}

// transition is the single audited place an intent changes state. Every
// invalid move is a Conflict; terminal states are immutable.
func transition(intent *Intent, to Status, txID string, at int64, failKind string) error {
	const op = "payment.transition"
	if intent.Status.Terminal() {
		return fault.New(fault.KindConflict, op,
			"intent "+intent.ID+" is already "+intent.Status.String())
	}
	switch to {
	case StatusSettled:
		if txID == "" {
			return fault.New(fault.KindInternal, op, "settlement requires a transaction id")
		}
		intent.TxID = txID
		intent.SettledAt = at
	case StatusExpired:
	case StatusFailed:
		intent.FailKind = failKind
	default:
		return fault.New(fault.KindConflict, op, "cannot transition to "+to.String())
	}
	intent.Status = to
	intent.State = to.String()
	return nil
}
