package payment

import (
	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/fault"
)

// Share labels with fixed meaning across split tables.
const (
	LabelPlatform = "platform"
	LabelSeller   = "seller"
	LabelCreator  = "creator"

	// LabelNetwork absorbs the part of a settled amount no recipient is
	// configured for. It carries no identity and is never credited; it
	// exists so distributions always sum to the settled total.
	LabelNetwork = "network"
)

// Share is one recipient's slice of a distribution.
type Share struct {
	Label      string          `json:"label"`
	Identity   string          `json:"identity,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage float64         `json:"percentage"`
}

// Distribution is the deterministic split of one settled intent.
type Distribution struct {
	ID        string          `json:"id"`
	IntentID  string          `json:"intent_id"`
	Module    string          `json:"module"`
	Total     decimal.Decimal `json:"total"`
	Shares    []Share         `json:"shares"`
	CreatedAt int64           `json:"created_at"`
}

// SplitConfig is the per-module revenue split table. Fractions in each table
// sum to 1.0 across recipient labels.
type SplitConfig struct {
	Market          map[string]decimal.Decimal
	Mail            map[string]decimal.Decimal
	Storage         map[string]decimal.Decimal
	PlatformAccount string
}

// DefaultSplitConfig returns the standing split table.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		Market: map[string]decimal.Decimal{
			LabelPlatform: decimal.RequireFromString("0.25"),
			LabelSeller:   decimal.RequireFromString("0.70"),
			LabelCreator:  decimal.RequireFromString("0.05"),
		},
		Mail: map[string]decimal.Decimal{
			LabelPlatform: decimal.RequireFromString("1.0"),
		},
		Storage: map[string]decimal.Decimal{
			LabelPlatform: decimal.RequireFromString("1.0"),
		},
		PlatformAccount: "squid:platform",
	}
}

// shares computes the split of one settled intent. A zero amount yields an
// empty distribution.
func (c SplitConfig) shares(intent *Intent) ([]Share, error) {
	if intent.Amount.IsZero() {
		return nil, nil
	}
	if intent.Module == ModuleMarket {
		return c.marketShares(intent)
	}

	table := c.Mail
	if intent.Module == ModuleStorage {
		table = c.Storage
	}
	var out []Share
	for label, fraction := range table {
		amount := intent.Amount.Mul(fraction)
		if amount.IsZero() {
			continue
		}
		identity := ""
		if label == LabelPlatform {
			identity = c.PlatformAccount
		}
		out = append(out, newShare(label, identity, amount, intent.Amount))
	}
	return balance(out, intent.Amount), nil
}

// marketShares applies the marketplace table: the platform fraction prices
// the transaction fee, the seller and creator fractions price the sale, and
// the royalty carve-out moves the creator fraction off the seller's
// allocation on resales. The uncredited remainder goes to the network
// share.
func (c SplitConfig) marketShares(intent *Intent) ([]Share, error) {
	const op = "payment.split"
	salePrice, err := decimal.NewFromString(intent.Metadata["sale_price"])
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, op, "market intent needs a sale_price", err)
	}
	seller := intent.Metadata["seller"]
	if seller == "" {
		return nil, fault.New(fault.KindValidation, op, "market intent needs a seller")
	}

	fee := intent.Amount.Sub(salePrice)
	if fee.IsNegative() {
		return nil, fault.New(fault.KindValidation, op, "intent amount is below the sale price")
	}

	creator := intent.Metadata["creator"]
	creatorFraction := decimal.Zero
	if intent.Metadata["resale"] == "true" && creator != "" && creator != seller {
		creatorFraction = c.Market[LabelCreator]
	}
	sellerFraction := c.Market[LabelSeller].Sub(creatorFraction)

	var out []Share
	if platformAmount := fee.Mul(c.Market[LabelPlatform]); platformAmount.IsPositive() {
		out = append(out, newShare(LabelPlatform, c.PlatformAccount, platformAmount, intent.Amount))
	}
	if sellerAmount := salePrice.Mul(sellerFraction); sellerAmount.IsPositive() {
		out = append(out, newShare(LabelSeller, seller, sellerAmount, intent.Amount))
	}
	if creatorAmount := salePrice.Mul(creatorFraction); creatorAmount.IsPositive() {
		out = append(out, newShare(LabelCreator, creator, creatorAmount, intent.Amount))
	}
	return balance(out, intent.Amount), nil
}

// newShare builds a share with its percentage of the total.
func newShare(label, identity string, amount, total decimal.Decimal) Share {
	percentage, _ := amount.Div(total).Float64()
	return Share{Label: label, Identity: identity, Amount: amount, Percentage: percentage}
}

// balance appends a network share absorbing any remainder so the shares sum
// exactly to the settled total.
func balance(shares []Share, total decimal.Decimal) []Share {
	allocated := decimal.Zero
	for _, share := range shares {
		allocated = allocated.Add(share.Amount)
	}
	remainder := total.Sub(allocated)
	if remainder.IsPositive() {
		shares = append(shares, newShare(LabelNetwork, "", remainder, total))
	}
	return shares
}
