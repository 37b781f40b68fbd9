// Package payment implements fee calculation, the payment intent state
// machine, atomic settlement with per-wallet locking, multi-party revenue
// distribution and reconciliation reporting.
package payment

import (
	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/fault"
)

// Module names with fee schedules.
const (
	ModuleMail    = "mail"
	ModuleMarket  = "market"
	ModuleStorage = "storage"
)

// MailFees price message delivery.
type MailFees struct {
	PerMessage         decimal.Decimal
	PerMBAttachment    decimal.Decimal
	PriorityMultiplier decimal.Decimal
}

// MarketFees price marketplace transactions.
type MarketFees struct {
	TransactionRate decimal.Decimal
	MintFee         decimal.Decimal
}

// StorageFees price storage consumption.
type StorageFees struct {
	FreeGB         decimal.Decimal
	PerGBMonth     decimal.Decimal
	PerGBBandwidth decimal.Decimal
	PremiumFees    map[string]decimal.Decimal
}

// FeeSchedule is the fixed fee configuration table.
type FeeSchedule struct {
	Mail    MailFees
	Market  MarketFees
	Storage StorageFees
}

// DefaultFeeSchedule returns the standing fee table.
func DefaultFeeSchedule() *FeeSchedule {
	return &FeeSchedule{
		Mail: MailFees{
			PerMessage:         decimal.RequireFromString("0.01"),
			PerMBAttachment:    decimal.RequireFromString("0.005"),
			PriorityMultiplier: decimal.RequireFromString("2"),
		},
		Market: MarketFees{
			TransactionRate: decimal.RequireFromString("0.025"),
			MintFee:         decimal.RequireFromString("0.5"),
		},
		Storage: StorageFees{
			FreeGB:         decimal.RequireFromString("1"),
			PerGBMonth:     decimal.RequireFromString("0.05"),
			PerGBBandwidth: decimal.RequireFromString("0.01"),
			PremiumFees: map[string]decimal.Decimal{
				"versioning":  decimal.RequireFromString("0.1"),
				"replication": decimal.RequireFromString("0.25"),
			},
		},
	}
}

// MailParams describe one mail send.
type MailParams struct {
	Recipients   int
	AttachmentMB decimal.Decimal
	Priority     string
}

// MailFee is per-message base times recipients, plus per-MB attachment
// pricing, doubled under high priority.
func (f *FeeSchedule) MailFee(p MailParams) (decimal.Decimal, error) {
	if p.Recipients <= 0 {
		return decimal.Zero, fault.New(fault.KindValidation, "payment.fee", "mail needs at least one recipient")
	}
	fee := f.Mail.PerMessage.Mul(decimal.NewFromInt(int64(p.Recipients)))
	fee = fee.Add(f.Mail.PerMBAttachment.Mul(p.AttachmentMB))
	if p.Priority == "high" {
		fee = fee.Mul(f.Mail.PriorityMultiplier)
	}
	return fee, nil
}

// MarketParams describe one marketplace transaction.
type MarketParams struct {
	SalePrice decimal.Decimal
	Mint      bool
}

// MarketFee is the rate applied to the sale price, plus the optional mint
// fee.
func (f *FeeSchedule) MarketFee(p MarketParams) (decimal.Decimal, error) {
	if p.SalePrice.IsNegative() {
		return decimal.Zero, fault.New(fault.KindValidation, "payment.fee", "sale price must be non-negative")
	}
	fee := f.Market.TransactionRate.Mul(p.SalePrice)
	if p.Mint {
		fee = fee.Add(f.Market.MintFee)
	}
	return fee, nil
}

// StorageParams describe one storage billing period.
type StorageParams struct {
	UsedGB      decimal.Decimal
	BandwidthGB decimal.Decimal
	Premium     []string
}

// StorageFee bills used capacity above the free tier, bandwidth, and any
// premium features.
func (f *FeeSchedule) StorageFee(p StorageParams) (decimal.Decimal, error) {
	if p.UsedGB.IsNegative() || p.BandwidthGB.IsNegative() {
		return decimal.Zero, fault.New(fault.KindValidation, "payment.fee", "storage usage must be non-negative")
	}
	billable := p.UsedGB.Sub(f.Storage.FreeGB)
	if billable.IsNegative() {
		billable = decimal.Zero
	}
	fee := billable.Mul(f.Storage.PerGBMonth)
	fee = fee.Add(p.BandwidthGB.Mul(f.Storage.PerGBBandwidth))
	for _, feature := range p.Premium {
		premium, ok := f.Storage.PremiumFees[feature]
		if !ok {
			return decimal.Zero, fault.New(fault.KindValidation, "payment.fee", "unknown premium feature "+feature)
		}
		fee = fee.Add(premium)
	}
	return fee, nil
}
