package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
)

type paymentFixture struct {
	engine *Engine
	wallet *sandbox.Wallet
	clock  *clock.Manual
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	wallet := sandbox.NewWallet()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	engine := NewEngine(wallet, sandbox.NewAudit(), nil, clk,
		clock.NewSequenceGenerator("pi"), nil,
		DefaultFeeSchedule(), DefaultSplitConfig(), nil, Options{})
	return &paymentFixture{engine: engine, wallet: wallet, clock: clk}
}

func (f *paymentFixture) balance(t *testing.T, identity string) decimal.Decimal {
	t.Helper()
	b, err := f.wallet.Balance(context.Background(), identity, "QToken")
	if err != nil {
		t.Fatalf("balance %s: %v", identity, err)
	}
	return b
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// TestFeeSchedule_MailFee tests per-message, attachment and priority pricing
func TestFeeSchedule_MailFee(t *testing.T) {
	fees := DefaultFeeSchedule()
	cases := []struct {
		name   string
		params MailParams
		want   string
	}{
		{"single recipient", MailParams{Recipients: 1}, "0.01"},
		{"three recipients", MailParams{Recipients: 3}, "0.03"},
		{"with attachment", MailParams{Recipients: 1, AttachmentMB: mustDecimal("10")}, "0.06"},
		{"high priority", MailParams{Recipients: 1, AttachmentMB: mustDecimal("10"), Priority: "high"}, "0.12"},
	}
	for _, tc := range cases {
		got, err := fees.MailFee(tc.params)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(mustDecimal(tc.want)) {
			t.Errorf("%s: fee = %s, want %s", tc.name, got, tc.want)
		}
	}

	if _, err := fees.MailFee(MailParams{Recipients: 0}); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("zero recipients should be a validation fault, got %v", err)
	}
}

// TestFeeSchedule_MarketFee tests the transaction rate and mint fee
func TestFeeSchedule_MarketFee(t *testing.T) {
	fees := DefaultFeeSchedule()

	got, err := fees.MarketFee(MarketParams{SalePrice: mustDecimal("100")})
	if err != nil {
		t.Fatalf("market fee: %v", err)
	}
	if !got.Equal(mustDecimal("2.5")) {
		t.Errorf("fee on 100 = %s, want 2.5", got)
	}

	got, err = fees.MarketFee(MarketParams{SalePrice: mustDecimal("100"), Mint: true})
	if err != nil {
		t.Fatalf("mint fee: %v", err)
	}
	if !got.Equal(mustDecimal("3.0")) {
		t.Errorf("fee with mint = %s, want 3.0", got)
	}
}

// TestFeeSchedule_StorageFee tests the free tier, bandwidth and premium
// features
func TestFeeSchedule_StorageFee(t *testing.T) {
	fees := DefaultFeeSchedule()

	got, err := fees.StorageFee(StorageParams{UsedGB: mustDecimal("0.5")})
	if err != nil {
		t.Fatalf("storage fee: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("usage under the free tier = %s, want 0", got)
	}

	got, err = fees.StorageFee(StorageParams{
		UsedGB:      mustDecimal("11"),
		BandwidthGB: mustDecimal("5"),
		Premium:     []string{"versioning"},
	})
	if err != nil {
		t.Fatalf("storage fee: %v", err)
	}
	// (11-1)*0.05 + 5*0.01 + 0.1
	if !got.Equal(mustDecimal("0.65")) {
		t.Errorf("fee = %s, want 0.65", got)
	}

	if _, err := fees.StorageFee(StorageParams{Premium: []string{"teleport"}}); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("unknown premium feature should be a validation fault, got %v", err)
	}
}

// TestEngine_MarketResaleSplit tests the full marketplace settlement: the
// payer covers sale price plus fee, the platform takes its cut of the fee,
// the creator royalty is carved out of the seller's allocation
func TestEngine_MarketResaleSplit(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("buyer", "QToken", mustDecimal("1000"))

	fee, err := f.engine.Fees().MarketFee(MarketParams{SalePrice: mustDecimal("100")})
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	intent, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer:    "buyer",
		Module:   ModuleMarket,
		Purpose:  "nft purchase",
		Amount:   mustDecimal("100").Add(fee),
		Currency: "QToken",
		Metadata: map[string]string{
			"sale_price": "100",
			"seller":     "seller-1",
			"creator":    "creator-1",
			"resale":     "true",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	settled, err := f.engine.Settle(ctx, intent.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusSettled || settled.TxID == "" {
		t.Fatalf("intent = %s tx=%q, want SETTLED with a transaction", settled.State, settled.TxID)
	}

	if got := f.balance(t, "buyer"); !got.Equal(mustDecimal("897.5")) {
		t.Errorf("buyer balance = %s, want 897.5", got)
	}
	if got := f.balance(t, "squid:platform"); !got.Equal(mustDecimal("0.625")) {
		t.Errorf("platform balance = %s, want 0.625", got)
	}
	if got := f.balance(t, "seller-1"); !got.Equal(mustDecimal("65")) {
		t.Errorf("seller balance = %s, want 65", got)
	}
	if got := f.balance(t, "creator-1"); !got.Equal(mustDecimal("5")) {
		t.Errorf("creator balance = %s, want 5", got)
	}

	dists := f.engine.Distributions()
	if len(dists) != 1 {
		t.Fatalf("distributions = %d, want 1", len(dists))
	}
	sum := decimal.Zero
	for _, share := range dists[0].Shares {
		sum = sum.Add(share.Amount)
	}
	if !sum.Equal(dists[0].Total) {
		t.Errorf("share sum = %s, want total %s", sum, dists[0].Total)
	}
}

// TestEngine_FirstSaleKeepsRoyaltyWithSeller tests that a non-resale pays
// the seller the full seller fraction
func TestEngine_FirstSaleKeepsRoyaltyWithSeller(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("buyer", "QToken", mustDecimal("200"))

	intent, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer:    "buyer",
		Module:   ModuleMarket,
		Amount:   mustDecimal("102.5"),
		Currency: "QToken",
		Metadata: map[string]string{
			"sale_price": "100",
			"seller":     "seller-1",
			"creator":    "creator-1",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Settle(ctx, intent.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if got := f.balance(t, "seller-1"); !got.Equal(mustDecimal("70")) {
		t.Errorf("seller balance = %s, want 70", got)
	}
	if got := f.balance(t, "creator-1"); !got.IsZero() {
		t.Errorf("creator balance = %s, want 0 on first sale", got)
	}
}

// TestEngine_SettleIdempotent tests that re-settling returns the same
// transaction without double-charging
func TestEngine_SettleIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("alice", "QToken", mustDecimal("10"))

	intent, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer: "alice", Module: ModuleMail, Amount: mustDecimal("1"), Currency: "QToken",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := f.engine.Settle(ctx, intent.ID)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := f.engine.Settle(ctx, intent.ID)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.TxID != first.TxID {
		t.Errorf("tx = %s, want %s from the first settlement", second.TxID, first.TxID)
	}
	if got := f.balance(t, "alice"); !got.Equal(mustDecimal("9")) {
		t.Errorf("alice balance = %s, want 9 (charged once)", got)
	}
	if dists := f.engine.Distributions(); len(dists) != 1 {
		t.Errorf("distributions = %d, want 1", len(dists))
	}
}

// TestEngine_InsufficientFunds tests denial without state mutation
func TestEngine_InsufficientFunds(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("bob", "QToken", mustDecimal("1"))

	intent, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer: "bob", Module: ModuleStorage, Amount: mustDecimal("10"), Currency: "QToken",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.engine.Settle(ctx, intent.ID)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if !fault.IsKind(err, fault.KindAuthorizationDenied) {
		t.Errorf("kind = %v, want authorization_denied", fault.KindOf(err))
	}

	after, err := f.engine.Get(intent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != StatusPending {
		t.Errorf("status = %s, want PENDING so the intent can retry", after.State)
	}
	if got := f.balance(t, "bob"); !got.Equal(mustDecimal("1")) {
		t.Errorf("bob balance = %s, want untouched 1", got)
	}
}

// TestEngine_ZeroAmountSettles tests that a zero-amount intent settles with
// an empty distribution
func TestEngine_ZeroAmountSettles(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	intent, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer: "carol", Module: ModuleMail, Amount: decimal.Zero, Currency: "QToken",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	settled, err := f.engine.Settle(ctx, intent.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusSettled || settled.TxID == "" {
		t.Fatalf("intent = %s tx=%q, want SETTLED", settled.State, settled.TxID)
	}

	dists := f.engine.Distributions()
	if len(dists) != 1 || len(dists[0].Shares) != 0 {
		t.Errorf("distributions = %+v, want one empty distribution", dists)
	}
}

// TestEngine_ExpiredIntentRefusesSettlement tests the TTL boundary
func TestEngine_ExpiredIntentRefusesSettlement(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("dave", "QToken", mustDecimal("10"))

	intent, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer: "dave", Module: ModuleMail, Amount: mustDecimal("1"), Currency: "QToken",
		TTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	_, err = f.engine.Settle(ctx, intent.ID)
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict on expiry", err)
	}

	after, err := f.engine.Get(intent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != StatusExpired {
		t.Errorf("status = %s, want EXPIRED", after.State)
	}
	if got := f.balance(t, "dave"); !got.Equal(mustDecimal("10")) {
		t.Errorf("dave balance = %s, want untouched 10", got)
	}
}

// TestEngine_ExpireDue tests the sweeper pass over pending intents
func TestEngine_ExpireDue(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("erin", "QToken", mustDecimal("10"))

	due, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer: "erin", Module: ModuleMail, Amount: mustDecimal("1"), Currency: "QToken",
		TTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fresh, err := f.engine.CreateIntent(ctx, CreateRequest{
		Payer: "erin", Module: ModuleMail, Amount: mustDecimal("1"), Currency: "QToken",
		TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	if got := f.engine.ExpireDue(ctx); got != 1 {
		t.Errorf("expired = %d, want 1", got)
	}
	expired, _ := f.engine.Get(due.ID)
	if expired.Status != StatusExpired {
		t.Errorf("due intent status = %s, want EXPIRED", expired.State)
	}
	pending, _ := f.engine.Get(fresh.ID)
	if pending.Status != StatusPending {
		t.Errorf("fresh intent status = %s, want PENDING", pending.State)
	}
}

// TestEngine_CreateValidation tests the request guards
func TestEngine_CreateValidation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing payer", CreateRequest{Amount: mustDecimal("1"), Currency: "QToken"}},
		{"negative amount", CreateRequest{Payer: "x", Amount: mustDecimal("-1"), Currency: "QToken"}},
		{"unknown currency", CreateRequest{Payer: "x", Amount: mustDecimal("1"), Currency: "DOGE"}},
	}
	for _, tc := range cases {
		if _, err := f.engine.CreateIntent(ctx, tc.req); !fault.IsKind(err, fault.KindValidation) {
			t.Errorf("%s: err = %v, want validation fault", tc.name, err)
		}
	}
}

// TestEngine_Reconcile tests that settled and distributed totals balance
func TestEngine_Reconcile(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.wallet.SetBalance("buyer", "QToken", mustDecimal("1000"))

	for _, amount := range []string{"102.5", "51.25"} {
		sale := mustDecimal(amount).Div(mustDecimal("1.025"))
		intent, err := f.engine.CreateIntent(ctx, CreateRequest{
			Payer: "buyer", Module: ModuleMarket, Amount: mustDecimal(amount), Currency: "QToken",
			Metadata: map[string]string{"sale_price": sale.String(), "seller": "seller-1"},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.engine.Settle(ctx, intent.ID); err != nil {
			t.Fatalf("settle: %v", err)
		}
	}

	report, err := f.engine.Reconcile(ctx, 0, f.clock.NowMillis()+1, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Balanced {
		t.Errorf("report unbalanced: settled=%s distributed=%s",
			report.SettledTotal, report.DistributedTotal)
	}
	if !report.SettledTotal.Equal(mustDecimal("153.75")) {
		t.Errorf("settled total = %s, want 153.75", report.SettledTotal)
	}
	if got := report.ByModule[ModuleMarket]; !got.Equal(report.SettledTotal) {
		t.Errorf("market module total = %s, want %s", got, report.SettledTotal)
	}
	if _, ok := report.ByRecipient["seller-1"]; !ok {
		t.Error("report should attribute revenue to seller-1")
	}
}
