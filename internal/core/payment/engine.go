package payment

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/storage/relational"
)

// ErrInsufficientFunds is returned when the payer's balance cannot cover the
// intent.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Defaults for the intent lifecycle.
const (
	DefaultIntentTTL     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// reconcileEpsilon bounds acceptable rounding drift between settled and
// distributed totals.
var reconcileEpsilon = decimal.RequireFromString("0.000001")

// Options configure an Engine.
type Options struct {
	IntentTTL     time.Duration
	SweepInterval time.Duration
	Currencies    []string
}

func (o *Options) fill() {
	if o.IntentTTL <= 0 {
		o.IntentTTL = DefaultIntentTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if len(o.Currencies) == 0 {
		o.Currencies = []string{"QToken", "QUBIC", "PI"}
	}
}

// Engine owns payment intents and revenue distributions.
type Engine struct {
	mu            sync.Mutex
	intents       map[string]*Intent
	distributions []Distribution

	wallet  ports.Wallet
	audit   ports.Audit
	bus     ports.EventBus
	clock   clock.Clock
	ids     clock.IDGenerator
	logger  *log.Logger
	fees    *FeeSchedule
	splits  SplitConfig
	archive *relational.Store
	opts    Options

	locksMu     sync.Mutex
	walletLocks map[string]*sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires a payment engine. Audit, bus and archive may be nil.
func NewEngine(wallet ports.Wallet, audit ports.Audit, bus ports.EventBus,
	clk clock.Clock, ids clock.IDGenerator, logger *log.Logger,
	fees *FeeSchedule, splits SplitConfig, archive *relational.Store, opts Options) *Engine {
	opts.fill()
	if fees == nil {
		fees = DefaultFeeSchedule()
	}
	return &Engine{
		intents:     make(map[string]*Intent),
		wallet:      wallet,
		audit:       audit,
		bus:         bus,
		clock:       clk,
		ids:         ids,
		logger:      logger,
		fees:        fees,
		splits:      splits,
		archive:     archive,
		opts:        opts,
		walletLocks: make(map[string]*sync.Mutex),
	}
}

// Fees exposes the fee schedule for callers computing intent amounts.
func (e *Engine) Fees() *FeeSchedule {
	return e.fees
}

// CreateRequest describes a new intent.
type CreateRequest struct {
	Payer    string
	Module   string
	Purpose  string
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
	TTL      time.Duration
}

// CreateIntent validates the request and registers a pending intent.
func (e *Engine) CreateIntent(ctx context.Context, req CreateRequest) (*Intent, error) {
	const op = "payment.create"
	if req.Payer == "" {
		return nil, fault.New(fault.KindValidation, op, "payer is required")
	}
	if req.Amount.IsNegative() {
		return nil, fault.New(fault.KindValidation, op, "amount must be non-negative")
	}
	if !e.currencyAllowed(req.Currency) {
		return nil, fault.New(fault.KindValidation, op, "unknown currency "+req.Currency)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.opts.IntentTTL
	}
	now := e.clock.NowMillis()
	intent := &Intent{
		ID:        e.ids.New(),
		Payer:     req.Payer,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Module:    req.Module,
		Purpose:   req.Purpose,
		Metadata:  req.Metadata,
		Status:    StatusPending,
		State:     StatusPending.String(),
		CreatedAt: now,
		ExpiresAt: now + ttl.Milliseconds(),
	}

	e.mu.Lock()
	e.intents[intent.ID] = intent
	e.mu.Unlock()

	e.auditLog(ctx, "payment.intent.created", req.Payer, intent.ID, "ok", nil)
	e.emit("payment.intent.created", req.Payer, map[string]any{
		"intent_id": intent.ID,
		"module":    req.Module,
		"amount":    req.Amount.String(),
		"currency":  req.Currency,
	})
	out := *intent
	return &out, nil
}

// Get returns a copy of an intent.
func (e *Engine) Get(intentID string) (*Intent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	intent, ok := e.intents[intentID]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "payment.get", "intent "+intentID)
	}
	out := *intent
	return &out, nil
}

// Settle debits the payer, credits the revenue split recipients and moves
// the intent to SETTLED. Re-settling a settled intent is a no-op returning
// the same transaction ID.
func (e *Engine) Settle(ctx context.Context, intentID string) (*Intent, error) {
	const op = "payment.settle"

	intent, err := e.settleEligible(intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == StatusSettled {
		return intent, nil
	}

	shares, err := e.splits.shares(intent)
	if err != nil {
		return nil, err
	}

	unlock := e.lockWallets(walletSet(intent, shares))
	defer unlock()

	// Re-check under the wallet lock: a concurrent settle may have won.
	current, err := e.settleEligible(intentID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusSettled {
		return current, nil
	}

	balance, err := e.wallet.Balance(ctx, intent.Payer, intent.Currency)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "balance lookup", err)
	}
	if balance.LessThan(intent.Amount) {
		e.auditLog(ctx, "payment.settle", intent.Payer, intent.ID, "denied",
			map[string]string{"reason": "insufficient_funds"})
		return nil, fault.Wrap(fault.KindAuthorizationDenied, op,
			"payer "+intent.Payer+" cannot cover "+intent.Amount.String(), ErrInsufficientFunds).
			WithCorrelation(intent.ID)
	}

	txID, err := e.wallet.Debit(ctx, intent.Payer, intent.Amount, intent.Currency, intent.ID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "debit", err).WithCorrelation(intent.ID)
	}
	for _, share := range shares {
		if share.Identity == "" {
			continue
		}
		ref := intent.ID + "/" + share.Label
		if _, err := e.wallet.Credit(ctx, share.Identity, share.Amount, intent.Currency, ref); err != nil {
			return nil, fault.Wrap(fault.KindTimeout, op, "credit "+share.Label, err).
				WithCorrelation(intent.ID)
		}
	}

	now := e.clock.NowMillis()
	settled, dist, err := e.commitSettlement(intentID, txID, now, shares)
	if err != nil {
		return nil, err
	}

	e.auditLog(ctx, "payment.settled", settled.Payer, settled.ID, "ok",
		map[string]string{"tx_id": txID})
	e.emit("payment.settled", settled.Payer, map[string]any{
		"intent_id": settled.ID,
		"tx_id":     txID,
		"amount":    settled.Amount.String(),
		"module":    settled.Module,
	})
	e.persist(ctx, settled, dist)
	return settled, nil
}

// settleEligible fetches an intent and rejects terminal or expired ones.
// A settled intent is returned as-is so callers can answer idempotently.
func (e *Engine) settleEligible(intentID string) (*Intent, error) {
	const op = "payment.settle"
	e.mu.Lock()
	defer e.mu.Unlock()

	intent, ok := e.intents[intentID]
	if !ok {
		return nil, fault.New(fault.KindNotFound, op, "intent "+intentID)
	}
	if intent.Status == StatusSettled {
		out := *intent
		return &out, nil
	}
	if intent.Status.Terminal() {
		return nil, fault.New(fault.KindConflict, op,
			"intent "+intentID+" is "+intent.Status.String())
	}
	now := e.clock.NowMillis()
	if now > intent.ExpiresAt {
		if err := transition(intent, StatusExpired, "", now, ""); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.KindConflict, op, "intent "+intentID+" has expired")
	}
	out := *intent
	return &out, nil
}

// commitSettlement transitions the intent and records the distribution.
func (e *Engine) commitSettlement(intentID, txID string, at int64, shares []Share) (*Intent, *Distribution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	intent, ok := e.intents[intentID]
	if !ok {
		return nil, nil, fault.New(fault.KindNotFound, "payment.settle", "intent "+intentID)
	}
	if err := transition(intent, StatusSettled, txID, at, ""); err != nil {
		return nil, nil, err
	}

	dist := Distribution{
		ID:        e.ids.New(),
		IntentID:  intent.ID,
		Module:    intent.Module,
		Total:     intent.Amount,
		Shares:    shares,
		CreatedAt: at,
	}
	e.distributions = append(e.distributions, dist)

	out := *intent
	return &out, &dist, nil
}

// persist archives the settlement and distribution when a store is wired.
func (e *Engine) persist(ctx context.Context, intent *Intent, dist *Distribution) {
	if e.archive == nil {
		return
	}
	err := e.archive.RecordSettlement(ctx, relational.Settlement{
		IntentID:  intent.ID,
		Module:    intent.Module,
		Payer:     intent.Payer,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		TxID:      intent.TxID,
		SettledAt: intent.SettledAt,
	})
	if err != nil && e.logger != nil {
		e.logger.Printf("payment: archive settlement %s: %v", intent.ID, err)
	}

	shares := make([]relational.Share, 0, len(dist.Shares))
	for _, share := range dist.Shares {
		shares = append(shares, relational.Share{
			Label:      share.Label,
			Identity:   share.Identity,
			Amount:     share.Amount,
			Percentage: share.Percentage,
		})
	}
	err = e.archive.RecordDistribution(ctx, relational.Distribution{
		ID:        dist.ID,
		IntentID:  dist.IntentID,
		Module:    dist.Module,
		Total:     dist.Total,
		CreatedAt: dist.CreatedAt,
		Shares:    shares,
	})
	if err != nil && e.logger != nil {
		e.logger.Printf("payment: archive distribution %s: %v", dist.ID, err)
	}
}

// ExpireDue transitions every pending intent past its deadline.
func (e *Engine) ExpireDue(ctx context.Context) int {
	e.mu.Lock()
	now := e.clock.NowMillis()
	var expired []string
	for _, intent := range e.intents {
		if intent.Status == StatusPending && now >= intent.ExpiresAt {
			if err := transition(intent, StatusExpired, "", now, ""); err == nil {
				expired = append(expired, intent.ID)
			}
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		e.auditLog(ctx, "payment.intent.expired", "", id, "ok", nil)
	}
	return len(expired)
}

// Start launches the expiry sweeper.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.ExpireDue(ctx)
			}
		}
	}()
}

// Stop halts the sweeper.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// ReconciliationReport relates settled totals to distributed totals over a
// time range.
type ReconciliationReport struct {
	From             int64                      `json:"from"`
	To               int64                      `json:"to"`
	Module           string                     `json:"module,omitempty"`
	SettledTotal     decimal.Decimal            `json:"settled_total"`
	DistributedTotal decimal.Decimal            `json:"distributed_total"`
	ByModule         map[string]decimal.Decimal `json:"by_module"`
	ByRecipient      map[string]decimal.Decimal `json:"by_recipient"`
	Balanced         bool                       `json:"balanced"`
}

// Reconcile produces totals by module and recipient over [from, to]. The
// relational archive is preferred when wired; otherwise the in-memory
// registry serves the report.
func (e *Engine) Reconcile(ctx context.Context, from, to int64, module string) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		From:             from,
		To:               to,
		Module:           module,
		SettledTotal:     decimal.Zero,
		DistributedTotal: decimal.Zero,
		ByModule:         make(map[string]decimal.Decimal),
		ByRecipient:      make(map[string]decimal.Decimal),
	}

	if e.archive != nil {
		if err := e.reconcileArchived(ctx, report); err != nil {
			return nil, err
		}
	} else {
		e.reconcileMemory(report)
	}

	report.Balanced = report.SettledTotal.Sub(report.DistributedTotal).Abs().
		LessThanOrEqual(reconcileEpsilon)

	e.emit("payment.settlement.reported", "", map[string]any{
		"settled":     report.SettledTotal.String(),
		"distributed": report.DistributedTotal.String(),
		"balanced":    report.Balanced,
	})
	return report, nil
}

func (e *Engine) reconcileMemory(report *ReconciliationReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, intent := range e.intents {
		if intent.Status != StatusSettled {
			continue
		}
		if intent.SettledAt < report.From || intent.SettledAt > report.To {
			continue
		}
		if report.Module != "" && intent.Module != report.Module {
			continue
		}
		report.SettledTotal = report.SettledTotal.Add(intent.Amount)
		report.ByModule[intent.Module] = moduleTotal(report.ByModule, intent.Module).Add(intent.Amount)
	}
	for _, dist := range e.distributions {
		if dist.CreatedAt < report.From || dist.CreatedAt > report.To {
			continue
		}
		if report.Module != "" && dist.Module != report.Module {
			continue
		}
		report.DistributedTotal = report.DistributedTotal.Add(dist.Total)
		for _, share := range dist.Shares {
			key := share.Label
			if share.Identity != "" {
				key = share.Identity
			}
			report.ByRecipient[key] = moduleTotal(report.ByRecipient, key).Add(share.Amount)
		}
	}
}

func (e *Engine) reconcileArchived(ctx context.Context, report *ReconciliationReport) error {
	settlements, err := e.archive.Settlements(ctx, report.From, report.To, report.Module)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "payment.reconcile", "load settlements", err)
	}
	for _, st := range settlements {
		report.SettledTotal = report.SettledTotal.Add(st.Amount)
		report.ByModule[st.Module] = moduleTotal(report.ByModule, st.Module).Add(st.Amount)
	}

	distributions, err := e.archive.Distributions(ctx, report.From, report.To, report.Module)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "payment.reconcile", "load distributions", err)
	}
	for _, dist := range distributions {
		report.DistributedTotal = report.DistributedTotal.Add(dist.Total)
		for _, share := range dist.Shares {
			key := share.Label
			if share.Identity != "" {
				key = share.Identity
			}
			report.ByRecipient[key] = moduleTotal(report.ByRecipient, key).Add(share.Amount)
		}
	}
	return nil
}

func moduleTotal(m map[string]decimal.Decimal, key string) decimal.Decimal {
	if v, ok := m[key]; ok {
		return v
	}
	return decimal.Zero
}

// Distributions returns copies of the recorded distributions.
func (e *Engine) Distributions() []Distribution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Distribution, len(e.distributions))
	copy(out, e.distributions)
	return out
}

// currencyAllowed checks the closed currency set.
func (e *Engine) currencyAllowed(currency string) bool {
	for _, c := range e.opts.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// walletSet collects every identity whose balance the settlement touches.
func walletSet(intent *Intent, shares []Share) []string {
	seen := map[string]bool{intent.Payer: true}
	out := []string{intent.Payer}
	for _, share := range shares {
		if share.Identity != "" && !seen[share.Identity] {
			seen[share.Identity] = true
			out = append(out, share.Identity)
		}
	}
	return out
}

// lockWallets acquires the per-wallet locks in identity-sorted order so
// concurrent settlements can never deadlock.
func (e *Engine) lockWallets(identities []string) func() {
	sorted := make([]string, len(identities))
	copy(sorted, identities)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, identity := range sorted {
		e.locksMu.Lock()
		lock, ok := e.walletLocks[identity]
		if !ok {
			lock = &sync.Mutex{}
			e.walletLocks[identity] = lock
		}
		e.locksMu.Unlock()
		lock.Lock()
		locks = append(locks, lock)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// auditLog writes an audit event when an audit port is wired.
func (e *Engine) auditLog(ctx context.Context, action, actor, resource, outcome string, details map[string]string) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Log(ctx, ports.AuditEvent{
		ID:            e.ids.New(),
		Action:        action,
		Actor:         actor,
		Resource:      resource,
		Outcome:       outcome,
		CorrelationID: resource,
		Details:       details,
		Timestamp:     e.clock.NowMillis(),
	})
}

// emit publishes an event when a bus is wired.
func (e *Engine) emit(topic, actor string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(topic, ports.Envelope{
		ID:        e.ids.New(),
		Topic:     topic,
		Timestamp: e.clock.NowMillis(),
		Actor:     ports.Actor{Identity: actor, Role: "system"},
		Payload:   payload,
	})
}
