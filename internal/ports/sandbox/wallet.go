package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/qinfinity/qcored/internal/ports"
)

// Wallet is an in-memory wallet double. Debit and Credit are idempotent on
// the caller-supplied reference.
type Wallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	nfts     map[string][]ports.NFT
	applied  map[string]string // ref -> transaction ID
	nextTx   int
}

// NewWallet returns an empty sandbox wallet.
func NewWallet() *Wallet {
	return &Wallet{
		balances: make(map[string]decimal.Decimal),
		nfts:     make(map[string][]ports.NFT),
		applied:  make(map[string]string),
	}
}

func balanceKey(identity, currency string) string {
	return identity + "/" + currency
}

// SetBalance seeds an identity's balance.
func (w *Wallet) SetBalance(identity, currency string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[balanceKey(identity, currency)] = amount
}

// AddNFT grants an NFT to an identity.
func (w *Wallet) AddNFT(identity string, nft ports.NFT) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nfts[identity] = append(w.nfts[identity], nft)
}

// Balance returns the identity's balance in the given currency.
func (w *Wallet) Balance(_ context.Context, identity, currency string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[balanceKey(identity, currency)], nil
}

// Debit removes amount from the identity's balance.
func (w *Wallet) Debit(_ context.Context, identity string, amount decimal.Decimal, currency, ref string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if txID, done := w.applied[ref]; done {
		return txID, nil
	}

	key := balanceKey(identity, currency)
	balance := w.balances[key]
	if balance.LessThan(amount) {
		return "", fmt.Errorf("sandbox wallet: insufficient funds for %s: have %s, need %s",
			identity, balance, amount)
	}

	w.balances[key] = balance.Sub(amount)
	txID := w.newTxID()
	w.applied[ref] = txID
	return txID, nil
}

// Credit adds amount to the identity's balance.
func (w *Wallet) Credit(_ context.Context, identity string, amount decimal.Decimal, currency, ref string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if txID, done := w.applied[ref]; done {
		return txID, nil
	}

	key := balanceKey(identity, currency)
	w.balances[key] = w.balances[key].Add(amount)
	txID := w.newTxID()
	w.applied[ref] = txID
	return txID, nil
}

// ListNFTs returns the NFTs held by an identity.
func (w *Wallet) ListNFTs(_ context.Context, identity string) ([]ports.NFT, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ports.NFT, len(w.nfts[identity]))
	copy(out, w.nfts[identity])
	return out, nil
}

// newTxID mints the next transaction ID. Caller must hold the lock.
func (w *Wallet) newTxID() string {
	w.nextTx++
	return fmt.Sprintf("sbxtx-%06d", w.nextTx)
}

var _ ports.Wallet = (*Wallet)(nil)
