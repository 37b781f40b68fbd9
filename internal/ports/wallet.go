package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// NFT is a non-fungible token held by an identity.
type NFT struct {
	TokenID  string // Unique token identifier
	Contract string // Issuing contract or collection
}

// Wallet is the wallet capability port. Debit and Credit are idempotent on
// the caller-supplied reference: repeating a reference returns the original
// transaction ID without applying the operation twice.
type Wallet interface {
	// Balance returns the identity's balance in the given currency.
	Balance(ctx context.Context, identity, currency string) (decimal.Decimal, error)

	// Debit removes amount from the identity's balance and returns the
	// transaction ID.
	Debit(ctx context.Context, identity string, amount decimal.Decimal, currency, ref string) (string, error)

	// Credit adds amount to the identity's balance and returns the
	// transaction ID.
	Credit(ctx context.Context, identity string, amount decimal.Decimal, currency, ref string) (string, error)

	// ListNFTs returns the NFTs held by an identity.
	ListNFTs(ctx context.Context, identity string) ([]NFT, error)
}
