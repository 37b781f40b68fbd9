// Package relational persists settled payments and revenue distributions in
// a SQL database for reconciliation reporting. The sqlite driver backs
// standalone runs; postgres is available for shared deployments.
package relational

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	// Database drivers selected by name in Open.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS settlements (
	intent_id  TEXT PRIMARY KEY,
	module     TEXT NOT NULL,
	payer      TEXT NOT NULL,
	amount     TEXT NOT NULL,
	currency   TEXT NOT NULL,
	tx_id      TEXT NOT NULL,
	settled_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_time ON settlements(settled_at);

CREATE TABLE IF NOT EXISTS distributions (
	distribution_id TEXT PRIMARY KEY,
	intent_id       TEXT NOT NULL,
	module          TEXT NOT NULL,
	total           TEXT NOT NULL,
	created_at      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_distributions_time ON distributions(created_at);

CREATE TABLE IF NOT EXISTS distribution_shares (
	distribution_id TEXT NOT NULL,
	idx             INTEGER NOT NULL,
	label           TEXT NOT NULL,
	identity        TEXT,
	amount          TEXT NOT NULL,
	percentage      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (distribution_id, idx)
);
`

// Settlement is one settled payment intent.
type Settlement struct {
	IntentID  string
	Module    string
	Payer     string
	Amount    decimal.Decimal
	Currency  string
	TxID      string
	SettledAt int64
}

// Share is one recipient's slice of a distribution.
type Share struct {
	Label      string
	Identity   string
	Amount     decimal.Decimal
	Percentage float64
}

// Distribution is one recorded revenue distribution.
type Distribution struct {
	ID        string
	IntentID  string
	Module    string
	Total     decimal.Decimal
	CreatedAt int64
	Shares    []Share
}

// Store wraps the SQL database.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and ensures the schema exists.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("relational: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open %s: %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("relational: migrate: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// RecordSettlement inserts a settled intent. Re-inserting the same intent is
// a no-op, matching settlement idempotence.
func (s *Store) RecordSettlement(ctx context.Context, st Settlement) error {
	query := s.rebind(`INSERT INTO settlements
		(intent_id, module, payer, amount, currency, tx_id, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (intent_id) DO NOTHING`)
	_, err := s.db.ExecContext(ctx, query,
		st.IntentID, st.Module, st.Payer, st.Amount.String(), st.Currency, st.TxID, st.SettledAt)
	if err != nil {
		return fmt.Errorf("relational: record settlement %s: %w", st.IntentID, err)
	}
	return nil
}

// RecordDistribution inserts a distribution and its shares in one
// transaction.
func (s *Store) RecordDistribution(ctx context.Context, d Distribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO distributions
		(distribution_id, intent_id, module, total, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		d.ID, d.IntentID, d.Module, d.Total.String(), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("relational: record distribution %s: %w", d.ID, err)
	}

	for i, share := range d.Shares {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO distribution_shares
			(distribution_id, idx, label, identity, amount, percentage)
			VALUES (?, ?, ?, ?, ?, ?)`),
			d.ID, i, share.Label, share.Identity, share.Amount.String(), share.Percentage)
		if err != nil {
			return fmt.Errorf("relational: record share %s/%d: %w", d.ID, i, err)
		}
	}
	return tx.Commit()
}

// Settlements returns the settlements in [from, to], optionally filtered by
// module (empty means all).
func (s *Store) Settlements(ctx context.Context, from, to int64, module string) ([]Settlement, error) {
	query := `SELECT intent_id, module, payer, amount, currency, tx_id, settled_at
		FROM settlements WHERE settled_at >= ? AND settled_at <= ?`
	args := []any{from, to}
	if module != "" {
		query += ` AND module = ?`
		args = append(args, module)
	}
	query += ` ORDER BY settled_at`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("relational: settlements: %w", err)
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		var st Settlement
		var amount string
		if err := rows.Scan(&st.IntentID, &st.Module, &st.Payer, &amount,
			&st.Currency, &st.TxID, &st.SettledAt); err != nil {
			return nil, fmt.Errorf("relational: scan settlement: %w", err)
		}
		st.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("relational: bad amount %q: %w", amount, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Distributions returns the distributions (with shares) in [from, to],
// optionally filtered by module.
func (s *Store) Distributions(ctx context.Context, from, to int64, module string) ([]Distribution, error) {
	query := `SELECT distribution_id, intent_id, module, total, created_at
		FROM distributions WHERE created_at >= ? AND created_at <= ?`
	args := []any{from, to}
	if module != "" {
		query += ` AND module = ?`
		args = append(args, module)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("relational: distributions: %w", err)
	}
	defer rows.Close()

	var out []Distribution
	for rows.Next() {
		var d Distribution
		var total string
		if err := rows.Scan(&d.ID, &d.IntentID, &d.Module, &total, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("relational: scan distribution: %w", err)
		}
		d.Total, err = decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("relational: bad total %q: %w", total, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		shares, err := s.shares(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Shares = shares
	}
	return out, nil
}

// shares loads the shares of one distribution in insertion order.
func (s *Store) shares(ctx context.Context, distributionID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT label, identity, amount, percentage
		FROM distribution_shares WHERE distribution_id = ? ORDER BY idx`), distributionID)
	if err != nil {
		return nil, fmt.Errorf("relational: shares %s: %w", distributionID, err)
	}
	defer rows.Close()

	var out []Share
	for rows.Next() {
		var share Share
		var identity sql.NullString
		var amount string
		if err := rows.Scan(&share.Label, &identity, &amount, &share.Percentage); err != nil {
			return nil, fmt.Errorf("relational: scan share: %w", err)
		}
		share.Identity = identity.String
		share.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("relational: bad share amount %q: %w", amount, err)
		}
		out = append(out, share)
	}
	return out, rows.Err()
}
