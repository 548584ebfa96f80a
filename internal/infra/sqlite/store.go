// Package sqlite is the default durable backend: transactions, subscriptions
// and the audit log in one SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// transactionDateLayout stores wall-clock time with no zone so the
	// calendar day never moves on the way in or out.
	transactionDateLayout = "2006-01-02 15:04:05"
	// Fixed-width so that text ordering matches time ordering.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	amount           TEXT NOT NULL,
	type             TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE')),
	category         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	transaction_date TEXT NOT NULL,
	fraud_score      INTEGER NOT NULL DEFAULT 0,
	risk_level       TEXT NOT NULL DEFAULT '',
	reasons          TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	merchant       TEXT NOT NULL,
	merchant_key   TEXT NOT NULL,
	avg_amount     TEXT NOT NULL,
	last_paid_date TEXT NOT NULL,
	next_due_date  TEXT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('ACTIVE', 'IGNORED')),
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	UNIQUE (user_id, merchant_key)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '{}',
	timestamp   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_type_date ON transactions(user_id, type, transaction_date);
CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_user_ts ON audit_log(user_id, timestamp);
`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the SQLite handle shared by the repositories.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}
	// One writer at a time; reconcile transactions take the lock up front.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Transactions returns the transaction store view.
func (s *Store) Transactions() *TransactionStore {
	return &TransactionStore{db: s.db}
}

// Subscriptions returns the subscription repository view.
func (s *Store) Subscriptions() *SubscriptionRepository {
	return &SubscriptionRepository{db: s.db, now: s.now}
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("withTx: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("withTx: commit: %w", err)
	}
	return nil
}
