// Package postgres implements the transaction store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // load the postgres driver used by database/sql

	"github.com/sauliuspr-reya/reya-workers/internal/store"
	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
)

// Postgres is a transaction store backed by a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres store connected to the database in dsn.
func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB: %w", err)
	}

	return &Postgres{db: db}, nil
}

// EnsureSchema creates the transactions table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			status VARCHAR(20) NOT NULL,
			tx_hash VARCHAR(66),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return errors.NewStorageError("EnsureSchema", err)
	}
	return nil
}

// CreateTransaction inserts a new PENDING record.
func (p *Postgres) CreateTransaction(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions (id, status, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())`,
		id, store.StatusPending)
	if err != nil {
		return errors.NewStorageError("CreateTransaction", err)
	}
	return nil
}

// UpdateStatus transitions a record. Terminal rows only accept updates that
// repeat their current status, so a late duplicate write (the gateway's
// write-through after a synchronous result) can never regress the record.
func (p *Postgres) UpdateStatus(ctx context.Context, id string, status store.Status, txHash string) error {
	var hash sql.NullString
	if txHash != "" {
		hash = sql.NullString{String: txHash, Valid: true}
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, tx_hash = COALESCE($2, tx_hash), updated_at = NOW()
		WHERE id = $3 AND (status NOT IN ('COMPLETED', 'FAILED') OR status = $1)`,
		status, hash, id)
	if err != nil {
		return errors.NewStorageError("UpdateStatus", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorageError("UpdateStatus", err)
	}
	if n == 0 {
		// Either the row does not exist or it is terminal with a
		// different status. Both are reported the same way; callers
		// that need the distinction read the row first.
		return errors.Wrap(errors.ErrNotFound, fmt.Sprintf("transaction %s not updatable to %s", id, status))
	}

	return nil
}

// GetTransaction fetches a record by id.
func (p *Postgres) GetTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	var tx store.Transaction
	var hash sql.NullString

	err := p.db.QueryRowContext(ctx,
		`SELECT id, status, tx_hash, created_at, updated_at FROM transactions WHERE id = $1`,
		id).Scan(&tx.ID, &tx.Status, &hash, &tx.CreatedAt, &tx.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "transaction not found")
	}
	if err != nil {
		return nil, errors.NewStorageError("GetTransaction", err)
	}

	tx.TxHash = hash.String
	return &tx, nil
}

// Ping verifies connectivity to the database.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
