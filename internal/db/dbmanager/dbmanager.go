// Package dbmanager owns the database handles. Both the catalog store and
// the feature store are PostgreSQL databases reached through the pgx stdlib
// driver; stores receive a Querier so the same SQL runs on the pool or
// inside a transaction.
package dbmanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Pool struct {
	*sql.DB
}

func New(ctx context.Context, dsn string) (*Pool, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Pool{DB: db}, nil
}

// FromDB wraps an existing handle. Tests use this with sqlmock.
func FromDB(db *sql.DB) *Pool {
	return &Pool{DB: db}
}

// WithTx runs fn inside a read-committed transaction, rolling back on error.
func (p *Pool) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Ctx(ctx).Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}
