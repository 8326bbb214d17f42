package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner scopes chunk writes to a single transaction.
type TxRunner struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// WithChunkTx commits when fn returns nil and rolls back on an error or panic.
// Readers never observe a document with only part of its chunks replaced.
func (r *TxRunner) WithChunkTx(ctx context.Context, fn func(w service.ChunkWriter) error) error {
	err := pgx.BeginTxFunc(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(NewChunkRepositoryWithTx(tx))
	})
	if err != nil {
		return fmt.Errorf("chunk transaction: %w", err)
	}
	return nil
}
