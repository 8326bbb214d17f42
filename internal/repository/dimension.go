package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// pgvector rejects a vector of the wrong length with data_exception.
const pgDataException = "22000"

// VectorTable names a table whose embedding column must match the
// configured embedding dimension.
type VectorTable struct {
	Table string
	Index string
	// Probe inserts a throwaway row carrying $1 as its embedding.
	Probe string
	// Nullable keeps the recreated column nullable and the existing rows.
	// Otherwise the table is emptied before the column is recreated.
	Nullable bool
}

// VectorTables are the tables checked at startup.
var VectorTables = []VectorTable{
	{
		Table: "document_chunks",
		Index: "idx_document_chunks_embedding",
		Probe: `INSERT INTO document_chunks (id, content, embedding) VALUES ('__dimension_probe__', '', $1)`,
	},
	{
		Table:    "conversation_turns",
		Index:    "idx_conversation_turns_embedding",
		Probe:    `INSERT INTO conversation_turns (id, conversation_id, user_id, role, content, embedding) VALUES (gen_random_uuid(), '__probe__', '__probe__', 'user', '', $1)`,
		Nullable: true,
	},
}

// DimensionResult reports what EnsureVectorDimension did for one table.
type DimensionResult struct {
	Table     string
	Recreated bool
}

// EnsureVectorDimension probes every table with a disposable insert of a
// dim-length vector inside a rolled back transaction. A table that rejects
// the probe gets its embedding column and vector index recreated with the
// right dimension. Existing embeddings in a recreated table are lost and
// document chunks must be indexed again.
func EnsureVectorDimension(ctx context.Context, pool *pgxpool.Pool, dim int, tables []VectorTable, logger *zap.Logger) ([]DimensionResult, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]DimensionResult, 0, len(tables))
	for _, t := range tables {
		mismatch, err := probeDimension(ctx, pool, t, dim)
		if err != nil {
			return results, fmt.Errorf("probe %s: %w", t.Table, err)
		}
		if !mismatch {
			results = append(results, DimensionResult{Table: t.Table})
			continue
		}
		logger.Warn("embedding dimension mismatch, recreating vector column",
			zap.String("table", t.Table), zap.Int("dimension", dim))
		if err := recreateVectorColumn(ctx, pool, t, dim); err != nil {
			return results, fmt.Errorf("recreate %s embedding column: %w", t.Table, err)
		}
		results = append(results, DimensionResult{Table: t.Table, Recreated: true})
	}
	return results, nil
}

func probeDimension(ctx context.Context, pool *pgxpool.Pool, t VectorTable, dim int) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, t.Probe, pgvector.NewVector(make([]float32, dim)))
	if err == nil {
		return false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDataException {
		return true, nil
	}
	return false, err
}

func recreateVectorColumn(ctx context.Context, pool *pgxpool.Pool, t VectorTable, dim int) error {
	table := pgx.Identifier{t.Table}.Sanitize()
	index := pgx.Identifier{t.Index}.Sanitize()
	column := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN embedding vector(%d)`, table, dim)
	statements := []string{`DROP INDEX IF EXISTS ` + index}
	if !t.Nullable {
		statements = append(statements, `DELETE FROM `+table)
		column += " NOT NULL"
	}
	statements = append(statements,
		`ALTER TABLE `+table+` DROP COLUMN IF EXISTS embedding`,
		column,
		fmt.Sprintf(`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops)`, index, table),
	)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
