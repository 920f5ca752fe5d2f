// Package postgres implements projection.Checkpoint and
// projection.Transactor over a pgxpool.Pool/pgx.Tx, following the
// teacher's pool.BeginTx/tx.Rollback(ctx)/tx.Commit(ctx) discipline
// (pkg/dcb/command.go, pkg/dcb/append.go) and its txOptions defaults.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-dcb/runtime/projection"
)

// DefaultTable is the checkpoint table name assumed by CreateSchemaSQL and
// Checkpoint when no override is configured (spec.md §6: table
// `checkpoints`, columns `projection_id` PK, `position` bigint).
const DefaultTable = "checkpoints"

// CreateSchemaSQL returns the DDL for the checkpoint table. The source
// retrieval pack carries no schema.sql for this table (it belongs to
// the projection runner, not the teacher's event store), so this is
// authored directly from spec.md §6's column layout.
func CreateSchemaSQL(table string) string {
	if table == "" {
		table = DefaultTable
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	projection_id TEXT PRIMARY KEY,
	position      BIGINT NOT NULL
)`, table)
}

// Checkpoint implements projection.Checkpoint[pgx.Tx] against a
// Postgres table shaped per spec.md §6.
type Checkpoint struct {
	pool  *pgxpool.Pool
	table string
}

// NewCheckpoint returns a Checkpoint using table (DefaultTable if
// empty).
func NewCheckpoint(pool *pgxpool.Pool, table string) *Checkpoint {
	if table == "" {
		table = DefaultTable
	}
	return &Checkpoint{pool: pool, table: table}
}

func (c *Checkpoint) Load(ctx context.Context, projectionID string) (uint64, bool, error) {
	var position int64
	err := c.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT position FROM %s WHERE projection_id = $1", c.table),
		projectionID,
	).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: load checkpoint: %w", err)
	}
	return uint64(position), true, nil
}

// Save implements the compare-and-swap protocol of spec.md §4.5/§6: the
// first save for a projection_id INSERTs (a concurrent first-save races
// as a duplicate-key error, propagated as-is); subsequent saves UPDATE
// under a WHERE clause pinning the expected position, returning
// CheckpointConflictError when no row matched.
func (c *Checkpoint) Save(ctx context.Context, tx pgx.Tx, projectionID string, expected uint64, expectedExists bool, newPosition uint64) error {
	if !expectedExists {
		_, err := tx.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (projection_id, position) VALUES ($1, $2)", c.table),
			projectionID, int64(newPosition),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert checkpoint: %w", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET position = $1 WHERE projection_id = $2 AND position = $3", c.table),
		int64(newPosition), projectionID, int64(expected),
	)
	if err != nil {
		return fmt.Errorf("postgres: update checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &projection.CheckpointConflictError{
			ProjectionID: projectionID,
			Expected:     expected,
		}
	}
	return nil
}

// Transactor implements projection.Transactor[pgx.Tx] over a
// pgxpool.Pool, using the teacher's default (ReadCommitted, ReadWrite)
// transaction options.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor wraps pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

func (t *Transactor) Commit(ctx context.Context, tx pgx.Tx) error {
	return tx.Commit(ctx)
}

func (t *Transactor) Rollback(ctx context.Context, tx pgx.Tx) error {
	return tx.Rollback(ctx)
}
