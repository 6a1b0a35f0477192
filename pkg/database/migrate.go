package database

import (
	"context"
	"fmt"
)

// migrationLockID serialises concurrent Migrate calls from several replicas
const migrationLockID = 7428123

// Migrate applies an idempotent schema script inside a single transaction
// while holding a transaction-scoped advisory lock.
func (db *PostgresDB) Migrate(ctx context.Context, schema string) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
