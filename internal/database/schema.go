package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements creates the document record table. Every statement is
// idempotent so EnsureSchema can run on each start.
func schemaStatements(table string) []string {
	t := pgx.Identifier{table}.Sanitize()
	idx := pgx.Identifier{table + "_uploaded_at_idx"}.Sanitize()
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id             UUID PRIMARY KEY,
			file_name      TEXT NOT NULL UNIQUE,
			uploaded_at    TIMESTAMPTZ NOT NULL,
			classification TEXT,
			confidence     DOUBLE PRECISION,
			extracted_data JSONB,
			warnings       JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + t + ` (uploaded_at DESC)`,
	}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, table string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements(table) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	slog.Info("schema ready", "table", table)
	return nil
}
