package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations
var migrationsFS embed.FS

// MigratePostgres applies the idempotent schema to a Postgres pool.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	stmts, err := loadStatements("migrations/postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// MigrateSQLite applies the idempotent schema to an embedded database.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	stmts, err := loadStatements("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func loadStatements(name string) ([]string, error) {
	raw, err := migrationsFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var out []string
	for _, stmt := range strings.Split(string(raw), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
