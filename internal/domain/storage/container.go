package storage

import (
	"database/sql"

	"paysync/internal/domain/paymentsrepo"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Container groups the repositories the service runs on. The engine only
// sees the interfaces, so the backing driver is a startup decision.
type Container struct {
	Driver   string
	Payments paymentsrepo.Store
	PayLogs  paymentsrepo.LogsStore
}

func NewPostgres(pool *pgxpool.Pool) *Container {
	return &Container{
		Driver:   "postgres",
		Payments: paymentsrepo.NewRepository(pool),
		PayLogs:  paymentsrepo.NewLogsRepository(pool),
	}
}

func NewSQLite(db *sql.DB) *Container {
	repo := paymentsrepo.NewSQLiteRepository(db)
	return &Container{
		Driver:   "sqlite",
		Payments: repo,
		PayLogs:  repo,
	}
}

func NewMemory() *Container {
	mem := paymentsrepo.NewMemoryStore()
	return &Container{
		Driver:   "memory",
		Payments: mem,
		PayLogs:  mem,
	}
}
