package db

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens an embedded database at path (":memory:" works for tests).
// SQLite has a single writer, so the pool is capped at one connection; this
// also keeps an in-memory database alive across calls.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
