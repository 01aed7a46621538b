package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // The database driver
)

// Store wraps the database connection. Queries accept an sqlx.ExtContext so
// they run equally against the pool or an open transaction; each task
// execution gets its own transaction via Begin.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Connect opens and pings a Postgres connection.
func Connect(databaseURL string) (*Store, error) {
	conn, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(conn), nil
}

func (s *Store) Begin() (*sqlx.Tx, error) {
	return s.db.Beginx()
}

// DB exposes the underlying pool for non-transactional writes
// (e.g. marking an episode failed after a rollback).
func (s *Store) DB() *sqlx.DB {
	return s.db
}
