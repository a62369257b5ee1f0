// Package repository holds the PostgreSQL access code. Every query is plain
// SQL through pgx.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on unique-key violations.
	ErrConflict = errors.New("record already exists")
)

// DB wraps the pool shared by the repositories.
type DB struct {
	pool *pgxpool.Pool
}

// New constructs a DB.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
