// Package store is the Postgres persistence layer: the source of truth for
// intents, their hash-chained event log, evaluations, escalations, consents,
// policies, and the signed audit chain.
//
// Every statement runs under a per-call context timeout so a slow database
// cannot wedge the submission pipeline.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// DefaultStatementTimeout bounds every individual statement.
const DefaultStatementTimeout = 5 * time.Second

// Store wraps the SQL connection pool and hands out repositories.
type Store struct {
	db          *sql.DB
	stmtTimeout time.Duration
}

// Options tune the connection pool.
type Options struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

// Open connects to Postgres with the given DSN and verifies connectivity.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 20
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = DefaultStatementTimeout
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	slog.Info("Postgres connected",
		"max_open", opts.MaxOpenConns, "stmt_timeout", opts.StatementTimeout)
	return &Store{db: db, stmtTimeout: opts.StatementTimeout}, nil
}

// NewFromDB wraps an existing connection. Used by tests with sqlmock.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, stmtTimeout: DefaultStatementTimeout}
}

// DB exposes the underlying pool for repositories in sibling packages.
func (s *Store) DB() *sql.DB { return s.db }

// Close shuts down the pool.
func (s *Store) Close() error { return s.db.Close() }

// withTimeout derives the per-statement context.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.stmtTimeout)
}

// Ping verifies liveness for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}
