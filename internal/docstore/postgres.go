package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a jsonb table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, doc_id)
	)`)
	return err
}

// Get returns the document body or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND doc_id = $2`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document %s/%s: %w", collection, id, err)
	}
	return body, nil
}

// Put creates or replaces a document.
func (s *PostgresStore) Put(ctx context.Context, collection, id string, body []byte) error {
	return upsertPostgres(ctx, s.pool, collection, id, body)
}

// Update serializes writers on the document with a transaction-scoped
// advisory lock, so a first write to a missing document is also atomic.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`, collection, id); err != nil {
		return fmt.Errorf("lock document: %w", err)
	}

	var current []byte
	exists := true
	err = tx.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND doc_id = $2`,
		collection, id,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		current, exists = nil, false
	} else if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if err := upsertPostgres(ctx, tx, collection, id, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Delete removes a document.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND doc_id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertPostgres(ctx context.Context, db pgExecer, collection, id string, body []byte) error {
	_, err := db.Exec(ctx, `
	INSERT INTO documents (collection, doc_id, body)
	VALUES ($1, $2, $3::jsonb)
	ON CONFLICT (collection, doc_id) DO UPDATE SET
		body = excluded.body,
		updated_at = now()`,
		collection, id, string(body),
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}
