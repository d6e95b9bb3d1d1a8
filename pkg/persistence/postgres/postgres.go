// Package postgres provides a PostgreSQL-backed store implementation.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/voyagent/voyagent/pkg/persistence"
)

// Store implements persistence.Store on a single key-value table.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection to the given postgres URL and ensures the
// backing table exists.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, persistence.NewStoreError("Init", "", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, persistence.NewStoreError("Init", "", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS voyagent_kv (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return persistence.NewStoreError("Migrate", "", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM voyagent_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrKeyNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("Get", key, err)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voyagent_kv (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, value)
	if err != nil {
		return persistence.NewStoreError("Set", key, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM voyagent_kv WHERE key = $1`, key)
	if err != nil {
		return persistence.NewStoreError("Delete", key, err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return persistence.ErrKeyNotFound
	}

	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}
