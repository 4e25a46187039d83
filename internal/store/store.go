package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a session row does not exist.
var ErrNotFound = errors.New("session not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS antiphon_sessions (
	id          uuid PRIMARY KEY,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS antiphon_session_state (
	session_id  uuid PRIMARY KEY REFERENCES antiphon_sessions(id) ON DELETE CASCADE,
	sections    jsonb NOT NULL DEFAULT '[]',
	alignments  jsonb NOT NULL DEFAULT '[]',
	undo_stack  jsonb NOT NULL DEFAULT '[]',
	redo_stack  jsonb NOT NULL DEFAULT '[]',
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS antiphon_contours (
	session_id  uuid PRIMARY KEY REFERENCES antiphon_sessions(id) ON DELETE CASCADE,
	frames      integer NOT NULL,
	samples     jsonb NOT NULL,
	updated_at  timestamptz NOT NULL DEFAULT now()
);`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
