package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initVersionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initVersionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS dependency_versions (
		key TEXT PRIMARY KEY,
		major INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init version schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	rec := Record{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT major, updated_at FROM dependency_versions WHERE key=$1`, key,
	).Scan(&rec.Major, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get version: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, major int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dependency_versions (key, major, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET major=EXCLUDED.major, updated_at=EXCLUDED.updated_at`,
		key, major, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, major, updated_at FROM dependency_versions ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Major, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
