package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is a PostgreSQL-backed document store. It implements store.Store.
type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	db := &DB{Pool: pool}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the documents table if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS documents (
            collection TEXT NOT NULL,
            id TEXT NOT NULL,
            body JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (collection, id)
        )
    `
	if _, err := db.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
