package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ store.Store = (*DB)(nil)

func (db *DB) Get(ctx context.Context, collection, id string) ([]byte, error) {
	query := `
        SELECT body
        FROM documents
        WHERE collection = $1 AND id = $2
    `

	var body []byte
	err := db.Pool.QueryRow(ctx, query, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s/%s: %w", collection, id, err)
	}

	return body, nil
}

func (db *DB) Set(ctx context.Context, collection, id string, doc []byte) error {
	if err := upsert(ctx, db.Pool, collection, id, doc); err != nil {
		return fmt.Errorf("postgres set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (db *DB) Delete(ctx context.Context, collection, id string) error {
	query := `
        DELETE FROM documents
        WHERE collection = $1 AND id = $2
    `

	if _, err := db.Pool.Exec(ctx, query, collection, id); err != nil {
		return fmt.Errorf("postgres delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update serializes writers of one document with a transaction-scoped
// advisory lock, which also covers documents that do not exist yet.
func (db *DB) Update(ctx context.Context, collection, id string, fn store.UpdateFunc) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, collection+":"+id); err != nil {
		return fmt.Errorf("postgres lock %s/%s: %w", collection, id, err)
	}

	var current []byte
	exists := true
	err = tx.QueryRow(ctx, `SELECT body FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("postgres update read %s/%s: %w", collection, id, err)
	}

	next, err := fn(current, exists)
	if errors.Is(err, store.ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := upsert(ctx, tx, collection, id, next); err != nil {
		return fmt.Errorf("postgres update write %s/%s: %w", collection, id, err)
	}
	return tx.Commit(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsert(ctx context.Context, e execer, collection, id string, doc []byte) error {
	query := `
        INSERT INTO documents (collection, id, body)
        VALUES ($1, $2, $3)
        ON CONFLICT (collection, id) DO UPDATE
        SET body = EXCLUDED.body, updated_at = NOW()
    `

	_, err := e.Exec(ctx, query, collection, id, doc)
	return err
}
