package db

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM documents WHERE collection LIKE 'test-%'`)
		_ = db.Close()
	})
	return db
}

func TestPostgresSetGetDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Get(ctx, "test-docs", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, db.Set(ctx, "test-docs", "a", []byte(`{"v": 1}`)))
	require.NoError(t, db.Set(ctx, "test-docs", "a", []byte(`{"v": 2}`)))

	doc, err := db.Get(ctx, "test-docs", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v": 2}`, string(doc))

	require.NoError(t, db.Delete(ctx, "test-docs", "a"))
	_, err = db.Get(ctx, "test-docs", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresConcurrentUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Update(ctx, "test-docs", "list", func(current []byte, exists bool) ([]byte, error) {
				if !exists {
					return []byte(`[1]`), nil
				}
				return append(current[:len(current)-1], []byte(`, 1]`)...), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := db.Get(ctx, "test-docs", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 1, 1, 1, 1]`, string(doc))
}
