package store

import (
	"context"
	"errors"
	"sync"
)

// Memory is an in-process Store. It is not durable and is meant for tests
// and single-process development.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key(collection, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[key(collection, id)] = append([]byte(nil), doc...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, key(collection, id))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(collection, id)
	current, exists := m.docs[k]
	next, err := fn(append([]byte(nil), current...), exists)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	m.docs[k] = append([]byte(nil), next...)
	return nil
}

func (m *Memory) Close() error { return nil }
