// Package store defines the durable document store shared by the response
// cache and the conversation history, and its in-process, Redis and SQLite
// backends. The PostgreSQL backend lives in package db.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the document does not exist. An
// existing but empty document is not ErrNotFound.
var ErrNotFound = errors.New("store: document not found")

// ErrSkipWrite may be returned by an UpdateFunc to leave the document
// unchanged. Update then returns nil.
var ErrSkipWrite = errors.New("store: skip write")

// UpdateFunc receives the current document (nil and exists=false when it
// does not exist) and returns the document to persist. It may run more than
// once when a backend retries an optimistic transaction, so it must not have
// side effects.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is a document-oriented key/value store. Documents are addressed by
// collection and id.
type Store interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id string, doc []byte) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Update atomically reads, transforms and writes one document.
	Update(ctx context.Context, collection, id string, fn UpdateFunc) error
	Close() error
}

func key(collection, id string) string {
	return collection + ":" + id
}
