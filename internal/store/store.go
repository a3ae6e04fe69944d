// Package store defines the document-store contract the submission
// subsystem runs against. Backends (memory, redis, postgres) provide a
// consistent-snapshot transaction that detects write conflicts and is
// retried by the store, so at most one concurrent writer ever acts on a
// stale read.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for reads of absent documents.
	ErrNotFound = errors.New("document not found")
	// ErrConflict signals a failed optimistic commit; RunTransaction
	// retries it internally before surfacing it.
	ErrConflict = errors.New("transaction conflict")
)

// Document is a stored record. Version and CreatedAt are assigned by the
// store: Version advances on every write, CreatedAt is the server time
// of the creating transaction and backs the creation-time index.
type Document struct {
	Path      string
	Data      []byte
	Version   int64
	CreatedAt time.Time
}

// Store is a multi-reader/multi-writer document store addressed by
// "/"-separated paths (users/{uid}/attempts/{attemptId}, ...).
type Store interface {
	// Get reads one document, or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)

	// List returns every document of a collection, unordered.
	List(ctx context.Context, collection string) ([]Document, error)

	// CountCreatedSince counts documents of a collection created at or
	// after since, scanning at most limit records. It is an indexed
	// range query over creation time, not a collection scan.
	CountCreatedSince(ctx context.Context, collection string, since time.Time, limit int) (int, error)

	// RunTransaction executes fn against a consistent snapshot and
	// commits its buffered writes atomically. On conflict the whole fn
	// is re-run; fn must therefore be side-effect free outside the Tx.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a single transaction attempt. Reads observe a consistent
// snapshot; writes are buffered until commit.
type Tx interface {
	// Get reads within the transaction, or ErrNotFound. Read documents
	// join the conflict set: if any changes before commit, the
	// transaction is retried.
	Get(path string) (Document, error)

	// Create buffers a document creation. The commit fails as a
	// conflict if the path exists by then. Policy-bound handles return
	// a denial here instead of buffering.
	Create(path string, data []byte) error

	// Set buffers a document write, creating or replacing.
	Set(path string, data []byte) error

	// Delete buffers a document removal.
	Delete(path string) error

	// ServerTime is the store-trusted time of this transaction attempt.
	// Server-assigned fields (createdAt, updatedAt) must come from it,
	// never from caller input.
	ServerTime() time.Time
}
