// Package postgres backs the document store with a single jsonb table.
// Transactions run at SERIALIZABLE isolation and are retried on
// serialization failures, which gives the ledger the consistent-read,
// conflict-retry semantics the submission transaction relies on.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/st3v3lyrious/quiznetic/internal/store"
)

const maxTxAttempts = 5

const (
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// Store is a Postgres-backed store.Store implementation.
type Store struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return NewStoreWithClock(pool, time.Now)
}

// NewStoreWithClock is test-only for deterministic server timestamps.
func NewStoreWithClock(pool *pgxpool.Pool, clock func() time.Time) *Store {
	return &Store{pool: pool, clock: clock}
}

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	return scanDocument(ctx, s.pool, path)
}

func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, data, version, created_at FROM documents WHERE collection=$1`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var doc store.Document
		if err := rows.Scan(&doc.Path, &doc.Data, &doc.Version, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) CountCreatedSince(ctx context.Context, collection string, since time.Time, limit int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM (
		   SELECT 1 FROM documents WHERE collection=$1 AND created_at >= $2 LIMIT $3
		 ) recent`,
		collection, since, limit).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent documents: %w", err)
	}
	return n, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		retry, err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if retry {
			continue
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) runOnce(ctx context.Context, fn func(tx store.Tx) error) (retry bool, err error) {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	tx := &pgTx{ctx: ctx, tx: pgtx, now: s.clock()}
	if err := fn(tx); err != nil {
		return false, err
	}
	if err := tx.apply(); err != nil {
		return isRetryable(err), err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return isRetryable(err), err
	}
	return false, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgUniqueViolation
	}
	return false
}

type pgWrite struct {
	op   byte // 'c' create, 's' set, 'd' delete
	path string
	data []byte
}

type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	now    time.Time
	writes []pgWrite
}

func (t *pgTx) Get(path string) (store.Document, error) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].path != path {
			continue
		}
		if t.writes[i].op == 'd' {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{Path: path, Data: append([]byte(nil), t.writes[i].data...)}, nil
	}
	return scanDocument(t.ctx, t.tx, path)
}

func (t *pgTx) Create(path string, data []byte) error {
	t.writes = append(t.writes, pgWrite{op: 'c', path: path, data: data})
	return nil
}

func (t *pgTx) Set(path string, data []byte) error {
	t.writes = append(t.writes, pgWrite{op: 's', path: path, data: data})
	return nil
}

func (t *pgTx) Delete(path string) error {
	t.writes = append(t.writes, pgWrite{op: 'd', path: path})
	return nil
}

func (t *pgTx) ServerTime() time.Time {
	return t.now
}

func (t *pgTx) apply() error {
	for _, w := range t.writes {
		var err error
		switch w.op {
		case 'c':
			_, err = t.tx.Exec(t.ctx,
				`INSERT INTO documents (path, collection, data, version, created_at)
				 VALUES ($1, $2, $3, 1, $4)`,
				w.path, store.Collection(w.path), w.data, t.now)
		case 's':
			_, err = t.tx.Exec(t.ctx,
				`INSERT INTO documents (path, collection, data, version, created_at)
				 VALUES ($1, $2, $3, 1, $4)
				 ON CONFLICT (path) DO UPDATE
				 SET data = EXCLUDED.data, version = documents.version + 1`,
				w.path, store.Collection(w.path), w.data, t.now)
		case 'd':
			_, err = t.tx.Exec(t.ctx, `DELETE FROM documents WHERE path=$1`, w.path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func scanDocument(ctx context.Context, q querier, path string) (store.Document, error) {
	doc := store.Document{Path: path}
	err := q.QueryRow(ctx,
		`SELECT data, version, created_at FROM documents WHERE path=$1`,
		path).Scan(&doc.Data, &doc.Version, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}
