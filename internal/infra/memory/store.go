// Package memory provides the in-process document store used for tests
// and for running without external infrastructure. Transactions are
// optimistic: reads record document versions, and commit fails if any
// recorded version moved, in which case the transaction re-runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/store"
)

const maxTxAttempts = 20

type record struct {
	data      []byte
	version   int64
	createdAt time.Time
}

type indexEntry struct {
	path      string
	createdAt time.Time
}

// Store is an in-memory store.Store implementation.
type Store struct {
	clock func() time.Time

	mu      sync.RWMutex
	docs    map[string]record
	created map[string][]indexEntry // per-collection creation-time index
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock is test-only for deterministic server timestamps.
func NewStoreWithClock(clock func() time.Time) *Store {
	return &Store{
		clock:   clock,
		docs:    make(map[string]record),
		created: make(map[string][]indexEntry),
	}
}

func (s *Store) Get(_ context.Context, path string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(path)
}

func (s *Store) getLocked(path string) (store.Document, error) {
	rec, ok := s.docs[path]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{
		Path:      path,
		Data:      append([]byte(nil), rec.data...),
		Version:   rec.version,
		CreatedAt: rec.createdAt,
	}, nil
}

func (s *Store) List(_ context.Context, collection string) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []store.Document
	for path, rec := range s.docs {
		if store.Collection(path) != collection {
			continue
		}
		docs = append(docs, store.Document{
			Path:      path,
			Data:      append([]byte(nil), rec.data...),
			Version:   rec.version,
			CreatedAt: rec.createdAt,
		})
	}
	return docs, nil
}

func (s *Store) CountCreatedSince(_ context.Context, collection string, since time.Time, limit int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.created[collection]
	// Index is sorted by creation time; binary-search the window start.
	start := sort.Search(len(index), func(i int) bool {
		return !index[i].createdAt.Before(since)
	})
	n := len(index) - start
	if limit > 0 && n > limit {
		n = limit
	}
	return n, nil
}

func (s *Store) RunTransaction(_ context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx := &memTx{store: s, now: s.clock(), reads: make(map[string]int64)}
		if err := fn(tx); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
	}
	return store.ErrConflict
}

type writeOp struct {
	op   byte // 'c' create, 's' set, 'd' delete
	path string
	data []byte
}

type memTx struct {
	store  *Store
	now    time.Time
	reads  map[string]int64 // path -> version observed (0 = absent)
	writes []writeOp
}

func (t *memTx) Get(path string) (store.Document, error) {
	// Read-your-writes within the transaction buffer.
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].path != path {
			continue
		}
		if t.writes[i].op == 'd' {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{Path: path, Data: append([]byte(nil), t.writes[i].data...)}, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	doc, err := t.store.getLocked(path)
	if err != nil {
		t.reads[path] = 0
		return store.Document{}, err
	}
	t.reads[path] = doc.Version
	return doc, nil
}

func (t *memTx) Create(path string, data []byte) error {
	t.writes = append(t.writes, writeOp{op: 'c', path: path, data: append([]byte(nil), data...)})
	return nil
}

func (t *memTx) Set(path string, data []byte) error {
	t.writes = append(t.writes, writeOp{op: 's', path: path, data: append([]byte(nil), data...)})
	return nil
}

func (t *memTx) Delete(path string) error {
	t.writes = append(t.writes, writeOp{op: 'd', path: path})
	return nil
}

func (t *memTx) ServerTime() time.Time {
	return t.now
}

// commit validates the read set under the write lock and applies the
// buffered writes atomically. Returns false on conflict.
func (s *Store) commit(tx *memTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, observed := range tx.reads {
		current := int64(0)
		if rec, ok := s.docs[path]; ok {
			current = rec.version
		}
		if current != observed {
			return false
		}
	}
	for _, w := range tx.writes {
		if w.op == 'c' {
			if _, exists := s.docs[w.path]; exists {
				return false
			}
		}
	}

	for _, w := range tx.writes {
		switch w.op {
		case 'd':
			if _, exists := s.docs[w.path]; exists {
				delete(s.docs, w.path)
				s.dropIndexLocked(w.path)
			}
		default:
			rec, exists := s.docs[w.path]
			next := record{data: w.data, version: rec.version + 1, createdAt: rec.createdAt}
			if !exists {
				next.createdAt = tx.now
				s.addIndexLocked(w.path, tx.now)
			}
			s.docs[w.path] = next
		}
	}
	return true
}

func (s *Store) addIndexLocked(path string, createdAt time.Time) {
	collection := store.Collection(path)
	index := s.created[collection]
	i := sort.Search(len(index), func(i int) bool {
		return index[i].createdAt.After(createdAt)
	})
	index = append(index, indexEntry{})
	copy(index[i+1:], index[i:])
	index[i] = indexEntry{path: path, createdAt: createdAt}
	s.created[collection] = index
}

func (s *Store) dropIndexLocked(path string) {
	collection := store.Collection(path)
	index := s.created[collection]
	for i := range index {
		if index[i].path == path {
			s.created[collection] = append(index[:i], index[i+1:]...)
			return
		}
	}
}
