// Package redis backs the document store with Redis. Each document is
// a hash (data, version, createdAt); each collection keeps a sorted-set
// index scored by creation time, which powers the rate limiter's range
// query. Transactions use WATCH/MULTI/EXEC: every document read inside
// a transaction is watched, so a concurrent write aborts the EXEC and
// the transaction re-runs against fresh state.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/st3v3lyrious/quiznetic/internal/store"
)

const maxTxAttempts = 5

// Store is a Redis-backed store.Store implementation.
type Store struct {
	client *redis.Client
	clock  func() time.Time
}

func NewStore(client *redis.Client) *Store {
	return NewStoreWithClock(client, time.Now)
}

// NewStoreWithClock is test-only for deterministic server timestamps.
func NewStoreWithClock(client *redis.Client, clock func() time.Time) *Store {
	return &Store{client: client, clock: clock}
}

func docKey(path string) string {
	return "doc:" + path
}

func indexKey(collection string) string {
	return "idx:" + collection
}

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	fields, err := s.client.HGetAll(ctx, docKey(path)).Result()
	if err != nil {
		return store.Document{}, err
	}
	return documentFromHash(path, fields)
}

func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	paths, err := s.client.ZRange(ctx, indexKey(collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(paths))
	for i, path := range paths {
		cmds[i] = pipe.HGetAll(ctx, docKey(path))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(paths))
	for i, cmd := range cmds {
		doc, err := documentFromHash(paths[i], cmd.Val())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) CountCreatedSince(ctx context.Context, collection string, since time.Time, limit int) (int, error) {
	paths, err := s.client.ZRangeByScore(ctx, indexKey(collection), &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, rtx: rtx, now: s.clock()}
			if err := fn(tx); err != nil {
				return err
			}
			_, err := rtx.TxPipelined(ctx, tx.apply)
			return err
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr) || errors.Is(err, store.ErrConflict):
			continue
		default:
			return err
		}
	}
	return store.ErrConflict
}

type redisWrite struct {
	op      byte // 'c' create, 's' set, 'd' delete
	path    string
	data    []byte
	existed bool
}

type redisTx struct {
	ctx    context.Context
	rtx    *redis.Tx
	now    time.Time
	writes []redisWrite
}

func (t *redisTx) Get(path string) (store.Document, error) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].path != path {
			continue
		}
		if t.writes[i].op == 'd' {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{Path: path, Data: append([]byte(nil), t.writes[i].data...)}, nil
	}

	if err := t.rtx.Watch(t.ctx, docKey(path)).Err(); err != nil {
		return store.Document{}, err
	}
	fields, err := t.rtx.HGetAll(t.ctx, docKey(path)).Result()
	if err != nil {
		return store.Document{}, err
	}
	return documentFromHash(path, fields)
}

func (t *redisTx) Create(path string, data []byte) error {
	existed, err := t.watchedExists(path)
	if err != nil {
		return err
	}
	if existed {
		// Lost the create race; the retried transaction observes the
		// committed document instead.
		return store.ErrConflict
	}
	t.writes = append(t.writes, redisWrite{op: 'c', path: path, data: data})
	return nil
}

func (t *redisTx) Set(path string, data []byte) error {
	existed, err := t.watchedExists(path)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, redisWrite{op: 's', path: path, data: data, existed: existed})
	return nil
}

func (t *redisTx) Delete(path string) error {
	t.writes = append(t.writes, redisWrite{op: 'd', path: path})
	return nil
}

func (t *redisTx) ServerTime() time.Time {
	return t.now
}

func (t *redisTx) watchedExists(path string) (bool, error) {
	if err := t.rtx.Watch(t.ctx, docKey(path)).Err(); err != nil {
		return false, err
	}
	n, err := t.rtx.Exists(t.ctx, docKey(path)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// apply queues the buffered writes on the MULTI pipeline.
func (t *redisTx) apply(pipe redis.Pipeliner) error {
	for _, w := range t.writes {
		key := docKey(w.path)
		idx := indexKey(store.Collection(w.path))
		switch {
		case w.op == 'd':
			pipe.Del(t.ctx, key)
			pipe.ZRem(t.ctx, idx, w.path)
		case w.op == 'c' || !w.existed:
			pipe.HSet(t.ctx, key,
				"data", string(w.data),
				"version", 1,
				"createdAt", t.now.UnixNano(),
			)
			pipe.ZAdd(t.ctx, idx, redis.Z{Score: float64(t.now.UnixMilli()), Member: w.path})
		default:
			pipe.HSet(t.ctx, key, "data", string(w.data))
			pipe.HIncrBy(t.ctx, key, "version", 1)
		}
	}
	return nil
}

func documentFromHash(path string, fields map[string]string) (store.Document, error) {
	if len(fields) == 0 {
		return store.Document{}, store.ErrNotFound
	}
	version, _ := strconv.ParseInt(fields["version"], 10, 64)
	createdNanos, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	return store.Document{
		Path:      path,
		Data:      []byte(fields["data"]),
		Version:   version,
		CreatedAt: time.Unix(0, createdNanos),
	}, nil
}
