package policy

import (
	"context"
	"errors"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/store"
)

// BoundStore wraps a document store with a ruleset and a principal so
// that every read and write is policy-checked at the storage boundary.
// It satisfies store.Store, so callers cannot tell an enforced handle
// from a raw one.
type BoundStore struct {
	inner  store.Store
	rules  Ruleset
	access Access
}

// Bind attaches a principal to a store. All access through the returned
// handle is evaluated against the ruleset.
func Bind(inner store.Store, rules Ruleset, access Access) *BoundStore {
	return &BoundStore{inner: inner, rules: rules, access: access}
}

func (b *BoundStore) Get(ctx context.Context, path string) (store.Document, error) {
	if err := b.rules.Evaluate(Request{Op: OpGet, Path: path, Access: b.access}); err != nil {
		return store.Document{}, err
	}
	return b.inner.Get(ctx, path)
}

func (b *BoundStore) List(ctx context.Context, collection string) ([]store.Document, error) {
	// A listing is allowed only if reading an arbitrary member would be.
	if err := b.rules.Evaluate(Request{Op: OpList, Path: collection + "/*", Access: b.access}); err != nil {
		return nil, err
	}
	return b.inner.List(ctx, collection)
}

func (b *BoundStore) CountCreatedSince(ctx context.Context, collection string, since time.Time, limit int) (int, error) {
	if err := b.rules.Evaluate(Request{Op: OpList, Path: collection + "/*", Access: b.access}); err != nil {
		return 0, err
	}
	return b.inner.CountCreatedSince(ctx, collection, since, limit)
}

func (b *BoundStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return b.inner.RunTransaction(ctx, func(tx store.Tx) error {
		return fn(&boundTx{inner: tx, rules: b.rules, access: b.access})
	})
}

// boundTx policy-checks each buffered write before handing it to the
// underlying transaction. The existing document is read through the
// transaction itself, so it joins the conflict set and the decision is
// made against the same snapshot the commit validates.
type boundTx struct {
	inner  store.Tx
	rules  Ruleset
	access Access
}

func (t *boundTx) Get(path string) (store.Document, error) {
	if err := t.rules.Evaluate(Request{Op: OpGet, Path: path, Access: t.access}); err != nil {
		return store.Document{}, err
	}
	return t.inner.Get(path)
}

func (t *boundTx) Create(path string, data []byte) error {
	if err := t.check(OpCreate, path, data); err != nil {
		return err
	}
	return t.inner.Create(path, data)
}

func (t *boundTx) Set(path string, data []byte) error {
	old, err := t.existing(path)
	if err != nil {
		return err
	}
	op := OpCreate
	if old != nil {
		op = OpUpdate
	}
	if err := t.rules.Evaluate(Request{
		Op:     op,
		Path:   path,
		Access: t.access,
		Old:    old,
		New:    data,
		Now:    t.inner.ServerTime(),
	}); err != nil {
		return err
	}
	return t.inner.Set(path, data)
}

func (t *boundTx) Delete(path string) error {
	old, err := t.existing(path)
	if err != nil {
		return err
	}
	return t.checkWith(OpDelete, path, nil, old)
}

func (t *boundTx) ServerTime() time.Time {
	return t.inner.ServerTime()
}

func (t *boundTx) check(op Op, path string, data []byte) error {
	old, err := t.existing(path)
	if err != nil {
		return err
	}
	return t.checkWith(op, path, data, old)
}

func (t *boundTx) checkWith(op Op, path string, data []byte, old *store.Document) error {
	if err := t.rules.Evaluate(Request{
		Op:     op,
		Path:   path,
		Access: t.access,
		Old:    old,
		New:    data,
		Now:    t.inner.ServerTime(),
	}); err != nil {
		return err
	}
	if op == OpDelete {
		return t.inner.Delete(path)
	}
	return nil
}

func (t *boundTx) existing(path string) (*store.Document, error) {
	doc, err := t.inner.Get(path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
