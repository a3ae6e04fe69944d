package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/store"
)

func TestCreateGetAndVersioning(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st := NewStoreWithClock(func() time.Time { return now })

	err := st.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.Create("users/u1/attempts/a1", []byte(`{"n":1}`))
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := st.Get(ctx, "users/u1/attempts/a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Version != 1 || !doc.CreatedAt.Equal(now) {
		t.Fatalf("unexpected metadata: %+v", doc)
	}

	err = st.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.Set("users/u1/attempts/a1", []byte(`{"n":2}`))
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, _ = st.Get(ctx, "users/u1/attempts/a1")
	if doc.Version != 2 {
		t.Fatalf("expected version 2 after rewrite, got %d", doc.Version)
	}
	if !doc.CreatedAt.Equal(now) {
		t.Fatalf("creation time must not change on rewrite")
	}

	if _, err := st.Get(ctx, "users/u1/attempts/missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateConflictsWithExisting(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	seed := func() error {
		return st.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.Create("users/u1/attempts/a1", []byte(`{}`))
		})
	}
	if err := seed(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := seed(); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second create, got %v", err)
	}
}

func TestTransactionRetriesOnStaleRead(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	if err := st.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.Set("users/u1/scores/flag_easy", []byte(`{"bestScore":1}`))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	runs := 0
	err := st.RunTransaction(ctx, func(tx store.Tx) error {
		runs++
		if _, err := tx.Get("users/u1/scores/flag_easy"); err != nil {
			return err
		}
		if runs == 1 {
			// Commit a competing write after the read, before commit.
			if err := st.RunTransaction(ctx, func(inner store.Tx) error {
				return inner.Set("users/u1/scores/flag_easy", []byte(`{"bestScore":2}`))
			}); err != nil {
				return err
			}
		}
		return tx.Set("users/u1/scores/flag_easy", []byte(`{"bestScore":3}`))
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if runs != 2 {
		t.Fatalf("expected one retry after the stale read, got %d runs", runs)
	}
}

func TestCountCreatedSinceUsesWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	st := NewStoreWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	paths := []string{"a", "b", "c", "d"}
	for _, p := range paths {
		path := "users/u1/attempts/" + p
		if err := st.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.Create(path, []byte(`{}`))
		}); err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
		mu.Lock()
		current = current.Add(time.Minute)
		mu.Unlock()
	}

	// All four sit inside a 10-minute window.
	n, err := st.CountCreatedSince(ctx, "users/u1/attempts", current.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}

	// A narrow window sees only the latest two.
	n, _ = st.CountCreatedSince(ctx, "users/u1/attempts", current.Add(-150*time.Second), 10)
	if n != 2 {
		t.Fatalf("expected 2 in narrow window, got %d", n)
	}

	// The limit caps the scan.
	n, _ = st.CountCreatedSince(ctx, "users/u1/attempts", current.Add(-10*time.Minute), 3)
	if n != 3 {
		t.Fatalf("expected limit to cap at 3, got %d", n)
	}

	// Other collections are invisible.
	n, _ = st.CountCreatedSince(ctx, "users/u2/attempts", current.Add(-10*time.Minute), 10)
	if n != 0 {
		t.Fatalf("expected 0 for other collection, got %d", n)
	}
}

func TestListReturnsOnlyCollectionMembers(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	write := func(path string) {
		t.Helper()
		if err := st.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.Set(path, []byte(`{}`))
		}); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	write("leaderboard/flag_easy/entries/u1")
	write("leaderboard/flag_easy/entries/u2")
	write("leaderboard/capital_easy/entries/u3")

	docs, err := st.List(ctx, "leaderboard/flag_easy/entries")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(docs))
	}
}
