package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/st3v3lyrious/quiznetic/internal/domain"
	"github.com/st3v3lyrious/quiznetic/internal/store"
)

// LeaderboardHub serves ranked per-scope snapshots and fans them out to
// live subscribers. Snapshots are cached with a TTL to keep hot scopes
// from hammering the store; singleflight dedupes concurrent refills.
type LeaderboardHub struct {
	store store.Store
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu          sync.RWMutex
	cache       map[string]cachedBoard
	subscribers map[string]map[chan domain.Leaderboard]struct{}
}

type cachedBoard struct {
	board     domain.Leaderboard
	expiresAt time.Time
}

func NewLeaderboardHub(st store.Store, ttl time.Duration) *LeaderboardHub {
	return NewLeaderboardHubWithClock(st, ttl, time.Now)
}

// NewLeaderboardHubWithClock is test-only for deterministic timestamps.
func NewLeaderboardHubWithClock(st store.Store, ttl time.Duration, clock func() time.Time) *LeaderboardHub {
	return &LeaderboardHub{
		store:       st,
		ttl:         ttl,
		clock:       clock,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:       make(map[string]cachedBoard),
		subscribers: make(map[string]map[chan domain.Leaderboard]struct{}),
	}
}

// ParseScope splits a "{categoryKey}_{difficulty}" scope and reports
// whether both halves are in the fixed tables.
func ParseScope(scope string) (categoryKey, difficulty string, ok bool) {
	i := strings.IndexByte(scope, '_')
	if i <= 0 {
		return "", "", false
	}
	categoryKey, difficulty = scope[:i], scope[i+1:]
	if !domain.AllowedCategories[categoryKey] {
		return "", "", false
	}
	if _, known := domain.ExpectedTotalQuestions[difficulty]; !known {
		return "", "", false
	}
	return categoryKey, difficulty, true
}

// Top returns up to limit ranked rows for a scope.
func (h *LeaderboardHub) Top(ctx context.Context, scope string, limit int) (domain.Leaderboard, error) {
	if _, _, ok := ParseScope(scope); !ok {
		return domain.Leaderboard{}, domain.ErrUnknownScope
	}

	now := h.clock()
	h.mu.RLock()
	if entry, ok := h.cache[scope]; ok && entry.expiresAt.After(now) {
		h.mu.RUnlock()
		return clipBoard(entry.board, limit), nil
	}
	h.mu.RUnlock()

	result, err, _ := h.sf.Do(scope, func() (interface{}, error) {
		now := h.clock()
		h.mu.RLock()
		if entry, ok := h.cache[scope]; ok && entry.expiresAt.After(now) {
			h.mu.RUnlock()
			return entry.board, nil
		}
		h.mu.RUnlock()

		board, err := h.snapshot(ctx, scope)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		h.mu.Lock()
		h.cache[scope] = cachedBoard{board: board, expiresAt: now.Add(h.ttlWithJitter())}
		h.mu.Unlock()
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return clipBoard(result.(domain.Leaderboard), limit), nil
}

// Subscribe returns a channel of snapshots for a scope, starting with
// the current one. The caller must invoke cancel to avoid leaks.
func (h *LeaderboardHub) Subscribe(ctx context.Context, scope string) (<-chan domain.Leaderboard, func(), error) {
	initial, err := h.Top(ctx, scope, 0)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.Leaderboard, 8)
	h.mu.Lock()
	subs, ok := h.subscribers[scope]
	if !ok {
		subs = make(map[chan domain.Leaderboard]struct{})
		h.subscribers[scope] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	ch <- initial

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subscribers[scope]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.subscribers, scope)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Publish drops the cached snapshot for a scope and pushes a fresh one
// to every subscriber. Called after a committed leaderboard update.
func (h *LeaderboardHub) Publish(ctx context.Context, scope string) {
	h.mu.Lock()
	delete(h.cache, scope)
	h.mu.Unlock()

	board, err := h.Top(ctx, scope, 0)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[scope] {
		select {
		case ch <- board:
		default:
			// Drop the stale snapshot so a slow reader never blocks the fan-out.
			select {
			case <-ch:
			default:
			}
			ch <- board
		}
	}
}

func (h *LeaderboardHub) snapshot(ctx context.Context, scope string) (domain.Leaderboard, error) {
	docs, err := h.store.List(ctx, store.LeaderboardCollection(scope))
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("list leaderboard %s: %w", scope, err)
	}

	rows := make([]domain.LeaderboardRow, 0, len(docs))
	for _, doc := range docs {
		var entry domain.LeaderboardEntry
		if err := json.Unmarshal(doc.Data, &entry); err != nil {
			return domain.Leaderboard{}, fmt.Errorf("unmarshal leaderboard entry %s: %w", doc.Path, err)
		}
		rows = append(rows, domain.LeaderboardRow{
			UID:         store.Key(doc.Path),
			DisplayName: entry.DisplayName,
			IsAnonymous: entry.IsAnonymous,
			Score:       entry.Score,
			UpdatedAt:   entry.UpdatedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		// Tie-break by who reached the score earlier, then name.
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.Before(rows[j].UpdatedAt)
		}
		return rows[i].DisplayName < rows[j].DisplayName
	})

	return domain.Leaderboard{Scope: scope, Rows: rows, UpdatedAt: h.clock()}, nil
}

func clipBoard(board domain.Leaderboard, limit int) domain.Leaderboard {
	if limit > 0 && len(board.Rows) > limit {
		board.Rows = board.Rows[:limit]
	}
	return board
}

func (h *LeaderboardHub) ttlWithJitter() time.Duration {
	if h.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(h.ttl) / 10
	return h.ttl + time.Duration(h.rnd.Int63n(jitterMax+1))
}
