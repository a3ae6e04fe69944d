package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/domain"
	"github.com/st3v3lyrious/quiznetic/internal/store"
)

// ScoreService runs the submission pipeline: validate, deduplicate,
// rate-limit, assess risk, then atomically record the attempt and
// republish the best score and leaderboard entry.
type ScoreService struct {
	store store.Store
	board *LeaderboardHub
	now   func() time.Time
}

func NewScoreService(st store.Store, board *LeaderboardHub) *ScoreService {
	return NewScoreServiceWithClock(st, board, time.Now)
}

// NewScoreServiceWithClock is test-only for deterministic timestamps.
func NewScoreServiceWithClock(st store.Store, board *LeaderboardHub, now func() time.Time) *ScoreService {
	return &ScoreService{store: st, board: board, now: now}
}

// Submit processes one score submission end to end. Business outcomes
// (rejected, duplicate, rate_limited, accepted, flagged) come back in
// the result; only identity and storage failures surface as errors.
func (s *ScoreService) Submit(ctx context.Context, caller domain.Identity, payload SubmissionPayload) (domain.SubmissionResult, error) {
	if !caller.Authenticated() {
		return domain.SubmissionResult{}, domain.ErrUnauthenticated
	}

	req, rejection := ValidateSubmission(payload)
	if rejection != nil {
		return rejectedResult(rejection), nil
	}
	scope := req.Scope()
	attemptPath := store.AttemptPath(caller.UID, req.AttemptID)

	// Duplicate pre-check. The authoritative check happens again inside
	// the transaction; this one short-circuits retries without counting
	// them against the rate limit.
	_, err := s.store.Get(ctx, attemptPath)
	switch {
	case err == nil:
		best, err := s.currentBest(ctx, caller.UID, scope)
		if err != nil {
			return domain.SubmissionResult{}, err
		}
		return duplicateResult(scope, best), nil
	case !errors.Is(err, store.ErrNotFound):
		return domain.SubmissionResult{}, fmt.Errorf("duplicate check: %w", err)
	}

	limited, err := s.isRateLimited(ctx, caller.UID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if limited {
		return rateLimitedResult(), nil
	}

	riskFlags := EvaluateRisk(req.CorrectCount, req.TotalQuestions, req.DurationMs)
	status := domain.StatusAccepted
	if len(riskFlags) > 0 {
		status = domain.StatusFlagged
	}
	source := domain.SourceAccount
	if caller.Anonymous {
		source = domain.SourceGuest
	}
	displayName := LeaderboardDisplayName(caller)

	outcome, err := s.runLedger(ctx, caller, req, scope, status, source, displayName, riskFlags)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.SubmissionResult{}, domain.ErrTransactionConflict
		}
		return domain.SubmissionResult{}, err
	}

	if outcome.status != domain.StatusDuplicate {
		s.touchProfile(ctx, caller, displayName)
	}
	if outcome.bestScoreUpdated && s.board != nil {
		s.board.Publish(ctx, scope)
	}

	log.Printf("submitScore processed uid=%s attemptId=%s scope=%s status=%s bestScoreUpdated=%t",
		caller.UID, req.AttemptID, scope, outcome.status, outcome.bestScoreUpdated)

	if outcome.status == domain.StatusDuplicate {
		return duplicateResult(scope, outcome.newBestScore), nil
	}
	return domain.SubmissionResult{
		Status:           outcome.status,
		BestScoreUpdated: outcome.bestScoreUpdated,
		NewBestScore:     intPtr(outcome.newBestScore),
		LeaderboardScope: strPtr(scope),
		RiskFlags:        riskFlags,
	}, nil
}

type ledgerOutcome struct {
	status           string
	bestScoreUpdated bool
	newBestScore     int
}

// runLedger is the atomic core: within one transaction it re-checks the
// idempotency key, creates the attempt with server-assigned time, and
// republishes BestScore plus LeaderboardEntry on strict improvement.
// The store retries the whole closure on conflict, so a stale read of
// the previous best can never commit.
func (s *ScoreService) runLedger(ctx context.Context, caller domain.Identity, req domain.SubmissionRequest, scope, status, source, displayName string, riskFlags []string) (ledgerOutcome, error) {
	attemptPath := store.AttemptPath(caller.UID, req.AttemptID)
	scorePath := store.ScorePath(caller.UID, scope)
	entryPath := store.LeaderboardEntryPath(scope, caller.UID)

	var out ledgerOutcome
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		out = ledgerOutcome{}

		_, err := tx.Get(attemptPath)
		switch {
		case err == nil:
			best, err := bestInTx(tx, scorePath)
			if err != nil {
				return err
			}
			out = ledgerOutcome{status: domain.StatusDuplicate, newBestScore: best}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		serverNow := tx.ServerTime()
		flags := riskFlags
		if flags == nil {
			flags = []string{}
		}
		attempt := domain.Attempt{
			AttemptID:      req.AttemptID,
			CategoryKey:    req.CategoryKey,
			Difficulty:     req.Difficulty,
			CorrectCount:   req.CorrectCount,
			TotalQuestions: req.TotalQuestions,
			StartedAt:      req.StartedAt,
			FinishedAt:     req.FinishedAt,
			DurationMs:     req.DurationMs,
			Status:         status,
			Source:         source,
			RiskFlags:      flags,
			ClientVersion:  req.ClientVersion,
			CreatedAt:      serverNow,
		}
		attemptData, err := json.Marshal(attempt)
		if err != nil {
			return fmt.Errorf("marshal attempt: %w", err)
		}
		if err := tx.Create(attemptPath, attemptData); err != nil {
			return err
		}

		previousBest, err := bestInTx(tx, scorePath)
		if err != nil {
			return err
		}
		updated := req.CorrectCount > previousBest
		newBest := previousBest
		if updated {
			newBest = req.CorrectCount

			scoreData, err := json.Marshal(domain.BestScore{
				CategoryKey: req.CategoryKey,
				Difficulty:  req.Difficulty,
				BestScore:   req.CorrectCount,
				Source:      source,
				UpdatedAt:   serverNow,
			})
			if err != nil {
				return fmt.Errorf("marshal best score: %w", err)
			}
			if err := tx.Set(scorePath, scoreData); err != nil {
				return err
			}

			entryData, err := json.Marshal(domain.LeaderboardEntry{
				CategoryKey: req.CategoryKey,
				Difficulty:  req.Difficulty,
				Score:       req.CorrectCount,
				IsAnonymous: caller.Anonymous,
				DisplayName: displayName,
				UpdatedAt:   serverNow,
			})
			if err != nil {
				return fmt.Errorf("marshal leaderboard entry: %w", err)
			}
			if err := tx.Set(entryPath, entryData); err != nil {
				return err
			}
		}

		out = ledgerOutcome{status: status, bestScoreUpdated: updated, newBestScore: newBest}
		return nil
	})
	return out, err
}

func (s *ScoreService) isRateLimited(ctx context.Context, uid string) (bool, error) {
	windowStart := s.now().Add(-domain.RateLimitWindow)
	n, err := s.store.CountCreatedSince(ctx, store.AttemptsCollection(uid), windowStart, domain.RateLimitAttempts)
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return n >= domain.RateLimitAttempts, nil
}

// touchProfile refreshes users/{uid} after an accepted attempt. Best
// effort: a failed profile write never fails the submission.
func (s *ScoreService) touchProfile(ctx context.Context, caller domain.Identity, displayName string) {
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		path := store.UserPath(caller.UID)
		serverNow := tx.ServerTime()
		profile := domain.UserProfile{
			IsAnonymous: caller.Anonymous,
			CreatedAt:   serverNow,
			LastSeen:    serverNow,
			DisplayName: displayName,
		}
		doc, err := tx.Get(path)
		switch {
		case err == nil:
			var existing domain.UserProfile
			if err := json.Unmarshal(doc.Data, &existing); err == nil && !existing.CreatedAt.IsZero() {
				profile.CreatedAt = existing.CreatedAt
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		data, err := json.Marshal(profile)
		if err != nil {
			return err
		}
		return tx.Set(path, data)
	})
	if err != nil {
		log.Printf("profile touch failed uid=%s: %v", caller.UID, err)
	}
}

func (s *ScoreService) currentBest(ctx context.Context, uid, scope string) (int, error) {
	doc, err := s.store.Get(ctx, store.ScorePath(uid, scope))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read best score: %w", err)
	}
	return decodeBest(doc.Data)
}

func bestInTx(tx store.Tx, scorePath string) (int, error) {
	doc, err := tx.Get(scorePath)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeBest(doc.Data)
}

func decodeBest(data []byte) (int, error) {
	var best domain.BestScore
	if err := json.Unmarshal(data, &best); err != nil {
		return 0, fmt.Errorf("unmarshal best score: %w", err)
	}
	return best.BestScore, nil
}

func rejectedResult(rejection *Rejection) domain.SubmissionResult {
	return domain.SubmissionResult{
		Status:        domain.StatusRejected,
		RejectionCode: strPtr(rejection.Code),
		RiskFlags:     []string{},
		Message:       strPtr(rejection.Message),
	}
}

func rateLimitedResult() domain.SubmissionResult {
	return domain.SubmissionResult{
		Status:        domain.StatusRateLimited,
		RejectionCode: strPtr(domain.RejectRateLimited),
		RiskFlags:     []string{},
		Message:       strPtr("Too many score submissions. Please wait and try again."),
	}
}

func duplicateResult(scope string, best int) domain.SubmissionResult {
	return domain.SubmissionResult{
		Status:           domain.StatusDuplicate,
		NewBestScore:     intPtr(best),
		LeaderboardScope: strPtr(scope),
		RiskFlags:        []string{},
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
