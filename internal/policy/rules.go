package policy

import (
	"encoding/json"
	"fmt"

	"github.com/st3v3lyrious/quiznetic/internal/domain"
)

// DefaultRules is the production ruleset. It re-states the ledger
// invariants as storage-boundary preconditions:
//
//   - users/{uid} and everything below it is owner-only.
//   - BestScore and LeaderboardEntry writes must strictly increase the
//     stored score, stay within the difficulty's question count, agree
//     with the document key, and carry the store's server time in
//     updatedAt (client-chosen times are rejected).
//   - Attempts are create-only, key-consistent, and bounds-checked; no
//     update or delete ever passes.
//   - Leaderboard entries are readable by any authenticated identity,
//     writable only by their owner.
func DefaultRules() Ruleset {
	return Ruleset{
		{
			Pattern: "users/{uid}/scores/{scope}",
			Allow: func(r Request) error {
				if err := requireOwner(r, "uid"); err != nil {
					return err
				}
				if !r.Op.IsWrite() {
					return nil
				}
				if r.Op == OpDelete {
					return fmt.Errorf("%w: best scores cannot be deleted", ErrDenied)
				}
				var next domain.BestScore
				if err := json.Unmarshal(r.New, &next); err != nil {
					return fmt.Errorf("%w: malformed best score", ErrDenied)
				}
				if err := checkScoreFields(r, next.CategoryKey, next.Difficulty, next.BestScore); err != nil {
					return err
				}
				if r.Old != nil {
					var prev domain.BestScore
					if err := json.Unmarshal(r.Old.Data, &prev); err != nil {
						return fmt.Errorf("%w: stored best score unreadable", ErrDenied)
					}
					if next.BestScore <= prev.BestScore {
						return fmt.Errorf("%w: bestScore must strictly increase", ErrDenied)
					}
				}
				if !next.UpdatedAt.Equal(r.Now) {
					return fmt.Errorf("%w: updatedAt must be server time", ErrDenied)
				}
				return nil
			},
		},
		{
			Pattern: "users/{uid}/attempts/{attemptId}",
			Allow: func(r Request) error {
				if err := requireOwner(r, "uid"); err != nil {
					return err
				}
				if !r.Op.IsWrite() {
					return nil
				}
				if r.Op != OpCreate || r.Old != nil {
					return fmt.Errorf("%w: attempts are immutable once created", ErrDenied)
				}
				var attempt domain.Attempt
				if err := json.Unmarshal(r.New, &attempt); err != nil {
					return fmt.Errorf("%w: malformed attempt", ErrDenied)
				}
				if attempt.AttemptID != r.Vars["attemptId"] {
					return fmt.Errorf("%w: attemptId must match the document key", ErrDenied)
				}
				expected, ok := domain.ExpectedTotalQuestions[attempt.Difficulty]
				if !ok || attempt.TotalQuestions != expected {
					return fmt.Errorf("%w: totalQuestions must match the difficulty", ErrDenied)
				}
				if attempt.CorrectCount < 0 || attempt.CorrectCount > attempt.TotalQuestions {
					return fmt.Errorf("%w: correctCount outside question count", ErrDenied)
				}
				return nil
			},
		},
		{
			Pattern: "users/{uid}",
			Allow: func(r Request) error {
				return requireOwner(r, "uid")
			},
		},
		{
			Pattern: "leaderboard/{scope}/entries/{uid}",
			Allow: func(r Request) error {
				if !r.Access.Authenticated {
					return fmt.Errorf("%w: authentication required", ErrDenied)
				}
				if !r.Op.IsWrite() {
					return nil
				}
				if err := requireOwner(r, "uid"); err != nil {
					return err
				}
				if r.Op == OpDelete {
					return fmt.Errorf("%w: leaderboard entries cannot be deleted", ErrDenied)
				}
				var next domain.LeaderboardEntry
				if err := json.Unmarshal(r.New, &next); err != nil {
					return fmt.Errorf("%w: malformed leaderboard entry", ErrDenied)
				}
				if err := checkScoreFields(r, next.CategoryKey, next.Difficulty, next.Score); err != nil {
					return err
				}
				if r.Old != nil {
					var prev domain.LeaderboardEntry
					if err := json.Unmarshal(r.Old.Data, &prev); err != nil {
						return fmt.Errorf("%w: stored leaderboard entry unreadable", ErrDenied)
					}
					if next.Score <= prev.Score {
						return fmt.Errorf("%w: score must strictly increase", ErrDenied)
					}
				}
				if !next.UpdatedAt.Equal(r.Now) {
					return fmt.Errorf("%w: updatedAt must be server time", ErrDenied)
				}
				return nil
			},
		},
	}
}

func requireOwner(r Request, varName string) error {
	if !r.Access.Authenticated || r.Access.UID != r.Vars[varName] {
		return fmt.Errorf("%w: owner-only access", ErrDenied)
	}
	return nil
}

// checkScoreFields enforces the shared score-document preconditions:
// the payload's category/difficulty must form the document's scope key,
// and the score must lie within the difficulty's question count.
func checkScoreFields(r Request, categoryKey, difficulty string, score int) error {
	if domain.Scope(categoryKey, difficulty) != r.Vars["scope"] {
		return fmt.Errorf("%w: scope key must match payload", ErrDenied)
	}
	if !domain.AllowedCategories[categoryKey] {
		return fmt.Errorf("%w: unsupported category", ErrDenied)
	}
	expected, ok := domain.ExpectedTotalQuestions[difficulty]
	if !ok {
		return fmt.Errorf("%w: unsupported difficulty", ErrDenied)
	}
	if score < 0 || score > expected {
		return fmt.Errorf("%w: score outside question count", ErrDenied)
	}
	return nil
}
