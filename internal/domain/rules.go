package domain

import "time"

// Fixed tables for validation and policy enforcement. These are shared
// by the submission service and the access-policy layer so both enforce
// identical bounds.

// AllowedCategories is the closed category set.
var AllowedCategories = map[string]bool{
	"flag":    true,
	"capital": true,
}

// ExpectedTotalQuestions maps each difficulty tier to its fixed question
// count.
var ExpectedTotalQuestions = map[string]int{
	"easy":         15,
	"intermediate": 30,
	"expert":       50,
}

const (
	MaxAttemptIDLength = 120

	MinDuration = 5 * time.Second
	MaxDuration = 30 * time.Minute

	RateLimitAttempts = 20
	RateLimitWindow   = 10 * time.Minute

	// Perfect runs finished faster than this get flagged for review.
	FastPerfectThreshold = 8 * time.Second

	RiskFlagFastPerfectScore = "too_fast_perfect_score"
)

// Rejection codes surfaced in SubmissionResult.RejectionCode.
const (
	RejectInvalidAttemptID      = "invalid_attempt_id"
	RejectUnsupportedCategory   = "unsupported_category"
	RejectUnsupportedDifficulty = "unsupported_difficulty"
	RejectInvalidTotalQuestions = "invalid_total_questions"
	RejectInvalidScoreBounds    = "invalid_score_bounds"
	RejectInvalidTimestamps     = "invalid_timestamps"
	RejectInvalidDuration       = "invalid_duration"
	RejectRateLimited           = "rate_limited"
)
