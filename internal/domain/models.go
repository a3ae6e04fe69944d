package domain

import "time"

// Attempt is the immutable record of one quiz run. It is keyed by
// (uid, AttemptID); AttemptID doubles as the idempotency key.
type Attempt struct {
	AttemptID      string    `json:"attemptId"`
	CategoryKey    string    `json:"categoryKey"`
	Difficulty     string    `json:"difficulty"`
	CorrectCount   int       `json:"correctCount"`
	TotalQuestions int       `json:"totalQuestions"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	DurationMs     int64     `json:"durationMs"`
	Status         string    `json:"status"` // accepted | flagged
	Source         string    `json:"source"` // guest | account
	RiskFlags      []string  `json:"riskFlags"`
	ClientVersion  string    `json:"clientVersion,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// BestScore is the per-user best for one scope. BestScore only ever
// increases once written.
type BestScore struct {
	CategoryKey string    `json:"categoryKey"`
	Difficulty  string    `json:"difficulty"`
	BestScore   int       `json:"bestScore"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LeaderboardEntry mirrors the owner's BestScore into the public
// per-scope leaderboard. Score never decreases.
type LeaderboardEntry struct {
	CategoryKey string    `json:"categoryKey"`
	Difficulty  string    `json:"difficulty"`
	Score       int       `json:"score"`
	IsAnonymous bool      `json:"isAnonymous"`
	DisplayName string    `json:"displayName"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LeaderboardRow is an entry paired with its owner uid for ranked output.
type LeaderboardRow struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"displayName"`
	IsAnonymous bool      `json:"isAnonymous"`
	Score       int       `json:"score"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Leaderboard is an ordered snapshot of one scope.
type Leaderboard struct {
	Scope     string           `json:"scope"`
	Rows      []LeaderboardRow `json:"rows"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// UserProfile is owner-writable metadata, refreshed on each accepted
// submission.
type UserProfile struct {
	IsAnonymous bool      `json:"isAnonymous"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeen    time.Time `json:"lastSeen"`
	DisplayName string    `json:"displayName"`
}

// Identity is the externally verified caller identity. It is never part
// of the submission payload.
type Identity struct {
	UID         string
	Anonymous   bool
	DisplayName string
	Email       string
}

// Authenticated reports whether a verified uid is present.
func (id Identity) Authenticated() bool {
	return id.UID != ""
}

// SubmissionRequest is a payload that passed validation.
type SubmissionRequest struct {
	AttemptID      string
	CategoryKey    string
	Difficulty     string
	CorrectCount   int
	TotalQuestions int
	StartedAt      time.Time
	FinishedAt     time.Time
	DurationMs     int64
	ClientVersion  string
}

// Scope returns the leaderboard/best-score bucket key for the request.
func (r SubmissionRequest) Scope() string {
	return Scope(r.CategoryKey, r.Difficulty)
}

// Scope builds the "{categoryKey}_{difficulty}" bucket key.
func Scope(categoryKey, difficulty string) string {
	return categoryKey + "_" + difficulty
}

// SubmissionResult is the single response envelope for every outcome of
// a submission.
type SubmissionResult struct {
	Status           string   `json:"status"` // accepted | flagged | duplicate | rejected | rate_limited
	BestScoreUpdated bool     `json:"bestScoreUpdated"`
	NewBestScore     *int     `json:"newBestScore"`
	LeaderboardScope *string  `json:"leaderboardScope"`
	RejectionCode    *string  `json:"rejectionCode"`
	RiskFlags        []string `json:"riskFlags"`
	Message          *string  `json:"message"`
}

const (
	StatusAccepted    = "accepted"
	StatusFlagged     = "flagged"
	StatusDuplicate   = "duplicate"
	StatusRejected    = "rejected"
	StatusRateLimited = "rate_limited"

	SourceGuest   = "guest"
	SourceAccount = "account"
)
