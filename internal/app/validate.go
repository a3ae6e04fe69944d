package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/domain"
)

// SubmissionPayload is the raw, untrusted request body. Numeric fields
// are pointers so a missing value is distinguishable from zero.
type SubmissionPayload struct {
	AttemptID      string     `json:"attemptId"`
	CategoryKey    string     `json:"categoryKey"`
	Difficulty     string     `json:"difficulty"`
	CorrectCount   *int       `json:"correctCount"`
	TotalQuestions *int       `json:"totalQuestions"`
	StartedAt      ClientTime `json:"startedAt"`
	FinishedAt     ClientTime `json:"finishedAt"`
	ClientVersion  string     `json:"clientVersion"`
}

// ClientTime accepts either an RFC 3339 string or epoch milliseconds,
// since clients have historically sent both.
type ClientTime struct {
	time.Time
}

func (c *ClientTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			// Leave zero; the validator rejects it with a proper code.
			return nil
		}
		c.Time = t
		return nil
	}
	var millis float64
	if err := json.Unmarshal(b, &millis); err != nil {
		return err
	}
	c.Time = time.UnixMilli(int64(millis)).UTC()
	return nil
}

// Rejection is a machine-readable validation failure.
type Rejection struct {
	Code    string
	Message string
}

// ValidateSubmission normalizes and validates a raw payload into a
// typed request. Checks run in a fixed order and short-circuit on the
// first failure. No side effects; deterministic for identical input.
func ValidateSubmission(p SubmissionPayload) (domain.SubmissionRequest, *Rejection) {
	var req domain.SubmissionRequest

	attemptID := strings.TrimSpace(p.AttemptID)
	if len(attemptID) < 1 || len(attemptID) > domain.MaxAttemptIDLength {
		return req, &Rejection{
			Code:    domain.RejectInvalidAttemptID,
			Message: "attemptId must be a non-empty string up to 120 chars.",
		}
	}

	categoryKey := strings.TrimSpace(p.CategoryKey)
	if !domain.AllowedCategories[categoryKey] {
		return req, &Rejection{
			Code:    domain.RejectUnsupportedCategory,
			Message: "Unsupported category key.",
		}
	}

	difficulty := strings.TrimSpace(p.Difficulty)
	expectedTotal, ok := domain.ExpectedTotalQuestions[difficulty]
	if !ok {
		return req, &Rejection{
			Code:    domain.RejectUnsupportedDifficulty,
			Message: "Unsupported difficulty.",
		}
	}

	if p.TotalQuestions == nil || *p.TotalQuestions != expectedTotal {
		return req, &Rejection{
			Code:    domain.RejectInvalidTotalQuestions,
			Message: fmt.Sprintf("Expected totalQuestions=%d for %s.", expectedTotal, difficulty),
		}
	}

	if p.CorrectCount == nil || *p.CorrectCount < 0 || *p.CorrectCount > expectedTotal {
		return req, &Rejection{
			Code:    domain.RejectInvalidScoreBounds,
			Message: "correctCount must be within 0..totalQuestions.",
		}
	}

	if p.StartedAt.IsZero() || p.FinishedAt.IsZero() {
		return req, &Rejection{
			Code:    domain.RejectInvalidTimestamps,
			Message: "startedAt and finishedAt must be valid timestamps.",
		}
	}
	duration := p.FinishedAt.Sub(p.StartedAt.Time)
	if duration <= 0 {
		return req, &Rejection{
			Code:    domain.RejectInvalidTimestamps,
			Message: "finishedAt must be greater than startedAt.",
		}
	}

	if duration < domain.MinDuration || duration > domain.MaxDuration {
		return req, &Rejection{
			Code:    domain.RejectInvalidDuration,
			Message: "Quiz duration is outside accepted bounds.",
		}
	}

	return domain.SubmissionRequest{
		AttemptID:      attemptID,
		CategoryKey:    categoryKey,
		Difficulty:     difficulty,
		CorrectCount:   *p.CorrectCount,
		TotalQuestions: *p.TotalQuestions,
		StartedAt:      p.StartedAt.Time,
		FinishedAt:     p.FinishedAt.Time,
		DurationMs:     duration.Milliseconds(),
		ClientVersion:  strings.TrimSpace(p.ClientVersion),
	}, nil
}
