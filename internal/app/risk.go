package app

import "github.com/st3v3lyrious/quiznetic/internal/domain"

// EvaluateRisk derives risk flags from the shape of an attempt. Flags
// never block acceptance; they mark the attempt "flagged" for review.
// New heuristics append flags here without touching the accept/reject
// contract.
func EvaluateRisk(correctCount, totalQuestions int, durationMs int64) []string {
	var flags []string

	if correctCount == totalQuestions && durationMs < domain.FastPerfectThreshold.Milliseconds() {
		flags = append(flags, domain.RiskFlagFastPerfectScore)
	}

	return flags
}
