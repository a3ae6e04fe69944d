package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/app"
	"github.com/st3v3lyrious/quiznetic/internal/domain"
	"github.com/st3v3lyrious/quiznetic/internal/infra/memory"
)

func newTestHandler() *Handler {
	st := memory.NewStore()
	board := app.NewLeaderboardHub(st, 0)
	service := app.NewScoreService(st, board)
	return NewHandler(service, board)
}

func submissionBody(attemptID string, correct int) []byte {
	started := time.Now().Add(-2 * time.Minute).UTC().Format(time.RFC3339)
	finished := time.Now().Add(-30 * time.Second).UTC().Format(time.RFC3339)
	return []byte(fmt.Sprintf(`{
		"attemptId": %q,
		"categoryKey": "flag",
		"difficulty": "easy",
		"correctCount": %d,
		"totalQuestions": 15,
		"startedAt": %q,
		"finishedAt": %q
	}`, attemptID, correct, started, finished))
}

func TestSubmitScoreAcceptsAuthenticatedRequest(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/scores", bytes.NewReader(submissionBody("attempt-1", 12)))
	req.Header.Set("X-Auth-Uid", "user-1")
	req.Header.Set("X-Auth-Name", "Alice")
	rec := httptest.NewRecorder()

	h.SubmitScore(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result domain.SubmissionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != domain.StatusAccepted || !result.BestScoreUpdated {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.NewBestScore == nil || *result.NewBestScore != 12 {
		t.Fatalf("expected new best 12, got %+v", result.NewBestScore)
	}
	if result.LeaderboardScope == nil || *result.LeaderboardScope != "flag_easy" {
		t.Fatalf("expected scope flag_easy, got %+v", result.LeaderboardScope)
	}
}

func TestSubmitScoreRequiresAuthentication(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/scores", bytes.NewReader(submissionBody("attempt-1", 12)))
	rec := httptest.NewRecorder()

	h.SubmitScore(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSubmitScoreRejectsMalformedBody(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/scores", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Auth-Uid", "user-1")
	rec := httptest.NewRecorder()

	h.SubmitScore(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var result domain.SubmissionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != domain.StatusRejected || result.RejectionCode == nil || *result.RejectionCode != "invalid_payload" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSubmitScoreRejectsWrongMethod(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/scores", nil)
	req.Header.Set("X-Auth-Uid", "user-1")
	rec := httptest.NewRecorder()

	h.SubmitScore(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestLeaderboardReturnsRankedRows(t *testing.T) {
	h := newTestHandler()

	// Seed two players through the real submission path.
	for i, tc := range []struct {
		uid     string
		name    string
		correct int
	}{
		{"user-1", "Alice", 10},
		{"user-2", "Bob", 14},
	} {
		body := submissionBody(fmt.Sprintf("attempt-%d", i), tc.correct)
		req := httptest.NewRequest(http.MethodPost, "/v1/scores", bytes.NewReader(body))
		req.Header.Set("X-Auth-Uid", tc.uid)
		req.Header.Set("X-Auth-Name", tc.name)
		rec := httptest.NewRecorder()
		h.SubmitScore(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("seed submit for %s: %d", tc.uid, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/leaderboard/flag_easy?limit=10", nil)
	req.Header.Set("X-Auth-Uid", "viewer")
	rec := httptest.NewRecorder()

	h.Leaderboard(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if board.Scope != "flag_easy" || len(board.Rows) != 2 {
		t.Fatalf("unexpected board: %+v", board)
	}
	if board.Rows[0].DisplayName != "Bob" || board.Rows[0].Score != 14 {
		t.Fatalf("expected Bob on top, got %+v", board.Rows[0])
	}
}

func TestLeaderboardUnknownScope(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/leaderboard/flag_impossible", nil)
	req.Header.Set("X-Auth-Uid", "viewer")
	rec := httptest.NewRecorder()

	h.Leaderboard(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLeaderboardRequiresAuthentication(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/leaderboard/flag_easy", nil)
	rec := httptest.NewRecorder()

	h.Leaderboard(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
