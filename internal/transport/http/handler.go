package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/st3v3lyrious/quiznetic/internal/app"
	"github.com/st3v3lyrious/quiznetic/internal/domain"
)

// Handler serves the score-submission and leaderboard endpoints. The
// caller identity arrives in X-Auth-* headers set by the fronting
// identity-aware proxy; it is never part of the request body.
type Handler struct {
	service *app.ScoreService
	board   *app.LeaderboardHub
}

func NewHandler(service *app.ScoreService, board *app.LeaderboardHub) *Handler {
	return &Handler{service: service, board: board}
}

const defaultLeaderboardLimit = 50

// identityFromRequest extracts the externally verified identity.
func identityFromRequest(r *http.Request) domain.Identity {
	return domain.Identity{
		UID:         strings.TrimSpace(r.Header.Get("X-Auth-Uid")),
		Anonymous:   r.Header.Get("X-Auth-Anonymous") == "true",
		DisplayName: r.Header.Get("X-Auth-Name"),
		Email:       r.Header.Get("X-Auth-Email"),
	}
}

// SubmitScore handles POST /v1/scores.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := identityFromRequest(r)
	if !caller.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication is required")
		return
	}

	var payload app.SubmissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.SubmissionResult{
			Status:        domain.StatusRejected,
			RejectionCode: ptr("invalid_payload"),
			RiskFlags:     []string{},
			Message:       ptr("Request body is not a valid submission."),
		})
		return
	}

	result, err := h.service.Submit(r.Context(), caller, payload)
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication is required")
		return
	case errors.Is(err, domain.ErrTransactionConflict):
		// Transient; the same attemptId can safely be resubmitted.
		writeError(w, http.StatusServiceUnavailable, "submission conflicted, please retry")
		return
	case err != nil:
		log.Printf("submit score failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Leaderboard handles GET /v1/leaderboard/{scope}.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !identityFromRequest(r).Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication is required")
		return
	}

	scope := strings.TrimPrefix(r.URL.Path, "/v1/leaderboard/")
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	board, err := h.board.Top(r.Context(), scope, limit)
	switch {
	case errors.Is(err, domain.ErrUnknownScope):
		writeError(w, http.StatusNotFound, "unknown leaderboard scope")
		return
	case err != nil:
		log.Printf("leaderboard read failed scope=%s: %v", scope, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func ptr(s string) *string { return &s }
