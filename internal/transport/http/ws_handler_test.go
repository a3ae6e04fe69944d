package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/st3v3lyrious/quiznetic/internal/app"
	"github.com/st3v3lyrious/quiznetic/internal/domain"
	"github.com/st3v3lyrious/quiznetic/internal/infra/memory"
)

func TestWebSocketLeaderboardFeed(t *testing.T) {
	st := memory.NewStore()
	board := app.NewLeaderboardHub(st, 0)
	service := app.NewScoreService(st, board)
	handler := NewHandler(service, board)
	wsHandler := NewWSHandler(board)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/scores", handler.SubmitScore)
	mux.HandleFunc("/ws/leaderboard", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard?scope=flag_easy"
	header := http.Header{"X-Auth-Uid": {"viewer"}}
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The initial snapshot arrives immediately and is empty.
	first := readBoard(conn, t)
	if first.Scope != "flag_easy" || len(first.Rows) != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	// An accepted submission pushes a fresh snapshot to subscribers.
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/scores", bytes.NewReader(submissionBody("attempt-ws", 13)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Auth-Uid", "user-1")
	req.Header.Set("X-Auth-Name", "Alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status: %d", resp.StatusCode)
	}

	update := readBoard(conn, t)
	if len(update.Rows) != 1 {
		t.Fatalf("expected one row after submission, got %+v", update)
	}
	if update.Rows[0].DisplayName != "Alice" || update.Rows[0].Score != 13 {
		t.Fatalf("unexpected row: %+v", update.Rows[0])
	}
}

func TestWebSocketRejectsUnknownScope(t *testing.T) {
	board := app.NewLeaderboardHub(memory.NewStore(), 0)
	wsHandler := NewWSHandler(board)

	server := httptest.NewServer(http.HandlerFunc(wsHandler.ServeWS))
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "?scope=nope"
	header := http.Header{"X-Auth-Uid": {"viewer"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Fatalf("expected dial to fail for unknown scope")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
}

func TestWebSocketRequiresAuthentication(t *testing.T) {
	board := app.NewLeaderboardHub(memory.NewStore(), 0)
	wsHandler := NewWSHandler(board)

	server := httptest.NewServer(http.HandlerFunc(wsHandler.ServeWS))
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "?scope=flag_easy"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func readBoard(conn *websocket.Conn, t *testing.T) domain.Leaderboard {
	t.Helper()
	var msg struct {
		Type    string             `json:"type"`
		Payload domain.Leaderboard `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "leaderboard" {
		t.Fatalf("expected leaderboard message, got %s", msg.Type)
	}
	return msg.Payload
}
