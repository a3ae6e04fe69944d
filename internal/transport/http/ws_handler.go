package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/st3v3lyrious/quiznetic/internal/app"
	"github.com/st3v3lyrious/quiznetic/internal/domain"
)

// WSHandler streams live leaderboard snapshots over a websocket.
type WSHandler struct {
	board    *app.LeaderboardHub
	upgrader websocket.Upgrader
}

func NewWSHandler(board *app.LeaderboardHub) *WSHandler {
	return &WSHandler{
		board: board,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string             `json:"type"`
	Payload domain.Leaderboard `json:"payload"`
}

// ServeWS handles GET /ws/leaderboard?scope={scope}. Each connected
// client receives the current snapshot, then one message per committed
// leaderboard update.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !identityFromRequest(r).Authenticated() {
		http.Error(w, "authentication is required", http.StatusUnauthorized)
		return
	}
	scope := r.URL.Query().Get("scope")
	if _, _, ok := app.ParseScope(scope); !ok {
		http.Error(w, "unknown leaderboard scope", http.StatusNotFound)
		return
	}

	updates, cancel, err := h.board.Subscribe(r.Context(), scope)
	if err != nil {
		http.Error(w, "leaderboard unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for update := range updates {
			msg := outboundMessage{Type: "leaderboard", Payload: update}
			data, err := json.Marshal(msg)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	// Drain the read side so we notice the peer closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
}
