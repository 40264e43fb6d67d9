package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storyloom/storyloom/pkg/convo"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local single-user tool, origin checks add nothing
	},
}

// viewUpdate is one websocket frame: the current branch view plus the
// navigation state needed to render a branch picker.
type viewUpdate struct {
	Messages   []convo.Message  `json:"messages"`
	Navigation convo.Navigation `json:"navigation"`
	Stats      convo.Stats      `json:"stats"`
}

// handleWatch upgrades to a websocket and pushes the current-branch view
// immediately, then again after every engine mutation.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	updates := s.engine.Subscribe()

	if err := s.pushView(ws); err != nil {
		slog.Error("websocket initial push failed", "error", err)
		return
	}

	// Drain client frames so pings/closes are processed; the API is
	// push-only, incoming payloads are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-done:
			return
		case <-keepalive.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case key, ok := <-updates:
			if !ok {
				return
			}
			slog.Debug("pushing thread update", "key", key)
			if err := s.pushView(ws); err != nil {
				slog.Debug("websocket push failed, closing", "error", err)
				return
			}
		}
	}
}

func (s *Server) pushView(ws *websocket.Conn) error {
	msgs := s.engine.CurrentBranchMessages()
	if msgs == nil {
		msgs = []convo.Message{}
	}
	return ws.WriteJSON(viewUpdate{
		Messages:   msgs,
		Navigation: s.engine.Navigation(),
		Stats:      s.engine.Stats(),
	})
}
