package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the embedding editor serves from its own origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogsWS upgrades to a WebSocket and streams diagnostic log lines,
// one text frame per line. New clients first receive the retained backlog;
// clients that stop reading have lines dropped by the broker rather than
// blocking the producer.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := s.broker.Subscribe()
	defer sub.Close()
	defer ws.Close()

	// drain (and discard) client frames so control messages are processed
	// and closure is noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case line, ok := <-sub.C:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
	}
}
