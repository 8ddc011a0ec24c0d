package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/answerhub/backend/internal/hub"
)

// handleStream serves GET /api/sessions/{id}/stream[?since=offset].
//
// Websocket clients get the feed over an upgraded connection; everything
// else gets Server-Sent Events. Both transports consume the same hub
// subscriber, so replay-then-live semantics and slow-consumer isolation are
// identical. Reconnection is entirely client-driven: on drop the client
// reopens with ?since= the next offset it needs.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, codeMalformedEvent)
			return
		}
		since = parsed
	}

	sub, err := s.hub.Subscribe(sessionID, since)
	if err != nil {
		// Terminal for this id: unknown session, or its log is already past
		// the retention grace period. Clients must not auto-retry.
		writeError(w, http.StatusNotFound, codeSessionNotFound)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.streamWebSocket(w, r, sub)
		return
	}
	s.streamSSE(w, r, sub)
}

func (s *Server) streamWebSocket(w http.ResponseWriter, r *http.Request, sub *hub.Subscriber) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("stream client connected: %s session=%s", r.RemoteAddr, sub.SessionID())

	// Read side only detects client disconnect; the protocol has no
	// client-to-server messages.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for ev := range sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("stream marshal error: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			sub.Close()
			return
		}
	}

	if err := sub.Err(); err != nil {
		log.Printf("stream client dropped: %s session=%s: %v", r.RemoteAddr, sub.SessionID(), err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe with ?since="))
		return
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, sub *hub.Subscriber) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sub.Close()
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("stream marshal error: %v", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Offset, ev.Kind, data)
			flusher.Flush()
		}
	}
}
