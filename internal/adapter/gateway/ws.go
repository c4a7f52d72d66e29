package gateway

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleWebSocket serves the patch stream over a WebSocket. The frames are
// the same {lsn, event} records as the NDJSON stream; resume uses the
// session_id and last_lsn query parameters because browser WebSocket clients
// cannot set request headers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, lastLSN, err := s.resolveSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	s.logger.Debug("websocket client connected", "session_id", session.ID)

	// The read side only watches for the client closing; all data flows
	// server to client.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	sub := session.Subscribe(lastLSN)
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := wsjson.Write(ctx, ws, rec); err != nil {
			return
		}
	}
}
