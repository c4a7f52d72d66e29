package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cadence/internal/usecase"
)

// handleStream serves the NDJSON patch stream. X-Session-Id selects (or, when
// absent, creates) the session; X-Last-LSN resumes after the given record.
// The response streams one {"lsn":n,"event":{...}} object per line until the
// client disconnects or the session is deleted.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session, lastLSN, err := s.resolveSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(HeaderSessionID, session.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	sub := session.Subscribe(lastLSN)
	for {
		rec, err := sub.Next(r.Context())
		if err != nil {
			// Session deleted or client gone; either way the stream is over.
			return
		}
		if err := enc.Encode(rec); err != nil {
			return
		}
		flusher.Flush()
	}
}

// resolveSession picks the session and resume position for a stream request.
// A missing session id creates a fresh session; an explicit id must already
// exist when a resume position is given, since an LSN from a dead session is
// meaningless against a new log.
func (s *Server) resolveSession(r *http.Request) (*usecase.Session, uint64, error) {
	id := r.Header.Get(HeaderSessionID)
	if id == "" {
		id = r.URL.Query().Get("session_id")
	}

	var lastLSN uint64
	raw := r.Header.Get(HeaderLastLSN)
	if raw == "" {
		raw = r.URL.Query().Get("last_lsn")
	}
	if raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, 0, errors.New("malformed last LSN")
		}
		lastLSN = n
	}

	if lastLSN > 0 {
		if id == "" {
			return nil, 0, errors.New("resume requires a session id")
		}
		session, err := s.store.Get(id)
		if err != nil {
			return nil, 0, errors.New("unknown session")
		}
		return session, lastLSN, nil
	}
	return s.store.GetOrCreate(id), 0, nil
}

// handleSessions lists live sessions with their newest LSN.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type sessionStatus struct {
		ID        string `json:"id"`
		LastLSN   uint64 `json:"last_lsn"`
		Streaming bool   `json:"streaming"`
	}
	var out []sessionStatus
	for _, id := range s.store.List() {
		session, err := s.store.Get(id)
		if err != nil {
			continue
		}
		state := session.State()
		out = append(out, sessionStatus{
			ID:        session.ID,
			LastLSN:   session.LastLSN(),
			Streaming: state.IsStreaming,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn("session list encode failed", "error", err)
	}
}
