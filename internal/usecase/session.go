package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cadence/internal/domain"
	"cadence/internal/usecase/reducer"
)

// Session owns one conversation's ChatState and its append-only event log.
// It is the sole caller of the reducer: every state transition enters through
// Apply, which folds the patch, translates it to wire events and notifies
// subscribers. The log lives in memory only; a client that outlives the
// process starts a fresh session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	state     domain.ChatState
	log       []domain.Record
	nextLSN   uint64
	updatedAt time.Time
	notify    chan struct{}
	closed    bool
}

func newSession(id string, info domain.SessionInfo) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		state:     domain.NewChatState(),
		nextLSN:   1,
		updatedAt: now,
		notify:    make(chan struct{}),
	}
	// session_info is always the first record, so a fresh subscriber learns
	// the negotiated capabilities before any content event.
	s.Apply(domain.Patch{Kind: domain.PatchSessionInfo, Session: &info})
	return s
}

// Apply folds one patch into the session state and appends the resulting wire
// events to the log. Safe for concurrent use; patch order within the log is
// the order Apply acquired the lock.
func (s *Session) Apply(p domain.Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.state = reducer.Apply(s.state, p)
	s.updatedAt = time.Now()

	events := EventsFromPatch(p)
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		s.log = append(s.log, domain.Record{LSN: s.nextLSN, Event: ev})
		s.nextLSN++
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// State returns a snapshot of the current chat state. The reducer returns
// fresh values on every transition, so the snapshot is safe to read without
// further locking.
func (s *Session) State() domain.ChatState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastLSN returns the sequence number of the newest record, 0 when empty.
func (s *Session) LastLSN() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextLSN - 1
}

// UpdatedAt returns the time of the last applied patch.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// Subscribe opens a cursor over the session log starting after lsn. Passing 0
// replays the log from the beginning, session_info first.
func (s *Session) Subscribe(lsn uint64) *Subscription {
	return &Subscription{session: s, cursor: lsn}
}

// Subscription is a read cursor over a session's event log. Records are never
// dropped: the cursor reads straight from the log, so a slow consumer only
// falls behind, it never loses events.
type Subscription struct {
	session *Session
	cursor  uint64
}

// Next blocks until a record past the cursor is available and returns it.
// Returns ErrStreamClosed once the session is deleted, or the context error
// on cancellation.
func (sub *Subscription) Next(ctx context.Context) (domain.Record, error) {
	for {
		sub.session.mu.RLock()
		rec, ok := sub.session.recordAfter(sub.cursor)
		closed := sub.session.closed
		wait := sub.session.notify
		sub.session.mu.RUnlock()

		if ok {
			sub.cursor = rec.LSN
			return rec, nil
		}
		if closed {
			return domain.Record{}, domain.ErrStreamClosed
		}
		select {
		case <-ctx.Done():
			return domain.Record{}, ctx.Err()
		case <-wait:
		}
	}
}

// recordAfter returns the first record with LSN greater than lsn. Callers
// hold at least the read lock. LSNs are dense, so the offset is direct.
func (s *Session) recordAfter(lsn uint64) (domain.Record, bool) {
	if len(s.log) == 0 {
		return domain.Record{}, false
	}
	first := s.log[0].LSN
	if lsn < first {
		return s.log[0], true
	}
	idx := int(lsn-first) + 1
	if idx >= len(s.log) {
		return domain.Record{}, false
	}
	return s.log[idx], true
}

// SessionStore manages the live sessions of the process and reaps stale ones
// on a cron schedule.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	capabilities domain.Capabilities
	persona      string
	maxAge       time.Duration
	cron         *cron.Cron
	logger       *slog.Logger
}

// SessionStoreConfig configures the store.
type SessionStoreConfig struct {
	// Capabilities are advertised in every session's session_info event.
	Capabilities domain.Capabilities
	Persona      string
	// MaxAge is the idle duration after which a session is reaped. Zero
	// disables reaping regardless of schedule.
	MaxAge time.Duration
	// ReapSchedule is a cron expression; empty disables the reaper.
	ReapSchedule string
}

// NewSessionStore creates the store and starts the reaper when configured.
func NewSessionStore(cfg SessionStoreConfig, logger *slog.Logger) (*SessionStore, error) {
	st := &SessionStore{
		sessions:     make(map[string]*Session),
		capabilities: cfg.Capabilities,
		persona:      cfg.Persona,
		maxAge:       cfg.MaxAge,
		logger:       logger,
	}
	if cfg.ReapSchedule != "" && cfg.MaxAge > 0 {
		st.cron = cron.New()
		if _, err := st.cron.AddFunc(cfg.ReapSchedule, func() {
			if n := st.ReapStale(st.maxAge); n > 0 {
				logger.Info("reaped stale sessions", "count", n)
			}
		}); err != nil {
			return nil, domain.WrapOp("SessionStore.New", err)
		}
		st.cron.Start()
	}
	return st, nil
}

// GetOrCreate returns the session with the given id, creating it when absent.
// An empty id always creates a fresh session with a generated id.
func (st *SessionStore) GetOrCreate(id string) *Session {
	if id == "" {
		id = domain.NewID()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id, domain.SessionInfo{
		SessionID:    id,
		Capabilities: st.capabilities,
		Persona:      st.persona,
	})
	st.sessions[id] = s
	st.logger.Debug("session created", "session_id", id)
	return s
}

// Get returns an existing session or ErrSessionNotFound.
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, domain.NewDomainError("SessionStore.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete removes a session and closes its subscriptions.
func (st *SessionStore) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return domain.NewDomainError("SessionStore.Delete", domain.ErrSessionNotFound, id)
	}
	s.close()
	return nil
}

// List returns the ids of all live sessions.
func (st *SessionStore) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ReapStale deletes sessions idle longer than maxAge and returns the count.
func (st *SessionStore) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	st.mu.RLock()
	var stale []string
	for id, s := range st.sessions {
		if s.UpdatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	st.mu.RUnlock()

	for _, id := range stale {
		if err := st.Delete(id); err == nil {
			st.logger.Debug("session reaped", "session_id", id)
		}
	}
	return len(stale)
}

// Close stops the reaper and closes every session.
func (st *SessionStore) Close() {
	if st.cron != nil {
		st.cron.Stop()
	}
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
