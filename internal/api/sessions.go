package api

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/meetgraph/internal/ingest"
	"github.com/MrWong99/meetgraph/internal/observe"
)

// Session is one curation session: the analysis and its workspace.
type Session struct {
	Analysis *ingest.Analysis

	// mu serialises actions and the commit of one session.
	mu        sync.Mutex
	committed bool
	lastUsed  time.Time
}

// ID returns the workspace id.
func (s *Session) ID() string { return s.Analysis.Workspace.ID() }

// SessionStore keeps curation sessions in memory and discards those idle
// for longer than the TTL. Discarding has no side effects on the graph.
// All methods are safe for concurrent use.
type SessionStore struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore returns a store. A non-positive ttl keeps sessions until
// they are deleted.
func NewSessionStore(ttl time.Duration, metrics *observe.Metrics) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Put registers a new session for a.
func (st *SessionStore) Put(ctx context.Context, a *ingest.Analysis) *Session {
	s := &Session{Analysis: a, lastUsed: st.now()}
	st.mu.Lock()
	st.sessions[s.ID()] = s
	st.mu.Unlock()
	st.count(ctx, 1)
	return s
}

// Get returns the session and refreshes its idle timer. An expired session
// is removed and reported missing.
func (st *SessionStore) Get(ctx context.Context, id string) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok && st.expired(s) {
		delete(st.sessions, id)
		st.mu.Unlock()
		st.count(ctx, -1)
		observe.Logger(ctx).Info("curation session expired", "session", id)
		return nil, false
	}
	if ok {
		s.lastUsed = st.now()
	}
	st.mu.Unlock()
	return s, ok
}

// Delete removes the session. It reports whether it existed.
func (st *SessionStore) Delete(ctx context.Context, id string) bool {
	st.mu.Lock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		st.count(ctx, -1)
	}
	return ok
}

// Len returns the number of open sessions, expired ones included until the
// next sweep.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes every expired session and returns how many it removed.
func (st *SessionStore) Sweep(ctx context.Context) int {
	st.mu.Lock()
	var n int
	for id, s := range st.sessions {
		if st.expired(s) {
			delete(st.sessions, id)
			n++
		}
	}
	st.mu.Unlock()
	if n > 0 {
		st.count(ctx, int64(-n))
		observe.Logger(ctx).Info("expired curation sessions discarded", "count", n)
	}
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (st *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep(ctx)
		}
	}
}

// expired must be called with st.mu held.
func (st *SessionStore) expired(s *Session) bool {
	return st.ttl > 0 && st.now().Sub(s.lastUsed) > st.ttl
}

func (st *SessionStore) count(ctx context.Context, delta int64) {
	if st.metrics != nil {
		st.metrics.ActiveSessions.Add(ctx, delta)
	}
}
