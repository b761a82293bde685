// Package api serves the curation HTTP interface.
//
// A curator posts a transcript and gets back a session holding the
// pre-curation analysis. Actions edit the session's workspace; a commit
// writes the accepted records to the graph in one transaction; a delete
// discards the session with no side effects. POST /v1/commits writes a
// batch built elsewhere without a session.
//
// Every /v1 route requires the curator role, read from a trusted header set
// by the upstream auth proxy.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/meetgraph/internal/curation"
	"github.com/MrWong99/meetgraph/internal/ingest"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// CuratorRole is the header value granting access.
const CuratorRole = "curator"

// maxBodyBytes caps request bodies; transcripts of long meetings fit.
const maxBodyBytes = 8 << 20

// Option configures a [Server].
type Option func(*Server)

// WithCuratorHeader overrides the role header name.
func WithCuratorHeader(h string) Option {
	return func(s *Server) {
		if h != "" {
			s.curatorHeader = h
		}
	}
}

// WithSessionTTL sets the idle timeout of curation sessions.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) { s.ttl = d }
}

// WithMetrics records the active session count on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server holds the handlers. The pipeline can be swapped at runtime with
// [Server.SetPipeline]; sessions already open keep their analysis.
type Server struct {
	pipeline atomic.Pointer[ingest.Pipeline]
	writer   *persist.Writer
	graph    graph.Reader
	sessions *SessionStore

	curatorHeader string
	ttl           time.Duration
	metrics       *observe.Metrics
}

// New returns a Server analysing with p, committing with w and reading link
// targets from g.
func New(p *ingest.Pipeline, w *persist.Writer, g graph.Reader, opts ...Option) *Server {
	s := &Server{
		writer:        w,
		graph:         g,
		curatorHeader: "X-Meetgraph-Role",
		ttl:           2 * time.Hour,
	}
	for _, o := range opts {
		o(s)
	}
	s.pipeline.Store(p)
	s.sessions = NewSessionStore(s.ttl, s.metrics)
	return s
}

// SetPipeline replaces the pipeline used by new sessions.
func (s *Server) SetPipeline(p *ingest.Pipeline) { s.pipeline.Store(p) }

// Sessions returns the session store, e.g. to run its sweeper.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// Register adds the /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/sessions", s.curator(s.createSession))
	mux.Handle("GET /v1/sessions/{id}", s.curator(s.getSession))
	mux.Handle("POST /v1/sessions/{id}/actions", s.curator(s.applyAction))
	mux.Handle("POST /v1/sessions/{id}/commit", s.curator(s.commitSession))
	mux.Handle("DELETE /v1/sessions/{id}", s.curator(s.deleteSession))
	mux.Handle("POST /v1/commits", s.curator(s.commit))
}

func (s *Server) curator(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(strings.TrimSpace(r.Header.Get(s.curatorHeader)), CuratorRole) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "curator role required"})
			return
		}
		if id := r.PathValue("id"); id != "" {
			r = r.WithContext(observe.WithSession(r.Context(), id))
		}
		next(w, r)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, &persist.ValidationError{Field: "transcript", Msg: "is required"})
		return
	}
	meeting, err := req.Meeting.toMeeting()
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := s.pipeline.Load().Analyze(r.Context(), ingest.Input{Transcript: req.Transcript, Meeting: meeting})
	if err != nil {
		writeError(w, err)
		return
	}
	sess := s.sessions.Put(r.Context(), a)
	observe.Logger(observe.WithSession(r.Context(), sess.ID())).Info("curation session opened",
		"warnings", len(a.Warnings),
	)
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) applyAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.committed {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "session already committed"})
		return
	}
	if err := s.apply(r.Context(), sess.Analysis.Workspace, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) commitSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.committed {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "session already committed"})
		return
	}
	rec, err := s.writer.Commit(r.Context(), sess.Analysis.Workspace.Batch())
	if err != nil {
		// The session stays open; resubmitting is the curator's call.
		writeError(w, err)
		return
	}
	sess.committed = true
	s.sessions.Delete(r.Context(), sess.ID())
	writeJSON(w, http.StatusOK, receiptFrom(rec))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(r.Context(), r.PathValue("id")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := req.toBatch()
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.writer.Commit(r.Context(), b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptFrom(rec))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.sessions.Get(r.Context(), r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
	}
	return sess, ok
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoding
// ─────────────────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps err to a status: validation and curation errors are the
// client's, a failed write step is the server's and names the step.
func writeError(w http.ResponseWriter, err error) {
	var (
		stepErr *persist.StepError
		fields  = fieldErrors(err)
	)
	switch {
	case len(fields) > 0:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
	case errors.Is(err, persist.ErrNothingToCommit):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, curation.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, curation.ErrInvalidValue),
		errors.Is(err, curation.ErrNotApplicable),
		errors.Is(err, curation.ErrNoSuggestion),
		errors.Is(err, curation.ErrExternalContactRequired),
		errors.Is(err, errUnknownAction):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &stepErr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: stepErr.Error(), Step: stepErr.Step})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// fieldErrors flattens the validation errors in err's tree.
func fieldErrors(err error) []fieldError {
	var out []fieldError
	var walk func(error)
	walk = func(e error) {
		var ve *persist.ValidationError
		switch x := e.(type) {
		case nil:
		case interface{ Unwrap() []error }:
			for _, c := range x.Unwrap() {
				walk(c)
			}
		default:
			if errors.As(e, &ve) {
				out = append(out, fieldError{Field: ve.Field, Message: ve.Msg})
			}
		}
	}
	walk(err)
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
