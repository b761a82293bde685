package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/meetgraph/internal/api"
	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/ingest"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/pkg/graph"
	"github.com/MrWong99/meetgraph/pkg/graph/memgraph"
	"github.com/MrWong99/meetgraph/pkg/provider/llm"
	"github.com/MrWong99/meetgraph/pkg/provider/llm/mock"
)

const transcriptVTT = `WEBVTT

00:00:01.000 --> 00:00:04.000
<v Carlos Silva>Vamos usar o Confluence. Eu reviso o cronograma.

00:00:04.500 --> 00:00:07.000
<v M. Santos>Combinado.
`

const extractionJSON = `{
  "summary": "Planejamento.",
  "tasks": [{"value": "Revisar cronograma", "assignee": "Carlos Silva"}],
  "mentioned_entities": [{"value": "Confluence", "entity_kind": "tool"}]
}`

const rosterYAML = `
staff:
  - id: carlos
    name: Carlos Silva
  - id: maria
    name: Maria Santos
    aliases: ["M. Santos"]
`

// ── helpers ──────────────────────────────────────────────────────────────────

type fixture struct {
	store  *memgraph.Store
	server *api.Server
	mux    *http.ServeMux
}

func newFixture(t *testing.T, store graph.Store) *fixture {
	t.Helper()
	roster, err := identity.LoadRosterFromReader(strings.NewReader(rosterYAML))
	if err != nil {
		t.Fatal(err)
	}
	mem, _ := store.(*memgraph.Store)
	provider := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: extractionJSON}}
	p := ingest.New(extraction.New(provider), matcher.New(store), ingest.WithRoster(roster))
	s := api.New(p, persist.NewWriter(store), store)
	mux := http.NewServeMux()
	s.Register(mux)
	return &fixture{store: mem, server: s, mux: mux}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Meetgraph-Role", api.CuratorRole)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

type session struct {
	ID       string `json:"id"`
	Speakers []struct {
		ID         string `json:"id"`
		Label      string `json:"label"`
		Name       string `json:"name"`
		Validation string `json:"validation"`
		Outcome    string `json:"outcome"`
	} `json:"speakers"`
	Facts []struct {
		ID         string `json:"id"`
		Validation string `json:"validation"`
		Fact       struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"fact"`
		Link *struct {
			NodeID string `json:"nodeId"`
		} `json:"link"`
	} `json:"facts"`
	Warnings  []string `json:"warnings"`
	CanCommit bool     `json:"canCommit"`
}

type errorBody struct {
	Error  string `json:"error"`
	Step   string `json:"step"`
	Fields []struct {
		Field string `json:"field"`
	} `json:"fields"`
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (f *fixture) open(t *testing.T) session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"transcript": transcriptVTT,
		"meeting":    map[string]any{"title": "Planejamento", "date": "2026-03-02"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body)
	}
	return decodeAs[session](t, rec)
}

func countNodes(t *testing.T, g graph.Reader, k graph.Kind) int {
	t.Helper()
	n, err := g.FindNodes(context.Background(), graph.NodeQuery{Kinds: []graph.Kind{k}})
	if err != nil {
		t.Fatal(err)
	}
	return len(n)
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestRoutes_RequireCuratorRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())

	for _, role := range []string{"", "viewer"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/commits", strings.NewReader("{}"))
		if role != "" {
			req.Header.Set("X-Meetgraph-Role", role)
		}
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("role %q: status = %d, want 403", role, rec.Code)
		}
	}
}

func TestSession_CurateAndCommit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())

	s := f.open(t)
	if len(s.Speakers) != 2 || len(s.Facts) != 2 || !s.CanCommit {
		t.Fatalf("session = %+v", s)
	}
	for _, sp := range s.Speakers {
		if sp.Outcome != "automatic" {
			t.Errorf("speaker %q outcome = %q", sp.Label, sp.Outcome)
		}
	}

	var entityID string
	for _, fct := range s.Facts {
		if fct.Fact.Type == string(extraction.KindMentionedEntity) {
			entityID = fct.ID
		}
	}
	rec := f.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/actions", map[string]any{"action": "reject", "id": entityID})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: %d %s", rec.Code, rec.Body)
	}
	if got := decodeAs[session](t, rec); got.Facts[1].Validation != "rejected" && got.Facts[0].Validation != "rejected" {
		t.Errorf("no fact rejected: %+v", got.Facts)
	}

	rec = f.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rec.Code, rec.Body)
	}
	receipt := decodeAs[struct {
		MeetingID          string `json:"meetingId"`
		ParticipantsLinked int    `json:"participantsLinked"`
		FactsCreated       int    `json:"factsCreated"`
	}](t, rec)
	if receipt.MeetingID == "" || receipt.ParticipantsLinked != 2 || receipt.FactsCreated != 1 {
		t.Errorf("receipt = %+v", receipt)
	}
	if n := countNodes(t, f.store, graph.KindTool); n != 0 {
		t.Errorf("rejected entity written: %d Tool nodes", n)
	}
	if n := countNodes(t, f.store, graph.KindTask); n != 1 {
		t.Errorf("Task nodes = %d, want 1", n)
	}

	if rec := f.do(t, http.MethodGet, "/v1/sessions/"+s.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("committed session still readable: %d", rec.Code)
	}
}

func TestSession_ActionErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())
	s := f.open(t)

	var entityID string
	for _, fct := range s.Facts {
		if fct.Fact.Type == string(extraction.KindMentionedEntity) {
			entityID = fct.ID
		}
	}

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown action", map[string]any{"action": "explode", "id": entityID}, http.StatusBadRequest},
		{"unknown record", map[string]any{"action": "accept", "id": "fact-nope"}, http.StatusNotFound},
		{"external person needs contact flow", map[string]any{"action": "set_entity_kind", "id": entityID, "value": "externalPerson"}, http.StatusBadRequest},
		{"no suggestion", map[string]any{"action": "accept_suggestion", "id": entityID}, http.StatusBadRequest},
		{"link to missing node", map[string]any{"action": "link", "id": entityID, "nodeId": "missing"}, http.StatusBadRequest},
		{"invalid tier", map[string]any{"action": "set_tier", "id": entityID, "value": "ultra"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/actions", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestSession_LinkToGraphNode(t *testing.T) {
	t.Parallel()
	store := memgraph.New()
	ctx := context.Background()
	var wiki graph.NodeID
	if err := store.WithTx(ctx, func(tx graph.Tx) error {
		var err error
		wiki, err = tx.CreateNode(ctx, graph.KindTool, "Wiki Interna", nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, store)
	s := f.open(t)

	var entityID string
	for _, fct := range s.Facts {
		if fct.Fact.Type == string(extraction.KindMentionedEntity) {
			entityID = fct.ID
		}
	}
	rec := f.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/actions", map[string]any{"action": "link", "id": entityID, "nodeId": string(wiki)})
	if rec.Code != http.StatusOK {
		t.Fatalf("link: %d %s", rec.Code, rec.Body)
	}
	got := decodeAs[session](t, rec)
	for _, fct := range got.Facts {
		if fct.ID == entityID && (fct.Link == nil || fct.Link.NodeID != string(wiki) || fct.Fact.Value != "Wiki Interna") {
			t.Errorf("linked entity = %+v", fct)
		}
	}
}

func TestSession_Delete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())
	s := f.open(t)

	if rec := f.do(t, http.MethodDelete, "/v1/sessions/"+s.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/v1/sessions/"+s.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: %d, want 404", rec.Code)
	}
	if n := countNodes(t, f.store, graph.KindMeeting); n != 0 {
		t.Errorf("discarded session wrote %d meetings", n)
	}
	if f.server.Sessions().Len() != 0 {
		t.Error("session store not empty")
	}
}

func TestCreateSession_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())

	rec := f.do(t, http.MethodPost, "/v1/sessions", map[string]any{"transcript": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeAs[errorBody](t, rec); len(body.Fields) != 1 || body.Fields[0].Field != "transcript" {
		t.Errorf("body = %+v", body)
	}

	rec = f.do(t, http.MethodPost, "/v1/sessions", map[string]any{"transcript": transcriptVTT, "meeting": map[string]any{"date": "yesterday"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}
}

func TestCommit_Stateless(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())

	rec := f.do(t, http.MethodPost, "/v1/commits", map[string]any{
		"meetingMetadata": map[string]any{
			"title": "Retro", "projectName": "Apollo",
			"time": "09:00", "organizer": "Carlos Silva", "meetingType": "retrospective",
			"confidentialityLevel": "restricted", "recurrence": "biweekly",
		},
		"participants":    []map[string]any{{"name": "Carlos Silva", "rosterId": "carlos"}},
		"facts": []map[string]any{
			{"id": "f1", "type": "Risk", "value": "Atraso do fornecedor", "relatedPerson": "Carlos Silva"},
			{"id": "f2", "type": "Decision", "value": "Trocar fornecedor"},
		},
		"relationships":  []map[string]any{{"from": "f2", "to": "f1", "type": "RELATED_TO"}},
		"transientFacts": []map[string]any{{"id": "t1", "type": "Insight", "value": "Café acabou"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rec.Code, rec.Body)
	}
	receipt := decodeAs[struct {
		FactsCreated   int `json:"factsCreated"`
		TransientFacts int `json:"transientFacts"`
	}](t, rec)
	if receipt.FactsCreated != 2 || receipt.TransientFacts != 1 {
		t.Errorf("receipt = %+v", receipt)
	}
	if n := countNodes(t, f.store, graph.KindInsight); n != 0 {
		t.Errorf("transient fact written: %d Insight nodes", n)
	}
	if n := countNodes(t, f.store, graph.KindProject); n != 1 {
		t.Errorf("Project nodes = %d, want 1", n)
	}
	meetings, err := f.store.FindNodes(context.Background(), graph.NodeQuery{Kinds: []graph.Kind{graph.KindMeeting}})
	if err != nil || len(meetings) != 1 {
		t.Fatalf("meetings = %+v, %v", meetings, err)
	}
	props := meetings[0].Props
	if props["organizer"] != "Carlos Silva" || props["meeting_type"] != "retrospective" ||
		props["confidentiality_level"] != "restricted" || props["recurrence"] != "biweekly" || props["time"] != "09:00" {
		t.Errorf("meeting props = %+v", props)
	}
}

func TestCommit_MemoryTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier   string
		status int
	}{
		{tier: "", status: http.StatusOK},
		{tier: "short", status: http.StatusOK},
		{tier: "medium", status: http.StatusOK},
		{tier: "long", status: http.StatusOK},
		{tier: "high", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run("tier="+tt.tier, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, memgraph.New())
			rec := f.do(t, http.MethodPost, "/v1/commits", map[string]any{
				"meeting": map[string]any{"title": "Retro"},
				"facts":   []map[string]any{{"id": "f1", "type": "Task", "value": "x", "tier": tt.tier}},
			})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.status != http.StatusBadRequest {
				return
			}
			body := decodeAs[errorBody](t, rec)
			if len(body.Fields) != 1 || body.Fields[0].Field != "facts[0].tier" {
				t.Errorf("fields = %+v", body.Fields)
			}
			if n := countNodes(t, f.store, graph.KindMeeting); n != 0 {
				t.Errorf("rejected batch wrote %d Meeting nodes", n)
			}
		})
	}
}

func TestCommit_ValidationFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, memgraph.New())

	rec := f.do(t, http.MethodPost, "/v1/commits", map[string]any{
		"meeting": map[string]any{"title": ""},
		"facts":   []map[string]any{{"id": "f1", "type": "Task", "value": "x"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeAs[errorBody](t, rec)
	if len(body.Fields) != 1 || body.Fields[0].Field != "meeting.title" {
		t.Errorf("fields = %+v", body.Fields)
	}

	rec = f.do(t, http.MethodPost, "/v1/commits", map[string]any{"meeting": map[string]any{"title": "Vazio"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d, want 400", rec.Code)
	}
}

// brokenStore fails every transaction.
type brokenStore struct{ *memgraph.Store }

func (brokenStore) WithTx(context.Context, func(graph.Tx) error) error {
	return errors.New("connection reset")
}

func TestCommit_PersistenceFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, brokenStore{memgraph.New()})

	rec := f.do(t, http.MethodPost, "/v1/commits", map[string]any{
		"meeting": map[string]any{"title": "Retro"},
		"facts":   []map[string]any{{"id": "f1", "type": "Task", "value": "x"}},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeAs[errorBody](t, rec)
	if body.Step != persist.StepCommit || !strings.Contains(body.Error, "connection reset") {
		t.Errorf("body = %+v", body)
	}
}
