// Package memgraph is an in-process implementation of graph.Store.
//
// Transactions are serialised: WithTx holds the store's write lock for the
// duration of the callback and works on a private copy of the graph, which
// replaces the committed state only when the callback succeeds. Readers never
// observe uncommitted writes.
//
// Intended for tests and local development. State is lost on exit.
package memgraph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetgraph/pkg/graph"
)

var _ graph.Store = (*Store)(nil)

// errTxClosed is returned when a Tx is used after its WithTx callback
// returned.
var errTxClosed = errors.New("memgraph: transaction closed")

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a thread-safe in-memory graph.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetNode implements graph.Reader.
func (s *Store) GetNode(_ context.Context, id graph.NodeID) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.get(id)
}

// FindNodes implements graph.Reader.
func (s *Store) FindNodes(_ context.Context, q graph.NodeQuery) ([]graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findNodes(q), nil
}

// FindEdges implements graph.Reader.
func (s *Store) FindEdges(_ context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findEdges(q), nil
}

// WithTx implements graph.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx graph.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone(), now: s.now}
	err := fn(tx)
	tx.closed = true
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memgraph: commit: %w", err)
	}
	s.state = tx.st
	return nil
}

// Ping implements graph.Store.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements graph.Store.
func (s *Store) Close(context.Context) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Transaction
// ─────────────────────────────────────────────────────────────────────────────

type memTx struct {
	st     *state
	now    func() time.Time
	closed bool
}

func (t *memTx) GetNode(_ context.Context, id graph.NodeID) (*graph.Node, error) {
	if t.closed {
		return nil, errTxClosed
	}
	return t.st.get(id)
}

func (t *memTx) FindNodes(_ context.Context, q graph.NodeQuery) ([]graph.Node, error) {
	if t.closed {
		return nil, errTxClosed
	}
	return t.st.findNodes(q), nil
}

func (t *memTx) FindEdges(_ context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	if t.closed {
		return nil, errTxClosed
	}
	return t.st.findEdges(q), nil
}

func (t *memTx) CreateNode(_ context.Context, kind graph.Kind, name string, props map[string]any) (graph.NodeID, error) {
	if t.closed {
		return "", errTxClosed
	}
	if !kind.Valid() {
		return "", fmt.Errorf("memgraph: create node %q: %w", kind, graph.ErrUnknownKind)
	}
	return t.st.insert(kind, "", name, props, t.now()), nil
}

func (t *memTx) MergeNode(_ context.Context, kind graph.Kind, mergeKey, name string, props map[string]any) (graph.NodeID, bool, error) {
	if t.closed {
		return "", false, errTxClosed
	}
	if !kind.Valid() {
		return "", false, fmt.Errorf("memgraph: merge node %q: %w", kind, graph.ErrUnknownKind)
	}
	if mergeKey == "" {
		return "", false, fmt.Errorf("memgraph: merge node %q: empty merge key", kind)
	}
	if id, ok := t.st.merge[mergeIndex{kind, mergeKey}]; ok {
		return id, false, nil
	}
	return t.st.insert(kind, mergeKey, name, props, t.now()), true, nil
}

func (t *memTx) UpdateNode(_ context.Context, id graph.NodeID, props map[string]any) error {
	if t.closed {
		return errTxClosed
	}
	n, ok := t.st.nodes[id]
	if !ok {
		return fmt.Errorf("memgraph: update node %s: %w", id, graph.ErrNotFound)
	}
	if n.Props == nil {
		n.Props = make(map[string]any, len(props))
	}
	maps.Copy(n.Props, props)
	return nil
}

func (t *memTx) CreateEdge(_ context.Context, e graph.Edge) error {
	if t.closed {
		return errTxClosed
	}
	if !graph.ValidEdgeType(e.Type) {
		return fmt.Errorf("memgraph: create edge %q: %w", e.Type, graph.ErrInvalidEdgeType)
	}
	for _, id := range []graph.NodeID{e.From, e.To} {
		if _, ok := t.st.nodes[id]; !ok {
			return fmt.Errorf("memgraph: create edge %s: endpoint %s: %w", e.Type, id, graph.ErrNotFound)
		}
	}
	e.Props = maps.Clone(e.Props)
	t.st.edges = append(t.st.edges, e)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// State
// ─────────────────────────────────────────────────────────────────────────────

type mergeIndex struct {
	kind graph.Kind
	key  string
}

type state struct {
	nodes map[graph.NodeID]*graph.Node
	merge map[mergeIndex]graph.NodeID
	edges []graph.Edge
}

func newState() *state {
	return &state{
		nodes: make(map[graph.NodeID]*graph.Node),
		merge: make(map[mergeIndex]graph.NodeID),
	}
}

func (s *state) clone() *state {
	c := &state{
		nodes: make(map[graph.NodeID]*graph.Node, len(s.nodes)),
		merge: maps.Clone(s.merge),
		edges: make([]graph.Edge, len(s.edges)),
	}
	for id, n := range s.nodes {
		cp := *n
		cp.Props = maps.Clone(n.Props)
		c.nodes[id] = &cp
	}
	copy(c.edges, s.edges)
	return c
}

func (s *state) insert(kind graph.Kind, mergeKey, name string, props map[string]any, now time.Time) graph.NodeID {
	id := graph.NodeID(uuid.NewString())
	s.nodes[id] = &graph.Node{
		ID:        id,
		Kind:      kind,
		Name:      name,
		MergeKey:  mergeKey,
		Props:     maps.Clone(props),
		CreatedAt: now,
	}
	if mergeKey != "" {
		s.merge[mergeIndex{kind, mergeKey}] = id
	}
	return id
}

func (s *state) get(id graph.NodeID) (*graph.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("memgraph: get node %s: %w", id, graph.ErrNotFound)
	}
	cp := *n
	cp.Props = maps.Clone(n.Props)
	return &cp, nil
}

func (s *state) findNodes(q graph.NodeQuery) []graph.Node {
	needle := strings.ToLower(q.NameContains)
	var out []graph.Node
	for _, n := range s.nodes {
		if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, n.Kind) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(n.Name), needle) {
			continue
		}
		cp := *n
		cp.Props = maps.Clone(n.Props)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b graph.Node) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	limit := q.Limit
	if limit <= 0 {
		limit = graph.DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *state) findEdges(q graph.EdgeQuery) []graph.Edge {
	var out []graph.Edge
	for _, e := range s.edges {
		if q.From != "" && e.From != q.From {
			continue
		}
		if q.To != "" && e.To != q.To {
			continue
		}
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		e.Props = maps.Clone(e.Props)
		out = append(out, e)
	}
	return out
}
