// Package neo4j provides a Neo4j-backed implementation of graph.Store.
//
// Every node carries the common label GraphNode plus its kind label, a
// store-generated id (randomUUID()), and its free-form properties serialised
// as one JSON string property. Kind and edge labels are validated against
// graph.Kinds and graph.ValidEdgeType before interpolation into Cypher.
//
// Each [Store.WithTx] call is one explicit transaction
// (session.BeginTransaction, tx.Run, tx.Commit); an error from the callback
// closes the transaction without committing, which rolls it back.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/MrWong99/meetgraph/pkg/graph"
)

var (
	_ graph.Store = (*Store)(nil)
	_ graph.Tx    = (*txImpl)(nil)
)

// Config holds connection settings.
type Config struct {
	URL      string
	User     string
	Password string

	// Database selects a named database. Empty uses the server default.
	Database string
}

// Store is a Neo4j-backed graph.Store. Safe for concurrent use.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStore connects to Neo4j, verifies connectivity and ensures the id
// constraint and lookup indexes exist.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j graph: verify connectivity: %w", err)
	}

	s := &Store{driver: driver, database: cfg.Database}
	if err := s.migrate(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j graph: migrate: %w", err)
	}
	return s, nil
}

var schemaStatements = []string{
	"CREATE CONSTRAINT graph_node_id IF NOT EXISTS FOR (n:GraphNode) REQUIRE n.id IS UNIQUE",
	"CREATE INDEX graph_node_merge IF NOT EXISTS FOR (n:GraphNode) ON (n.kind, n.merge_key)",
	"CREATE INDEX graph_node_name IF NOT EXISTS FOR (n:GraphNode) ON (n.name)",
}

func (s *Store) migrate(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return err
		}
		if _, err := res.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// GetNode implements graph.Reader.
func (s *Store) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	return readWith(ctx, s, func(r runner) (*graph.Node, error) { return getNode(ctx, r, id) })
}

// FindNodes implements graph.Reader.
func (s *Store) FindNodes(ctx context.Context, q graph.NodeQuery) ([]graph.Node, error) {
	return readWith(ctx, s, func(r runner) ([]graph.Node, error) { return findNodes(ctx, r, q) })
}

// FindEdges implements graph.Reader.
func (s *Store) FindEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	return readWith(ctx, s, func(r runner) ([]graph.Edge, error) { return findEdges(ctx, r, q) })
}

func readWith[T any](ctx context.Context, s *Store, fn func(r runner) (T, error)) (T, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return fn(tx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

// WithTx implements graph.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx graph.Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(context.WithoutCancel(ctx))

	ntx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4j graph: begin: %w", err)
	}
	// Close rolls back when the transaction is still open.
	defer func() { _ = ntx.Close(context.WithoutCancel(ctx)) }()

	if err := fn(&txImpl{run: ntx}); err != nil {
		return err
	}
	if err := ntx.Commit(ctx); err != nil {
		return fmt.Errorf("neo4j graph: commit: %w", err)
	}
	return nil
}

// Ping implements graph.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close implements graph.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Transaction
// ─────────────────────────────────────────────────────────────────────────────

// runner is satisfied by both neo4j.ExplicitTransaction and
// neo4j.ManagedTransaction.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

type txImpl struct {
	run runner
}

func (t *txImpl) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	return getNode(ctx, t.run, id)
}

func (t *txImpl) FindNodes(ctx context.Context, q graph.NodeQuery) ([]graph.Node, error) {
	return findNodes(ctx, t.run, q)
}

func (t *txImpl) FindEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	return findEdges(ctx, t.run, q)
}

func (t *txImpl) CreateNode(ctx context.Context, kind graph.Kind, name string, props map[string]any) (graph.NodeID, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("neo4j graph: create node %q: %w", kind, graph.ErrUnknownKind)
	}
	propsJSON, err := marshalProps(props)
	if err != nil {
		return "", fmt.Errorf("neo4j graph: create node: %w", err)
	}

	cypher := `
		CREATE (n:GraphNode:` + string(kind) + ` {id: randomUUID(), kind: $kind, name: $name, props: $props, created_at: $now})
		RETURN n.id AS id`
	records, err := collect(ctx, t.run, cypher, map[string]any{
		"kind":  string(kind),
		"name":  name,
		"props": propsJSON,
		"now":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("neo4j graph: create node: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("neo4j graph: create node: no id returned")
	}
	return graph.NodeID(stringField(records[0], "id")), nil
}

func (t *txImpl) MergeNode(ctx context.Context, kind graph.Kind, mergeKey, name string, props map[string]any) (graph.NodeID, bool, error) {
	if !kind.Valid() {
		return "", false, fmt.Errorf("neo4j graph: merge node %q: %w", kind, graph.ErrUnknownKind)
	}
	if mergeKey == "" {
		return "", false, fmt.Errorf("neo4j graph: merge node %q: empty merge key", kind)
	}

	records, err := collect(ctx, t.run, `
		MATCH (n:GraphNode {kind: $kind, merge_key: $key})
		RETURN n.id AS id LIMIT 1`,
		map[string]any{"kind": string(kind), "key": mergeKey})
	if err != nil {
		return "", false, fmt.Errorf("neo4j graph: merge node: %w", err)
	}
	if len(records) > 0 {
		return graph.NodeID(stringField(records[0], "id")), false, nil
	}

	propsJSON, err := marshalProps(props)
	if err != nil {
		return "", false, fmt.Errorf("neo4j graph: merge node: %w", err)
	}
	cypher := `
		CREATE (n:GraphNode:` + string(kind) + ` {id: randomUUID(), kind: $kind, merge_key: $key, name: $name, props: $props, created_at: $now})
		RETURN n.id AS id`
	records, err = collect(ctx, t.run, cypher, map[string]any{
		"kind":  string(kind),
		"key":   mergeKey,
		"name":  name,
		"props": propsJSON,
		"now":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", false, fmt.Errorf("neo4j graph: merge node: %w", err)
	}
	if len(records) == 0 {
		return "", false, fmt.Errorf("neo4j graph: merge node: no id returned")
	}
	return graph.NodeID(stringField(records[0], "id")), true, nil
}

func (t *txImpl) UpdateNode(ctx context.Context, id graph.NodeID, props map[string]any) error {
	n, err := getNode(ctx, t.run, id)
	if err != nil {
		return err
	}
	merged := maps.Clone(n.Props)
	maps.Copy(merged, props)
	propsJSON, err := marshalProps(merged)
	if err != nil {
		return fmt.Errorf("neo4j graph: update node: %w", err)
	}
	if _, err := collect(ctx, t.run, `
		MATCH (n:GraphNode {id: $id})
		SET n.props = $props`,
		map[string]any{"id": string(id), "props": propsJSON}); err != nil {
		return fmt.Errorf("neo4j graph: update node: %w", err)
	}
	return nil
}

func (t *txImpl) CreateEdge(ctx context.Context, e graph.Edge) error {
	if !graph.ValidEdgeType(e.Type) {
		return fmt.Errorf("neo4j graph: create edge %q: %w", e.Type, graph.ErrInvalidEdgeType)
	}
	propsJSON, err := marshalProps(e.Props)
	if err != nil {
		return fmt.Errorf("neo4j graph: create edge: %w", err)
	}
	cypher := `
		MATCH (a:GraphNode {id: $from}), (b:GraphNode {id: $to})
		CREATE (a)-[r:` + string(e.Type) + ` {props: $props}]->(b)
		RETURN count(r) AS created`
	records, err := collect(ctx, t.run, cypher, map[string]any{
		"from":  string(e.From),
		"to":    string(e.To),
		"props": propsJSON,
	})
	if err != nil {
		return fmt.Errorf("neo4j graph: create edge: %w", err)
	}
	if len(records) == 0 || intField(records[0], "created") == 0 {
		return fmt.Errorf("neo4j graph: create edge %s %s->%s: %w", e.Type, e.From, e.To, graph.ErrNotFound)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared queries
// ─────────────────────────────────────────────────────────────────────────────

const nodeReturn = `RETURN n.id AS id, n.kind AS kind, n.name AS name,
		       coalesce(n.merge_key, '') AS merge_key, n.props AS props, n.created_at AS created_at`

func getNode(ctx context.Context, r runner, id graph.NodeID) (*graph.Node, error) {
	records, err := collect(ctx, r, "MATCH (n:GraphNode {id: $id})\n"+nodeReturn, map[string]any{"id": string(id)})
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: get node: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("neo4j graph: get node %s: %w", id, graph.ErrNotFound)
	}
	n, err := toNode(records[0])
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: get node: %w", err)
	}
	return &n, nil
}

func findNodes(ctx context.Context, r runner, q graph.NodeQuery) ([]graph.Node, error) {
	kinds := make([]string, len(q.Kinds))
	for i, k := range q.Kinds {
		kinds[i] = string(k)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = graph.DefaultLimit
	}

	records, err := collect(ctx, r, `
		MATCH (n:GraphNode)
		WHERE (size($kinds) = 0 OR n.kind IN $kinds)
		  AND ($q = '' OR toLower(n.name) CONTAINS toLower($q))
		`+nodeReturn+`
		ORDER BY name, id
		LIMIT $limit`,
		map[string]any{"kinds": kinds, "q": q.NameContains, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: find nodes: %w", err)
	}

	nodes := make([]graph.Node, 0, len(records))
	for _, rec := range records {
		n, err := toNode(rec)
		if err != nil {
			return nil, fmt.Errorf("neo4j graph: find nodes: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func findEdges(ctx context.Context, r runner, q graph.EdgeQuery) ([]graph.Edge, error) {
	records, err := collect(ctx, r, `
		MATCH (a:GraphNode)-[r]->(b:GraphNode)
		WHERE ($from = '' OR a.id = $from)
		  AND ($to = '' OR b.id = $to)
		  AND ($type = '' OR type(r) = $type)
		RETURN a.id AS from, b.id AS to, type(r) AS type, r.props AS props`,
		map[string]any{"from": string(q.From), "to": string(q.To), "type": string(q.Type)})
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: find edges: %w", err)
	}

	edges := make([]graph.Edge, 0, len(records))
	for _, rec := range records {
		e := graph.Edge{
			From: graph.NodeID(stringField(rec, "from")),
			To:   graph.NodeID(stringField(rec, "to")),
			Type: graph.EdgeType(stringField(rec, "type")),
		}
		if err := unmarshalProps(stringField(rec, "props"), &e.Props); err != nil {
			return nil, fmt.Errorf("neo4j graph: find edges: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// collect runs cypher and drains the result before returning.
func collect(ctx context.Context, r runner, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := r.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var records []*neo4j.Record
	for res.Next(ctx) {
		records = append(records, res.Record())
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func toNode(rec *neo4j.Record) (graph.Node, error) {
	n := graph.Node{
		ID:       graph.NodeID(stringField(rec, "id")),
		Kind:     graph.Kind(stringField(rec, "kind")),
		Name:     stringField(rec, "name"),
		MergeKey: stringField(rec, "merge_key"),
	}
	if ts := stringField(rec, "created_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			n.CreatedAt = t
		}
	}
	if err := unmarshalProps(stringField(rec, "props"), &n.Props); err != nil {
		return graph.Node{}, err
	}
	return n, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intField(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	i, _ := v.(int64)
	return i
}

func marshalProps(props map[string]any) (string, error) {
	if props == nil {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshal props: %w", err)
	}
	return string(b), nil
}

func unmarshalProps(raw string, dst *map[string]any) error {
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("unmarshal props: %w", err)
		}
	}
	if *dst == nil {
		*dst = map[string]any{}
	}
	return nil
}
