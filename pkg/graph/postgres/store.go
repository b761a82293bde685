package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/meetgraph/pkg/graph"
)

var (
	_ graph.Store = (*Store)(nil)
	_ graph.Tx    = (*txImpl)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is a PostgreSQL-backed graph.Store. Safe for concurrent use.
type Store struct {
	reader
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres graph: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres graph: migrate: %w", err)
	}

	return &Store{reader: reader{q: pool}, pool: pool}, nil
}

// WithTx implements graph.Store. The rollback on failure runs with a
// cancellation-free context so an expired request still releases its
// connection cleanly.
func (s *Store) WithTx(ctx context.Context, fn func(tx graph.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres graph: begin: %w", err)
	}
	defer func() { _ = pgtx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&txImpl{reader: reader{q: pgtx}, tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres graph: commit: %w", err)
	}
	return nil
}

// Ping implements graph.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements graph.Store.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

type reader struct {
	q querier
}

const nodeColumns = "id::text, kind, name, coalesce(merge_key, ''), props, created_at"

// GetNode implements graph.Reader.
func (r reader) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	rows, err := r.q.Query(ctx, "SELECT "+nodeColumns+" FROM graph_nodes WHERE id::text = $1", string(id))
	if err != nil {
		return nil, fmt.Errorf("postgres graph: get node: %w", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: get node: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("postgres graph: get node %s: %w", id, graph.ErrNotFound)
	}
	return &nodes[0], nil
}

// FindNodes implements graph.Reader.
func (r reader) FindNodes(ctx context.Context, q graph.NodeQuery) ([]graph.Node, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		conditions = append(conditions, "kind = ANY("+next(kinds)+")")
	}
	if q.NameContains != "" {
		conditions = append(conditions, "name ILIKE "+next("%"+escapeLike(q.NameContains)+"%"))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = graph.DefaultLimit
	}

	sql := "SELECT " + nodeColumns + "\nFROM   graph_nodes"
	if len(conditions) > 0 {
		sql += "\nWHERE " + strings.Join(conditions, "\n  AND ")
	}
	sql += "\nORDER BY name, id\nLIMIT " + next(limit)

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: find nodes: %w", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: find nodes: %w", err)
	}
	return nodes, nil
}

// FindEdges implements graph.Reader.
func (r reader) FindEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if q.From != "" {
		conditions = append(conditions, "source_id::text = "+next(string(q.From)))
	}
	if q.To != "" {
		conditions = append(conditions, "target_id::text = "+next(string(q.To)))
	}
	if q.Type != "" {
		conditions = append(conditions, "rel_type = "+next(string(q.Type)))
	}

	sql := "SELECT source_id::text, target_id::text, rel_type, props\nFROM   graph_edges"
	if len(conditions) > 0 {
		sql += "\nWHERE " + strings.Join(conditions, "\n  AND ")
	}
	sql += "\nORDER BY id"

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: find edges: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Edge, error) {
		var (
			e         graph.Edge
			from, to  string
			rel       string
			propsJSON []byte
		)
		if err := row.Scan(&from, &to, &rel, &propsJSON); err != nil {
			return graph.Edge{}, err
		}
		e.From, e.To, e.Type = graph.NodeID(from), graph.NodeID(to), graph.EdgeType(rel)
		if err := unmarshalProps(propsJSON, &e.Props); err != nil {
			return graph.Edge{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres graph: find edges: %w", err)
	}
	return edges, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

type txImpl struct {
	reader
	tx pgx.Tx
}

// CreateNode implements graph.Tx.
func (t *txImpl) CreateNode(ctx context.Context, kind graph.Kind, name string, props map[string]any) (graph.NodeID, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("postgres graph: create node %q: %w", kind, graph.ErrUnknownKind)
	}
	propsJSON, err := marshalProps(props)
	if err != nil {
		return "", fmt.Errorf("postgres graph: create node: %w", err)
	}

	const q = `
		INSERT INTO graph_nodes (kind, name, props)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id::text`

	var id string
	if err := t.tx.QueryRow(ctx, q, string(kind), name, propsJSON).Scan(&id); err != nil {
		return "", fmt.Errorf("postgres graph: create node: %w", err)
	}
	return graph.NodeID(id), nil
}

// MergeNode implements graph.Tx.
func (t *txImpl) MergeNode(ctx context.Context, kind graph.Kind, mergeKey, name string, props map[string]any) (graph.NodeID, bool, error) {
	if !kind.Valid() {
		return "", false, fmt.Errorf("postgres graph: merge node %q: %w", kind, graph.ErrUnknownKind)
	}
	if mergeKey == "" {
		return "", false, fmt.Errorf("postgres graph: merge node %q: empty merge key", kind)
	}
	propsJSON, err := marshalProps(props)
	if err != nil {
		return "", false, fmt.Errorf("postgres graph: merge node: %w", err)
	}

	const q = `
		WITH ins AS (
		    INSERT INTO graph_nodes (kind, merge_key, name, props)
		    VALUES ($1, $2, $3, $4::jsonb)
		    ON CONFLICT (kind, merge_key) WHERE merge_key IS NOT NULL DO NOTHING
		    RETURNING id
		)
		SELECT id::text, true FROM ins
		UNION ALL
		SELECT id::text, false FROM graph_nodes
		WHERE  kind = $1 AND merge_key = $2 AND NOT EXISTS (SELECT 1 FROM ins)`

	var (
		id      string
		created bool
	)
	if err := t.tx.QueryRow(ctx, q, string(kind), mergeKey, name, propsJSON).Scan(&id, &created); err != nil {
		return "", false, fmt.Errorf("postgres graph: merge node: %w", err)
	}
	return graph.NodeID(id), created, nil
}

// UpdateNode implements graph.Tx. Properties are merged with jsonb ||.
func (t *txImpl) UpdateNode(ctx context.Context, id graph.NodeID, props map[string]any) error {
	propsJSON, err := marshalProps(props)
	if err != nil {
		return fmt.Errorf("postgres graph: update node: %w", err)
	}

	const q = `
		UPDATE graph_nodes
		SET    props = props || $2::jsonb,
		       updated_at = now()
		WHERE  id::text = $1`

	tag, err := t.tx.Exec(ctx, q, string(id), propsJSON)
	if err != nil {
		return fmt.Errorf("postgres graph: update node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres graph: update node %s: %w", id, graph.ErrNotFound)
	}
	return nil
}

// CreateEdge implements graph.Tx.
func (t *txImpl) CreateEdge(ctx context.Context, e graph.Edge) error {
	if !graph.ValidEdgeType(e.Type) {
		return fmt.Errorf("postgres graph: create edge %q: %w", e.Type, graph.ErrInvalidEdgeType)
	}
	propsJSON, err := marshalProps(e.Props)
	if err != nil {
		return fmt.Errorf("postgres graph: create edge: %w", err)
	}

	// The casts run inside the SELECT so malformed ids surface as a missing
	// endpoint rather than a syntax error.
	const q = `
		INSERT INTO graph_edges (source_id, target_id, rel_type, props)
		SELECT s.id, d.id, $3, $4::jsonb
		FROM   graph_nodes s, graph_nodes d
		WHERE  s.id::text = $1 AND d.id::text = $2`

	tag, err := t.tx.Exec(ctx, q, string(e.From), string(e.To), string(e.Type), propsJSON)
	if err != nil {
		return fmt.Errorf("postgres graph: create edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres graph: create edge %s %s->%s: %w", e.Type, e.From, e.To, graph.ErrNotFound)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func collectNodes(rows pgx.Rows) ([]graph.Node, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Node, error) {
		var (
			n         graph.Node
			id, kind  string
			propsJSON []byte
			created   time.Time
		)
		if err := row.Scan(&id, &kind, &n.Name, &n.MergeKey, &propsJSON, &created); err != nil {
			return graph.Node{}, err
		}
		n.ID, n.Kind, n.CreatedAt = graph.NodeID(id), graph.Kind(kind), created
		if err := unmarshalProps(propsJSON, &n.Props); err != nil {
			return graph.Node{}, err
		}
		return n, nil
	})
}

func marshalProps(props map[string]any) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal props: %w", err)
	}
	return b, nil
}

func unmarshalProps(raw []byte, dst *map[string]any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("unmarshal props: %w", err)
		}
	}
	if *dst == nil {
		*dst = map[string]any{}
	}
	return nil
}

// escapeLike escapes ILIKE wildcards so user text matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

