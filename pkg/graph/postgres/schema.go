// Package postgres provides a PostgreSQL-backed implementation of graph.Store.
//
// Nodes and edges live in two tables sharing a single [pgxpool.Pool]. Each
// [Store.WithTx] call maps to exactly one pgx transaction. Node ids are UUIDs
// generated by the database (gen_random_uuid, PostgreSQL 13+).
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close(ctx)
//
//	err = store.WithTx(ctx, func(tx graph.Tx) error {
//	    id, err := tx.CreateNode(ctx, graph.KindMeeting, "Weekly sync", props)
//	    …
//	})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL: knowledge graph nodes and edges
// ─────────────────────────────────────────────────────────────────────────────

const ddlNodes = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    id          UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    kind        TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    merge_key   TEXT,
    props       JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_nodes_merge
    ON graph_nodes (kind, merge_key) WHERE merge_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_graph_nodes_kind ON graph_nodes (kind);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_lower_name ON graph_nodes (lower(name));
`

const ddlEdges = `
CREATE TABLE IF NOT EXISTS graph_edges (
    id          BIGSERIAL    PRIMARY KEY,
    source_id   UUID         NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
    target_id   UUID         NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
    rel_type    TEXT         NOT NULL,
    props       JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges (source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges (target_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_type   ON graph_edges (rel_type);
`

// Migrate creates the graph tables and indexes. It is idempotent and safe to
// call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlNodes, ddlEdges} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
