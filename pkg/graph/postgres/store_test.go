package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/meetgraph/pkg/graph"
	"github.com/MrWong99/meetgraph/pkg/graph/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if MEETGRAPH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MEETGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEETGRAPH_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS graph_edges CASCADE",
		"DROP TABLE IF EXISTS graph_nodes CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store
}

func TestStore_CommitAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var meeting, task graph.NodeID
	err := store.WithTx(ctx, func(tx graph.Tx) error {
		var err error
		meeting, err = tx.CreateNode(ctx, graph.KindMeeting, "Kickoff", map[string]any{"topic_tags": []string{"a", "b"}})
		if err != nil {
			return err
		}
		task, err = tx.CreateNode(ctx, graph.KindTask, "Revisar cronograma", map[string]any{"origin": "meeting_ingestion"})
		if err != nil {
			return err
		}
		if err := tx.CreateEdge(ctx, graph.Edge{From: task, To: meeting, Type: graph.EdgeExtractedFrom}); err != nil {
			return err
		}
		return tx.UpdateNode(ctx, meeting, map[string]any{"ingestion_status": "completed"})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	n, err := store.GetNode(ctx, meeting)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Props["ingestion_status"] != "completed" {
		t.Errorf("ingestion_status = %v", n.Props["ingestion_status"])
	}
	if tags, _ := n.Props["topic_tags"].([]any); len(tags) != 2 {
		t.Errorf("topic_tags = %v", n.Props["topic_tags"])
	}

	edges, err := store.FindEdges(ctx, graph.EdgeQuery{From: task, Type: graph.EdgeExtractedFrom})
	if err != nil {
		t.Fatalf("FindEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].To != meeting {
		t.Errorf("edges = %+v", edges)
	}

	found, err := store.FindNodes(ctx, graph.NodeQuery{NameContains: "cronograma", Kinds: []graph.Kind{graph.KindTask}})
	if err != nil {
		t.Fatalf("FindNodes: %v", err)
	}
	if len(found) != 1 || found[0].ID != task {
		t.Errorf("FindNodes = %+v", found)
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx graph.Tx) error {
		if _, err := tx.CreateNode(ctx, graph.KindMeeting, "Doomed", nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	nodes, err := store.FindNodes(ctx, graph.NodeQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Errorf("rollback left %d nodes", len(nodes))
	}
}

func TestStore_MergeNode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	merge := func() (graph.NodeID, bool) {
		var (
			id      graph.NodeID
			created bool
		)
		err := store.WithTx(ctx, func(tx graph.Tx) error {
			var err error
			id, created, err = tx.MergeNode(ctx, graph.KindPerson, "roster:maria", "Maria Santos", nil)
			return err
		})
		if err != nil {
			t.Fatalf("MergeNode: %v", err)
		}
		return id, created
	}
	id1, c1 := merge()
	id2, c2 := merge()
	if id1 != id2 {
		t.Errorf("ids differ: %s vs %s", id1, id2)
	}
	if !c1 || c2 {
		t.Errorf("created = %v, %v; want true, false", c1, c2)
	}
}

func TestStore_EdgeToMissingNode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx graph.Tx) error {
		id, err := tx.CreateNode(ctx, graph.KindTask, "t", nil)
		if err != nil {
			return err
		}
		return tx.CreateEdge(ctx, graph.Edge{From: id, To: "not-a-uuid", Type: graph.EdgeExtractedFrom})
	})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFindNodes_LiteralWildcards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.WithTx(ctx, func(tx graph.Tx) error {
		_, _ = tx.CreateNode(ctx, graph.KindConcept, "100% uptime", nil)
		_, _ = tx.CreateNode(ctx, graph.KindConcept, "1000 users", nil)
		return nil
	})
	got, err := store.FindNodes(ctx, graph.NodeQuery{NameContains: "100%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("wildcard not escaped: %d matches", len(got))
	}
}
