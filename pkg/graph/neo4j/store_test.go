package neo4j_test

import (
	"context"
	"errors"
	"os"
	"testing"

	driver "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/MrWong99/meetgraph/pkg/graph"
	neo4jgraph "github.com/MrWong99/meetgraph/pkg/graph/neo4j"
)

// newTestStore connects to the database named by MEETGRAPH_TEST_NEO4J_URL
// after wiping it, or skips the test.
func newTestStore(t *testing.T) *neo4jgraph.Store {
	t.Helper()
	url := os.Getenv("MEETGRAPH_TEST_NEO4J_URL")
	if url == "" {
		t.Skip("MEETGRAPH_TEST_NEO4J_URL not set, skipping Neo4j integration tests")
	}
	cfg := neo4jgraph.Config{
		URL:      url,
		User:     os.Getenv("MEETGRAPH_TEST_NEO4J_USER"),
		Password: os.Getenv("MEETGRAPH_TEST_NEO4J_PASSWORD"),
	}
	ctx := context.Background()

	d, err := driver.NewDriverWithContext(cfg.URL, driver.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	session := d.NewSession(ctx, driver.SessionConfig{AccessMode: driver.AccessModeWrite})
	if _, err := session.Run(ctx, "MATCH (n:GraphNode) DETACH DELETE n", nil); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	_ = session.Close(ctx)
	_ = d.Close(ctx)

	store, err := neo4jgraph.NewStore(ctx, cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store
}

func TestStore_CommitRollbackMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var meeting, person graph.NodeID
	err := store.WithTx(ctx, func(tx graph.Tx) error {
		var err error
		if meeting, err = tx.CreateNode(ctx, graph.KindMeeting, "Kickoff", nil); err != nil {
			return err
		}
		if person, _, err = tx.MergeNode(ctx, graph.KindPerson, "roster:carlos", "Carlos Silva", nil); err != nil {
			return err
		}
		if err := tx.CreateEdge(ctx, graph.Edge{From: person, To: meeting, Type: graph.EdgeParticipatedIn, Props: map[string]any{"confidence": 1.0}}); err != nil {
			return err
		}
		return tx.UpdateNode(ctx, meeting, map[string]any{"participant_count": 1})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	n, err := store.GetNode(ctx, meeting)
	if err != nil {
		t.Fatal(err)
	}
	if n.Props["participant_count"] != float64(1) {
		t.Errorf("participant_count = %v", n.Props["participant_count"])
	}

	// Merge again inside a transaction that is then rolled back.
	boom := errors.New("boom")
	err = store.WithTx(ctx, func(tx graph.Tx) error {
		id, created, err := tx.MergeNode(ctx, graph.KindPerson, "roster:carlos", "Carlos Silva", nil)
		if err != nil {
			return err
		}
		if created || id != person {
			t.Errorf("merge = %s, %v; want %s, false", id, created, person)
		}
		if _, err := tx.CreateNode(ctx, graph.KindTask, "Doomed", nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	tasks, err := store.FindNodes(ctx, graph.NodeQuery{Kinds: []graph.Kind{graph.KindTask}})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("rollback left %d task nodes", len(tasks))
	}

	edges, err := store.FindEdges(ctx, graph.EdgeQuery{To: meeting, Type: graph.EdgeParticipatedIn})
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].Props["confidence"] != 1.0 {
		t.Errorf("edges = %+v", edges)
	}
}
