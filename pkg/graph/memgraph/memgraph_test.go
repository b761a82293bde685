package memgraph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/meetgraph/pkg/graph"
	"github.com/MrWong99/meetgraph/pkg/graph/memgraph"
)

func TestWithTx_CommitAndReadBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()

	var meeting, person graph.NodeID
	err := s.WithTx(ctx, func(tx graph.Tx) error {
		var err error
		meeting, err = tx.CreateNode(ctx, graph.KindMeeting, "Weekly sync", map[string]any{"date": "2026-03-02"})
		if err != nil {
			return err
		}
		person, _, err = tx.MergeNode(ctx, graph.KindPerson, "staff:carlos", "Carlos Silva", nil)
		if err != nil {
			return err
		}
		return tx.CreateEdge(ctx, graph.Edge{From: person, To: meeting, Type: graph.EdgeParticipatedIn})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	n, err := s.GetNode(ctx, meeting)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Props["date"] != "2026-03-02" {
		t.Errorf("date = %v", n.Props["date"])
	}
	edges, _ := s.FindEdges(ctx, graph.EdgeQuery{To: meeting, Type: graph.EdgeParticipatedIn})
	if len(edges) != 1 || edges[0].From != person {
		t.Errorf("edges = %+v", edges)
	}
}

func TestWithTx_RollbackDiscardsEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx graph.Tx) error {
		if _, err := tx.CreateNode(ctx, graph.KindMeeting, "m", nil); err != nil {
			return err
		}
		// Own writes are visible inside the transaction.
		got, err := tx.FindNodes(ctx, graph.NodeQuery{Kinds: []graph.Kind{graph.KindMeeting}})
		if err != nil || len(got) != 1 {
			t.Errorf("in-tx FindNodes = %v, %v", got, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	nodes, _ := s.FindNodes(ctx, graph.NodeQuery{})
	if len(nodes) != 0 {
		t.Errorf("rollback left %d nodes", len(nodes))
	}
}

func TestMergeNode_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()

	var first, second graph.NodeID
	var created1, created2 bool
	for i, dst := range []*graph.NodeID{&first, &second} {
		err := s.WithTx(ctx, func(tx graph.Tx) error {
			id, created, err := tx.MergeNode(ctx, graph.KindPerson, "staff:maria", "Maria Santos", map[string]any{"role": "PM"})
			*dst = id
			if i == 0 {
				created1 = created
			} else {
				created2 = created
			}
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if first != second {
		t.Errorf("merge produced two ids: %s, %s", first, second)
	}
	if !created1 || created2 {
		t.Errorf("created flags = %v, %v; want true, false", created1, created2)
	}
}

func TestCreateEdge_MissingEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()
	err := s.WithTx(ctx, func(tx graph.Tx) error {
		id, err := tx.CreateNode(ctx, graph.KindTask, "t", nil)
		if err != nil {
			return err
		}
		return tx.CreateEdge(ctx, graph.Edge{From: id, To: "nope", Type: graph.EdgeExtractedFrom})
	})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateNode_UnknownKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()
	err := s.WithTx(ctx, func(tx graph.Tx) error {
		_, err := tx.CreateNode(ctx, graph.Kind("Robot) DETACH DELETE n //"), "x", nil)
		return err
	})
	if !errors.Is(err, graph.ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestFindNodes_Filters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()
	_ = s.WithTx(ctx, func(tx graph.Tx) error {
		_, _ = tx.CreateNode(ctx, graph.KindOrganization, "Acme Corporation", nil)
		_, _ = tx.CreateNode(ctx, graph.KindTool, "Acme Deploy", nil)
		_, _ = tx.CreateNode(ctx, graph.KindOrganization, "Globex", nil)
		return nil
	})

	got, _ := s.FindNodes(ctx, graph.NodeQuery{NameContains: "ACME"})
	if len(got) != 2 {
		t.Fatalf("NameContains ACME = %d nodes, want 2", len(got))
	}
	if got[0].Name != "Acme Corporation" {
		t.Errorf("ordering: first = %q", got[0].Name)
	}
	got, _ = s.FindNodes(ctx, graph.NodeQuery{NameContains: "acme", Kinds: []graph.Kind{graph.KindTool}})
	if len(got) != 1 || got[0].Kind != graph.KindTool {
		t.Errorf("kind filter = %+v", got)
	}
	got, _ = s.FindNodes(ctx, graph.NodeQuery{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit = %d nodes", len(got))
	}
}

func TestTx_UseAfterClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memgraph.New()
	var leaked graph.Tx
	_ = s.WithTx(ctx, func(tx graph.Tx) error {
		leaked = tx
		return nil
	})
	if _, err := leaked.CreateNode(ctx, graph.KindTask, "late", nil); err == nil {
		t.Error("expected error using a closed transaction")
	}
}
