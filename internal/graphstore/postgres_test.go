package graphstore

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/nucleus/memg-core/internal/domain"
)

func TestNodeTableName_RejectsInvalidType(t *testing.T) {
	if _, err := nodeTableName("note"); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	for _, bad := range []string{"", "note;DROP TABLE", "1note"} {
		if _, err := nodeTableName(bad); err == nil {
			t.Errorf("expected rejection of %q", bad)
		}
	}
}

func TestEdgeTableName_PerPairNaming(t *testing.T) {
	name, err := edgeTableName("note", "annotates", "task")
	if err != nil {
		t.Fatalf("edgeTableName: %v", err)
	}
	if name != `"NOTE_ANNOTATES_TASK"` {
		t.Fatalf("got %q", name)
	}
}

func TestInferValueType(t *testing.T) {
	cases := map[any]string{
		true:        "BOOLEAN",
		int(1):      "INT64",
		float64(1):  "DOUBLE",
		"a string":  "STRING",
	}
	for v, want := range cases {
		if got := inferValueType(v); got != want {
			t.Errorf("inferValueType(%v) = %s, want %s", v, got, want)
		}
	}
}

// TestPostgresStore_NodeAndEdgeLifecycle runs against a real Postgres
// instance when MEMG_TEST_DATABASE_URL is set; skipped otherwise.
func TestPostgresStore_NodeAndEdgeLifecycle(t *testing.T) {
	dsn := os.Getenv("MEMG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEMG_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	store := NewPostgresStoreFromDB(db)
	ctx := context.Background()

	if err := store.AddNode(ctx, "note", "n1", "u1", map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := store.AddNode(ctx, "task", "t1", "u1", map[string]any{"title": "do it"}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := store.AddEdge(ctx, "note", "task", "annotates", "n1", "t1", nil); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	node, err := store.GetNode(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if node == nil || node.Properties["title"] != "hello" {
		t.Fatalf("got %+v", node)
	}

	neighbors, err := store.Neighbors(ctx, "note", "n1", nil, domain.DirectionOutgoing, 10, "")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].NeighborID != "t1" {
		t.Fatalf("got %+v", neighbors)
	}

	if err := store.DeleteNode(ctx, "note", "n1"); err != nil {
		t.Fatalf("delete node: %v", err)
	}
	node, err = store.GetNode(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if node != nil {
		t.Fatalf("expected deleted node to be absent, got %+v", node)
	}
}
