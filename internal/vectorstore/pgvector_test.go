package vectorstore

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/nucleus/memg-core/internal/domain"
)

func TestToVectorLiteral_DimensionMismatch(t *testing.T) {
	if _, err := toVectorLiteral([]float32{1, 2}, 3); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	lit, err := toVectorLiteral([]float32{1.5, -2, 0}, 3)
	if err != nil {
		t.Fatalf("toVectorLiteral: %v", err)
	}
	if lit != "[1.5,-2,0]" {
		t.Fatalf("got %q", lit)
	}
	vec, err := parseVectorLiteral(lit)
	if err != nil {
		t.Fatalf("parseVectorLiteral: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1.5 || vec[1] != -2 || vec[2] != 0 {
		t.Fatalf("got %v", vec)
	}
}

func TestTableName_RejectsInvalidCollectionNames(t *testing.T) {
	if _, err := tableName("memories"); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	for _, bad := range []string{"", "Memories", "mem;DROP TABLE", "1memories"} {
		if _, err := tableName(bad); err == nil {
			t.Errorf("expected rejection of %q", bad)
		}
	}
}

// TestPgVectorStore_UpsertGetSearch runs against a real Postgres instance
// when MEMG_TEST_DATABASE_URL is set; skipped otherwise.
func TestPgVectorStore_UpsertGetSearch(t *testing.T) {
	dsn := os.Getenv("MEMG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEMG_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	store := NewPgVectorStoreFromDB(db, 3)
	ctx := context.Background()
	if err := store.EnsureCollection(ctx, "test_upsert_get", 3); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	if err := store.Upsert(ctx, "test_upsert_get", "p1", []float32{1, 0, 0}, map[string]any{"user_id": "u1", "name": "alpha"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	point, err := store.Get(ctx, "test_upsert_get", "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if point == nil || point.Payload["name"] != "alpha" {
		t.Fatalf("got %+v", point)
	}

	hits, err := store.Search(ctx, "test_upsert_get", []float32{1, 0, 0}, 5, "u1", domain.Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != "p1" {
		t.Fatalf("got %+v", hits)
	}

	if err := store.Delete(ctx, "test_upsert_get", []string{"p1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	point, err = store.Get(ctx, "test_upsert_get", "p1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if point != nil {
		t.Fatalf("expected deleted point to be absent, got %+v", point)
	}
}
