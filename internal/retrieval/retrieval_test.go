package retrieval

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/embed"
	"github.com/nucleus/memg-core/internal/graphstore"
	"github.com/nucleus/memg-core/internal/memgerr"
	"github.com/nucleus/memg-core/internal/schema"
	"github.com/nucleus/memg-core/internal/vectorstore"
)

const testRegistry = `
version: "1"
entities:
  - name: note
    anchor: body
    fields:
      body:
        type: string
        required: true
relations:
  - name: annotates
    directed: true
    predicates: [ANNOTATES]
    source: note
    target: note
`

func loadTestTranslator(t *testing.T) *schema.Translator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(testRegistry), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	tr, err := schema.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return tr
}

func silentLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeVectorStore struct {
	hits []vectorstore.Hit
	err  error
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error { return nil }
func (f *fakeVectorStore) Upsert(ctx context.Context, collection, pointID string, vector []float32, payload map[string]any) error {
	return nil
}
func (f *fakeVectorStore) Get(ctx context.Context, collection, pointID string) (*vectorstore.Point, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, collection string, pointIDs []string) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, userID string, filters domain.Filter) ([]vectorstore.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeGraphStore struct {
	nodes     []graphstore.Node
	neighbors map[string][]graphstore.NeighborRow
	listErr   error
}

func (f *fakeGraphStore) EnsureNodeTable(ctx context.Context, nodeType string) error { return nil }
func (f *fakeGraphStore) AddNode(ctx context.Context, nodeType, id, userID string, properties map[string]any) error {
	return nil
}
func (f *fakeGraphStore) UpdateNode(ctx context.Context, nodeType, id string, properties map[string]any) error {
	return nil
}
func (f *fakeGraphStore) GetNode(ctx context.Context, nodeType, id string) (*graphstore.Node, error) {
	return nil, nil
}
func (f *fakeGraphStore) DeleteNode(ctx context.Context, nodeType, id string) error { return nil }
func (f *fakeGraphStore) ListNodes(ctx context.Context, nodeType, userID string, filters domain.Filter, modifiedWithinDays, limit, offset int) ([]graphstore.Node, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.nodes, nil
}
func (f *fakeGraphStore) EnsureEdgeTable(ctx context.Context, sourceType, predicate, targetType string) error {
	return nil
}
func (f *fakeGraphStore) AddEdge(ctx context.Context, sourceType, targetType, predicate, fromID, toID string, props map[string]any) error {
	return nil
}
func (f *fakeGraphStore) DeleteEdge(ctx context.Context, sourceType, targetType, predicate, fromID, toID string) error {
	return nil
}
func (f *fakeGraphStore) Neighbors(ctx context.Context, nodeType, nodeID string, predicates []string, direction domain.EdgeDirection, limit int, neighborType string) ([]graphstore.NeighborRow, error) {
	return f.neighbors[nodeID], nil
}
func (f *fakeGraphStore) Close() error { return nil }

func constantEmbedder(dim int) embed.Embedder {
	return embed.Func{Dim: dim, Fn: func(ctx context.Context, text string) ([]float32, error) {
		return make([]float32, dim), nil
	}}
}

func TestSearch_NoQueryNoFilterIsValidationError(t *testing.T) {
	p := New(loadTestTranslator(t), constantEmbedder(2), &fakeVectorStore{}, &fakeGraphStore{}, silentLogger())
	_, err := p.Search(context.Background(), Request{UserID: "u1"})
	if memgerr.Of(err) != memgerr.ValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSearch_VectorModeDefaultsWhenQueryGiven(t *testing.T) {
	vectors := &fakeVectorStore{hits: []vectorstore.Hit{
		{ID: "m1", Score: 0.9, Payload: map[string]any{"hrid": "NOTE_AAA000", "user_id": "u1", "memory_type": "note", "payload": map[string]any{"body": "hi"}}},
	}}
	p := New(loadTestTranslator(t), constantEmbedder(2), vectors, &fakeGraphStore{}, silentLogger())
	results, err := p.Search(context.Background(), Request{Query: "hi", UserID: "u1", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Source != domain.SourceVector {
		t.Fatalf("got %+v", results)
	}
}

func TestSearch_GraphOutageFallsBackToVector(t *testing.T) {
	vectors := &fakeVectorStore{hits: []vectorstore.Hit{
		{ID: "m1", Score: 0.7, Payload: map[string]any{"hrid": "NOTE_AAA000", "user_id": "u1", "memory_type": "note", "payload": map[string]any{"body": "hi"}}},
	}}
	graph := &fakeGraphStore{listErr: memgerr.Kindf(memgerr.DatabaseError, "fake", "graph unreachable")}
	p := New(loadTestTranslator(t), constantEmbedder(2), vectors, graph, silentLogger())
	results, err := p.Search(context.Background(), Request{Query: "hi", UserID: "u1", Mode: ModeGraph, MemoType: "note"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Source != domain.SourceVector {
		t.Fatalf("expected vector-only fallback result, got %+v", results)
	}
}

func TestSearch_DeterministicOrderingOnTiedScores(t *testing.T) {
	vectors := &fakeVectorStore{hits: []vectorstore.Hit{
		{ID: "b", Score: 0.5, Payload: map[string]any{"hrid": "NOTE_AAB000", "user_id": "u1", "memory_type": "note"}},
		{ID: "a", Score: 0.5, Payload: map[string]any{"hrid": "NOTE_AAA000", "user_id": "u1", "memory_type": "note"}},
	}}
	p := New(loadTestTranslator(t), constantEmbedder(2), vectors, &fakeGraphStore{}, silentLogger())
	results, err := p.Search(context.Background(), Request{Query: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Memory.ID != "a" || results[1].Memory.ID != "b" {
		t.Fatalf("expected hrid_to_index tiebreak order [a,b], got %+v", results)
	}
}

func TestSearch_NeighborExpansionAppliesDecay(t *testing.T) {
	vectors := &fakeVectorStore{hits: []vectorstore.Hit{
		{ID: "seed", Score: 0.8, Payload: map[string]any{"hrid": "NOTE_AAA000", "user_id": "u1", "memory_type": "note"}},
	}}
	graph := &fakeGraphStore{neighbors: map[string][]graphstore.NeighborRow{
		"seed": {{NeighborID: "nbr", Properties: map[string]any{"hrid": "NOTE_AAB000"}, RelationType: "ANNOTATES"}},
	}}
	p := New(loadTestTranslator(t), constantEmbedder(2), vectors, graph, silentLogger())
	results, err := p.Search(context.Background(), Request{Query: "hi", UserID: "u1", NeighborCap: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected seed + neighbor, got %+v", results)
	}
	var nbr *domain.SearchResult
	for i := range results {
		if results[i].Memory.ID == "nbr" {
			nbr = &results[i]
		}
	}
	if nbr == nil {
		t.Fatalf("neighbor not present in results: %+v", results)
	}
	want := 0.8 * neighborDecay
	if nbr.Score != want {
		t.Fatalf("got decayed score %v, want %v", nbr.Score, want)
	}
	if nbr.Source != domain.NeighborSource("ANNOTATES") {
		t.Fatalf("got source %q", nbr.Source)
	}
}
