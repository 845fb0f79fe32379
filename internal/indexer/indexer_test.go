package indexer

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

type fakeVectorStore struct {
	upserted map[string][]float32
	fail     bool
}

func newFakeVectorStore() *fakeVectorStore { return &fakeVectorStore{upserted: map[string][]float32{}} }

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error { return nil }
func (f *fakeVectorStore) Upsert(ctx context.Context, collection, pointID string, vector []float32, payload map[string]any) error {
	if f.fail {
		return memgerr.Kindf(memgerr.DatabaseError, "fake", "upsert failed")
	}
	f.upserted[pointID] = vector
	return nil
}
func (f *fakeVectorStore) Get(ctx context.Context, collection, pointID string) (*vectorstore.Point, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, collection string, pointIDs []string) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, userID string, filters domain.Filter) ([]vectorstore.Hit, error) {
	return nil, nil
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeGraphStore struct {
	nodes map[string]map[string]any
	fail  bool
}

func newFakeGraphStore() *fakeGraphStore { return &fakeGraphStore{nodes: map[string]map[string]any{}} }

func (f *fakeGraphStore) EnsureNodeTable(ctx context.Context, nodeType string) error { return nil }
func (f *fakeGraphStore) AddNode(ctx context.Context, nodeType, id, userID string, properties map[string]any) error {
	if f.fail {
		return memgerr.Kindf(memgerr.DatabaseError, "fake", "add node failed")
	}
	f.nodes[id] = properties
	return nil
}
func (f *fakeGraphStore) UpdateNode(ctx context.Context, nodeType, id string, properties map[string]any) error {
	f.nodes[id] = properties
	return nil
}
func (f *fakeGraphStore) GetNode(ctx context.Context, nodeType, id string) (*graphstore.Node, error) {
	props, ok := f.nodes[id]
	if !ok {
		return nil, nil
	}
	return &graphstore.Node{ID: id, Properties: props}, nil
}
func (f *fakeGraphStore) DeleteNode(ctx context.Context, nodeType, id string) error {
	delete(f.nodes, id)
	return nil
}
func (f *fakeGraphStore) ListNodes(ctx context.Context, nodeType, userID string, filters domain.Filter, modifiedWithinDays, limit, offset int) ([]graphstore.Node, error) {
	return nil, nil
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
	return nil, nil
}
func (f *fakeGraphStore) Close() error { return nil }

type fakeAllocator struct {
	next int
}

func constantEmbedder(dim int) embed.Embedder {
	return embed.Func{Dim: dim, Fn: func(ctx context.Context, text string) ([]float32, error) {
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(len(text)) / float32(i+1)
		}
		return v, nil
	}}
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndex_PersistsVectorAndNode(t *testing.T) {
	tr := loadTestTranslator(t)
	vectors := newFakeVectorStore()
	graph := newFakeGraphStore()

	idx := &Indexer{
		translator: tr,
		embedder:   constantEmbedder(4),
		vectors:    vectors,
		graph:      graph,
		hrids:      nil,
		log:        silentLogger(),
	}

	m := &domain.Memory{
		ID:         "fixed-id",
		HRID:       "NOTE_AAA000",
		UserID:     "u1",
		MemoryType: "note",
		Payload:    map[string]any{"body": "hello world"},
	}

	id, err := idx.Index(context.Background(), m, "")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if id != "fixed-id" {
		t.Fatalf("got id %q", id)
	}
	if _, ok := vectors.upserted["fixed-id"]; !ok {
		t.Fatalf("expected vector point to be upserted")
	}
	props, ok := graph.nodes["fixed-id"]
	if !ok {
		t.Fatalf("expected graph node to be written")
	}
	if props["body"] != "hello world" {
		t.Fatalf("expected scalar projection to include body, got %+v", props)
	}
	if _, isVec := props["vector"]; isVec {
		t.Fatalf("vector must not be stored on the graph node")
	}
}

func TestIndex_EmptyAnchorRejected(t *testing.T) {
	tr := loadTestTranslator(t)
	idx := &Indexer{
		translator: tr,
		embedder:   constantEmbedder(4),
		vectors:    newFakeVectorStore(),
		graph:      newFakeGraphStore(),
		log:        silentLogger(),
	}
	m := &domain.Memory{UserID: "u1", MemoryType: "note", Payload: map[string]any{"body": "   "}}
	if _, err := idx.Index(context.Background(), m, ""); memgerr.Of(err) != memgerr.ValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestIndex_GraphFailureSurfacesPartialWrite(t *testing.T) {
	tr := loadTestTranslator(t)
	vectors := newFakeVectorStore()
	graph := newFakeGraphStore()
	graph.fail = true

	idx := &Indexer{
		translator: tr,
		embedder:   constantEmbedder(4),
		vectors:    vectors,
		graph:      graph,
		log:        silentLogger(),
	}
	m := &domain.Memory{ID: "fixed-id-2", HRID: "NOTE_AAA001", UserID: "u1", MemoryType: "note", Payload: map[string]any{"body": "hi"}}

	_, err := idx.Index(context.Background(), m, "")
	if memgerr.Of(err) != memgerr.PartialWriteErr {
		t.Fatalf("expected PartialWriteError, got %v", err)
	}
	if _, ok := vectors.upserted["fixed-id-2"]; !ok {
		t.Fatalf("expected vector point to have been written before the graph failure")
	}
}
