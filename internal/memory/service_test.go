package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/graphstore"
	"github.com/nucleus/memg-core/internal/memgerr"
	"github.com/nucleus/memg-core/internal/schema"
)

// fakeGraphStore stubs only ListNodes, the one graphstore.Store method
// findBySourceRef (§4.8) depends on.
type fakeGraphStore struct {
	graphstore.Store
	nodes []graphstore.Node
}

func (f *fakeGraphStore) ListNodes(ctx context.Context, nodeType, userID string, filters domain.Filter, modifiedWithinDays, limit, offset int) ([]graphstore.Node, error) {
	return f.nodes, nil
}

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

const testRegistryWithSourceRef = `
version: "1"
entities:
  - name: note
    anchor: body
    fields:
      body:
        type: string
        required: true
      source_ref:
        type: string
        required: false
`

func loadTestTranslatorWithSourceRef(t *testing.T) *schema.Translator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(testRegistryWithSourceRef), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	tr, err := schema.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return tr
}

// Most tests below exercise the façade's upfront-validation paths (§4.7),
// which return before any adapter I/O; TestAdd_IdempotentOnMatchingSourceRef
// also reaches the graph store, through the ListNodes stub above.

func TestAdd_RejectsMissingUserID(t *testing.T) {
	s := New(loadTestTranslator(t), nil, nil, nil, nil, nil, nil)
	_, err := s.Add(context.Background(), &AddRequest{MemoryType: "note", Payload: map[string]any{"body": "hi"}})
	if memgerr.Of(err) != memgerr.ValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAdd_RejectsUnknownType(t *testing.T) {
	s := New(loadTestTranslator(t), nil, nil, nil, nil, nil, nil)
	_, err := s.Add(context.Background(), &AddRequest{UserID: "u1", MemoryType: "bogus", Payload: map[string]any{}})
	if memgerr.Of(err) != memgerr.SchemaError {
		t.Fatalf("expected SchemaError for unknown type, got %v", err)
	}
}

func TestAdd_RejectsSystemFieldInjection(t *testing.T) {
	s := New(loadTestTranslator(t), nil, nil, nil, nil, nil, nil)
	_, err := s.Add(context.Background(), &AddRequest{
		UserID: "u1", MemoryType: "note",
		Payload: map[string]any{"body": "hi", "created_at": "2020-01-01"},
	})
	if memgerr.Of(err) != memgerr.ValidationError {
		t.Fatalf("expected ValidationError for unknown/system field, got %v", err)
	}
}

func TestGet_RequiresHRID(t *testing.T) {
	s := New(loadTestTranslator(t), nil, nil, nil, nil, nil, nil)
	_, err := s.Get(context.Background(), &GetRequest{UserID: "u1"})
	if memgerr.Of(err) != memgerr.ValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDelete_RejectsMalformedHRID(t *testing.T) {
	s := New(loadTestTranslator(t), nil, nil, nil, nil, nil, nil)
	err := s.Delete(context.Background(), &DeleteRequest{UserID: "u1", HRID: "not-an-hrid"})
	if memgerr.Of(err) != memgerr.InvalidInputErr {
		t.Fatalf("expected InvalidInput for malformed hrid, got %v", err)
	}
}

func TestAdd_IdempotentOnMatchingSourceRef(t *testing.T) {
	tr := loadTestTranslatorWithSourceRef(t)
	existing := graphstore.Node{
		ID: "existing-id", UserID: "u1",
		Properties: map[string]any{"hrid": "NOTE_AAA000", "body": "hi", "source_ref": "ext-1"},
	}
	fg := &fakeGraphStore{nodes: []graphstore.Node{existing}}
	s := New(tr, nil, nil, nil, fg, nil, nil)

	resp, err := s.Add(context.Background(), &AddRequest{
		UserID: "u1", MemoryType: "note",
		Payload: map[string]any{"body": "hi", "source_ref": "ext-1"},
	})
	if err != nil {
		t.Fatalf("expected idempotent hit, got error: %v", err)
	}
	if resp.Memory.HRID != "NOTE_AAA000" {
		t.Fatalf("expected existing memory returned, got %+v", resp.Memory)
	}
}

func TestAddRelationship_RequiresAllFields(t *testing.T) {
	s := New(loadTestTranslator(t), nil, nil, nil, nil, nil, nil)
	err := s.AddRelationship(context.Background(), &RelationshipRequest{UserID: "u1", FromHRID: "NOTE_AAA000"})
	if memgerr.Of(err) != memgerr.ValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
