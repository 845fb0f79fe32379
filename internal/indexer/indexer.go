// Package indexer is the single-writer C5: validate → resolve anchor →
// embed → upsert vector → upsert node (§4.5). It is the only component
// allowed to write both stores, grounded on the teacher's
// graphrag.DefaultContextBuilder's phased-orchestration style (each step
// logged, failures attributed to the step that produced them) rather than
// any single teacher write path, since the teacher has no dual-store
// writer of its own.
package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/embed"
	"github.com/nucleus/memg-core/internal/graphstore"
	"github.com/nucleus/memg-core/internal/hrid"
	"github.com/nucleus/memg-core/internal/memgerr"
	"github.com/nucleus/memg-core/internal/schema"
	"github.com/nucleus/memg-core/internal/vectorstore"
)

const vectorCollection = "memories"

// Indexer owns the dual-store write path (§4.5, §5's single-writer rule).
// Callers (C7) are expected to serialize calls through one Indexer per
// process; Indexer itself does not add its own lock, matching the
// teacher's pattern of pushing concurrency policy up to the caller.
type Indexer struct {
	translator *schema.Translator
	embedder   embed.Embedder
	vectors    vectorstore.Store
	graph      graphstore.Store
	hrids      *hrid.Allocator
	log        *slog.Logger
}

// New constructs an Indexer over the given adapters.
func New(translator *schema.Translator, embedder embed.Embedder, vectors vectorstore.Store, graph graphstore.Store, hrids *hrid.Allocator, log *slog.Logger) *Indexer {
	return &Indexer{translator: translator, embedder: embedder, vectors: vectors, graph: graph, hrids: hrids, log: log}
}

// Index persists memory in both stores, allocating id/hrid if absent, and
// returns memory.ID (§4.5). indexTextOverride, if non-empty, replaces the
// schema-resolved anchor text as the embedding input. If m.Vector is
// already populated, embedding is skipped and the supplied vector is reused
// verbatim — the re-embed-only-if-anchor-changed rule of update() (§4.7) is
// expressed by the caller either leaving m.Vector set (reuse) or clearing it
// (force re-embed) before calling Index.
func (idx *Indexer) Index(ctx context.Context, m *domain.Memory, indexTextOverride string) (string, error) {
	anchorText := indexTextOverride
	if anchorText == "" {
		text, err := idx.translator.AnchorText(m)
		if err != nil {
			return "", err
		}
		anchorText = text
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.HRID == "" {
		h, err := idx.hrids.Next(ctx, m.MemoryType, m.UserID)
		if err != nil {
			return "", err
		}
		m.HRID = h
		if err := idx.hrids.Assign(ctx, m.UserID, h, m.ID); err != nil {
			return "", err
		}
	}

	vector := m.Vector
	if len(vector) == 0 {
		v, err := idx.embedder.Embed(ctx, anchorText)
		if err != nil {
			return "", memgerr.Wrap(memgerr.InvalidInputErr, "indexer.Index", err)
		}
		vector = v
	}
	if len(vector) != idx.embedder.Dimension() {
		return "", memgerr.Kindf(memgerr.InvalidInputErr, "indexer.Index",
			"embedder returned vector of length %d, want %d", len(vector), idx.embedder.Dimension())
	}
	m.Vector = vector

	now := m.UpdatedAt
	if now.IsZero() {
		now = timeNow()
	}
	m.UpdatedAt = now
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	vectorPayload := map[string]any{
		"id":               m.ID,
		"hrid":             m.HRID,
		"user_id":          m.UserID,
		"memory_type":      m.MemoryType,
		"tags":             m.Tags,
		"created_at":       m.CreatedAt,
		"updated_at":       m.UpdatedAt,
		"updated_at_unix":  m.UpdatedAt.Unix(),
		"payload":          m.Payload,
	}
	if err := idx.vectors.EnsureCollection(ctx, vectorCollection, idx.embedder.Dimension()); err != nil {
		return "", err
	}
	if err := idx.vectors.Upsert(ctx, vectorCollection, m.ID, vector, vectorPayload); err != nil {
		return "", err
	}

	scalars, err := idx.translator.ProjectScalars(m.MemoryType, m.Payload)
	if err != nil {
		return "", err
	}
	nodeProps := map[string]any{
		"hrid":        m.HRID,
		"memory_type": m.MemoryType,
		"tags":        m.Tags,
		"created_at":  m.CreatedAt,
		"updated_at":  m.UpdatedAt,
	}
	for k, v := range scalars {
		nodeProps[k] = v
	}

	if err := idx.graph.EnsureNodeTable(ctx, m.MemoryType); err != nil {
		idx.log.Error("graph node table ensure failed after vector upsert", "memory_id", m.ID, "error", err)
		return "", memgerr.New(memgerr.PartialWriteErr, "indexer.Index",
			"vector point written but graph node table could not be ensured",
			map[string]string{"vector_point_id": m.ID, "memory_type": m.MemoryType}, err)
	}
	if err := idx.graph.AddNode(ctx, m.MemoryType, m.ID, m.UserID, nodeProps); err != nil {
		idx.log.Error("graph node write failed after vector upsert", "memory_id", m.ID, "error", err)
		return "", memgerr.New(memgerr.PartialWriteErr, "indexer.Index",
			"vector point written but graph node write failed",
			map[string]string{"vector_point_id": m.ID, "memory_type": m.MemoryType}, err)
	}

	return m.ID, nil
}

// timeNow is isolated so tests can observe it's the only source of wall-clock
// reads in this package.
var timeNow = func() time.Time { return time.Now().UTC() }
