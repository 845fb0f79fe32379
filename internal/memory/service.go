// Package memory is the façade C7: composes the schema translator, HRID
// allocator, indexer and retrieval pipeline behind
// add/get/update/delete/list/add_relationship/delete_relationship (§4.7).
//
// Every operation is a Request/Response struct pair with upfront field
// validation before delegating downstream, mirroring the teacher's
// entity.Service (ResolveEntityRequest/Response, GetEntityRequest/Response,
// ...): validate required fields first, return a typed error immediately,
// only then call into the lower layers.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/graphstore"
	"github.com/nucleus/memg-core/internal/hrid"
	"github.com/nucleus/memg-core/internal/indexer"
	"github.com/nucleus/memg-core/internal/memgerr"
	"github.com/nucleus/memg-core/internal/retrieval"
	"github.com/nucleus/memg-core/internal/schema"
	"github.com/nucleus/memg-core/internal/vectorstore"
)

// Service composes C1-C6 behind the memory-store façade (§4.7).
type Service struct {
	translator *schema.Translator
	indexer    *indexer.Indexer
	pipeline   *retrieval.Pipeline
	vectors    vectorstore.Store
	graph      graphstore.Store
	hrids      *hrid.Allocator
	log        *slog.Logger
}

// New constructs a Service over the given components.
func New(translator *schema.Translator, idx *indexer.Indexer, pipeline *retrieval.Pipeline, vectors vectorstore.Store, graph graphstore.Store, hrids *hrid.Allocator, log *slog.Logger) *Service {
	return &Service{translator: translator, indexer: idx, pipeline: pipeline, vectors: vectors, graph: graph, hrids: hrids, log: log}
}

// AddRequest is the add() contract's input (§4.7).
type AddRequest struct {
	UserID     string
	MemoryType string
	Payload    map[string]any
	Tags       []string
}

// AddResponse wraps the created memory.
type AddResponse struct {
	Memory *domain.Memory
}

// Add validates payload → allocates HRID → indexes → returns the full
// memory (§4.7). Rejects unknown types and system-field injections via
// Translator.ValidatePayload.
func (s *Service) Add(ctx context.Context, req *AddRequest) (*AddResponse, error) {
	if req.UserID == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.Add", "user_id is required")
	}
	if req.MemoryType == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.Add", "memory_type is required")
	}

	cleaned, err := s.translator.ValidatePayload(req.MemoryType, req.Payload)
	if err != nil {
		return nil, err
	}

	if ref, ok := cleaned["source_ref"].(string); ok && ref != "" {
		existing, err := s.findBySourceRef(ctx, req.UserID, req.MemoryType, ref)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &AddResponse{Memory: existing}, nil
		}
	}

	m := &domain.Memory{
		UserID:     req.UserID,
		MemoryType: strings.ToLower(req.MemoryType),
		Payload:    cleaned,
		Tags:       req.Tags,
		IsValid:    true,
	}
	if _, err := s.indexer.Index(ctx, m, ""); err != nil {
		return nil, err
	}
	return &AddResponse{Memory: m}, nil
}

// findBySourceRef is the idempotent-create guard (§4.8, generalized from
// the teacher's entity.entityHasSourceRef exact-match check): if a node of
// this type already carries the given source_ref for this user, Add()
// returns it instead of creating a duplicate.
func (s *Service) findBySourceRef(ctx context.Context, userID, memoryType, ref string) (*domain.Memory, error) {
	nodes, err := s.graph.ListNodes(ctx, strings.ToLower(memoryType), userID,
		domain.Filter{Exact: map[string]any{"source_ref": ref}}, 0, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	n := nodes[0]
	h, _ := n.Properties["hrid"].(string)
	return nodeToMemory(memoryType, h, &n), nil
}

// GetRequest is the get() contract's input (§4.7).
type GetRequest struct {
	UserID string
	HRID   string
}

// GetResponse wraps the resolved memory.
type GetResponse struct {
	Memory *domain.Memory
}

// Get resolves hrid then reads from the graph; falls back to the vector
// payload if the graph is unavailable (§4.7).
func (s *Service) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if req.UserID == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.Get", "user_id is required")
	}
	if req.HRID == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.Get", "hrid is required")
	}

	memoryType, err := hrid.Type(req.HRID)
	if err != nil {
		return nil, err
	}
	id, err := s.hrids.Resolve(ctx, req.UserID, req.HRID)
	if err != nil {
		return nil, err
	}

	node, err := s.graph.GetNode(ctx, memoryType, id)
	if err == nil && node != nil {
		return &GetResponse{Memory: nodeToMemory(memoryType, req.HRID, node)}, nil
	}
	if err != nil && memgerr.Of(err) != memgerr.DatabaseError {
		return nil, err
	}
	if err != nil {
		s.log.Warn("graph unavailable on get, falling back to vector payload", "hrid", req.HRID, "error", err)
	}

	point, verr := s.vectors.Get(ctx, "memories", id)
	if verr != nil {
		return nil, verr
	}
	if point == nil {
		return nil, memgerr.Kindf(memgerr.NotFoundErr, "memory.Get", "memory %q not found", req.HRID)
	}
	payload, _ := point.Payload["payload"].(map[string]any)
	return &GetResponse{Memory: &domain.Memory{ID: id, HRID: req.HRID, UserID: req.UserID, MemoryType: memoryType, Payload: payload}}, nil
}

func nodeToMemory(memoryType, h string, n *graphstore.Node) *domain.Memory {
	props := make(map[string]any, len(n.Properties))
	m := &domain.Memory{ID: n.ID, HRID: h, UserID: n.UserID, MemoryType: memoryType}
	for k, v := range n.Properties {
		switch k {
		case "hrid", "memory_type":
			continue
		case "tags":
			m.Tags = toStringSlice(v)
		case "created_at":
			m.CreatedAt = parseTimestamp(v)
		case "updated_at":
			m.UpdatedAt = parseTimestamp(v)
		default:
			props[k] = v
		}
	}
	m.Payload = props
	return m
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpdateRequest is the update() contract's input (§4.7).
type UpdateRequest struct {
	UserID string
	HRID   string
	Patch  map[string]any
}

// UpdateResponse wraps the patched memory.
type UpdateResponse struct {
	Memory *domain.Memory
}

// Update patch-merges into the existing payload, re-validates, re-resolves
// the anchor, re-embeds only if the anchor text changed, and updates the
// node directly rather than delete+add (§4.7).
func (s *Service) Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error) {
	if req.UserID == "" || req.HRID == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.Update", "user_id and hrid are required")
	}

	current, err := s.Get(ctx, &GetRequest{UserID: req.UserID, HRID: req.HRID})
	if err != nil {
		return nil, err
	}
	m := current.Memory

	oldAnchor, err := s.translator.AnchorText(m)
	if err != nil {
		return nil, err
	}
	if point, err := s.vectors.Get(ctx, "memories", m.ID); err == nil && point != nil {
		m.Vector = point.Vector
	}

	merged := make(map[string]any, len(m.Payload)+len(req.Patch))
	for k, v := range m.Payload {
		merged[k] = v
	}
	for k, v := range req.Patch {
		merged[k] = v
	}
	cleaned, err := s.translator.ValidatePayload(m.MemoryType, merged)
	if err != nil {
		return nil, err
	}
	m.Payload = cleaned

	newAnchor, err := s.translator.AnchorText(m)
	if err != nil {
		return nil, err
	}
	if newAnchor != oldAnchor {
		m.Vector = nil // force re-embed; Index reuses m.Vector when already set
	}
	m.UpdatedAt = time.Time{} // force Index to advance updated_at; created_at is untouched

	// Index's AddNode upserts the full node (hrid, memory_type, tags,
	// created_at, updated_at, scalars) by id; a follow-up UpdateNode here
	// would overwrite that complete properties blob with just `cleaned`,
	// losing created_at/tags on the next Get. Index alone is the node write.
	if _, err := s.indexer.Index(ctx, m, ""); err != nil {
		return nil, err
	}
	return &UpdateResponse{Memory: m}, nil
}

// DeleteRequest is the delete() contract's input (§4.7).
type DeleteRequest struct {
	UserID string
	HRID   string
}

// Delete removes the node (and edges), then the vector point, then frees
// the HRID mapping (§4.7). Idempotent.
func (s *Service) Delete(ctx context.Context, req *DeleteRequest) error {
	if req.UserID == "" || req.HRID == "" {
		return memgerr.Kindf(memgerr.ValidationError, "memory.Delete", "user_id and hrid are required")
	}
	memoryType, err := hrid.Type(req.HRID)
	if err != nil {
		return err
	}
	id, err := s.hrids.Resolve(ctx, req.UserID, req.HRID)
	if memgerr.Of(err) == memgerr.NotFoundErr {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.graph.DeleteNode(ctx, memoryType, id); err != nil {
		return err
	}
	if err := s.vectors.Delete(ctx, "memories", []string{id}); err != nil {
		return err
	}
	return s.hrids.Forget(ctx, req.UserID, req.HRID)
}

// ListRequest is the list() contract's input (§4.7).
type ListRequest struct {
	UserID             string
	MemoryType         string
	Filters            domain.Filter
	ModifiedWithinDays int
	Limit              int
	Offset             int
	ExpandNeighbors    bool
	NeighborCap        int
}

// List executes via the graph path for efficient filtering/pagination, with
// optional neighbor expansion (§4.7).
func (s *Service) List(ctx context.Context, req *ListRequest) ([]domain.SearchResult, error) {
	if req.UserID == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.List", "user_id is required")
	}
	if req.MemoryType == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.List", "memory_type is required")
	}
	neighborCap := 0
	if req.ExpandNeighbors {
		neighborCap = req.NeighborCap
	}
	return s.pipeline.Search(ctx, retrieval.Request{
		UserID:             req.UserID,
		MemoType:           req.MemoryType,
		Filters:            req.Filters,
		ModifiedWithinDays: req.ModifiedWithinDays,
		Limit:              req.Limit,
		Mode:               retrieval.ModeGraph,
		NeighborCap:        neighborCap,
	})
}

// Search runs the retrieval pipeline for a free-text query scoped to
// user_id (§4.6/§4.7). Only Query and UserID are set, so automatic mode
// selection picks the vector path; an empty query is a ValidationError.
func (s *Service) Search(ctx context.Context, query, userID string) ([]domain.SearchResult, error) {
	if userID == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "memory.Search", "user_id is required")
	}
	return s.pipeline.Search(ctx, retrieval.Request{Query: query, UserID: userID})
}

// RelationshipRequest is the add_relationship()/delete_relationship()
// contract's input (§4.7). FromType/ToType are inferred from the HRID
// prefix when empty.
type RelationshipRequest struct {
	UserID    string
	FromHRID  string
	ToHRID    string
	Predicate string
	FromType  string
	ToType    string
}

// AddRelationship infers missing types from HRID prefix, verifies the
// schema allows (from_type, predicate, to_type), verifies both nodes belong
// to user_id, ensures the edge table, and adds the edge. Duplicate edges
// are idempotent (§4.7).
func (s *Service) AddRelationship(ctx context.Context, req *RelationshipRequest) error {
	fromType, toType, fromID, toID, err := s.resolveRelationshipEndpoints(ctx, req)
	if err != nil {
		return err
	}
	if !s.translator.RelationAllowed(fromType, req.Predicate, toType) {
		return memgerr.Kindf(memgerr.SchemaError, "memory.AddRelationship",
			"relation (%s, %s, %s) is not declared in the schema", fromType, req.Predicate, toType)
	}
	if err := s.graph.EnsureEdgeTable(ctx, fromType, req.Predicate, toType); err != nil {
		return err
	}
	return s.graph.AddEdge(ctx, fromType, toType, req.Predicate, fromID, toID, nil)
}

// DeleteRelationship mirrors AddRelationship; absence is not an error
// (§4.7).
func (s *Service) DeleteRelationship(ctx context.Context, req *RelationshipRequest) error {
	fromType, toType, fromID, toID, err := s.resolveRelationshipEndpoints(ctx, req)
	if err != nil {
		return err
	}
	return s.graph.DeleteEdge(ctx, fromType, toType, req.Predicate, fromID, toID)
}

func (s *Service) resolveRelationshipEndpoints(ctx context.Context, req *RelationshipRequest) (fromType, toType, fromID, toID string, err error) {
	if req.UserID == "" || req.FromHRID == "" || req.ToHRID == "" || req.Predicate == "" {
		return "", "", "", "", memgerr.Kindf(memgerr.ValidationError, "memory.relationship",
			"user_id, from_hrid, to_hrid and predicate are required")
	}
	fromType = req.FromType
	if fromType == "" {
		fromType, err = hrid.Type(req.FromHRID)
		if err != nil {
			return
		}
	}
	toType = req.ToType
	if toType == "" {
		toType, err = hrid.Type(req.ToHRID)
		if err != nil {
			return
		}
	}
	fromID, err = s.hrids.Resolve(ctx, req.UserID, req.FromHRID)
	if err != nil {
		return
	}
	toID, err = s.hrids.Resolve(ctx, req.UserID, req.ToHRID)
	if err != nil {
		return
	}
	return fromType, toType, fromID, toID, nil
}
