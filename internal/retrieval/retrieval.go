// Package retrieval is the GraphRAG query pipeline C6: mode selection,
// vector/graph/hybrid search, graph-outage fallback, single-hop neighbor
// expansion, projection, and the deterministic stable sort (§4.6).
//
// The hybrid path's "keep the higher score" merge and the neighbor
// expansion's BFS shape are both grounded on the teacher's
// graphrag.DefaultContextBuilder.BuildContext and graphrag.DefaultExpander —
// see SPEC_FULL.md §4.6 for why this module departs from the teacher's
// Reciprocal Rank Fusion and multi-hop traversal.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/embed"
	"github.com/nucleus/memg-core/internal/graphstore"
	"github.com/nucleus/memg-core/internal/hrid"
	"github.com/nucleus/memg-core/internal/memgerr"
	"github.com/nucleus/memg-core/internal/schema"
	"github.com/nucleus/memg-core/internal/vectorstore"
)

// Mode selects which backing store(s) a search consults (§4.6).
type Mode string

const (
	ModeVector Mode = "vector"
	ModeGraph  Mode = "graph"
	ModeHybrid Mode = "hybrid"
)

// neighborDecay is the fixed decay constant a neighbor's inherited score is
// multiplied by (§4.6, §9's resolved open question). Fixed at 0.85 rather
// than the illustrative 0.9: a neighbor never scores above the seed it came
// from, and its inherited score reaches 0.5 (the default
// MEMG_SCORE_THRESHOLD) only when the seed scores above 0.5/0.85, about 0.59.
const neighborDecay = 0.85

// Request is the C6 contract's input (§4.6).
type Request struct {
	Query              string
	UserID             string
	Limit              int
	Filters            domain.Filter
	MemoType           string
	ModifiedWithinDays int
	Mode               Mode
	RelationNames      []string
	NeighborCap        int
	IncludeDetails     string // "none" | "self"
	Projection         map[string][]string
}

// Pipeline executes searches over the vector and graph adapters (§4.6).
type Pipeline struct {
	translator *schema.Translator
	embedder   embed.Embedder
	vectors    vectorstore.Store
	graph      graphstore.Store
	log        *slog.Logger
}

const vectorCollection = "memories"

// New constructs a Pipeline over the given adapters.
func New(translator *schema.Translator, embedder embed.Embedder, vectors vectorstore.Store, graph graphstore.Store, log *slog.Logger) *Pipeline {
	return &Pipeline{translator: translator, embedder: embedder, vectors: vectors, graph: graph, log: log}
}

// Search executes req and returns a stably sorted result list (§4.6).
func (p *Pipeline) Search(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	mode, err := p.resolveMode(req)
	if err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	var results []domain.SearchResult
	switch mode {
	case ModeVector:
		results, err = p.searchVector(ctx, req)
		if err != nil {
			return nil, err
		}
	case ModeGraph:
		results, err = p.searchGraphWithFallback(ctx, req)
		if err != nil {
			return nil, err
		}
	case ModeHybrid:
		results, err = p.searchHybrid(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	// Sort before seeding neighbor expansion: seeds must be the top-ranked
	// results (§4.6), and searchHybrid's map-based merge makes its output
	// order otherwise nondeterministic across runs.
	stableSort(results)

	if req.NeighborCap > 0 && p.graph != nil {
		results = p.expandNeighbors(ctx, req, results)
	}

	results = p.project(req, results)
	stableSort(results)
	return results, nil
}

func (p *Pipeline) resolveMode(req Request) (Mode, error) {
	if req.Mode != "" {
		return req.Mode, nil
	}
	if req.Query != "" {
		return ModeVector, nil
	}
	if req.MemoType != "" || req.ModifiedWithinDays > 0 {
		return ModeGraph, nil
	}
	return "", memgerr.Kindf(memgerr.ValidationError, "retrieval.resolveMode", "no query and no structural filter: nothing to search on")
}

func (p *Pipeline) buildFilters(req Request) domain.Filter {
	f := domain.Filter{
		Exact:  map[string]any{},
		AnyOf:  map[string][]any{},
		Ranges: append([]domain.RangeFilter(nil), req.Filters.Ranges...),
	}
	for k, v := range req.Filters.Exact {
		f.Exact[k] = v
	}
	for k, v := range req.Filters.AnyOf {
		f.AnyOf[k] = v
	}
	if req.MemoType != "" {
		f.Exact["memory_type"] = req.MemoType
	}
	if req.ModifiedWithinDays > 0 {
		cutoff := float64(time.Now().UTC().AddDate(0, 0, -req.ModifiedWithinDays).Unix())
		f.Ranges = append(f.Ranges, domain.RangeFilter{Field: "updated_at_unix", GTE: &cutoff})
	}
	return f
}

func (p *Pipeline) searchVector(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	vec, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.InvalidInputErr, "retrieval.searchVector", err)
	}
	hits, err := p.vectors.Search(ctx, vectorCollection, vec, req.Limit, req.UserID, p.buildFilters(req))
	if err != nil {
		return nil, err
	}
	out := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.SearchResult{
			Memory: memoryFromVectorPayload(h.ID, h.Payload),
			Score:  h.Score,
			Source: domain.SourceVector,
		})
	}
	return out, nil
}

func (p *Pipeline) searchGraph(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	nodeType := req.MemoType
	if nodeType == "" {
		return nil, memgerr.Kindf(memgerr.ValidationError, "retrieval.searchGraph", "graph search requires memo_type when no relation-bearing seed is given")
	}
	nodes, err := p.graph.ListNodes(ctx, nodeType, req.UserID, req.Filters, req.ModifiedWithinDays, req.Limit, 0)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SearchResult, 0, len(nodes))
	if req.Query == "" {
		for _, n := range nodes {
			out = append(out, domain.SearchResult{Memory: memoryFromNode(nodeType, n), Score: 1.0, Source: domain.SourceGraph})
		}
		return out, nil
	}

	vec, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.InvalidInputErr, "retrieval.searchGraph", err)
	}
	ids := make([]any, 0, len(nodes))
	byID := make(map[string]graphstore.Node, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
		byID[n.ID] = n
	}
	filters := domain.Filter{Exact: map[string]any{}, AnyOf: map[string][]any{"id": ids}}
	hits, err := p.vectors.Search(ctx, vectorCollection, vec, len(ids), req.UserID, filters)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		n, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, domain.SearchResult{Memory: memoryFromNode(nodeType, n), Score: h.Score, Source: domain.SourceGraph})
	}
	return out, nil
}

// searchGraphWithFallback runs searchGraph and, on a DatabaseError (the
// graph is unreachable), falls back to the vector path silently — the
// teacher's BuildContext idiom of logging a phase failure and continuing
// with degraded results (§4.6). The fallback needs req.Query to embed;
// without a query the DatabaseError is returned.
func (p *Pipeline) searchGraphWithFallback(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	results, err := p.searchGraph(ctx, req)
	if err == nil {
		return results, nil
	}
	if memgerr.Of(err) != memgerr.DatabaseError {
		return nil, err
	}
	p.log.Warn("graph search unavailable, falling back to vector-only", "error", err)
	if req.Query == "" {
		return nil, err
	}
	return p.searchVector(ctx, req)
}

func (p *Pipeline) searchHybrid(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	var wg sync.WaitGroup
	var vectorResults, graphResults []domain.SearchResult
	var vectorErr, graphErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = p.searchVector(ctx, req)
	}()
	go func() {
		defer wg.Done()
		graphResults, graphErr = p.searchGraphWithFallback(ctx, req)
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, vectorErr
	}
	if graphErr != nil && memgerr.Of(graphErr) != memgerr.DatabaseError {
		return nil, graphErr
	}

	merged := make(map[string]domain.SearchResult, len(vectorResults)+len(graphResults))
	for _, r := range vectorResults {
		r.Source = domain.SourceHybrid
		merged[r.Memory.ID] = r
	}
	for _, r := range graphResults {
		r.Source = domain.SourceHybrid
		existing, ok := merged[r.Memory.ID]
		if !ok || r.Score > existing.Score {
			merged[r.Memory.ID] = r
		}
	}

	out := make([]domain.SearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	return out, nil
}

// expandNeighbors fetches single-hop neighbors for each of the top
// req.NeighborCap seeds and merges them into results, inheriting a
// decayed score unless the neighbor is already present with a higher one
// (§4.6).
func (p *Pipeline) expandNeighbors(ctx context.Context, req Request, results []domain.SearchResult) []domain.SearchResult {
	relationNames := req.RelationNames
	if len(relationNames) == 0 {
		relationNames = p.translator.RelationNames()
	}

	byID := make(map[string]int, len(results))
	for i, r := range results {
		byID[r.Memory.ID] = i
	}

	seedCount := req.NeighborCap
	if seedCount > len(results) {
		seedCount = len(results)
	}
	for i := 0; i < seedCount; i++ {
		seed := results[i]
		neighbors, err := p.graph.Neighbors(ctx, seed.Memory.MemoryType, seed.Memory.ID, relationNames, domain.DirectionAny, req.NeighborCap, "")
		if err != nil {
			p.log.Warn("neighbor expansion failed for seed", "seed_id", seed.Memory.ID, "error", err)
			continue
		}
		for _, n := range neighbors {
			score := seed.Score * neighborDecay
			source := domain.NeighborSource(n.RelationType)
			if idx, ok := byID[n.NeighborID]; ok {
				if results[idx].Score < score {
					results[idx].Score = score
				}
				continue
			}
			nm := memoryFromNode("", graphstore.Node{ID: n.NeighborID, Properties: n.Properties})
			results = append(results, domain.SearchResult{Memory: nm, Score: score, Source: source})
			byID[n.NeighborID] = len(results) - 1
		}
	}
	return results
}

// project trims each result's payload to what include_details permits
// (§4.6).
func (p *Pipeline) project(req Request, results []domain.SearchResult) []domain.SearchResult {
	for i := range results {
		m := results[i].Memory
		if m == nil {
			continue
		}
		switch req.IncludeDetails {
		case "none":
			none := &domain.Memory{ID: m.ID, HRID: m.HRID, UserID: m.UserID, MemoryType: m.MemoryType}
			if field, err := p.translator.AnchorField(m.MemoryType); err == nil {
				if anchor, ok := m.Payload[field]; ok {
					none.Payload = map[string]any{field: anchor}
				}
			}
			results[i].Memory = none
		case "self", "":
			allowed, ok := req.Projection[m.MemoryType]
			if !ok || len(allowed) == 0 {
				continue
			}
			trimmed := make(map[string]any, len(allowed))
			for _, field := range allowed {
				if v, present := m.Payload[field]; present {
					trimmed[field] = v
				}
			}
			cp := *m
			cp.Payload = trimmed
			results[i].Memory = &cp
		}
	}
	return results
}

// stableSort orders results by score desc, hrid_to_index asc, id asc (§4.6).
func stableSort(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ai, aerr := hrid.ToIndex(a.Memory.HRID)
		bi, berr := hrid.ToIndex(b.Memory.HRID)
		if aerr == nil && berr == nil && ai != bi {
			return ai < bi
		}
		return a.Memory.ID < b.Memory.ID
	})
}

func memoryFromVectorPayload(id string, payload map[string]any) *domain.Memory {
	m := &domain.Memory{ID: id}
	if v, ok := payload["hrid"].(string); ok {
		m.HRID = v
	}
	if v, ok := payload["user_id"].(string); ok {
		m.UserID = v
	}
	if v, ok := payload["memory_type"].(string); ok {
		m.MemoryType = v
	}
	if v, ok := payload["payload"].(map[string]any); ok {
		m.Payload = v
	}
	return m
}

func memoryFromNode(nodeType string, n graphstore.Node) *domain.Memory {
	m := &domain.Memory{ID: n.ID, UserID: n.UserID, MemoryType: nodeType, Payload: n.Properties}
	if v, ok := n.Properties["hrid"].(string); ok {
		m.HRID = v
	}
	if nodeType == "" {
		if v, ok := n.Properties["memory_type"].(string); ok {
			m.MemoryType = v
		}
	}
	return m
}
