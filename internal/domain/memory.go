// Package domain holds the core record types shared across every
// component (§3): Memory, SearchResult, and the filter vocabulary the
// retrieval pipeline and adapters exchange.
package domain

import "time"

// Memory is the persisted record (§3).
type Memory struct {
	ID           string
	HRID         string
	UserID       string
	MemoryType   string
	Payload      map[string]any
	Tags         []string
	Vector       []float32
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsValid      bool
	Supersedes   string
	SupersededBy string
}

// Get reads a validated payload field, reporting whether it was present.
// This is the "explicit map + typed accessor" replacement for attribute-
// style dynamic access (§9).
func (m *Memory) Get(field string) (any, bool) {
	if m.Payload == nil {
		return nil, false
	}
	v, ok := m.Payload[field]
	return v, ok
}

// Source tags where a SearchResult came from (§3).
const (
	SourceVector = "vector"
	SourceGraph  = "graph"
	SourceHybrid = "hybrid"
)

// NeighborSource formats the "neighbor:<predicate>" source tag (§4.6).
func NeighborSource(predicate string) string {
	return "neighbor:" + predicate
}

// SearchResult is one ranked hit returned by the retrieval pipeline (§3).
type SearchResult struct {
	Memory   *Memory
	Score    float64
	Distance *float64
	Source   string
	Metadata map[string]string
}

// RangeFilter expresses gt/gte/lt/lte bounds on a numeric or datetime field
// (§4.3).
type RangeFilter struct {
	Field string
	GT    *float64
	GTE   *float64
	LT    *float64
	LTE   *float64
}

// Filter is the conjunction of constraints the vector and graph adapters
// evaluate (§4.3/§4.4): exact match, "any of" list match, and ranges.
type Filter struct {
	Exact  map[string]any
	AnyOf  map[string][]any
	Ranges []RangeFilter
}

// EdgeDirection mirrors the teacher's graphrag.EdgeDirection enum, reused
// here for neighbor traversal direction (§4.4).
type EdgeDirection int

const (
	DirectionAny EdgeDirection = iota
	DirectionOutgoing
	DirectionIncoming
)
