// Package graphstore is the thin adapter C4: dynamic node/edge tables,
// filtered node listing, neighbor fetch, delete (§4.4); it offers no
// free-form query method. It generalizes the
// teacher's entity.PostgresEntityRegistry — one JSONB-backed table per
// entity type with transactional CRUD — into a dynamic-schema graph store
// with per-(source,predicate,target) edge tables named SOURCE_PREDICATE_
// TARGET (§4.1) so the same predicate can connect different type pairs
// without collision.
package graphstore

import (
	"context"

	"github.com/nucleus/memg-core/internal/domain"
)

// Node is a row from a node table.
type Node struct {
	ID         string
	UserID     string
	Properties map[string]any
}

// NeighborRow is one neighbor returned by Neighbors (§4.4).
type NeighborRow struct {
	NeighborID   string
	Properties   map[string]any
	RelationType string
}

// Store is the graph store adapter contract (§4.4).
type Store interface {
	// EnsureNodeTable dynamically creates the node table for type on first
	// use.
	EnsureNodeTable(ctx context.Context, nodeType string) error

	// AddNode upserts a node by id.
	AddNode(ctx context.Context, nodeType string, id, userID string, properties map[string]any) error

	// UpdateNode directly updates properties; must not touch id/user_id/
	// created_at.
	UpdateNode(ctx context.Context, nodeType, id string, properties map[string]any) error

	// GetNode returns the node, or (nil, nil) if absent.
	GetNode(ctx context.Context, nodeType, id string) (*Node, error)

	// DeleteNode deletes the node and all edges incident to it across every
	// known edge table touching nodeType.
	DeleteNode(ctx context.Context, nodeType, id string) error

	// ListNodes returns up to limit nodes for userID, optionally filtered
	// by type/filters/modifiedWithinDays, ordered by updated_at desc.
	ListNodes(ctx context.Context, nodeType, userID string, filters domain.Filter, modifiedWithinDays int, limit, offset int) ([]Node, error)

	// EnsureEdgeTable idempotently creates the canonical
	// SOURCE_PREDICATE_TARGET table.
	EnsureEdgeTable(ctx context.Context, sourceType, predicate, targetType string) error

	// AddEdge inserts the edge; idempotent (duplicate add is a no-op).
	AddEdge(ctx context.Context, sourceType, targetType, predicate, fromID, toID string, props map[string]any) error

	// DeleteEdge removes the edge; absence is not an error.
	DeleteEdge(ctx context.Context, sourceType, targetType, predicate, fromID, toID string) error

	// Neighbors returns neighbor rows of nodeID, honoring direction and an
	// optional predicate/type filter.
	Neighbors(ctx context.Context, nodeType, nodeID string, predicates []string, direction domain.EdgeDirection, limit int, neighborType string) ([]NeighborRow, error)

	Close() error
}
