// Package vectorstore is the thin adapter C3: collection lifecycle, upsert,
// filtered cosine search, get, delete (§4.3). Payloads are opaque to the
// core; this adapter round-trips arbitrary JSON-able maps.
package vectorstore

import (
	"context"

	"github.com/nucleus/memg-core/internal/domain"
)

// Point is a stored vector entry as returned by Get.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one ranked result from Search.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Store is the vector store adapter contract (§4.3).
type Store interface {
	// EnsureCollection idempotently creates the named collection with the
	// given dimension and cosine metric.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert inserts or replaces the point with pointID.
	Upsert(ctx context.Context, collection, pointID string, vector []float32, payload map[string]any) error

	// Get returns the point, or (nil, nil) if absent.
	Get(ctx context.Context, collection, pointID string) (*Point, error)

	// Delete removes points by id; idempotent.
	Delete(ctx context.Context, collection string, pointIDs []string) error

	// Search returns the top `limit` points by cosine similarity to vector,
	// restricted to userID and matching the filter conjunction.
	Search(ctx context.Context, collection string, vector []float32, limit int, userID string, filters domain.Filter) ([]Hit, error)

	Close() error
}
