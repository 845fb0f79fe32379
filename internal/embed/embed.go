// Package embed defines the embedding-model boundary (§1's "the embedding
// model... is outside this module's scope"). Translator, embedder, and
// adapters are injected services, not global singletons (§9), so the
// indexer and retrieval pipeline depend only on this interface.
package embed

import "context"

// Embedder turns text into a dense vector of fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Func adapts a plain function to Embedder for tests and simple wiring,
// mirroring the teacher's habit of exposing functional adapters alongside
// interfaces (e.g. http.HandlerFunc-style wrapping).
type Func struct {
	Fn  func(ctx context.Context, text string) ([]float32, error)
	Dim int
}

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) { return f.Fn(ctx, text) }
func (f Func) Dimension() int                                            { return f.Dim }
