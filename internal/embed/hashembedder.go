package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// HashEmbedder is a deterministic, dependency-free Embedder: it hashes text
// into a fixed-dimension vector. It exists so the binaries in cmd/ start up
// and are testable end-to-end without a real embedding-model credential;
// swapping in a production model client only requires satisfying Embedder
// (§1 puts "the embedding model" outside this module's scope).
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder constructs a HashEmbedder producing vectors of length dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

var _ Embedder = (*HashEmbedder)(nil)

func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed is deterministic: identical text always yields an identical vector
// (§8's determinism property depends on this).
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, h.dim)
	block := sha256.Sum256([]byte(text))
	seed := block[:]
	for i := 0; i < h.dim; i++ {
		if len(seed) < 4 {
			next := sha256.Sum256(seed)
			seed = next[:]
		}
		bits := binary.BigEndian.Uint32(seed[:4])
		seed = seed[4:]
		out[i] = float32(bits%2000)/1000.0 - 1.0 // roughly [-1, 1)
	}
	return out, nil
}
