package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDim is the embedding dimension used when none is configured.
const DefaultDim = 384

// Embedder turns text into a fixed-size vector. Implementations must be
// deterministic for the lifetime of a store: vectors written with one
// embedder are only comparable to queries embedded the same way.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// HashingEmbedder is a local, dependency-free embedder. It hashes word
// tokens into a signed bag-of-words vector and L2-normalizes the result.
// Ranking quality is crude next to a learned model, but it is deterministic,
// needs no API key, and keeps overlapping texts close together, which is all
// the retrieval step needs as a fallback.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates a hashing embedder. A dim of 0 uses DefaultDim.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Dim() int { return e.dim }

func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()

		idx := int(sum % uint32(e.dim))
		// One hash bit decides the sign so collisions tend to cancel
		// instead of piling up.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// cosine returns the cosine similarity of two vectors of equal length.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
