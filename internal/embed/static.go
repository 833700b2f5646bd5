package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
)

// DefaultStaticDimensions keeps the static embedder in line with the
// default Ollama model so the two are interchangeable.
const DefaultStaticDimensions = 768

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder generates deterministic hash-based embeddings with no
// network or model dependency. Semantic quality is limited; identical
// text always yields the identical vector, which is what hermetic tests
// and offline ingestion need.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dims int) (*StaticEmbedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embed: dimensions must be positive, got %d", dims)
	}
	return &StaticEmbedder{dims: dims}, nil
}

// Embed generates an embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: static embedder is closed")
	}
	e.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	tokens := staticTokenRegex.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return vec, nil
	}

	// Tokens and character trigrams each hash into a few buckets; the
	// trigram signal keeps near-identical words close.
	for _, token := range tokens {
		addHashed(vec, token, 0.7)
		for i := 0; i+3 <= len(token); i++ {
			addHashed(vec, token[i:i+3], 0.3)
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int                { return e.dims }
func (e *StaticEmbedder) ModelName() string              { return "static-hash" }
func (e *StaticEmbedder) Available(context.Context) bool { return true }

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func addHashed(vec []float32, s string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()

	idx := int(sum % uint64(len(vec)))
	sign := float32(1)
	if (sum>>32)&1 == 1 {
		sign = -1
	}
	vec[idx] += sign * weight
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= inv
	}
}
