// Package embed provides the embedding provider abstraction: an Ollama
// HTTP backend for real deployments, an LRU-cached wrapper, and a
// deterministic hash embedder for offline and test use.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultBatchSize bounds how many texts go into one provider call.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to keep request payloads sane.
	MaxBatchSize = 256

	// DefaultTimeout is the per-request embedding timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 3
)

// Embedder generates dense vector embeddings for text. The dimension is
// fixed at construction and every returned vector matches it.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// order. All vectors are produced or an error is returned; partial
	// results are never handed back.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the embedding dimension.
	Dimensions() int

	// ModelName identifies the underlying model.
	ModelName() string

	// Available reports whether the provider can currently serve requests.
	Available(ctx context.Context) bool

	// Close releases any resources held by the embedder.
	Close() error
}
