// Package store provides the content store: SQLite rows as the source of
// truth, an FTS5 lexical index sharing the same database and transactions,
// and an HNSW vector index per granularity.
package store

import (
	"context"
	"fmt"
	"time"
)

// DocumentType identifies how a document entered the system.
type DocumentType string

const (
	DocumentTypeExtension       DocumentType = "EXTENSION"
	DocumentTypeCrawledURL      DocumentType = "CRAWLED_URL"
	DocumentTypeFile            DocumentType = "FILE"
	DocumentTypeSlackConnector  DocumentType = "SLACK_CONNECTOR"
	DocumentTypeNotionConnector DocumentType = "NOTION_CONNECTOR"
	DocumentTypeYouTubeVideo    DocumentType = "YOUTUBE_VIDEO"
	DocumentTypeGitHubConnector DocumentType = "GITHUB_CONNECTOR"
)

// ConnectorType identifies an external source type.
// Each owner may hold at most one connector per type.
type ConnectorType string

const (
	ConnectorTypeSerperAPI ConnectorType = "SERPER_API"
	ConnectorTypeTavilyAPI ConnectorType = "TAVILY_API"
	ConnectorTypeSlack     ConnectorType = "SLACK_CONNECTOR"
	ConnectorTypeNotion    ConnectorType = "NOTION_CONNECTOR"
	ConnectorTypeGitHub    ConnectorType = "GITHUB_CONNECTOR"
)

// Granularity selects which content tier a search runs over.
type Granularity string

const (
	GranularityDocument Granularity = "document"
	GranularityChunk    Granularity = "chunk"
)

// SearchSpace is the ownership boundary grouping documents.
type SearchSpace struct {
	ID          int64
	OwnerID     string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Document is one ingested unit: a file, a crawled page, a connector item.
type Document struct {
	ID            int64
	SearchSpaceID int64
	Type          DocumentType
	Title         string
	Content       string
	Metadata      map[string]string
	Embedding     []float32
	CreatedAt     time.Time
}

// Chunk is a sub-span of a document's content, independently embedded.
type Chunk struct {
	ID         int64
	DocumentID int64
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// Connector holds one external source configuration for an owner.
// LastIndexedAt is nil until the first successful indexing run.
type Connector struct {
	ID            int64
	OwnerID       string
	Name          string
	Type          ConnectorType
	IsIndexable   bool
	Config        map[string]string
	LastIndexedAt *time.Time
	CreatedAt     time.Time
}

// Scope restricts a search to a granularity and, optionally, to a set of
// search spaces the caller is allowed to see. An empty SearchSpaceIDs
// slice means no space filtering.
type Scope struct {
	Granularity    Granularity
	SearchSpaceIDs []int64
}

// VectorResult is one row from a vector similarity search.
type VectorResult struct {
	ID       int64   // document or chunk id, per scope granularity
	Distance float32 // cosine distance, lower is more similar
	Score    float32 // normalized similarity 0-1
}

// LexicalResult is one row from a full-text search.
type LexicalResult struct {
	ID    int64
	Score float64 // BM25 relevance, higher is better
}

// ContentStore is the durable relation holding documents and chunks with
// vector and lexical ranking over both tiers.
type ContentStore interface {
	// Search spaces
	CreateSearchSpace(ctx context.Context, ownerID, name, description string) (*SearchSpace, error)
	GetSearchSpace(ctx context.Context, id int64) (*SearchSpace, error)
	ListSearchSpaces(ctx context.Context, ownerID string) ([]*SearchSpace, error)
	DeleteSearchSpace(ctx context.Context, id int64) error

	// Documents and chunks. CreateDocumentWithChunks embeds the document
	// content and every chunk text before writing; all rows commit in one
	// transaction or none do.
	CreateDocumentWithChunks(ctx context.Context, in CreateDocumentInput) (int64, error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetDocuments(ctx context.Context, ids []int64) ([]*Document, error)
	ListDocuments(ctx context.Context, searchSpaceID int64) ([]*Document, error)
	DeleteDocument(ctx context.Context, id int64) error
	GetChunk(ctx context.Context, id int64) (*Chunk, error)
	GetChunks(ctx context.Context, ids []int64) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, documentID int64) ([]*Chunk, error)

	// Retrieval primitives. Both are read-only and deterministic for
	// identical arguments with no intervening writes.
	VectorSearch(ctx context.Context, scope Scope, query []float32, k int) ([]*VectorResult, error)
	LexicalSearch(ctx context.Context, scope Scope, query string, k int) ([]*LexicalResult, error)

	// Connectors. CreateConnector rejects a duplicate (owner, type) pair
	// before any persistence side effect.
	CreateConnector(ctx context.Context, in CreateConnectorInput) (*Connector, error)
	GetConnector(ctx context.Context, id int64) (*Connector, error)
	ListConnectors(ctx context.Context, ownerID string) ([]*Connector, error)
	UpdateConnectorConfig(ctx context.Context, id int64, name string, config map[string]string) error
	DeleteConnector(ctx context.Context, id int64) error
	SetLastIndexedAt(ctx context.Context, id int64, at time.Time) error

	Close() error
}

// CreateDocumentInput carries one atomic document-with-chunks write.
type CreateDocumentInput struct {
	SearchSpaceID int64
	Type          DocumentType
	Title         string
	Content       string
	Metadata      map[string]string
	ChunkTexts    []string
}

// CreateConnectorInput carries a connector creation request.
type CreateConnectorInput struct {
	OwnerID     string
	Name        string
	Type        ConnectorType
	IsIndexable bool
	Config      map[string]string
}

// VectorIndex is an approximate nearest-neighbor index over embeddings,
// keyed by row id. Incremental insert, no full rebuild per document.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []int64) error
	Count() int
	Close() error
}

// ErrDimensionMismatch indicates an embedding whose dimension does not
// match the index. Mismatches are a hard ingestion failure.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
