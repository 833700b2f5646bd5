package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/embed"
)

const testDims = 64

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	embedder, err := embed.NewStaticEmbedder(testDims)
	require.NoError(t, err)

	s, err := Open("", embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createSpace(t *testing.T, s *SQLiteStore, name string) *SearchSpace {
	t.Helper()
	space, err := s.CreateSearchSpace(context.Background(), "owner-1", name, "")
	require.NoError(t, err)
	return space
}

func createDoc(t *testing.T, s *SQLiteStore, spaceID int64, title, content string, chunks ...string) int64 {
	t.Helper()
	id, err := s.CreateDocumentWithChunks(context.Background(), CreateDocumentInput{
		SearchSpaceID: spaceID,
		Type:          DocumentTypeFile,
		Title:         title,
		Content:       content,
		ChunkTexts:    chunks,
	})
	require.NoError(t, err)
	return id
}

func TestSearchSpaceCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	space := createSpace(t, s, "notes")
	assert.Equal(t, "notes", space.Name)
	assert.Equal(t, "owner-1", space.OwnerID)

	got, err := s.GetSearchSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, space.Name, got.Name)

	spaces, err := s.ListSearchSpaces(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, spaces, 1)

	// Other owners see nothing.
	spaces, err = s.ListSearchSpaces(ctx, "owner-2")
	require.NoError(t, err)
	assert.Empty(t, spaces)

	require.NoError(t, s.DeleteSearchSpace(ctx, space.ID))
	_, err = s.GetSearchSpace(ctx, space.ID)
	assert.ErrorAs(t, err, &ErrNotFound{})
}

func TestSearchSpaceValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSearchSpace(ctx, "", "notes", "")
	assert.Error(t, err)

	_, err = s.CreateSearchSpace(ctx, "owner-1", "   ", "")
	assert.Error(t, err)
}

func TestCreateDocumentWithChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")

	docID := createDoc(t, s, space.ID, "greeting", "hello world document",
		"hello world", "second chunk about greetings")

	doc, err := s.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "greeting", doc.Title)
	assert.Equal(t, DocumentTypeFile, doc.Type)
	assert.Len(t, doc.Embedding, testDims)
	assert.False(t, doc.CreatedAt.IsZero())

	chunks, err := s.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "hello world", chunks[0].Content)
	assert.Len(t, chunks[0].Embedding, testDims)

	assert.Equal(t, 1, s.docVectors.Count())
	assert.Equal(t, 2, s.chunkVectors.Count())
}

func TestCreateDocumentRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	space := createSpace(t, s, "notes")

	_, err := s.CreateDocumentWithChunks(context.Background(), CreateDocumentInput{
		SearchSpaceID: space.ID,
		Type:          DocumentTypeFile,
		Title:         "empty",
		Content:       "   ",
	})
	assert.Error(t, err)

	_, err = s.CreateDocumentWithChunks(context.Background(), CreateDocumentInput{
		SearchSpaceID: space.ID,
		Type:          DocumentTypeFile,
		Title:         "empty chunk",
		Content:       "fine",
		ChunkTexts:    []string{"ok", ""},
	})
	assert.Error(t, err)
}

// failingEmbedder simulates a provider outage.
type failingEmbedder struct {
	dims int
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("provider down")
}

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("provider down")
}

func (f *failingEmbedder) Dimensions() int                { return f.dims }
func (f *failingEmbedder) ModelName() string              { return "failing" }
func (f *failingEmbedder) Available(context.Context) bool { return false }
func (f *failingEmbedder) Close() error                   { return nil }

func TestIngestionAtomicityOnProviderFailure(t *testing.T) {
	s, err := Open("", &failingEmbedder{dims: testDims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	space, err := s.CreateSearchSpace(ctx, "owner-1", "notes", "")
	require.NoError(t, err)

	_, err = s.CreateDocumentWithChunks(ctx, CreateDocumentInput{
		SearchSpaceID: space.ID,
		Type:          DocumentTypeFile,
		Title:         "doomed",
		Content:       "content that will never embed",
		ChunkTexts:    []string{"chunk one", "chunk two", "chunk three"},
	})
	require.Error(t, err)

	// No partial rows: the provider failed before any write.
	docs, err := s.ListDocuments(ctx, space.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 0, s.docVectors.Count())
	assert.Equal(t, 0, s.chunkVectors.Count())
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")

	docID := createDoc(t, s, space.ID, "doc", "document body", "chunk a", "chunk b")

	require.NoError(t, s.DeleteDocument(ctx, docID))

	_, err := s.GetDocument(ctx, docID)
	assert.ErrorAs(t, err, &ErrNotFound{})

	chunks, err := s.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// Lexical index entries are gone too.
	hits, err := s.LexicalSearch(ctx, Scope{Granularity: GranularityChunk}, "chunk", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteSearchSpaceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")
	keep := createSpace(t, s, "keep")

	createDoc(t, s, space.ID, "a", "alpha content", "alpha chunk")
	createDoc(t, s, space.ID, "b", "beta content", "beta chunk")
	keptID := createDoc(t, s, keep.ID, "c", "gamma content", "gamma chunk")

	require.NoError(t, s.DeleteSearchSpace(ctx, space.ID))

	docs, err := s.ListDocuments(ctx, space.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	// The other space is untouched.
	kept, err := s.GetDocument(ctx, keptID)
	require.NoError(t, err)
	assert.Equal(t, "c", kept.Title)

	hits, err := s.LexicalSearch(ctx, Scope{Granularity: GranularityChunk}, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")

	createDoc(t, s, space.ID, "go", "golang concurrency patterns with channels",
		"golang concurrency patterns", "channels and goroutines")
	createDoc(t, s, space.ID, "cooking", "pasta recipes from italy",
		"pasta recipes", "italian cooking techniques")

	hits, err := s.LexicalSearch(ctx, Scope{Granularity: GranularityChunk}, "golang concurrency", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	top, err := s.GetChunk(ctx, hits[0].ID)
	require.NoError(t, err)
	assert.Contains(t, top.Content, "golang")

	// Document granularity hits document rows.
	docHits, err := s.LexicalSearch(ctx, Scope{Granularity: GranularityDocument}, "pasta", 10)
	require.NoError(t, err)
	require.Len(t, docHits, 1)

	doc, err := s.GetDocument(ctx, docHits[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "cooking", doc.Title)
}

func TestLexicalSearchEdgeCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")
	createDoc(t, s, space.ID, "doc", "some content here", "some content")

	tests := []struct {
		name  string
		query string
		k     int
	}{
		{"empty query", "", 10},
		{"punctuation only", `"(*&^%$`, 10},
		{"zero k", "content", 0},
		{"negative k", "content", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := s.LexicalSearch(ctx, Scope{Granularity: GranularityChunk}, tt.query, tt.k)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")

	createDoc(t, s, space.ID, "go", "golang concurrency patterns",
		"golang concurrency patterns with channels")
	createDoc(t, s, space.ID, "cooking", "pasta recipes",
		"pasta recipes from italy")

	query, err := s.embedder.Embed(ctx, "golang concurrency patterns with channels")
	require.NoError(t, err)

	hits, err := s.VectorSearch(ctx, Scope{Granularity: GranularityChunk}, query, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	top, err := s.GetChunk(ctx, hits[0].ID)
	require.NoError(t, err)
	assert.Contains(t, top.Content, "golang")
	assert.Less(t, hits[0].Distance, hits[1].Distance)
}

func TestVectorSearchScopeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	spaceA := createSpace(t, s, "a")
	spaceB := createSpace(t, s, "b")

	docA := createDoc(t, s, spaceA.ID, "a", "shared topic text", "shared topic text")
	createDoc(t, s, spaceB.ID, "b", "shared topic text too", "shared topic text too")

	query, err := s.embedder.Embed(ctx, "shared topic text")
	require.NoError(t, err)

	hits, err := s.VectorSearch(ctx,
		Scope{Granularity: GranularityDocument, SearchSpaceIDs: []int64{spaceA.ID}}, query, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, docA, hits[0].ID)
}

func TestVectorSearchDimensionMismatch(t *testing.T) {
	s := newTestStore(t)

	_, err := s.VectorSearch(context.Background(),
		Scope{Granularity: GranularityChunk}, make([]float32, testDims+1), 5)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestSearchReadsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	space := createSpace(t, s, "notes")

	for i := 0; i < 5; i++ {
		createDoc(t, s, space.ID, fmt.Sprintf("doc-%d", i),
			fmt.Sprintf("topic number %d about search engines", i),
			fmt.Sprintf("chunk for topic %d about search engines", i))
	}

	scope := Scope{Granularity: GranularityChunk}
	query, err := s.embedder.Embed(ctx, "search engines")
	require.NoError(t, err)

	v1, err := s.VectorSearch(ctx, scope, query, 3)
	require.NoError(t, err)
	v2, err := s.VectorSearch(ctx, scope, query, 3)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	l1, err := s.LexicalSearch(ctx, scope, "search engines", 3)
	require.NoError(t, err)
	l2, err := s.LexicalSearch(ctx, scope, "search engines", 3)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
}

func TestConnectorCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn, err := s.CreateConnector(ctx, CreateConnectorInput{
		OwnerID:     "owner-1",
		Name:        "team slack",
		Type:        ConnectorTypeSlack,
		IsIndexable: true,
		Config:      map[string]string{"bot_token": "xoxb-test"},
	})
	require.NoError(t, err)
	assert.Nil(t, conn.LastIndexedAt)

	got, err := s.GetConnector(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, ConnectorTypeSlack, got.Type)
	assert.Equal(t, "xoxb-test", got.Config["bot_token"])
	assert.True(t, got.IsIndexable)

	require.NoError(t, s.UpdateConnectorConfig(ctx, conn.ID, "renamed",
		map[string]string{"bot_token": "xoxb-other"}))
	got, err = s.GetConnector(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "xoxb-other", got.Config["bot_token"])

	require.NoError(t, s.DeleteConnector(ctx, conn.ID))
	_, err = s.GetConnector(ctx, conn.ID)
	assert.ErrorAs(t, err, &ErrNotFound{})
}

func TestConnectorUniquenessPerOwnerAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	input := CreateConnectorInput{
		OwnerID:     "owner-1",
		Name:        "slack",
		Type:        ConnectorTypeSlack,
		IsIndexable: true,
		Config:      map[string]string{"bot_token": "xoxb-test"},
	}
	_, err := s.CreateConnector(ctx, input)
	require.NoError(t, err)

	// Same owner, same type: rejected before insert.
	_, err = s.CreateConnector(ctx, input)
	assert.ErrorAs(t, err, &ErrConnectorExists{})

	// Same owner, different type: fine.
	_, err = s.CreateConnector(ctx, CreateConnectorInput{
		OwnerID: "owner-1", Name: "notion", Type: ConnectorTypeNotion,
		IsIndexable: true, Config: map[string]string{"integration_token": "secret"},
	})
	assert.NoError(t, err)

	// Different owner, same type: fine.
	_, err = s.CreateConnector(ctx, CreateConnectorInput{
		OwnerID: "owner-2", Name: "slack", Type: ConnectorTypeSlack,
		IsIndexable: true, Config: map[string]string{"bot_token": "xoxb-test"},
	})
	assert.NoError(t, err)
}

func TestSetLastIndexedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn, err := s.CreateConnector(ctx, CreateConnectorInput{
		OwnerID: "owner-1", Name: "slack", Type: ConnectorTypeSlack, IsIndexable: true,
	})
	require.NoError(t, err)

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastIndexedAt(ctx, conn.ID, at))

	got, err := s.GetConnector(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastIndexedAt)
	assert.True(t, got.LastIndexedAt.Equal(at))

	assert.ErrorAs(t, s.SetLastIndexedAt(ctx, 9999, at), &ErrNotFound{})
}

func TestVectorBlobRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 0, 3.75}
	decoded, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
