package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/driftline/driftline/internal/embed"
)

// timeLayout is the canonical timestamp encoding for all stored times.
const timeLayout = time.RFC3339Nano

// SQLiteStore implements ContentStore. SQLite rows and the FTS5 tables
// live in one database, so every document-with-chunks write is a single
// transaction. The HNSW indexes are rebuilt from stored embeddings at
// open and kept in step with inserts/deletes afterwards; rows remain the
// source of truth and vector hits are re-validated against them.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	embedder embed.Embedder
	dims     int

	docVectors   VectorIndex
	chunkVectors VectorIndex

	lock   *flock.Flock
	closed bool
}

var _ ContentStore = (*SQLiteStore)(nil)

// Open opens (or creates) the store at path. An empty path opens an
// in-memory database for testing. On-disk stores take an exclusive file
// lock so two processes never share the HNSW state.
func Open(path string, embedder embed.Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("store: embedder is required")
	}

	var dsn string
	var fileLock *flock.Flock
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
		}

		fileLock = flock.New(path + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("store: acquire lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("store: %s is locked by another process", path)
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are
	// ignored. foreign_keys drives the cascade deletes.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set pragma: %w", err)
		}
	}

	dims := embedder.Dimensions()
	docVectors, err := NewHNSWIndex(DefaultHNSWConfig(dims))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	chunkVectors, err := NewHNSWIndex(DefaultHNSWConfig(dims))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:           db,
		embedder:     embedder,
		dims:         dims,
		docVectors:   docVectors,
		chunkVectors: chunkVectors,
		lock:         fileLock,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	if err := s.rebuildVectorIndexes(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: rebuild vector indexes: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS searchspaces (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_searchspaces_owner ON searchspaces(owner_id);

	CREATE TABLE IF NOT EXISTS documents (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		search_space_id INTEGER NOT NULL REFERENCES searchspaces(id) ON DELETE CASCADE,
		document_type   TEXT NOT NULL,
		title           TEXT NOT NULL,
		content         TEXT NOT NULL,
		metadata        TEXT NOT NULL DEFAULT '{}',
		embedding       BLOB NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_space ON documents(search_space_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content     TEXT NOT NULL,
		embedding   BLOB NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS connectors (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id        TEXT NOT NULL,
		name            TEXT NOT NULL,
		connector_type  TEXT NOT NULL,
		is_indexable    INTEGER NOT NULL DEFAULT 0,
		config          TEXT NOT NULL DEFAULT '{}',
		last_indexed_at TEXT,
		created_at      TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_connectors_owner_type
		ON connectors(owner_id, connector_type);

	-- Lexical tier: one FTS5 table per granularity. row_id and space_id
	-- are UNINDEXED payload columns used for joins and scope filtering.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_documents USING fts5(
		content,
		row_id UNINDEXED,
		space_id UNINDEXED,
		tokenize='porter unicode61'
	);
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		content,
		row_id UNINDEXED,
		space_id UNINDEXED,
		tokenize='porter unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// rebuildVectorIndexes loads every stored embedding into the in-process
// HNSW graphs. Runs once at open; afterwards inserts and deletes keep
// the graphs in step with the rows.
func (s *SQLiteStore) rebuildVectorIndexes(ctx context.Context) error {
	load := func(query string, idx VectorIndex) error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		var ids []int64
		var vectors [][]float32
		for rows.Next() {
			var id int64
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return err
			}
			vec, err := decodeVector(blob)
			if err != nil {
				return fmt.Errorf("row %d: %w", id, err)
			}
			ids = append(ids, id)
			vectors = append(vectors, vec)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return idx.Add(ctx, ids, vectors)
	}

	if err := load(`SELECT id, embedding FROM documents ORDER BY id`, s.docVectors); err != nil {
		return fmt.Errorf("documents: %w", err)
	}
	if err := load(`SELECT id, embedding FROM chunks ORDER BY id`, s.chunkVectors); err != nil {
		return fmt.Errorf("chunks: %w", err)
	}
	return nil
}

// --- Search spaces ---

func (s *SQLiteStore) CreateSearchSpace(ctx context.Context, ownerID, name, description string) (*SearchSpace, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("store: owner id is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("store: search space name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO searchspaces (owner_id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		ownerID, name, description, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("store: create search space: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &SearchSpace{ID: id, OwnerID: ownerID, Name: name, Description: description, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetSearchSpace(ctx context.Context, id int64) (*SearchSpace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, created_at FROM searchspaces WHERE id = ?`, id)
	return scanSearchSpace(row)
}

func (s *SQLiteStore) ListSearchSpaces(ctx context.Context, ownerID string) ([]*SearchSpace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, description, created_at FROM searchspaces WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list search spaces: %w", err)
	}
	defer rows.Close()

	var spaces []*SearchSpace
	for rows.Next() {
		sp, err := scanSearchSpace(rows)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

// DeleteSearchSpace removes a space and, through cascades and the FTS
// cleanup in the same transaction, all of its documents and chunks.
func (s *SQLiteStore) DeleteSearchSpace(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	docIDs, chunkIDs, err := s.collectSpaceRowIDs(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_documents WHERE space_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete document index entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks WHERE space_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete chunk index entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM searchspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete search space: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	// Lazy vector deletes after commit; misses are filtered at read time.
	if err := s.docVectors.Delete(ctx, docIDs); err != nil {
		slog.Warn("vector delete failed for documents", slog.String("error", err.Error()))
	}
	if err := s.chunkVectors.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("vector delete failed for chunks", slog.String("error", err.Error()))
	}

	return nil
}

func (s *SQLiteStore) collectSpaceRowIDs(ctx context.Context, spaceID int64) (docIDs, chunkIDs []int64, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE search_space_id = ?`, spaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: collect documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, nil, err
		}
		docIDs = append(docIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(docIDs) == 0 {
		return nil, nil, nil
	}

	chunkRows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id FROM chunks WHERE document_id IN (%s)`, placeholders(len(docIDs))), int64Args(docIDs)...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: collect chunks: %w", err)
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		var id int64
		if err := chunkRows.Scan(&id); err != nil {
			return nil, nil, err
		}
		chunkIDs = append(chunkIDs, id)
	}
	return docIDs, chunkIDs, chunkRows.Err()
}

// --- Documents and chunks ---

// CreateDocumentWithChunks embeds the content and every chunk up front
// (a provider failure aborts with zero rows written), then commits the
// document, its chunks, and their FTS entries in one transaction.
func (s *SQLiteStore) CreateDocumentWithChunks(ctx context.Context, in CreateDocumentInput) (int64, error) {
	if strings.TrimSpace(in.Content) == "" {
		return 0, fmt.Errorf("store: document content must be non-empty")
	}
	for i, text := range in.ChunkTexts {
		if strings.TrimSpace(text) == "" {
			return 0, fmt.Errorf("store: chunk %d is empty", i)
		}
	}

	// Embed before touching the database. One batch covers the document
	// summary vector and every chunk.
	texts := make([]string, 0, len(in.ChunkTexts)+1)
	texts = append(texts, in.Content)
	texts = append(texts, in.ChunkTexts...)

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("store: embed document: %w", err)
	}
	if len(embeddings) != len(texts) {
		return 0, fmt.Errorf("store: embedder returned %d vectors for %d texts", len(embeddings), len(texts))
	}
	for _, vec := range embeddings {
		if len(vec) != s.dims {
			return 0, ErrDimensionMismatch{Expected: s.dims, Got: len(vec)}
		}
	}

	metadataJSON, err := json.Marshal(orEmptyMap(in.Metadata))
	if err != nil {
		return 0, fmt.Errorf("store: encode metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store: closed")
	}

	now := time.Now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (search_space_id, document_type, title, content, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.SearchSpaceID, string(in.Type), in.Title, in.Content, string(metadataJSON),
		encodeVector(embeddings[0]), now)
	if err != nil {
		return 0, fmt.Errorf("store: insert document: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fts_documents (content, row_id, space_id) VALUES (?, ?, ?)`,
		in.Content, docID, in.SearchSpaceID); err != nil {
		return 0, fmt.Errorf("store: index document: %w", err)
	}

	chunkIDs := make([]int64, 0, len(in.ChunkTexts))
	for i, text := range in.ChunkTexts {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, content, embedding, created_at) VALUES (?, ?, ?, ?)`,
			docID, text, encodeVector(embeddings[i+1]), now)
		if err != nil {
			return 0, fmt.Errorf("store: insert chunk %d: %w", i, err)
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fts_chunks (content, row_id, space_id) VALUES (?, ?, ?)`,
			text, chunkID, in.SearchSpaceID); err != nil {
			return 0, fmt.Errorf("store: index chunk %d: %w", i, err)
		}
		chunkIDs = append(chunkIDs, chunkID)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}

	// Dimensions were validated above, so the graph inserts cannot fail
	// on well-formed state; on any failure, compensate by removing the
	// committed rows so no half-indexed document survives.
	if err := s.docVectors.Add(ctx, []int64{docID}, [][]float32{embeddings[0]}); err != nil {
		s.compensateDelete(ctx, docID)
		return 0, fmt.Errorf("store: add document vector: %w", err)
	}
	if len(chunkIDs) > 0 {
		if err := s.chunkVectors.Add(ctx, chunkIDs, embeddings[1:]); err != nil {
			s.compensateDelete(ctx, docID)
			return 0, fmt.Errorf("store: add chunk vectors: %w", err)
		}
	}

	return docID, nil
}

func (s *SQLiteStore) compensateDelete(ctx context.Context, docID int64) {
	if err := s.deleteDocumentLocked(ctx, docID); err != nil {
		slog.Error("compensating delete failed, document partially indexed",
			slog.Int64("document_id", docID),
			slog.String("error", err.Error()))
	}
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, search_space_id, document_type, title, content, metadata, embedding, created_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []int64) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, search_space_id, document_type, title, content, metadata, embedding, created_at
		 FROM documents WHERE id IN (%s)`, placeholders(len(ids))), int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("store: get documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, searchSpaceID int64) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, search_space_id, document_type, title, content, metadata, embedding, created_at
		 FROM documents WHERE search_space_id = ? ORDER BY id`, searchSpaceID)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}
	return s.deleteDocumentLocked(ctx, id)
}

func (s *SQLiteStore) deleteDocumentLocked(ctx context.Context, id int64) error {
	chunkRows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: collect chunks: %w", err)
	}
	var chunkIDs []int64
	for chunkRows.Next() {
		var cid int64
		if err := chunkRows.Scan(&cid); err != nil {
			chunkRows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, cid)
	}
	if err := chunkRows.Err(); err != nil {
		chunkRows.Close()
		return err
	}
	chunkRows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_documents WHERE row_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete document index entry: %w", err)
	}
	if len(chunkIDs) > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM fts_chunks WHERE row_id IN (%s)`, placeholders(len(chunkIDs))),
			int64Args(chunkIDs)...); err != nil {
			return fmt.Errorf("store: delete chunk index entries: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	if err := s.docVectors.Delete(ctx, []int64{id}); err != nil {
		slog.Warn("vector delete failed for document", slog.Int64("id", id), slog.String("error", err.Error()))
	}
	if err := s.chunkVectors.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("vector delete failed for chunks", slog.Int64("document_id", id), slog.String("error", err.Error()))
	}
	return nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, content, embedding, created_at FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, document_id, content, embedding, created_at FROM chunks WHERE id IN (%s)`,
		placeholders(len(ids))), int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("store: get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, documentID int64) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, embedding, created_at FROM chunks WHERE document_id = ? ORDER BY id`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("store: chunks by document: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Retrieval primitives ---

// VectorSearch returns up to k rows ordered by ascending cosine distance,
// ties broken by id. HNSW candidates are oversampled, then validated and
// scope-filtered against the live rows before truncation.
func (s *SQLiteStore) VectorSearch(ctx context.Context, scope Scope, query []float32, k int) ([]*VectorResult, error) {
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	idx := s.chunkVectors
	if scope.Granularity == GranularityDocument {
		idx = s.docVectors
	}

	// Oversample so scope filtering still leaves k candidates.
	fetch := k
	if len(scope.SearchSpaceIDs) > 0 {
		fetch = k*4 + 16
	}

	candidates, err := idx.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*VectorResult{}, nil
	}

	allowed, err := s.filterScope(ctx, scope, candidateIDs(candidates))
	if err != nil {
		return nil, err
	}

	results := make([]*VectorResult, 0, k)
	for _, c := range candidates {
		if _, ok := allowed[c.ID]; !ok {
			continue
		}
		results = append(results, c)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// filterScope returns the subset of candidate ids that still exist as
// rows and fall inside the scope's search spaces.
func (s *SQLiteStore) filterScope(ctx context.Context, scope Scope, ids []int64) (map[int64]struct{}, error) {
	if len(ids) == 0 {
		return map[int64]struct{}{}, nil
	}

	var query string
	args := int64Args(ids)
	switch {
	case scope.Granularity == GranularityDocument && len(scope.SearchSpaceIDs) > 0:
		query = fmt.Sprintf(
			`SELECT id FROM documents WHERE id IN (%s) AND search_space_id IN (%s)`,
			placeholders(len(ids)), placeholders(len(scope.SearchSpaceIDs)))
		args = append(args, int64Args(scope.SearchSpaceIDs)...)
	case scope.Granularity == GranularityDocument:
		query = fmt.Sprintf(`SELECT id FROM documents WHERE id IN (%s)`, placeholders(len(ids)))
	case len(scope.SearchSpaceIDs) > 0:
		query = fmt.Sprintf(
			`SELECT c.id FROM chunks c JOIN documents d ON d.id = c.document_id
			 WHERE c.id IN (%s) AND d.search_space_id IN (%s)`,
			placeholders(len(ids)), placeholders(len(scope.SearchSpaceIDs)))
		args = append(args, int64Args(scope.SearchSpaceIDs)...)
	default:
		query = fmt.Sprintf(`SELECT id FROM chunks WHERE id IN (%s)`, placeholders(len(ids)))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: filter scope: %w", err)
	}
	defer rows.Close()

	allowed := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		allowed[id] = struct{}{}
	}
	return allowed, rows.Err()
}

// LexicalSearch returns up to k rows ordered by descending BM25
// relevance, ties broken by id. An empty or unmatchable query yields no
// results rather than an error.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, scope Scope, query string, k int) ([]*LexicalResult, error) {
	if k <= 0 {
		return []*LexicalResult{}, nil
	}
	match := buildMatchQuery(query)
	if match == "" {
		return []*LexicalResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	table := "fts_chunks"
	if scope.Granularity == GranularityDocument {
		table = "fts_documents"
	}

	args := []any{match}
	spaceFilter := ""
	if len(scope.SearchSpaceIDs) > 0 {
		spaceFilter = fmt.Sprintf(" AND space_id IN (%s)", placeholders(len(scope.SearchSpaceIDs)))
		args = append(args, int64Args(scope.SearchSpaceIDs)...)
	}
	args = append(args, k)

	// FTS5 bm25() is negative, lower is better; order ascending and
	// negate on scan so callers see higher-is-better.
	sqlQuery := fmt.Sprintf(
		`SELECT row_id, bm25(%s) AS score FROM %s WHERE %s MATCH ?%s ORDER BY score, row_id LIMIT ?`,
		table, table, table, spaceFilter)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("store: lexical search: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		results = append(results, &LexicalResult{ID: id, Score: -score})
	}
	return results, rows.Err()
}

// buildMatchQuery turns free text into an FTS5 MATCH expression. Tokens
// are quoted so user input can never produce FTS5 syntax errors.
func buildMatchQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " ")
}

// --- Connectors ---

// CreateConnector enforces the one-connector-per-(owner, type) invariant
// with an explicit pre-check; the unique index is the backstop.
func (s *SQLiteStore) CreateConnector(ctx context.Context, in CreateConnectorInput) (*Connector, error) {
	if in.OwnerID == "" {
		return nil, fmt.Errorf("store: owner id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("store: connector name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connectors WHERE owner_id = ? AND connector_type = ?`,
		in.OwnerID, string(in.Type)).Scan(&count); err != nil {
		return nil, fmt.Errorf("store: check connector uniqueness: %w", err)
	}
	if count > 0 {
		return nil, ErrConnectorExists{OwnerID: in.OwnerID, Type: in.Type}
	}

	configJSON, err := json.Marshal(orEmptyMap(in.Config))
	if err != nil {
		return nil, fmt.Errorf("store: encode connector config: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO connectors (owner_id, name, connector_type, is_indexable, config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.OwnerID, in.Name, string(in.Type), boolToInt(in.IsIndexable), string(configJSON),
		now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("store: create connector: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Connector{
		ID:          id,
		OwnerID:     in.OwnerID,
		Name:        in.Name,
		Type:        in.Type,
		IsIndexable: in.IsIndexable,
		Config:      orEmptyMap(in.Config),
		CreatedAt:   now,
	}, nil
}

func (s *SQLiteStore) GetConnector(ctx context.Context, id int64) (*Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, connector_type, is_indexable, config, last_indexed_at, created_at
		 FROM connectors WHERE id = ?`, id)
	return scanConnector(row)
}

func (s *SQLiteStore) ListConnectors(ctx context.Context, ownerID string) ([]*Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, connector_type, is_indexable, config, last_indexed_at, created_at
		 FROM connectors WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list connectors: %w", err)
	}
	defer rows.Close()

	var connectors []*Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}

func (s *SQLiteStore) UpdateConnectorConfig(ctx context.Context, id int64, name string, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	configJSON, err := json.Marshal(orEmptyMap(config))
	if err != nil {
		return fmt.Errorf("store: encode connector config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE connectors SET name = ?, config = ? WHERE id = ?`, name, string(configJSON), id)
	if err != nil {
		return fmt.Errorf("store: update connector: %w", err)
	}
	return requireRowAffected(res, "connector", id)
}

func (s *SQLiteStore) DeleteConnector(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM connectors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete connector: %w", err)
	}
	return requireRowAffected(res, "connector", id)
}

// SetLastIndexedAt advances the connector's checkpoint.
func (s *SQLiteStore) SetLastIndexedAt(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE connectors SET last_indexed_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("store: set last_indexed_at: %w", err)
	}
	return requireRowAffected(res, "connector", id)
}

// Close checkpoints the WAL, closes the database, and releases the file
// lock. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.docVectors.Close()
	_ = s.chunkVectors.Close()

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()

	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

// --- Row scanning and encoding helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

// ErrNotFound reports a missing row by entity and id.
type ErrNotFound struct {
	Entity string
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ErrConnectorExists reports a duplicate (owner, connector_type) pair.
type ErrConnectorExists struct {
	OwnerID string
	Type    ConnectorType
}

func (e ErrConnectorExists) Error() string {
	return fmt.Sprintf("a %s connector already exists for owner %s: each owner can have only one connector of each type", e.Type, e.OwnerID)
}

func scanSearchSpace(r rowScanner) (*SearchSpace, error) {
	var sp SearchSpace
	var createdAt string
	if err := r.Scan(&sp.ID, &sp.OwnerID, &sp.Name, &sp.Description, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound{Entity: "search space"}
		}
		return nil, fmt.Errorf("store: scan search space: %w", err)
	}
	sp.CreatedAt = parseTime(createdAt)
	return &sp, nil
}

func scanDocument(r rowScanner) (*Document, error) {
	var doc Document
	var docType, metadataJSON, createdAt string
	var blob []byte
	if err := r.Scan(&doc.ID, &doc.SearchSpaceID, &docType, &doc.Title, &doc.Content,
		&metadataJSON, &blob, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound{Entity: "document"}
		}
		return nil, fmt.Errorf("store: scan document: %w", err)
	}
	doc.Type = DocumentType(docType)
	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("store: decode document metadata: %w", err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	doc.Embedding = vec
	doc.CreatedAt = parseTime(createdAt)
	return &doc, nil
}

func scanChunk(r rowScanner) (*Chunk, error) {
	var c Chunk
	var createdAt string
	var blob []byte
	if err := r.Scan(&c.ID, &c.DocumentID, &c.Content, &blob, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound{Entity: "chunk"}
		}
		return nil, fmt.Errorf("store: scan chunk: %w", err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	c.Embedding = vec
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func scanConnector(r rowScanner) (*Connector, error) {
	var c Connector
	var connType, configJSON, createdAt string
	var isIndexable int
	var lastIndexed sql.NullString
	if err := r.Scan(&c.ID, &c.OwnerID, &c.Name, &connType, &isIndexable,
		&configJSON, &lastIndexed, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound{Entity: "connector"}
		}
		return nil, fmt.Errorf("store: scan connector: %w", err)
	}
	c.Type = ConnectorType(connType)
	c.IsIndexable = isIndexable != 0
	if err := json.Unmarshal([]byte(configJSON), &c.Config); err != nil {
		return nil, fmt.Errorf("store: decode connector config: %w", err)
	}
	if lastIndexed.Valid {
		t := parseTime(lastIndexed.String)
		c.LastIndexedAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("store: malformed embedding blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func candidateIDs(results []*VectorResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRowAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound{Entity: entity, ID: id}
	}
	return nil
}
