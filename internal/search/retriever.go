package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/driftline/driftline/internal/embed"
	"github.com/driftline/driftline/internal/store"
)

const (
	// DefaultOversampleFactor widens each leg's candidate request so
	// fusion has room to reorder across the two modalities.
	DefaultOversampleFactor = 3

	// MinOversampleFactor and MaxOversampleFactor bound the useful range.
	MinOversampleFactor = 2
	MaxOversampleFactor = 4
)

// Result is one hybrid search hit, enriched from the store.
type Result struct {
	ID            int64
	DocumentID    int64 // equals ID at document granularity
	SearchSpaceID int64
	Title         string
	Content       string
	Score         float64
}

// Options tunes fusion behavior.
type Options struct {
	RRFConstant      int
	OversampleFactor int
}

// Retriever runs hybrid retrieval at one granularity. The vector and
// lexical legs run concurrently and their ranked ids are fused with RRF.
type Retriever struct {
	store       store.ContentStore
	embedder    embed.Embedder
	granularity store.Granularity
	opts        Options
}

// NewRetriever creates a retriever over st at the given granularity.
func NewRetriever(st store.ContentStore, embedder embed.Embedder, granularity store.Granularity, opts Options) *Retriever {
	if opts.RRFConstant <= 0 {
		opts.RRFConstant = DefaultRRFConstant
	}
	if opts.OversampleFactor < MinOversampleFactor || opts.OversampleFactor > MaxOversampleFactor {
		opts.OversampleFactor = DefaultOversampleFactor
	}
	return &Retriever{store: st, embedder: embedder, granularity: granularity, opts: opts}
}

// Search returns up to topK results for query, scoped to the given
// search spaces (empty means no space filter — the caller resolves
// authorization, never this layer). topK <= 0 short-circuits to an
// empty result without touching the store.
func (r *Retriever) Search(ctx context.Context, query string, topK int, spaceIDs []int64) ([]Result, error) {
	if topK <= 0 {
		return []Result{}, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	scope := store.Scope{Granularity: r.granularity, SearchSpaceIDs: spaceIDs}
	fetch := topK * r.opts.OversampleFactor

	var vectorIDs, lexicalIDs []int64
	var vectorErr, lexicalErr error

	// Both legs run concurrently; a failed leg degrades to the other
	// rather than failing the whole search.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.store.VectorSearch(gctx, scope, queryVec, fetch)
		if err != nil {
			vectorErr = err
			return nil
		}
		vectorIDs = make([]int64, len(hits))
		for i, h := range hits {
			vectorIDs[i] = h.ID
		}
		return nil
	})
	g.Go(func() error {
		// An empty query matches nothing lexically; the fused ranking
		// is then vector-only.
		if strings.TrimSpace(query) == "" {
			return nil
		}
		hits, err := r.store.LexicalSearch(gctx, scope, query, fetch)
		if err != nil {
			lexicalErr = err
			return nil
		}
		lexicalIDs = make([]int64, len(hits))
		for i, h := range hits {
			lexicalIDs[i] = h.ID
		}
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && lexicalErr != nil {
		return nil, fmt.Errorf("search: both legs failed: vector: %v; lexical: %v", vectorErr, lexicalErr)
	}
	if vectorErr != nil {
		slog.Warn("vector search failed, using lexical results only",
			slog.String("granularity", string(r.granularity)),
			slog.String("error", vectorErr.Error()))
	}
	if lexicalErr != nil {
		slog.Warn("lexical search failed, using vector results only",
			slog.String("granularity", string(r.granularity)),
			slog.String("error", lexicalErr.Error()))
	}

	fused := FuseRRF(r.opts.RRFConstant, vectorIDs, lexicalIDs)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	if len(fused) == 0 {
		return []Result{}, nil
	}

	return r.enrich(ctx, fused)
}

// enrich loads row content for the fused ids, preserving fusion order.
func (r *Retriever) enrich(ctx context.Context, fused []FusedResult) ([]Result, error) {
	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}

	if r.granularity == store.GranularityDocument {
		docs, err := r.store.GetDocuments(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("search: load documents: %w", err)
		}
		byID := make(map[int64]*store.Document, len(docs))
		for _, d := range docs {
			byID[d.ID] = d
		}

		results := make([]Result, 0, len(fused))
		for _, f := range fused {
			d, ok := byID[f.ID]
			if !ok {
				continue // deleted between ranking and enrichment
			}
			results = append(results, Result{
				ID:            d.ID,
				DocumentID:    d.ID,
				SearchSpaceID: d.SearchSpaceID,
				Title:         d.Title,
				Content:       d.Content,
				Score:         f.Score,
			})
		}
		return results, nil
	}

	chunks, err := r.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: load chunks: %w", err)
	}
	byID := make(map[int64]*store.Chunk, len(chunks))
	docIDs := make([]int64, 0, len(chunks))
	seen := make(map[int64]struct{}, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
		if _, ok := seen[c.DocumentID]; !ok {
			seen[c.DocumentID] = struct{}{}
			docIDs = append(docIDs, c.DocumentID)
		}
	}

	docs, err := r.store.GetDocuments(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("search: load parent documents: %w", err)
	}
	docByID := make(map[int64]*store.Document, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d
	}

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		c, ok := byID[f.ID]
		if !ok {
			continue
		}
		res := Result{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Score:      f.Score,
		}
		if d, ok := docByID[c.DocumentID]; ok {
			res.Title = d.Title
			res.SearchSpaceID = d.SearchSpaceID
		}
		results = append(results, res)
	}
	return results, nil
}
