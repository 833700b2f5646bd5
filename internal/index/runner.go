package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/chunk"
	"github.com/driftline/driftline/internal/connector"
	"github.com/driftline/driftline/internal/store"
)

// DefaultLookbackDays is the fetch window for a connector that has
// never been indexed.
const DefaultLookbackDays = 365

// Runner executes indexing runs for connectors.
type Runner struct {
	store    store.ContentStore
	registry *connector.Registry
	chunker  *chunk.Chunker

	lookback time.Duration
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLookbackDays overrides the first-run fetch window.
func WithLookbackDays(days int) RunnerOption {
	return func(r *Runner) {
		if days > 0 {
			r.lookback = time.Duration(days) * 24 * time.Hour
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates an indexing runner.
func NewRunner(st store.ContentStore, registry *connector.Registry, chunker *chunk.Chunker, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    st,
		registry: registry,
		chunker:  chunker,
		lookback: DefaultLookbackDays * 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window computes the fetch window for a connector checkpoint: from
// the checkpoint (or the lookback horizon when unset) up to now. A
// checkpoint on today's calendar day is pulled back one extra day so
// items landing after the previous same-day run are not skipped.
func (r *Runner) Window(lastIndexedAt *time.Time) (since, until time.Time) {
	until = r.now().UTC()
	if lastIndexedAt == nil {
		return until.Add(-r.lookback), until
	}

	since = lastIndexedAt.UTC()
	if sameCalendarDay(since, until) {
		since = since.AddDate(0, 0, -1)
	}
	return since, until
}

// RunIndexing pulls the connector's window and materializes each item
// as a document with chunks. Item failures are isolated: the batch
// continues and the failed external ids surface in the outcome. The
// checkpoint advances to the run's start time only when at least one
// document was indexed and the outcome confirms it.
func (r *Runner) RunIndexing(ctx context.Context, connectorID, searchSpaceID int64) (int, Outcome) {
	conn, err := r.store.GetConnector(ctx, connectorID)
	if err != nil {
		return 0, Failure(fmt.Sprintf("load connector %d: %v", connectorID, err), nil)
	}
	if !conn.IsIndexable {
		return 0, Failure(fmt.Sprintf("connector %d (%s) is not indexable", connectorID, conn.Type), nil)
	}
	if _, err := r.store.GetSearchSpace(ctx, searchSpaceID); err != nil {
		return 0, Failure(fmt.Sprintf("load search space %d: %v", searchSpaceID, err), nil)
	}

	fetcher, err := r.registry.Fetcher(conn.Type)
	if err != nil {
		return 0, Failure(err.Error(), nil)
	}

	runStart := r.now().UTC()
	since, until := r.Window(conn.LastIndexedAt)

	log := slog.With(
		slog.Int64("connector_id", connectorID),
		slog.String("connector_type", string(conn.Type)),
		slog.Time("window_start", since),
		slog.Time("window_end", until),
	)
	log.Info("indexing run started")

	items, err := fetcher.FetchSince(ctx, conn.Config, since)
	if err != nil {
		log.Error("fetch failed", slog.String("error", err.Error()))
		return 0, Failure(fmt.Sprintf("fetch %s: %v", conn.Type, err), nil)
	}
	if len(items) == 0 {
		log.Info("indexing run finished, window was empty")
		return 0, Success(0)
	}

	indexed := 0
	var failed []string
	for _, item := range items {
		if err := r.ingestItem(ctx, searchSpaceID, fetcher.DocumentType(), item); err != nil {
			log.Warn("item failed",
				slog.String("external_id", item.ExternalID),
				slog.String("error", err.Error()))
			failed = append(failed, item.ExternalID)
			continue
		}
		indexed++
	}

	outcome := r.classify(indexed, len(items), failed)

	if indexed > 0 && outcome.AdvancesCheckpoint() {
		if err := r.store.SetLastIndexedAt(ctx, connectorID, runStart); err != nil {
			// Documents are in; a stale checkpoint only means re-fetching
			// next run, which ingestion tolerates.
			log.Error("checkpoint update failed", slog.String("error", err.Error()))
		}
	}

	log.Info("indexing run finished",
		slog.Int("indexed", indexed),
		slog.Int("failed", len(failed)),
		slog.String("status", string(outcome.Status)))

	return indexed, outcome
}

func (r *Runner) classify(indexed, total int, failed []string) Outcome {
	switch {
	case len(failed) == 0:
		return Success(indexed)
	case indexed == 0:
		return Failure(fmt.Sprintf("all %d items failed", total), failed)
	default:
		return Warning(indexed, total, failed)
	}
}

func (r *Runner) ingestItem(ctx context.Context, searchSpaceID int64, docType store.DocumentType, item connector.Item) error {
	chunks := r.chunker.Split(item.Content)
	if len(chunks) == 0 {
		return fmt.Errorf("item %s has no indexable content", item.ExternalID)
	}

	metadata := make(map[string]string, len(item.Metadata)+1)
	for k, v := range item.Metadata {
		metadata[k] = v
	}
	metadata["external_id"] = item.ExternalID

	_, err := r.store.CreateDocumentWithChunks(ctx, store.CreateDocumentInput{
		SearchSpaceID: searchSpaceID,
		Type:          docType,
		Title:         item.Title,
		Content:       item.Content,
		Metadata:      metadata,
		ChunkTexts:    chunks,
	})
	return err
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
