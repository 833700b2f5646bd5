// Package connector defines external source connectors: validated
// per-type configurations and fetchers that pull items created or
// updated inside a time window.
package connector

import (
	"context"
	"time"

	"github.com/driftline/driftline/internal/store"
)

// Item is one external content unit pulled by a fetcher. ExternalID
// identifies it at the source; re-fetching the same item on a later
// run is expected and tolerated downstream.
type Item struct {
	ExternalID string
	Title      string
	Content    string
	Metadata   map[string]string
}

// Fetcher pulls items from one external source type. FetchSince
// returns every item created or updated at or after since. A fetch
// error means no items could be retrieved; partial per-item problems
// are handled by the caller, not here.
type Fetcher interface {
	Type() store.ConnectorType
	DocumentType() store.DocumentType
	FetchSince(ctx context.Context, cfg map[string]string, since time.Time) ([]Item, error)
}
