package connector

import (
	"fmt"

	derrors "github.com/driftline/driftline/internal/errors"
	"github.com/driftline/driftline/internal/store"
)

// Registry maps connector types to their fetchers. Web-search API
// connector types are deliberately absent: they are not indexable and
// lookups for them fail with a coded error.
type Registry struct {
	fetchers map[store.ConnectorType]Fetcher
}

// NewRegistry creates a registry with the standard fetchers.
func NewRegistry() *Registry {
	r := &Registry{fetchers: make(map[store.ConnectorType]Fetcher)}
	r.Register(NewSlackFetcher())
	r.Register(NewNotionFetcher())
	r.Register(NewGitHubFetcher())
	return r
}

// NewEmptyRegistry creates a registry with no fetchers, for tests that
// register fakes.
func NewEmptyRegistry() *Registry {
	return &Registry{fetchers: make(map[store.ConnectorType]Fetcher)}
}

// Register adds or replaces the fetcher for its connector type.
func (r *Registry) Register(f Fetcher) {
	r.fetchers[f.Type()] = f
}

// Fetcher returns the fetcher for connType, or a coded error when the
// type is not indexable or unknown.
func (r *Registry) Fetcher(connType store.ConnectorType) (Fetcher, error) {
	if f, ok := r.fetchers[connType]; ok {
		return f, nil
	}
	if !IsIndexable(connType) {
		return nil, derrors.New(derrors.ErrCodeConnectorNotIndexed,
			fmt.Sprintf("connector type %s is not indexable", connType), nil)
	}
	return nil, derrors.New(derrors.ErrCodeConnectorConfig,
		fmt.Sprintf("no fetcher registered for connector type %s", connType), nil)
}
