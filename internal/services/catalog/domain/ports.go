package domain

import (
	"context"

	"gedigo/internal/adapters/archive/cmr"
)

// ResolverPort is the public port exposed by the catalog module
type ResolverPort interface {
	// Resolve returns the deduplicated granules matching the query.
	// An empty result is not an error
	Resolve(ctx context.Context, q Query) ([]Granule, error)
}

// Searcher is the archive catalog port the service drives
type Searcher interface {
	Search(q cmr.Query) (*cmr.Pager, error)
}
