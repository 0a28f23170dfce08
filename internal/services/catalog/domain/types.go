// Package domain holds the catalog resolver types and ports
package domain

import (
	"time"

	"gedigo/internal/adapters/archive/cmr"
	"gedigo/internal/core/geo"
	"gedigo/internal/core/granule"
)

// Granule re-exports the catalog hit shape used throughout the pipeline
type Granule = cmr.GranuleRef

// Query is a resolver request: which granules intersect this region and window
type Query struct {
	Products []granule.Product
	Version  string
	Region   geo.Region
	Start    time.Time
	End      time.Time

	// RequireCompleteOrbits drops orbits missing any requested product level
	RequireCompleteOrbits bool
}
