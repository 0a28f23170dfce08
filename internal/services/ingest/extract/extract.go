// Package extract turns raw shot records into load-ready shots, applying
// the filter chain cheapest-first: bounding box, then exact containment,
// then time window, then quality conditions, then column projection
package extract

import (
	"gedigo/internal/adapters/archive/lpdaac"
	"gedigo/internal/core/granule"
	"gedigo/internal/services/ingest/domain"
)

// DefaultColumns is projected when a request names no columns
var DefaultColumns = domain.DefaultColumns

// Shot evaluates one record against the compiled filters. The second return
// is false when the record is filtered out
func Shot(granuleID string, rec lpdaac.ShotRecord, off int64, f domain.Filters) (domain.Shot, bool) {
	if f.HasRegion {
		if !f.Region.InBound(rec.Lon, rec.Lat) {
			return domain.Shot{}, false
		}
		if !f.Region.Contains(rec.Lon, rec.Lat) {
			return domain.Shot{}, false
		}
	}

	at := granule.AbsoluteTime(rec.DeltaTime)
	if !f.InTimeWindow(at) {
		return domain.Shot{}, false
	}

	if len(f.Quality) > 0 && !f.Quality.Eval(rec.Metric) {
		return domain.Shot{}, false
	}

	cols := f.Columns
	if len(cols) == 0 {
		cols = DefaultColumns
	}
	out := domain.Shot{
		GranuleID:  granuleID,
		ShotOffset: off,
		ShotNumber: rec.ShotNumber,
		Beam:       rec.Beam,
		Lon:        rec.Lon,
		Lat:        rec.Lat,
		AcquiredAt: at,
		Columns:    make(map[string]float64, len(cols)),
	}
	for _, c := range cols {
		if v, ok := rec.Metric(c); ok {
			out.Columns[c] = v
		}
	}
	return out, true
}
