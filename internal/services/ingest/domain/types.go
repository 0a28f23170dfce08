// Package domain holds the core ingest types: compiled filters, shots, and
// the per-granule ledger shapes
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"gedigo/internal/adapters/archive/cmr"
	"gedigo/internal/core/geo"
	"gedigo/internal/core/quality"
	perr "gedigo/internal/platform/errors"
)

// GranuleRef re-exports the catalog hit shape
type GranuleRef = cmr.GranuleRef

// ErrAlreadyIngested marks a clean skip: a prior completed run already
// covers the requested filters for this granule
var ErrAlreadyIngested = errors.New("ingest: granule already covered by a prior run")

// Shot is one filtered, projected observation ready for load.
// (GranuleID, ShotOffset) is the durable row key; re-ingesting the same
// offset upserts rather than duplicates
type Shot struct {
	GranuleID  string
	ShotOffset int64
	ShotNumber uint64
	Beam       string
	Lon, Lat   float64
	AcquiredAt time.Time
	Columns    map[string]float64
}

// DefaultColumns is the projection used when a request names no columns
var DefaultColumns = []string{
	"rh_100",
	"elev_lowestmode",
	"dem_tandemx",
	"sensitivity_a0",
	"solar_elevation",
}

// FilterSpec is the wire and ledger form of a shot filter. It is persisted
// verbatim with each completed granule so later requests can detect when
// prior work already covers them
type FilterSpec struct {
	BBox    string          `json:"bbox,omitempty"    validate:"omitempty"`
	Polygon [][2]float64    `json:"polygon,omitempty" validate:"omitempty,min=3,dive"`
	Start   *time.Time      `json:"start,omitempty"`
	End     *time.Time      `json:"end,omitempty"`
	Columns []string        `json:"columns,omitempty" validate:"omitempty,dive,required"`
	Quality quality.Profile `json:"quality,omitempty"`
}

// Filters is the compiled, evaluatable form of a FilterSpec
type Filters struct {
	Region    geo.Region
	HasRegion bool
	Start     time.Time
	End       time.Time
	Quality   quality.Profile
	Columns   []string
}

// Compile validates the spec and builds the evaluatable filter set
func (s FilterSpec) Compile() (Filters, error) {
	var f Filters
	if s.BBox != "" && len(s.Polygon) > 0 {
		return f, perr.InvalidArgf("filters: bbox and polygon are mutually exclusive")
	}
	switch {
	case s.BBox != "":
		r, err := geo.ParseBBox(s.BBox)
		if err != nil {
			return f, err
		}
		f.Region, f.HasRegion = r, true
	case len(s.Polygon) > 0:
		pts := make([]orb.Point, len(s.Polygon))
		for i, p := range s.Polygon {
			pts[i] = orb.Point{p[0], p[1]}
		}
		r, err := geo.FromPoints(pts)
		if err != nil {
			return f, err
		}
		f.Region, f.HasRegion = r, true
	}
	if s.Start != nil {
		f.Start = s.Start.UTC()
	}
	if s.End != nil {
		f.End = s.End.UTC()
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, perr.InvalidArgf("filters: end before start")
	}
	if err := s.Quality.Validate(); err != nil {
		return f, err
	}
	f.Quality = s.Quality
	f.Columns = append([]string(nil), s.Columns...)
	return f, nil
}

// Fingerprint is a stable digest of the spec, insensitive to column order
func (s FilterSpec) Fingerprint() string {
	c := s
	c.Columns = append([]string(nil), s.Columns...)
	sort.Strings(c.Columns)
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Covers reports whether rows ingested under s already satisfy a request
// under o: s must select at least everything o selects. A rectangular prior
// region covers by bbox inclusion; a polygonal prior only covers the exact
// same region, since its bbox includes area the polygon never touched. Time
// window and columns are judged by inclusion; quality by s's conditions being
// a subset of o's (fewer conditions admit more shots)
func (s FilterSpec) Covers(o FilterSpec) bool {
	sf, err := s.Compile()
	if err != nil {
		return false
	}
	of, err := o.Compile()
	if err != nil {
		return false
	}

	if sf.HasRegion {
		if !of.HasRegion {
			return false
		}
		if sf.Region.Rect() {
			sb, ob := sf.Region.Bound(), of.Region.Bound()
			if ob.Min[0] < sb.Min[0] || ob.Min[1] < sb.Min[1] ||
				ob.Max[0] > sb.Max[0] || ob.Max[1] > sb.Max[1] {
				return false
			}
		} else if sf.Region.WKT() != of.Region.WKT() {
			// a false negative only re-ingests, which upserts are safe for
			return false
		}
	}
	if !sf.Start.IsZero() && (of.Start.IsZero() || of.Start.Before(sf.Start)) {
		return false
	}
	if !sf.End.IsZero() && (of.End.IsZero() || of.End.After(sf.End)) {
		return false
	}
	// no projection ingests the default set, not every column
	sCols, oCols := sf.Columns, of.Columns
	if len(sCols) == 0 {
		sCols = DefaultColumns
	}
	if len(oCols) == 0 {
		oCols = DefaultColumns
	}
	have := map[string]bool{}
	for _, c := range sCols {
		have[c] = true
	}
	for _, c := range oCols {
		if !have[c] {
			return false
		}
	}
	need := map[string]bool{}
	for _, c := range of.Quality {
		need[c.String()] = true
	}
	for _, c := range sf.Quality {
		if !need[c.String()] {
			return false
		}
	}
	return true
}

// InTimeWindow applies the compiled time filter
func (f Filters) InTimeWindow(t time.Time) bool {
	if !f.Start.IsZero() && t.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && t.After(f.End) {
		return false
	}
	return true
}

// Status values a granule ledger entry moves through; transitions are
// forward-only except explicit re-ingestion on a version change
const (
	StatusPending     = "pending"
	StatusInProgress  = "in_progress"
	StatusComplete    = "complete"
	StatusFailed      = "failed"
	StatusQuarantined = "quarantined"
	StatusSkipped     = "skipped"
)

// Progress is the recovery checkpoint: the last batch committed and the
// last shot offset it covered
type Progress struct {
	BatchSeq   int64
	ShotOffset int64
}

// FetchState is the durable fetch record for one granule
type FetchState struct {
	Status       string // pending partial complete failed
	BytesFetched int64
	LocalPath    string
	SHA256       string
	ErrText      string
}

// GranuleFinish summarizes one granule run for the ledger
type GranuleFinish struct {
	Status            string
	CacheHit          bool
	BytesUncompressed int64
	ShotsScanned      int
	ShotsKept         int
	Inserted          int
	Updated           int
	Batches           int
	FetchMS           int
	ReadMS            int
	DBMS              int
	ElapsedMS         int
	ErrText           string
}

// CompletedIngest is one prior completed ledger entry for a granule
type CompletedIngest struct {
	Fingerprint string
	Spec        FilterSpec
	FinishedAt  time.Time
}

// Report aggregates a multi-granule run with partial-success semantics
type Report struct {
	Succeeded []string
	Skipped   []string
	Failed    map[string]string // granule id -> reason
}

// Ok reports whether nothing failed
func (r Report) Ok() bool { return len(r.Failed) == 0 }

func (r Report) String() string {
	return "succeeded=" + strconv.Itoa(len(r.Succeeded)) +
		" skipped=" + strconv.Itoa(len(r.Skipped)) +
		" failed=" + strconv.Itoa(len(r.Failed))
}
