// Package geo provides planar region handling for granule search and shot filtering
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	perr "gedigo/internal/platform/errors"
)

// MaxSearchVertices is the most polygon points the archive search API accepts
// in a single spatial query. Shapes above this are replaced by covering tiles
const MaxSearchVertices = 4999

// TileSizeDeg is the covering tile edge in degrees
const TileSizeDeg = 1.0

// Region is an area of interest in EPSG:4326. It always carries both the
// exact polygon and its bounding box so callers can do a cheap bbox reject
// before the exact containment test
type Region struct {
	poly  orb.Polygon
	bound orb.Bound
	rect  bool
}

// FromBound builds a rectangular region from west, south, east, north degrees
func FromBound(west, south, east, north float64) (Region, error) {
	if east <= west || north <= south {
		return Region{}, perr.InvalidArgf("geo: empty bound %f,%f,%f,%f", west, south, east, north)
	}
	if west < -180 || east > 180 || south < -90 || north > 90 {
		return Region{}, perr.InvalidArgf("geo: bound out of range %f,%f,%f,%f", west, south, east, north)
	}
	b := orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
	return Region{poly: b.ToPolygon(), bound: b, rect: true}, nil
}

// ParseBBox parses "west,south,east,north" into a rectangular region
func ParseBBox(s string) (Region, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return Region{}, perr.InvalidArgf("geo: bbox needs 4 comma separated values, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Region{}, perr.InvalidArgf("geo: bad bbox value %q", p)
		}
		v[i] = f
	}
	return FromBound(v[0], v[1], v[2], v[3])
}

// FromPoints builds a polygonal region from an exterior ring given as
// lon/lat points. The ring is closed and reoriented counterclockwise when
// needed; the archive search API rejects clockwise exteriors
func FromPoints(pts []orb.Point) (Region, error) {
	if len(pts) < 3 {
		return Region{}, perr.InvalidArgf("geo: polygon needs at least 3 points, got %d", len(pts))
	}
	ring := make(orb.Ring, 0, len(pts)+1)
	for _, p := range pts {
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			return Region{}, perr.InvalidArgf("geo: point out of range %f,%f", p[0], p[1])
		}
		ring = append(ring, p)
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if ring.Orientation() != orb.CCW {
		ring.Reverse()
	}
	poly := orb.Polygon{ring}
	return Region{poly: poly, bound: poly.Bound()}, nil
}

// FromPolygon wraps an existing orb polygon, normalizing each ring closure
// and the exterior orientation
func FromPolygon(p orb.Polygon) (Region, error) {
	if len(p) == 0 || len(p[0]) < 3 {
		return Region{}, perr.InvalidArgf("geo: empty polygon")
	}
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		ring := make(orb.Ring, len(r))
		copy(ring, r)
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		// exterior counterclockwise, holes clockwise
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}
		out[i] = ring
	}
	return Region{poly: out, bound: out.Bound()}, nil
}

// Bound returns the region's bounding box
func (g Region) Bound() orb.Bound { return g.bound }

// Empty reports whether the region carries no shape at all, meaning no
// spatial constraint
func (g Region) Empty() bool { return len(g.poly) == 0 }

// Rect reports whether the region is an axis aligned rectangle
func (g Region) Rect() bool { return g.rect }

// VertexCount returns the total number of ring points across the polygon
func (g Region) VertexCount() int {
	n := 0
	for _, r := range g.poly {
		n += len(r)
	}
	return n
}

// InBound is the cheap first-stage test: point inside the bounding box
func (g Region) InBound(lon, lat float64) bool {
	return lon >= g.bound.Min[0] && lon <= g.bound.Max[0] &&
		lat >= g.bound.Min[1] && lat <= g.bound.Max[1]
}

// Contains reports whether the point is inside the region. Rectangles short
// circuit to the bbox test; polygons pay for the exact containment check
func (g Region) Contains(lon, lat float64) bool {
	if !g.InBound(lon, lat) {
		return false
	}
	if g.rect {
		return true
	}
	return planar.PolygonContains(g.poly, orb.Point{lon, lat})
}

// BBoxString renders the bounding box as "west,south,east,north"
func (g Region) BBoxString() string {
	return fmt.Sprintf("%g,%g,%g,%g", g.bound.Min[0], g.bound.Min[1], g.bound.Max[0], g.bound.Max[1])
}

// ExteriorPoints returns the closed counterclockwise exterior ring
func (g Region) ExteriorPoints() []orb.Point {
	if len(g.poly) == 0 {
		return nil
	}
	return append([]orb.Point(nil), g.poly[0]...)
}

// WKT renders the region polygon as well known text
func (g Region) WKT() string { return wkt.MarshalString(g.poly) }

// SearchRegions returns the regions to send to the archive search API.
// A shape under maxVertices goes out as-is; anything larger is replaced by
// its covering degree tiles so no query exceeds the API's point limit.
// Pass 0 for the production limit
func (g Region) SearchRegions(maxVertices int) []Region {
	if maxVertices <= 0 {
		maxVertices = MaxSearchVertices
	}
	if g.rect || g.VertexCount() <= maxVertices {
		return []Region{g}
	}
	return g.CoveringTiles()
}

// CoveringTiles tiles the region into 1x1 degree cells that intersect the
// polygon. The union of the tiles covers the shape without blowing up the
// vertex count the way a convex hull would blow up the area
func (g Region) CoveringTiles() []Region {
	minX := math.Floor(g.bound.Min[0] / TileSizeDeg)
	maxX := math.Ceil(g.bound.Max[0] / TileSizeDeg)
	minY := math.Floor(g.bound.Min[1] / TileSizeDeg)
	maxY := math.Ceil(g.bound.Max[1] / TileSizeDeg)

	var tiles []Region
	for x := minX; x < maxX; x++ {
		for y := minY; y < maxY; y++ {
			cell := orb.Bound{
				Min: orb.Point{x * TileSizeDeg, y * TileSizeDeg},
				Max: orb.Point{(x + 1) * TileSizeDeg, (y + 1) * TileSizeDeg},
			}
			if !g.bound.Intersects(cell) {
				continue
			}
			clipped := clip.Polygon(cell, g.poly.Clone())
			if len(clipped) == 0 || len(clipped[0]) == 0 {
				continue
			}
			tiles = append(tiles, Region{poly: cell.ToPolygon(), bound: cell, rect: true})
		}
	}
	return tiles
}
