// Package granule holds granule naming, product, and orbit helpers shared by
// the catalog and ingest services
package granule

import (
	"regexp"
	"strconv"
	"time"

	perr "gedigo/internal/platform/errors"
)

// Epoch is the mission reference time; per-shot delta_time counts seconds
// from this instant
var Epoch = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

// AbsoluteTime converts a shot delta_time (seconds since Epoch) to UTC
func AbsoluteTime(deltaSeconds float64) time.Time {
	return Epoch.Add(time.Duration(deltaSeconds * float64(time.Second)))
}

// Product identifies a processing level of the archive's granule files
type Product string

// Products the pipeline knows how to ingest
const (
	ProductL1B Product = "GEDI01_B"
	ProductL2A Product = "GEDI02_A"
	ProductL2B Product = "GEDI02_B"
	ProductL4A Product = "GEDI04_A"
)

// Valid reports whether p is a known product
func (p Product) Valid() bool {
	switch p {
	case ProductL1B, ProductL2A, ProductL2B, ProductL4A:
		return true
	}
	return false
}

// NameMetadata is everything encoded in an archive granule filename, e.g.
// GEDI02_A_2021151223228_O13856_02_T02302_02_003_02_V002.h5
type NameMetadata struct {
	Product           Product
	Year              int
	JulianDay         int
	Hour, Minute, Sec int
	Orbit             string // "O13856"
	SubOrbit          string // "02"
	GroundTrack       string // "T02302"
	Positioning       string // "02"
	PGEVersion        string // "003"
	ProductionVersion string // "02"
	Release           string // "V002"
}

// Filenames follow <product>_<yyyydddhhmmss>_<orbit>_<sub>_<track>_<pos>_<pge>_<prod>_<release>
var namePattern = regexp.MustCompile(
	`(\w+_\w)_(\d{4})(\d{3})(\d{2})(\d{2})(\d{2})_(O\d+)_(\d{2})_(T\d+)_(\d{2})_(\d{3})_(\d{2})_(V\d+)`,
)

// ParseName extracts metadata from a granule filename; the extension and any
// leading path segments are ignored
func ParseName(name string) (NameMetadata, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return NameMetadata{}, perr.MalformedGranulef("granule: name %q does not match the archive convention", name)
	}
	atoi := func(s string) int { n, _ := strconv.Atoi(s); return n }
	return NameMetadata{
		Product:           Product(m[1]),
		Year:              atoi(m[2]),
		JulianDay:         atoi(m[3]),
		Hour:              atoi(m[4]),
		Minute:            atoi(m[5]),
		Sec:               atoi(m[6]),
		Orbit:             m[7],
		SubOrbit:          m[8],
		GroundTrack:       m[9],
		Positioning:       m[10],
		PGEVersion:        m[11],
		ProductionVersion: m[12],
		Release:           m[13],
	}, nil
}

// AcquiredAt resolves the filename timestamp (year + julian day + clock) to UTC
func (n NameMetadata) AcquiredAt() time.Time {
	return time.Date(n.Year, 1, 1, n.Hour, n.Minute, n.Sec, 0, time.UTC).
		AddDate(0, 0, n.JulianDay-1)
}

// Key uniquely identifies a granule file within a product:
// orbit numbers repeat across products, but {orbit, track, sub-orbit} is
// unique within one
func (n NameMetadata) Key() string {
	return n.Orbit + "_" + n.GroundTrack + "_" + n.SubOrbit
}

// CompleteOrbits returns the orbits that have at least one granule for every
// product in want. Joining shots across processing levels needs the full
// product set, so orbits missing a level are dropped before download
func CompleteOrbits(byOrbit map[string][]Product, want []Product) map[string]bool {
	out := make(map[string]bool, len(byOrbit))
	for orbit, products := range byOrbit {
		seen := map[Product]bool{}
		for _, p := range products {
			seen[p] = true
		}
		ok := true
		for _, w := range want {
			if !seen[w] {
				ok = false
				break
			}
		}
		if ok {
			out[orbit] = true
		}
	}
	return out
}
