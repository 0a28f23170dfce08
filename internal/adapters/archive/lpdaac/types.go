// Package lpdaac retrieves granule payloads from the land processes
// distribution archive and decodes their shot streams
package lpdaac

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FileRef is the minimum needed to fetch one granule payload
type FileRef struct {
	Name   string // archive filename, also the cache key
	URL    string
	SHA256 string // expected checksum; empty skips verification
}

// ShotRecord is one line of a granule's shot stream: a single geolocated
// laser observation with its quality flags and height metrics
type ShotRecord struct {
	ShotNumber    uint64  `json:"shot_number"`
	Beam          string  `json:"beam"`
	Lat           float64 `json:"lat_lowestmode"`
	Lon           float64 `json:"lon_lowestmode"`
	DeltaTime     float64 `json:"delta_time"`
	ElevLowest    float64 `json:"elev_lowestmode"`
	DEM           float64 `json:"dem_tandemx"`
	QualityFlag   float64 `json:"quality_flag"`
	DegradeFlag   float64 `json:"degrade_flag"`
	SurfaceFlag   float64 `json:"surface_flag"`
	SensitivityA0 float64 `json:"sensitivity_a0"`
	SensitivityA2 float64 `json:"sensitivity_a2"`
	SolarElev     float64 `json:"solar_elevation"`
	EnergyTotal   float64 `json:"energy_total"`
	RH            []float64 `json:"rh"` // relative height percentiles, rh[0]..rh[100]
}

// Metric resolves a column name to its numeric value. rh_N indexes the
// relative height array; elev_dem_offset is derived on the fly
func (s ShotRecord) Metric(column string) (float64, bool) {
	switch column {
	case "shot_number":
		return float64(s.ShotNumber), true
	case "lat_lowestmode":
		return s.Lat, true
	case "lon_lowestmode":
		return s.Lon, true
	case "delta_time":
		return s.DeltaTime, true
	case "elev_lowestmode":
		return s.ElevLowest, true
	case "dem_tandemx":
		return s.DEM, true
	case "quality_flag":
		return s.QualityFlag, true
	case "degrade_flag":
		return s.DegradeFlag, true
	case "surface_flag":
		return s.SurfaceFlag, true
	case "sensitivity_a0":
		return s.SensitivityA0, true
	case "sensitivity_a2":
		return s.SensitivityA2, true
	case "solar_elevation":
		return s.SolarElev, true
	case "energy_total":
		return s.EnergyTotal, true
	case "elev_dem_offset":
		if s.DEM == 0 && s.ElevLowest == 0 {
			return 0, false
		}
		return s.ElevLowest - s.DEM, true
	}
	if idx, ok := strings.CutPrefix(column, "rh_"); ok {
		n, err := strconv.Atoi(idx)
		if err == nil && n >= 0 && n < len(s.RH) {
			return s.RH[n], true
		}
		// rh_100 is so common that granules without the full array still
		// publish it as the last element
		if err == nil && n == 100 && len(s.RH) > 0 {
			return s.RH[len(s.RH)-1], true
		}
	}
	return 0, false
}

// Valid rejects records the decoder produced but that cannot be geolocated
func (s ShotRecord) Valid() bool {
	if s.ShotNumber == 0 {
		return false
	}
	if math.IsNaN(s.Lat) || math.IsNaN(s.Lon) {
		return false
	}
	return s.Lat >= -90 && s.Lat <= 90 && s.Lon >= -180 && s.Lon <= 180
}

func (s ShotRecord) String() string {
	return fmt.Sprintf("shot %d %s (%.5f,%.5f)", s.ShotNumber, s.Beam, s.Lon, s.Lat)
}
