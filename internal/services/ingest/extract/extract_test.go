package extract

import (
	"testing"
	"time"

	"gedigo/internal/adapters/archive/lpdaac"
	"gedigo/internal/core/granule"
	"gedigo/internal/core/quality"
	"gedigo/internal/services/ingest/domain"
)

func compile(t *testing.T, spec domain.FilterSpec) domain.Filters {
	t.Helper()
	f, err := spec.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return f
}

func record(lon, lat float64) lpdaac.ShotRecord {
	return lpdaac.ShotRecord{
		ShotNumber:    77,
		Beam:          "BEAM0110",
		Lon:           lon,
		Lat:           lat,
		DeltaTime:     1.07e8, // mid-2021
		QualityFlag:   1,
		SensitivityA0: 0.95,
		ElevLowest:    120,
		DEM:           118,
		RH:            make([]float64, 101),
	}
}

func TestShot_PassesAllStages(t *testing.T) {
	t.Parallel()

	f := compile(t, domain.FilterSpec{
		BBox:    "-55,-5,-50,0",
		Quality: quality.Profile{{Column: "quality_flag", Op: quality.OpEq, Value: 1}},
		Columns: []string{"elev_lowestmode", "rh_100"},
	})

	rec := record(-53, -3)
	shot, ok := Shot("G1", rec, 42, f)
	if !ok {
		t.Fatalf("nominal record should pass")
	}
	if shot.GranuleID != "G1" || shot.ShotOffset != 42 || shot.ShotNumber != 77 {
		t.Fatalf("identity fields: %+v", shot)
	}
	if len(shot.Columns) != 2 {
		t.Fatalf("projection = %v", shot.Columns)
	}
	if _, ok := shot.Columns["elev_lowestmode"]; !ok {
		t.Fatalf("projected column missing: %v", shot.Columns)
	}
	if !shot.AcquiredAt.Equal(granule.AbsoluteTime(rec.DeltaTime)) {
		t.Fatalf("AcquiredAt not derived from delta_time")
	}
}

func TestShot_BBoxRejects(t *testing.T) {
	t.Parallel()

	f := compile(t, domain.FilterSpec{BBox: "-55,-5,-50,0"})
	if _, ok := Shot("G1", record(10, 10), 0, f); ok {
		t.Fatalf("out-of-bbox shot should be rejected")
	}
}

func TestShot_PolygonContainmentAfterBBox(t *testing.T) {
	t.Parallel()

	// lower-left triangle of the 0..10 square: (9,9) is in the bbox but
	// outside the polygon
	f := compile(t, domain.FilterSpec{Polygon: [][2]float64{{0, 0}, {10, 0}, {0, 10}}})

	if _, ok := Shot("G1", record(2, 2), 0, f); !ok {
		t.Fatalf("in-polygon shot should pass")
	}
	if _, ok := Shot("G1", record(9, 9), 0, f); ok {
		t.Fatalf("bbox hit outside the polygon should be rejected")
	}
}

func TestShot_TimeWindowRejects(t *testing.T) {
	t.Parallel()

	start := granule.Epoch.Add(200 * 24 * time.Hour)
	end := start.Add(24 * time.Hour)
	f := compile(t, domain.FilterSpec{Start: &start, End: &end})

	rec := record(0, 0)
	rec.DeltaTime = 0 // at mission epoch, long before the window
	if _, ok := Shot("G1", rec, 0, f); ok {
		t.Fatalf("shot outside the time window should be rejected")
	}

	rec.DeltaTime = start.Add(time.Hour).Sub(granule.Epoch).Seconds()
	if _, ok := Shot("G1", rec, 0, f); !ok {
		t.Fatalf("shot inside the window should pass")
	}
}

func TestShot_QualityRejects(t *testing.T) {
	t.Parallel()

	f := compile(t, domain.FilterSpec{
		Quality: quality.Profile{{Column: "sensitivity_a0", Op: quality.OpGte, Value: 0.99}},
	})
	if _, ok := Shot("G1", record(0, 0), 0, f); ok {
		t.Fatalf("low-sensitivity shot should be rejected")
	}
}

func TestShot_DefaultProjection(t *testing.T) {
	t.Parallel()

	f := compile(t, domain.FilterSpec{})
	shot, ok := Shot("G1", record(0, 0), 0, f)
	if !ok {
		t.Fatalf("unfiltered record should pass")
	}
	for _, c := range DefaultColumns {
		if _, present := shot.Columns[c]; !present {
			t.Fatalf("default column %q missing: %v", c, shot.Columns)
		}
	}
	if _, present := shot.Columns["energy_total"]; present {
		t.Fatalf("non-default column should not be projected")
	}
}

func TestShot_MissingColumnOmitted(t *testing.T) {
	t.Parallel()

	f := compile(t, domain.FilterSpec{Columns: []string{"rh_100", "no_such_metric"}})
	shot, ok := Shot("G1", record(0, 0), 0, f)
	if !ok {
		t.Fatalf("record should pass")
	}
	if _, present := shot.Columns["no_such_metric"]; present {
		t.Fatalf("unknown metric must not appear in the projection")
	}
	if _, present := shot.Columns["rh_100"]; !present {
		t.Fatalf("known metric missing")
	}
}
