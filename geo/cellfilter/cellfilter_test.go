package cellfilter

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

func tp(ts int64, pt orb.Point) trackpoint.TrackPoint {
	return trackpoint.TrackPoint{Latitude: pt.Lat(), Longitude: pt.Lon(), Timestamp: ts}
}

func TestFilter_GroupsByCell(t *testing.T) {
	f := New(18, 2) // level 18 cells are roughly 35 m across
	// Start at a cell center so the jitter below stays inside the cell.
	center := CellIDForPointLevel(orb.Point{37.61, 55.75}, 18).LatLng()
	start := orb.Point{center.Lng.Degrees(), center.Lat.Degrees()}

	var out []trackpoint.TrackPoint
	push := func(x trackpoint.TrackPoint) {
		if o, ok := f.Push(x); ok {
			out = append(out, o)
		}
	}

	// Three jittery points in one place.
	push(tp(1, start))
	push(tp(2, geo.PointAtBearingAndDistance(start, 10, 0.5)))
	push(tp(3, geo.PointAtBearingAndDistance(start, 200, 0.5)))
	// A single outlier far away.
	outlier := geo.PointAtBearingAndDistance(start, 90, 500)
	push(tp(4, outlier))
	// Back near the start, two points.
	away := geo.PointAtBearingAndDistance(start, 0, 200)
	push(tp(5, away))
	push(tp(6, away))
	if o, ok := f.Flush(); ok {
		out = append(out, o)
	}

	if len(out) != 2 {
		t.Fatalf("want 2 cell means, got %d: %+v", len(out), out)
	}
	if d := geo.Distance(out[0].Point(), start); d > 1 {
		t.Errorf("first mean %.2f m from start", d)
	}
	if out[0].Timestamp != 3 {
		t.Errorf("mean carries the last timestamp in the cell, got %d", out[0].Timestamp)
	}
	if d := geo.Distance(out[1].Point(), away); d > 0.01 {
		t.Errorf("second mean %.2f m off", d)
	}
	if f.DistanceAsIs() < 1000 {
		t.Errorf("as-is distance must include the outlier excursion, got %.1f", f.DistanceAsIs())
	}
	if math.Abs(f.DistanceFiltered()-200) > 2 {
		t.Errorf("want filtered distance ~200 m, got %.1f", f.DistanceFiltered())
	}
}

func TestCellIDForPointLevel(t *testing.T) {
	pt := orb.Point{-93.255531311035156, 44.988998413085938}
	for level := 1; level <= 30; level++ {
		if got := CellIDForPointLevel(pt, level).Level(); got != level {
			t.Errorf("want level %d, got %d", level, got)
		}
	}
}
