// Package cellfilter groups consecutive track points by S2 cell and replaces each
// group with its mean once the track leaves the cell. Groups with too few points are
// dropped, which suppresses jitter while stationary and single outliers.
package cellfilter

import (
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

// CellIDWithLevel returns the cellID truncated to the given level.
// https://docs.s2cell.aliddell.com/en/stable/s2_concepts.html#truncation
func CellIDWithLevel(cellID s2.CellID, level int) s2.CellID {
	var lsb uint64 = 1 << (2 * (30 - level))
	truncatedCellID := (uint64(cellID) & -lsb) | lsb
	return s2.CellID(truncatedCellID)
}

// CellIDForPointLevel returns the cellID at some level for the given point.
func CellIDForPointLevel(pt orb.Point, level int) s2.CellID {
	return CellIDWithLevel(s2.CellIDFromLatLng(s2.LatLngFromDegrees(pt.Lat(), pt.Lon())), level)
}

// Filter is not safe for concurrent use.
type Filter struct {
	level     int
	minPoints int

	cell  s2.CellID
	count int
	sum   trackpoint.TrackPoint
	first trackpoint.TrackPoint

	lastAsIs     *orb.Point
	lastFiltered *orb.Point

	distanceAsIs     float64
	distanceFiltered float64
}

func New(level, minPoints int) *Filter {
	if minPoints < 1 {
		minPoints = 1
	}
	return &Filter{level: level, minPoints: minPoints}
}

// Push adds tp. When tp opens a new cell and the closed cell held enough points,
// the closed cell's mean point is returned.
func (f *Filter) Push(tp trackpoint.TrackPoint) (trackpoint.TrackPoint, bool) {
	pt := tp.Point()
	if f.lastAsIs != nil {
		f.distanceAsIs += geo.Distance(*f.lastAsIs, pt)
	}
	f.lastAsIs = &pt

	cell := CellIDForPointLevel(pt, f.level)
	if f.count > 0 && cell == f.cell {
		f.add(tp)
		return trackpoint.TrackPoint{}, false
	}
	out, ok := f.close()
	f.cell = cell
	f.count = 0
	f.sum = trackpoint.TrackPoint{}
	f.first = tp
	f.add(tp)
	return out, ok
}

// Flush closes the current cell.
func (f *Filter) Flush() (trackpoint.TrackPoint, bool) {
	out, ok := f.close()
	f.count = 0
	return out, ok
}

func (f *Filter) add(tp trackpoint.TrackPoint) {
	f.count++
	f.sum.Latitude += tp.Latitude
	f.sum.Longitude += tp.Longitude
	f.sum.Altitude += tp.Altitude
	f.sum.Speed += tp.Speed
	f.sum.Accuracy += tp.Accuracy
	f.sum.Timestamp = tp.Timestamp
	f.sum.Time = tp.Time
}

func (f *Filter) close() (trackpoint.TrackPoint, bool) {
	if f.count < f.minPoints || f.count == 0 {
		return trackpoint.TrackPoint{}, false
	}
	n := float64(f.count)
	out := f.first
	out.Latitude = f.sum.Latitude / n
	out.Longitude = f.sum.Longitude / n
	out.Altitude = f.sum.Altitude / n
	out.Speed = f.sum.Speed / n
	out.Accuracy = f.sum.Accuracy / n
	out.Timestamp = f.sum.Timestamp
	out.Time = f.sum.Time

	pt := out.Point()
	if f.lastFiltered != nil {
		f.distanceFiltered += geo.Distance(*f.lastFiltered, pt)
	}
	f.lastFiltered = &pt
	return out, true
}

// DistanceAsIs is the length of the unfiltered track, meters.
func (f *Filter) DistanceAsIs() float64 { return f.distanceAsIs }

// DistanceFiltered is the length of the track through emitted cell means, meters.
func (f *Filter) DistanceFiltered() float64 { return f.distanceFiltered }
