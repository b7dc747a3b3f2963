package trackpoint

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/catfuse/common"
	"github.com/rotblauer/catfuse/types/sample"
	"github.com/shopspring/decimal"
)

// TrackPoint is one fused position estimate, the session's output.
type TrackPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"` // meters
	Bearing   float64   `json:"bearing"`  // degrees clockwise from north
	Speed     float64   `json:"speed"`    // m/s
	Accuracy  float64   `json:"accuracy"` // horizontal, meters
	Timestamp int64     `json:"timestamp"` // monotonic milliseconds
	Time      time.Time `json:"time"`
	Provider  string    `json:"provider"`

	// Filtered is true when the point is an estimator output,
	// false when it is the raw fix passed through.
	Filtered bool `json:"filtered"`
}

type TrackPoints []*TrackPoint

// FromFix converts a GNSS sample directly, without filtering.
func FromFix(s sample.Sample, wall time.Time) TrackPoint {
	g := s.GNSS
	return TrackPoint{
		Latitude:  g.Latitude,
		Longitude: g.Longitude,
		Altitude:  g.Altitude,
		Bearing:   g.Course,
		Speed:     g.Speed,
		Accuracy:  g.HorizontalAccuracy,
		Timestamp: s.Timestamp,
		Time:      wall,
		Provider:  g.Provider,
	}
}

func (tp TrackPoint) Point() orb.Point {
	return orb.Point{tp.Longitude, tp.Latitude}
}

// Rounded returns a copy with coordinates at GPS precision
// and the scalar fields at the precision they are meaningful at.
func (tp TrackPoint) Rounded() TrackPoint {
	tp.Latitude = roundTo(tp.Latitude, common.GPSPrecision7)
	tp.Longitude = roundTo(tp.Longitude, common.GPSPrecision7)
	tp.Altitude = common.DecimalToFixed(tp.Altitude, 2)
	tp.Bearing = common.DecimalToFixed(tp.Bearing, 1)
	tp.Speed = common.DecimalToFixed(tp.Speed, 3)
	tp.Accuracy = common.DecimalToFixed(tp.Accuracy, 2)
	return tp
}

func roundTo(f float64, places int32) float64 {
	return decimal.NewFromFloat(f).Round(places).InexactFloat64()
}

// Feature renders the point as a GeoJSON Feature.
func (tp TrackPoint) Feature() *geojson.Feature {
	r := tp.Rounded()
	f := geojson.NewFeature(r.Point())
	f.Properties = geojson.Properties{
		"Altitude":  r.Altitude,
		"Bearing":   r.Bearing,
		"Speed":     r.Speed,
		"Accuracy":  r.Accuracy,
		"Timestamp": r.Timestamp,
		"Time":      r.Time,
		"UnixTime":  r.Time.Unix(),
		"Provider":  r.Provider,
		"Filtered":  r.Filtered,
	}
	return f
}

var ErrNotPoint = errors.New("feature geometry is not a point")

// FromFeature is the inverse of Feature, modulo rounding.
func FromFeature(f *geojson.Feature) (TrackPoint, error) {
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return TrackPoint{}, ErrNotPoint
	}
	tp := TrackPoint{
		Latitude:  pt.Lat(),
		Longitude: pt.Lon(),
		Altitude:  f.Properties.MustFloat64("Altitude", 0),
		Bearing:   f.Properties.MustFloat64("Bearing", 0),
		Speed:     f.Properties.MustFloat64("Speed", 0),
		Accuracy:  f.Properties.MustFloat64("Accuracy", 0),
		Timestamp: int64(f.Properties.MustFloat64("Timestamp", 0)),
		Provider:  f.Properties.MustString("Provider", ""),
		Filtered:  f.Properties.MustBool("Filtered", false),
	}
	if v, ok := f.Properties["Time"]; ok {
		switch t := v.(type) {
		case time.Time:
			tp.Time = t
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return TrackPoint{}, err
			}
			tp.Time = parsed
		}
	}
	return tp, nil
}

// MarshalFeatureJSON is shorthand for the GeoJSON wire form.
func (tp TrackPoint) MarshalFeatureJSON() ([]byte, error) {
	return json.Marshal(tp.Feature())
}
