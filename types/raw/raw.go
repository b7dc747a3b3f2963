// Package raw holds the platform callbacks a tracking session consumes,
// as delivered by the host (or recorded from it), before normalization.
package raw

import (
	"errors"
	"time"

	"github.com/rotblauer/catfuse/provider"
	"github.com/rotblauer/catfuse/types/sample"
)

// ErrNoMonotonicTime marks a fix without a monotonic clock reading.
// Such a fix cannot be ordered against sensor events and is rejected.
var ErrNoMonotonicTime = errors.New("fix has no monotonic timestamp")

// Location is a position fix from a location provider.
type Location struct {
	Provider  provider.Kind `json:"provider"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Altitude  float64       `json:"altitude"`
	Speed     float64       `json:"speed"`   // m/s
	Bearing   float64       `json:"bearing"` // degrees clockwise from north
	Accuracy  float64       `json:"accuracy"`

	// SpeedAccuracy is the reported 1-sigma speed error, m/s. Zero when unknown.
	SpeedAccuracy float64 `json:"speed_accuracy,omitempty"`

	// Declination is the magnetic declination at the fix, degrees east of true north.
	Declination float64 `json:"declination,omitempty"`

	Mock bool `json:"mock,omitempty"`

	// ElapsedRealtimeNanos is the monotonic clock reading at the fix.
	ElapsedRealtimeNanos int64     `json:"elapsed_realtime_nanos"`
	Time                 time.Time `json:"time"`
}

// Timestamp is the fix's monotonic time in milliseconds, on the same clock as SensorEvent.Timestamp.
// Time is wall clock and is never used for ordering.
func (l Location) Timestamp() int64 {
	return l.ElapsedRealtimeNanos / int64(time.Millisecond)
}

// CheckMonotonic returns ErrNoMonotonicTime if the host did not supply a monotonic reading.
func (l Location) CheckMonotonic() error {
	if l.ElapsedRealtimeNanos <= 0 {
		return ErrNoMonotonicTime
	}
	return nil
}

// Sample normalizes the fix into a GNSS sample.
func (l Location) Sample() sample.Sample {
	return sample.NewGNSS(l.Timestamp(), sample.GNSS{
		Latitude:           l.Latitude,
		Longitude:          l.Longitude,
		Altitude:           l.Altitude,
		Speed:              l.Speed,
		Course:             l.Bearing,
		HorizontalAccuracy: l.Accuracy,
		SpeedError:         l.SpeedAccuracy,
		Provider:           string(l.Provider),
	})
}

// SatelliteStatus is a GNSS status callback.
type SatelliteStatus struct {
	SatelliteCount int    `json:"satellite_count"`
	UsedInFix      []bool `json:"used_in_fix"`
}

type SensorType string

const (
	LinearAcceleration SensorType = "linear_acceleration"
	RotationVector     SensorType = "rotation_vector"
)

// SensorEvent is an inertial sensor reading in the device frame.
// LinearAcceleration values are x, y, z in m/s^2.
// RotationVector values are the quaternion's x, y, z and optionally w and a heading accuracy.
type SensorEvent struct {
	Type                 SensorType `json:"sensor"`
	Values               []float64  `json:"values"`
	ElapsedRealtimeNanos int64      `json:"elapsed_realtime_nanos"`
}

func (e SensorEvent) Timestamp() int64 {
	return e.ElapsedRealtimeNanos / int64(time.Millisecond)
}
