// Package estimator defines the contract the fusion scheduler drives,
// and the implementations a session can be configured with.
package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/rotblauer/catfuse/common"
	"github.com/rotblauer/catfuse/params"
)

var ErrUnknownKind = errors.New("unknown estimator")

// State is the estimate in the local planar frame: meters east (X) and north (Y)
// of the projection origin, and velocity in m/s along the same axes.
type State struct {
	X, Y   float64
	VX, VY float64

	// PositionError is the 1-sigma horizontal position uncertainty, meters.
	PositionError float64

	// Timestamp is the time of the last update, milliseconds.
	Timestamp int64
}

func (s State) Speed() float64 {
	return math.Hypot(s.VX, s.VY)
}

// Estimator is a position/velocity filter.
// Implementations need not be safe for concurrent use; the scheduler serializes all calls.
type Estimator interface {
	// Predict advances the estimate to ts using a world-frame acceleration, m/s^2.
	Predict(ts int64, east, north float64)

	// Update corrects the estimate with a planar position and velocity measurement.
	Update(ts int64, x, y, vx, vy, posErr, velErr float64) error

	State() State
}

// Init is the first GNSS fix an estimator is seeded from.
type Init struct {
	Timestamp int64
	X, Y      float64
	VX, VY    float64
	PosErr    float64
	VelErr    float64

	// Latitude is the fix's latitude, degrees. Filters that work in
	// geographic coordinates use it as their base latitude.
	Latitude float64
}

// Factory builds an estimator from its first fix.
type Factory func(init Init) (Estimator, error)

// NewFactory returns the factory named by c.Estimator.
func NewFactory(c *params.FusionConfig) (Factory, error) {
	switch c.Estimator {
	case params.EstimatorAccel, "":
		return func(init Init) (Estimator, error) {
			return NewAccelFilter(AccelConfig{
				AccelerationDeviation: c.AccelerationDeviation,
				PositionFactor:        c.PositionFactor,
				VelocityFactor:        c.VelocityFactor,
				UseVelocity:           c.UseGPSSpeed,
			}, init), nil
		}, nil
	case params.EstimatorGeo:
		return func(init Init) (Estimator, error) {
			return NewGeoFilter(c.AccelerationDeviation, init)
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, c.Estimator)
}

// CourseVelocity splits a speed along a course (degrees clockwise from north)
// into east and north components.
func CourseVelocity(speed, course float64) (vx, vy float64) {
	rad := common.Deg2Rad(course)
	return speed * math.Sin(rad), speed * math.Cos(rad)
}

// VelocityCourse is the inverse of CourseVelocity.
// The course is in [0, 360).
func VelocityCourse(vx, vy float64) (speed, course float64) {
	speed = math.Hypot(vx, vy)
	course = common.Rad2Deg(math.Atan2(vx, vy))
	if course < 0 {
		course += 360
	}
	return speed, course
}
