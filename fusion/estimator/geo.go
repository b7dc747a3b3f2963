package estimator

import (
	"fmt"
	"log/slog"

	rkalman "github.com/regnull/kalman"
	"github.com/rotblauer/catfuse/geo/coords"
)

// GeoFilter adapts regnull/kalman's geographic filter to the Estimator contract.
// It has no control input: inertial predictions are counted but do not move the estimate.
type GeoFilter struct {
	filter *rkalman.GeoFilter

	state        State
	lastObserved int64
	predictions  int
}

// NewGeoFilter seeds the filter with the first fix. The process noise assumes
// motion around the fix's latitude, at the fix's speed, with speed changing
// by up to accelerationDeviation m/s^2.
func NewGeoFilter(accelerationDeviation float64, init Init) (*GeoFilter, error) {
	speed, _ := VelocityCourse(init.VX, init.VY)
	if speed < 1 {
		speed = 1
	}
	processNoise := &rkalman.GeoProcessNoise{
		// Measurements take place around the same location,
		// so the earth's curvature is disregarded.
		BaseLat:           init.Latitude,
		DistancePerSecond: speed,
		SpeedPerSecond:    accelerationDeviation,
	}
	filter, err := rkalman.NewGeoFilter(processNoise)
	if err != nil {
		return nil, fmt.Errorf("init geo filter: %w", err)
	}
	g := &GeoFilter{
		filter:       filter,
		lastObserved: init.Timestamp,
		state: State{
			X: init.X, Y: init.Y,
			VX: init.VX, VY: init.VY,
			PositionError: init.PosErr,
			Timestamp:     init.Timestamp,
		},
	}
	if err := g.observe(0, init.X, init.Y, init.VX, init.VY, init.PosErr, init.VelErr); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GeoFilter) Predict(ts int64, east, north float64) {
	g.predictions++
}

func (g *GeoFilter) Update(ts int64, x, y, vx, vy, posErr, velErr float64) error {
	seconds := float64(ts-g.lastObserved) / 1000
	if seconds <= 0 {
		seconds = 1e-3
	}
	if err := g.observe(seconds, x, y, vx, vy, posErr, velErr); err != nil {
		slog.Error("Kalman.Observe failed", "error", err)
		return err
	}
	g.lastObserved = ts
	g.state.Timestamp = ts
	g.predictions = 0
	return nil
}

func (g *GeoFilter) observe(seconds, x, y, vx, vy, posErr, velErr float64) error {
	lat, lon := coords.PlanarToGeo(x, y)
	speed, course := VelocityCourse(vx, vy)
	err := g.filter.Observe(seconds, &rkalman.GeoObserved{
		Lat:                lat,
		Lng:                lon,
		Speed:              speed,
		SpeedAccuracy:      velErr,
		Direction:          course,
		DirectionAccuracy:  0,
		HorizontalAccuracy: posErr,
		VerticalAccuracy:   2.0,
	})
	if err != nil {
		return err
	}
	est := g.filter.Estimate()
	if est == nil {
		return nil
	}
	ex, ey, err := coords.GeoToPlanar(est.Lat, est.Lng)
	if err != nil {
		return err
	}
	g.state.X, g.state.Y = ex, ey
	g.state.VX, g.state.VY = CourseVelocity(est.Speed, course)
	g.state.PositionError = posErr
	return nil
}

func (g *GeoFilter) State() State {
	return g.state
}
