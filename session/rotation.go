package session

import (
	"errors"
	"math"

	"github.com/rotblauer/catfuse/common"
	"gonum.org/v1/gonum/mat"
)

var errShortSensorValues = errors.New("sensor event has fewer than 3 values")

// rotation maps device-frame vectors to the world frame (x east, y north, z up).
// Values are immutable once stored; a new reading replaces the whole snapshot.
type rotation struct {
	m *mat.Dense
}

// rotationFromVector builds the rotation from a rotation-vector reading,
// the unit quaternion's x, y, z and optionally w.
func rotationFromVector(v []float64) (*rotation, error) {
	if len(v) < 3 {
		return nil, errShortSensorValues
	}
	x, y, z := v[0], v[1], v[2]
	var w float64
	if len(v) >= 4 {
		w = v[3]
	} else {
		w = 1 - x*x - y*y - z*z
		if w > 0 {
			w = math.Sqrt(w)
		} else {
			w = 0
		}
	}
	return &rotation{m: mat.NewDense(3, 3, []float64{
		1 - 2*y*y - 2*z*z, 2*x*y - 2*z*w, 2*x*z + 2*y*w,
		2*x*y + 2*z*w, 1 - 2*x*x - 2*z*z, 2*y*z - 2*x*w,
		2*x*z - 2*y*w, 2*y*z + 2*x*w, 1 - 2*x*x - 2*y*y,
	})}, nil
}

// apply rotates a device-frame vector into east, north, up.
func (r *rotation) apply(v []float64) (east, north, up float64, err error) {
	if len(v) < 3 {
		return 0, 0, 0, errShortSensorValues
	}
	var world mat.VecDense
	world.MulVec(r.m, mat.NewVecDense(3, []float64{v[0], v[1], v[2]}))
	return world.AtVec(0), world.AtVec(1), world.AtVec(2), nil
}

// trueNorth rotates magnetic east/north components by the declination,
// degrees east of true north.
func trueNorth(east, north, declination float64) (float64, float64) {
	if declination == 0 {
		return east, north
	}
	sin, cos := math.Sincos(common.Deg2Rad(declination))
	return east*cos + north*sin, north*cos - east*sin
}
