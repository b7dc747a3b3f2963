/*
Package coords projects geographic coordinates onto a local meter plane and back.

The plane is the one the fusion estimator works in: x is the signed
great-circle distance east of the prime meridian measured along the equator,
y is the signed distance north of the equator measured along the prime meridian.
It is not a conformal projection; it is only a consistent pair of axes
that lets the estimator assume linear motion between fixes.
*/
package coords

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

var origin = orb.Point{0, 0}

// Validate returns ErrInvalidCoordinate if lat or lon are out of range or NaN.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return nil
}

// LatitudeToMeters returns the signed meridian distance from the equator to lat.
func LatitudeToMeters(lat float64) float64 {
	d := geo.Distance(origin, orb.Point{0, lat})
	if lat < 0 {
		d *= -1
	}
	return d
}

// LongitudeToMeters returns the signed equatorial distance from the prime meridian to lon.
func LongitudeToMeters(lon float64) float64 {
	d := geo.Distance(origin, orb.Point{lon, 0})
	if lon < 0 {
		d *= -1
	}
	return d
}

// GeoToPlanar projects lat, lon degrees to planar meters.
func GeoToPlanar(lat, lon float64) (x, y float64, err error) {
	if err := Validate(lat, lon); err != nil {
		return 0, 0, err
	}
	return LongitudeToMeters(lon), LatitudeToMeters(lat), nil
}

// PlanarToGeo is the inverse of GeoToPlanar.
// It walks x meters east along the equator, then y meters north.
func PlanarToGeo(x, y float64) (lat, lon float64) {
	east := geo.PointAtBearingAndDistance(origin, 90, x)
	pt := geo.PointAtBearingAndDistance(east, 0, y)
	return pt.Lat(), normalizeLon(pt.Lon())
}

// Point is PlanarToGeo returning an orb.Point (lon, lat).
func Point(x, y float64) orb.Point {
	lat, lon := PlanarToGeo(x, y)
	return orb.Point{lon, lat}
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
