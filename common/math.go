package common

import "math"

// https://stackoverflow.com/questions/18390266/how-can-we-truncate-float64-type-to-a-particular-precision
func Round(num float64) int {
	return int(num + math.Copysign(0.5, num))
}

func DecimalToFixed(num float64, precision int) float64 {
	output := math.Pow(10, float64(precision))
	return float64(Round(num*output)) / output
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Deg2Rad and Rad2Deg convert between degrees and radians.
func Deg2Rad(deg float64) float64 { return deg * math.Pi / 180 }
func Rad2Deg(rad float64) float64 { return rad * 180 / math.Pi }
