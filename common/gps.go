package common

// Decimal degree precisions.
// https://en.wikipedia.org/wiki/Decimal_degrees
const (
	// GPSPrecision6 is about 111 mm, individual cats.
	GPSPrecision6 = 6
	// GPSPrecision7 is about 11.1 mm, the practical limit of commercial surveying.
	GPSPrecision7 = 7
)
