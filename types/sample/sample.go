// Package sample defines the time-stamped measurements the fusion queue orders.
// A Sample carries exactly one payload, either a GNSS fix or an inertial acceleration.
package sample

import (
	"errors"
	"fmt"
)

var ErrInvalidSample = errors.New("invalid sample")

type Kind int

const (
	KindUnknown Kind = iota
	KindGNSS
	KindInertial
)

func (k Kind) String() string {
	switch k {
	case KindGNSS:
		return "gnss"
	case KindInertial:
		return "inertial"
	}
	return "unknown"
}

// GNSS is a position fix. Network fixes are carried as GNSS too,
// with Provider naming their source.
type GNSS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`

	Speed  float64 `json:"speed"`  // m/s
	Course float64 `json:"course"` // degrees clockwise from true north

	HorizontalAccuracy float64 `json:"horizontal_accuracy"` // meters
	SpeedError         float64 `json:"speed_error"`         // m/s, zero when not reported

	Provider string `json:"provider"`
}

// Inertial is a linear acceleration in the world frame, m/s^2.
type Inertial struct {
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Up    float64 `json:"up"`
}

// Sample is immutable once built. Use NewGNSS or NewInertial.
type Sample struct {
	Timestamp int64 `json:"timestamp"` // monotonic milliseconds

	GNSS     *GNSS     `json:"gnss,omitempty"`
	Inertial *Inertial `json:"inertial,omitempty"`
}

func NewGNSS(ts int64, g GNSS) Sample {
	return Sample{Timestamp: ts, GNSS: &g}
}

func NewInertial(ts int64, a Inertial) Sample {
	return Sample{Timestamp: ts, Inertial: &a}
}

func (s Sample) Kind() Kind {
	switch {
	case s.GNSS != nil && s.Inertial == nil:
		return KindGNSS
	case s.Inertial != nil && s.GNSS == nil:
		return KindInertial
	}
	return KindUnknown
}

func (s Sample) IsGNSS() bool {
	return s.Kind() == KindGNSS
}

// Validate asserts that exactly one payload is present.
func (s Sample) Validate() error {
	if s.Kind() == KindUnknown {
		return fmt.Errorf("%w: ts=%d gnss=%t inertial=%t", ErrInvalidSample, s.Timestamp, s.GNSS != nil, s.Inertial != nil)
	}
	return nil
}

func (s Sample) String() string {
	switch s.Kind() {
	case KindGNSS:
		return fmt.Sprintf("gnss@%d(%.7f,%.7f ±%.1fm %s)", s.Timestamp, s.GNSS.Latitude, s.GNSS.Longitude, s.GNSS.HorizontalAccuracy, s.GNSS.Provider)
	case KindInertial:
		return fmt.Sprintf("inertial@%d(e=%.3f n=%.3f u=%.3f)", s.Timestamp, s.Inertial.East, s.Inertial.North, s.Inertial.Up)
	}
	return fmt.Sprintf("invalid@%d", s.Timestamp)
}
