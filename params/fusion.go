package params

import "time"

// FusionConfig holds everything a tracking session can be tuned with.
// All values are injectable at session start; nothing here is persisted.
type FusionConfig struct {
	// AccelerationDeviation is the accelerometer standard deviation, m/s^2.
	// It scales the estimator's process noise.
	AccelerationDeviation float64

	// GNSSMinDistance and GNSSMinTime are passed to the locator
	// as the minimum distance (meters) and time between GNSS fixes.
	GNSSMinDistance float64
	GNSSMinTime     time.Duration

	// NetworkMinTime is the polling interval for network fixes.
	NetworkMinTime time.Duration

	// NetworkMaxAccuracy rejects network fixes whose normalized
	// accuracy (reported / 0.68) exceeds it, meters.
	NetworkMaxAccuracy float64

	// PreferredSatellites and MinSatellites bound the Fine and Low reception tiers.
	PreferredSatellites int
	MinSatellites       int

	// SensorFrequencyHz is the inertial sampling rate requested from the host's sensor listener.
	// The session does not enforce it.
	SensorFrequencyHz int

	// SensorDecimationHz, when positive, drops accelerations arriving closer together
	// than 1/SensorDecimationHz. Zero keeps every reading.
	SensorDecimationHz int

	// FilterMockGNSS rejects fixes flagged as mock/simulated by the platform.
	FilterMockGNSS bool

	// FilterImplausible rejects fixes with supersonic speed or wild altitude.
	FilterImplausible bool

	// VelocityFactor and PositionFactor scale the measurement noise
	// the estimator assigns to GNSS velocity and position.
	VelocityFactor float64
	PositionFactor float64

	// UseGPSSpeed makes the accel estimator measure velocity as well as position.
	UseGPSSpeed bool

	// Estimator names the estimator implementation, "accel" or "geo".
	Estimator string

	// QueueCapacity caps the fusion queue. Once full, the oldest inertial
	// samples are dropped. Zero means unbounded.
	QueueCapacity int

	// DedupeSize is the number of recent location fixes remembered for deduplication.
	DedupeSize int

	// CellLevel and CellMinPoints configure the realtime cell filter.
	// A CellLevel of zero disables it.
	CellLevel     int
	CellMinPoints int
}

const (
	EstimatorAccel = "accel"
	EstimatorGeo   = "geo"
)

func DefaultFusionConfig() *FusionConfig {
	return &FusionConfig{
		AccelerationDeviation: 0.1,
		GNSSMinDistance:       0,
		GNSSMinTime:           2000 * time.Millisecond,
		NetworkMinTime:        5000 * time.Millisecond,
		NetworkMaxAccuracy:    300,
		PreferredSatellites:   7,
		MinSatellites:         5,
		SensorFrequencyHz:     10,
		SensorDecimationHz:    0,
		FilterMockGNSS:        true,
		FilterImplausible:     true,
		VelocityFactor:        1.0,
		PositionFactor:        1.0,
		UseGPSSpeed:           false,
		Estimator:             EstimatorAccel,
		QueueCapacity:         4096,
		DedupeSize:            1024,
		CellLevel:             18,
		CellMinPoints:         2,
	}
}
