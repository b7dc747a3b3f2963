package common

// All units are in metric:
// - Speed is in m/s
// - Distance is in meters

const SpeedOfSound = 343.0

const ElevationOfDeadSea = -430.0
const ElevationCommercialFlightCruising = 10668.0
