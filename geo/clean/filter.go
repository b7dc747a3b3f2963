// Package clean holds predicates for location fixes no cat could have produced.
package clean

import (
	"github.com/rotblauer/catfuse/common"
	"github.com/rotblauer/catfuse/types/raw"
)

// FilterUltraHighSpeed filters out fixes with unreasonable speeds, for cats.
func FilterUltraHighSpeed(l raw.Location) bool {
	return l.Speed < common.SpeedOfSound
}

// FilterWildElevation filters out fixes with unreasonable elevations.
// Zero altitude is common for fixes without one and passes.
func FilterWildElevation(l raw.Location) bool {
	deepestDive := -100.0
	return l.Altitude > common.ElevationOfDeadSea+deepestDive &&
		l.Altitude < common.ElevationCommercialFlightCruising*1.2
}

// FilterPlausible is true for a fix passing every filter.
func FilterPlausible(l raw.Location) bool {
	return FilterUltraHighSpeed(l) && FilterWildElevation(l)
}
