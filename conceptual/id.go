package conceptual

// DeviceID names the device a tracking session belongs to.
// The daemon keys sessions, caches and state by it.
type DeviceID string

func (d DeviceID) String() string {
	return string(d)
}

func (d DeviceID) Empty() bool {
	return d == ""
}
