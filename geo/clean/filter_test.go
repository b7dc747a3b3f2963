package clean

import (
	"testing"

	"github.com/rotblauer/catfuse/types/raw"
)

func TestFilterPlausible(t *testing.T) {
	cases := []struct {
		name string
		loc  raw.Location
		want bool
	}{
		{"walking", raw.Location{Speed: 1.2, Altitude: 150}, true},
		{"no altitude", raw.Location{Speed: 1.2}, true},
		{"dead sea", raw.Location{Altitude: -420}, true},
		{"supersonic", raw.Location{Speed: 400, Altitude: 150}, false},
		{"mine shaft", raw.Location{Altitude: -2000}, false},
		{"orbit", raw.Location{Altitude: 400_000}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FilterPlausible(c.loc); got != c.want {
				t.Errorf("FilterPlausible(%+v) = %v, want %v", c.loc, got, c.want)
			}
		})
	}
}
