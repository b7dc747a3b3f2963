package estimator

import (
	"errors"
	"math"
	"testing"

	"github.com/rotblauer/catfuse/geo/coords"
	"github.com/rotblauer/catfuse/params"
)

func TestCourseVelocity(t *testing.T) {
	cases := []struct {
		speed, course float64
		vx, vy        float64
	}{
		{1, 0, 0, 1},
		{1, 90, 1, 0},
		{2, 180, 0, -2},
		{1, 270, -1, 0},
	}
	for _, c := range cases {
		vx, vy := CourseVelocity(c.speed, c.course)
		if math.Abs(vx-c.vx) > 1e-9 || math.Abs(vy-c.vy) > 1e-9 {
			t.Errorf("course %v: want (%v, %v), got (%v, %v)", c.course, c.vx, c.vy, vx, vy)
		}
		speed, course := VelocityCourse(vx, vy)
		if math.Abs(speed-c.speed) > 1e-9 || math.Abs(course-c.course) > 1e-6 {
			t.Errorf("inverse of course %v: got speed %v course %v", c.course, speed, course)
		}
	}
}

func TestNewFactory(t *testing.T) {
	c := params.DefaultFusionConfig()
	for _, name := range []string{params.EstimatorAccel, params.EstimatorGeo} {
		c.Estimator = name
		f, err := NewFactory(c)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		x, y, _ := coords.GeoToPlanar(55.75, 37.61)
		e, err := f(Init{Timestamp: 1000, X: x, Y: y, PosErr: 5, VelErr: 0.5, Latitude: 55.75})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if st := e.State(); math.Hypot(st.X-x, st.Y-y) > 5 {
			t.Errorf("%s: initial state %+v far from seed (%v, %v)", name, st, x, y)
		}
	}
	c.Estimator = "particle"
	if _, err := NewFactory(c); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestAccelFilter_TracksConstantVelocity(t *testing.T) {
	f := NewAccelFilter(AccelConfig{AccelerationDeviation: 0.1, PositionFactor: 1, VelocityFactor: 1}, Init{
		Timestamp: 0, PosErr: 3, VelErr: 1,
	})
	// Walk east at 1.5 m/s, fixes every second, ten inertial samples between.
	for sec := int64(1); sec <= 30; sec++ {
		for i := int64(1); i < 10; i++ {
			f.Predict((sec-1)*1000+i*100, 0, 0)
		}
		if err := f.Update(sec*1000, 1.5*float64(sec), 0, 0, 0, 3, 0.3); err != nil {
			t.Fatal(err)
		}
	}
	st := f.State()
	if math.Abs(st.X-45) > 3 || math.Abs(st.Y) > 3 {
		t.Errorf("position off track: %+v", st)
	}
	if math.Abs(st.VX-1.5) > 0.3 || math.Abs(st.VY) > 0.3 {
		t.Errorf("velocity not learned: %+v", st)
	}
	if st.Timestamp != 30_000 {
		t.Errorf("want last update 30000, got %d", st.Timestamp)
	}
}

func TestAccelFilter_PredictIntegratesAcceleration(t *testing.T) {
	f := NewAccelFilter(AccelConfig{AccelerationDeviation: 0.1}, Init{Timestamp: 0, PosErr: 1})
	// 1 m/s^2 north for one second.
	for ts := int64(100); ts <= 1000; ts += 100 {
		f.Predict(ts, 0, 1)
	}
	st := f.State()
	if math.Abs(st.VY-1) > 1e-9 {
		t.Errorf("want vy=1, got %v", st.VY)
	}
	if math.Abs(st.Y-0.5) > 1e-9 {
		t.Errorf("want y=0.5, got %v", st.Y)
	}
	if st.Timestamp != 0 {
		t.Errorf("predictions must not move the update timestamp, got %d", st.Timestamp)
	}
}

func TestAccelFilter_UseVelocity(t *testing.T) {
	f := NewAccelFilter(AccelConfig{AccelerationDeviation: 0.1, UseVelocity: true}, Init{Timestamp: 0, PosErr: 5, VelErr: 5})
	for sec := int64(1); sec <= 5; sec++ {
		if err := f.Update(sec*1000, 0, 2*float64(sec), 0, 2, 5, 0.1); err != nil {
			t.Fatal(err)
		}
	}
	if st := f.State(); math.Abs(st.VY-2) > 0.2 {
		t.Errorf("expected measured velocity to dominate, got %+v", st)
	}
}

func TestGeoFilter(t *testing.T) {
	x, y, _ := coords.GeoToPlanar(55.75, 37.61)
	g, err := NewGeoFilter(0.1, Init{Timestamp: 0, X: x, Y: y, PosErr: 5, VelErr: 0.5, Latitude: 55.75})
	if err != nil {
		t.Fatal(err)
	}
	g.Predict(500, 1, 1)
	for sec := int64(1); sec <= 10; sec++ {
		if err := g.Update(sec*1000, x+float64(sec), y, 1, 0, 5, 0.5); err != nil {
			t.Fatal(err)
		}
	}
	st := g.State()
	if d := math.Hypot(st.X-(x+10), st.Y-y); d > 50 {
		t.Errorf("estimate %.1f m from last fix", d)
	}
	if st.Timestamp != 10_000 {
		t.Errorf("want last update 10000, got %d", st.Timestamp)
	}
}
