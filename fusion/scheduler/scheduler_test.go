package scheduler

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/rotblauer/catfuse/fusion/estimator"
	"github.com/rotblauer/catfuse/fusion/queue"
	"github.com/rotblauer/catfuse/geo/coords"
	"github.com/rotblauer/catfuse/types/sample"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	ts    []int64
	st    estimator.State
}

func (r *recorder) Predict(ts int64, east, north float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("predict@%d", ts))
	r.ts = append(r.ts, ts)
}

func (r *recorder) Update(ts int64, x, y, vx, vy, posErr, velErr float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("update@%d", ts))
	r.ts = append(r.ts, ts)
	r.st = estimator.State{X: x, Y: y, VX: vx, VY: vy, PositionError: posErr, Timestamp: ts}
	return nil
}

func (r *recorder) State() estimator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

type fixture struct {
	q     *queue.Queue
	s     *Scheduler
	rec   *recorder
	inits []estimator.Init
}

func newFixture() *fixture {
	f := &fixture{q: queue.New(0), rec: &recorder{}}
	f.s = New(f.q, func(init estimator.Init) (estimator.Estimator, error) {
		f.inits = append(f.inits, init)
		f.rec.st = estimator.State{X: init.X, Y: init.Y, VX: init.VX, VY: init.VY, Timestamp: init.Timestamp}
		return f.rec, nil
	}, nil)
	return f
}

func fix(ts int64, lat, lon float64) sample.Sample {
	return sample.NewGNSS(ts, sample.GNSS{
		Latitude: lat, Longitude: lon, Altitude: 150,
		Speed: 2, Course: 90, HorizontalAccuracy: 5, Provider: "gps",
	})
}

func accel(ts int64) sample.Sample {
	return sample.NewInertial(ts, sample.Inertial{East: 0.1, North: 0.2})
}

func (f *fixture) deliver(s sample.Sample) {
	f.q.Push(s)
}

func TestDrain_SingleFixBootstrap(t *testing.T) {
	f := newFixture()
	g := fix(1000, 55.75, 37.61)
	f.deliver(g)
	tp := f.s.Drain(g)

	if f.s.Phase() != Tracking {
		t.Fatal("expected tracking after first fix")
	}
	if len(f.inits) != 1 {
		t.Fatalf("want one initialization, got %d", len(f.inits))
	}
	in := f.inits[0]
	x, y, _ := coords.GeoToPlanar(55.75, 37.61)
	if in.X != x || in.Y != y || in.PosErr != 5 || in.Timestamp != 1000 {
		t.Errorf("unexpected init %+v", in)
	}
	// Course 90 at 2 m/s is due east.
	if math.Abs(in.VX-2) > 1e-9 || math.Abs(in.VY) > 1e-9 {
		t.Errorf("unexpected init velocity (%v, %v)", in.VX, in.VY)
	}
	if math.Abs(in.VelErr-0.5) > 1e-9 {
		t.Errorf("want velocity error 0.1*accuracy, got %v", in.VelErr)
	}
	if tp.Filtered {
		t.Error("bootstrap emits the raw fix")
	}
	if tp.Latitude != 55.75 || tp.Longitude != 37.61 || tp.Timestamp != 1000 {
		t.Errorf("unexpected track point %+v", tp)
	}
	if len(f.rec.Calls()) != 0 {
		t.Errorf("estimator must not be called on bootstrap, got %v", f.rec.Calls())
	}
}

func TestDrain_LazyInitialization(t *testing.T) {
	f := newFixture()
	for ts := int64(100); ts < 1000; ts += 100 {
		f.deliver(accel(ts))
	}
	// No fix yet: a drain triggered by anything still skips inertial samples.
	f.s.Drain(accel(900))
	if f.s.Phase() != Uninitialized {
		t.Fatal("must stay uninitialized without a fix")
	}
	if got := f.s.Stats().Skipped; got != 9 {
		t.Errorf("want 9 skipped, got %d", got)
	}
	if len(f.inits) != 0 || len(f.rec.Calls()) != 0 {
		t.Error("estimator touched before first fix")
	}

	g := fix(1000, 55.75, 37.61)
	f.deliver(accel(950))
	f.deliver(g)
	f.s.Drain(g)
	if got := f.s.Stats().Skipped; got != 10 {
		t.Errorf("want 10 skipped, got %d", got)
	}
	if len(f.inits) != 1 {
		t.Errorf("want one init, got %d", len(f.inits))
	}
}

func TestDrain_PredictUpdateInterleave(t *testing.T) {
	f := newFixture()
	g0 := fix(1000, 55.75, 37.61)
	f.deliver(g0)
	f.s.Drain(g0)

	g1 := fix(2000, 55.7501, 37.6101)
	f.deliver(g1)
	f.deliver(accel(1050))
	tp := f.s.Drain(g1)

	calls := f.rec.Calls()
	want := []string{"predict@1050", "update@2000"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Fatalf("want %v, got %v", want, calls)
	}
	if !tp.Filtered {
		t.Error("expected filtered point after an update")
	}
	if math.Abs(tp.Latitude-55.7501) > 1e-5 || math.Abs(tp.Longitude-37.6101) > 1e-5 {
		t.Errorf("reconstructed point off: %+v", tp)
	}
	if tp.Bearing != 90 || tp.Accuracy != 5 || tp.Altitude != 150 || tp.Provider != "gps" {
		t.Errorf("fix fields not carried: %+v", tp)
	}
	if math.Abs(tp.Speed-2) > 1e-9 {
		t.Errorf("want speed 2, got %v", tp.Speed)
	}
}

func TestDrain_OutOfOrderRejected(t *testing.T) {
	f := newFixture()
	g0 := fix(1000, 55.75, 37.61)
	f.deliver(g0)
	f.s.Drain(g0)
	g1 := fix(2000, 55.7501, 37.61)
	f.deliver(g1)
	f.s.Drain(g1)

	before := len(f.rec.Calls())
	late := fix(1800, 55.7502, 37.61)
	f.deliver(late)
	f.deliver(accel(1900))
	tp := f.s.Drain(late)

	if got := len(f.rec.Calls()) - before; got != 0 {
		t.Errorf("want zero estimator calls for late samples, got %d", got)
	}
	if st := f.s.Stats(); st.Stale != 2 {
		t.Errorf("want 2 stale, got %d", st.Stale)
	}
	if tp.Filtered || tp.Timestamp != 1800 {
		t.Errorf("expected raw fallback for the late trigger, got %+v", tp)
	}
}

func TestDrain_BackwardTimeGuard(t *testing.T) {
	f := newFixture()
	g0 := fix(1000, 55.75, 37.61)
	f.deliver(g0)
	f.s.Drain(g0)

	// Timestamps observed by the estimator never decrease across drains.
	for _, ts := range []int64{1500, 1200, 1600, 1100, 1700} {
		f.deliver(accel(ts))
		g := fix(ts+10, 55.75, 37.61)
		f.deliver(g)
		f.s.Drain(g)
	}
	f.rec.mu.Lock()
	seen := append([]int64{}, f.rec.ts...)
	f.rec.mu.Unlock()
	want := []int64{1500, 1510, 1600, 1610, 1700, 1710}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("want estimator timestamps %v, got %v", want, seen)
	}
	if st := f.s.Stats(); st.Stale != 4 {
		t.Errorf("want 4 stale samples, got %d", st.Stale)
	}
}

func TestDrain_Reset(t *testing.T) {
	f := newFixture()
	g0 := fix(5000, 55.75, 37.61)
	f.deliver(g0)
	f.s.Drain(g0)
	f.s.Reset()
	if f.s.Phase() != Uninitialized {
		t.Fatal("expected uninitialized after reset")
	}
	// An earlier timestamp is accepted after a reset.
	g1 := fix(1000, 55.75, 37.61)
	f.deliver(g1)
	f.s.Drain(g1)
	if len(f.inits) != 2 {
		t.Errorf("want re-initialization, got %d inits", len(f.inits))
	}
}

func TestDrain_ConcurrentProducers(t *testing.T) {
	f := newFixture()
	g0 := fix(0, 55.75, 37.61)
	f.deliver(g0)
	f.s.Drain(g0)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 1; i <= 200; i++ {
				f.deliver(accel(int64(i*10 + p)))
			}
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 20; i++ {
			g := fix(int64(i*100), 55.75, 37.61)
			f.deliver(g)
			f.s.Drain(g)
		}
	}()
	wg.Wait()

	st := f.s.Stats()
	if st.Drains != 21 {
		t.Errorf("want 21 drains, got %d", st.Drains)
	}
	if st.Predicts+st.Stale+uint64(f.q.Len()) < 800 {
		t.Errorf("inertial samples unaccounted for: %+v, queued %d", st, f.q.Len())
	}
}
