// Package scheduler drains the fusion queue into an estimator,
// once per incoming location fix, and reconstructs a track point from the result.
package scheduler

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/catfuse/fusion/estimator"
	"github.com/rotblauer/catfuse/fusion/queue"
	"github.com/rotblauer/catfuse/geo/coords"
	"github.com/rotblauer/catfuse/types/sample"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

type Phase int

const (
	Uninitialized Phase = iota
	Tracking
)

func (p Phase) String() string {
	if p == Tracking {
		return "tracking"
	}
	return "uninitialized"
}

type Stats struct {
	Drains   uint64 `json:"drains"`
	Predicts uint64 `json:"predicts"`
	Updates  uint64 `json:"updates"`

	// Stale counts samples discarded for arriving behind the last processed timestamp.
	Stale uint64 `json:"stale"`

	// Skipped counts inertial samples discarded before the estimator existed.
	Skipped uint64 `json:"skipped"`

	// Fallbacks counts drains that emitted the raw fix.
	Fallbacks uint64 `json:"fallbacks"`
}

// Scheduler owns the estimator. All estimator calls happen inside Drain,
// and Drain calls are serialized.
type Scheduler struct {
	q       *queue.Queue
	factory estimator.Factory
	logger  *slog.Logger

	// Now stamps emitted track points with wall time.
	Now func() time.Time

	mu     sync.Mutex
	est    estimator.Estimator
	lastTs int64
	stats  Stats

	reg        metrics.Registry
	drainMeter metrics.Meter
	staleCount metrics.Counter
}

func New(q *queue.Queue, factory estimator.Factory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		q:          q,
		factory:    factory,
		logger:     logger.With("component", "scheduler"),
		Now:        time.Now,
		lastTs:     math.MinInt64,
		reg:        metrics.NewRegistry(),
		drainMeter: metrics.NewMeter(),
		staleCount: metrics.NewCounter(),
	}
	_ = s.reg.Register("scheduler.drain.meter", s.drainMeter)
	_ = s.reg.Register("scheduler.stale.count", s.staleCount)
	return s
}

func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.est == nil {
		return Uninitialized
	}
	return Tracking
}

// Reset drops the estimator and the last processed timestamp.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.est = nil
	s.lastTs = math.MinInt64
}

// Estimate returns the estimator's state, and false before the first fix.
func (s *Scheduler) Estimate() (estimator.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.est == nil {
		return estimator.State{}, false
	}
	return s.est.State(), true
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) Registry() metrics.Registry {
	return s.reg
}

// Drain pops every queued sample in timestamp order, predicting on inertial
// samples and updating on fixes, and returns exactly one track point:
// the estimate after the last update, or the trigger fix itself if no update happened.
// The trigger must be a GNSS sample; it is expected to be queued already.
func (s *Scheduler) Drain(trigger sample.Sample) trackpoint.TrackPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Drains++
	s.drainMeter.Mark(1)

	var out *trackpoint.TrackPoint
	for {
		sm, ok := s.q.PopMin()
		if !ok {
			break
		}
		if sm.Timestamp < s.lastTs {
			s.stats.Stale++
			s.staleCount.Inc(1)
			s.logger.Debug("Discarding stale sample", "sample", sm, "last", s.lastTs)
			continue
		}
		s.lastTs = sm.Timestamp

		switch sm.Kind() {
		case sample.KindInertial:
			if s.est == nil {
				s.stats.Skipped++
				continue
			}
			s.est.Predict(sm.Timestamp, sm.Inertial.East, sm.Inertial.North)
			s.stats.Predicts++

		case sample.KindGNSS:
			if s.est == nil {
				s.initialize(sm)
				continue
			}
			if tp, ok := s.update(sm); ok {
				out = &tp
			}

		default:
			s.logger.Warn("Discarding invalid sample", "sample", sm)
		}
	}

	if out != nil {
		return *out
	}
	s.stats.Fallbacks++
	if trigger.Kind() != sample.KindGNSS {
		return trackpoint.TrackPoint{Timestamp: trigger.Timestamp, Time: s.Now()}
	}
	return trackpoint.FromFix(trigger, s.Now())
}

func (s *Scheduler) measurement(g *sample.GNSS) (x, y, vx, vy, posErr, velErr float64, err error) {
	x, y, err = coords.GeoToPlanar(g.Latitude, g.Longitude)
	if err != nil {
		return
	}
	vx, vy = estimator.CourseVelocity(g.Speed, g.Course)
	posErr = g.HorizontalAccuracy
	velErr = g.SpeedError
	if velErr <= 0 {
		velErr = g.HorizontalAccuracy * 0.1
	}
	return
}

func (s *Scheduler) initialize(sm sample.Sample) {
	x, y, vx, vy, posErr, velErr, err := s.measurement(sm.GNSS)
	if err != nil {
		s.logger.Warn("Cannot initialize estimator from fix", "sample", sm, "error", err)
		return
	}
	est, err := s.factory(estimator.Init{
		Timestamp: sm.Timestamp,
		X:         x, Y: y,
		VX: vx, VY: vy,
		PosErr:   posErr,
		VelErr:   velErr,
		Latitude: sm.GNSS.Latitude,
	})
	if err != nil {
		s.logger.Error("Estimator initialization failed", "error", err)
		return
	}
	s.est = est
	s.logger.Info("Estimator initialized", "sample", sm)
}

func (s *Scheduler) update(sm sample.Sample) (trackpoint.TrackPoint, bool) {
	g := sm.GNSS
	x, y, vx, vy, posErr, velErr, err := s.measurement(g)
	if err != nil {
		s.logger.Warn("Discarding fix", "sample", sm, "error", err)
		return trackpoint.TrackPoint{}, false
	}
	if err := s.est.Update(sm.Timestamp, x, y, vx, vy, posErr, velErr); err != nil {
		s.logger.Warn("Estimator update failed", "sample", sm, "error", err)
		return trackpoint.TrackPoint{}, false
	}
	s.stats.Updates++

	st := s.est.State()
	lat, lon := coords.PlanarToGeo(st.X, st.Y)
	return trackpoint.TrackPoint{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  g.Altitude,
		Bearing:   g.Course,
		Speed:     st.Speed(),
		Accuracy:  posErr,
		Timestamp: sm.Timestamp,
		Time:      s.Now(),
		Provider:  g.Provider,
		Filtered:  true,
	}, true
}
