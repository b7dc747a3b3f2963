// Package session runs one device's tracking: it turns platform callbacks into
// ordered samples, drives the fusion scheduler on each fix, and publishes
// track points and reception quality changes.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rotblauer/catfuse/cache"
	"github.com/rotblauer/catfuse/fusion/estimator"
	"github.com/rotblauer/catfuse/fusion/quality"
	"github.com/rotblauer/catfuse/fusion/queue"
	"github.com/rotblauer/catfuse/fusion/scheduler"
	"github.com/rotblauer/catfuse/geo/cellfilter"
	"github.com/rotblauer/catfuse/geo/clean"
	"github.com/rotblauer/catfuse/geo/coords"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/provider"
	"github.com/rotblauer/catfuse/types/raw"
	"github.com/rotblauer/catfuse/types/sample"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

var (
	ErrProviderUnavailable = errors.New("location provider unavailable")
	ErrNotStarted          = errors.New("session not started")
)

// deliveryBuffer bounds the track points and quality changes waiting for feed delivery.
// Past it, deliveries are dropped rather than stall a callback.
const deliveryBuffer = 1024

// networkAccuracyScale converts a network provider's reported accuracy
// (68% confidence) to the scale NetworkMaxAccuracy is given in.
const networkAccuracyScale = 0.68

// Hooks are optional callbacks invoked synchronously on the callback's goroutine,
// in drain order. A hook must not call back into the session.
type Hooks struct {
	OnTrackPoint     func(tp trackpoint.TrackPoint)
	OnQualityChanged func(c quality.Change)
}

// Rejections counts callbacks the session dropped before they reached the queue.
type Rejections struct {
	Invalid       uint64 `json:"invalid"`
	Mock          uint64 `json:"mock"`
	Implausible   uint64 `json:"implausible"`
	Inaccurate    uint64 `json:"inaccurate"`
	Duplicate     uint64 `json:"duplicate"`
	NoOrientation uint64 `json:"no_orientation"`
	Throttled     uint64 `json:"throttled"`
}

type Stats struct {
	Queue      queue.Stats     `json:"queue"`
	Scheduler  scheduler.Stats `json:"scheduler"`
	Rejections Rejections      `json:"rejections"`
	Quality    quality.Quality `json:"quality"`

	// FeedDropped counts feed deliveries dropped because subscribers fell behind.
	// Hooks never miss a point.
	FeedDropped uint64 `json:"feed_dropped"`

	// DistanceAsIs and DistanceFiltered are the track's length in meters,
	// through every emitted point and through cell means only.
	DistanceAsIs     float64 `json:"distance_as_is"`
	DistanceFiltered float64 `json:"distance_filtered"`
}

// Session is safe for concurrent use: any number of goroutines may deliver callbacks.
type Session struct {
	config  *params.FusionConfig
	locator provider.Locator
	logger  *slog.Logger
	hooks   Hooks

	queue   *queue.Queue
	sched   *scheduler.Scheduler
	monitor *quality.Monitor
	dedupe  func(raw.Location) bool

	// emitMu orders drain and emit, so points reach Last, the cells and
	// the hooks in the order the scheduler produced them.
	emitMu sync.Mutex

	// cellsMu guards cells; it is only taken after a drain.
	cellsMu sync.Mutex
	cells   *cellfilter.Filter

	rotation    atomic.Pointer[rotation]
	declination atomic.Uint64 // float64 bits, degrees
	lastSensor  atomic.Int64
	last        atomic.Pointer[trackpoint.TrackPoint]

	// gate is held shared by every callback and exclusively by Start and Stop,
	// so no callback is mid-flight once Stop returns.
	gate      sync.RWMutex
	active    atomic.Bool
	providers map[provider.Kind]bool

	trackFeed   event.FeedOf[trackpoint.TrackPoint]
	qualityFeed event.FeedOf[quality.Change]

	// deliveries carries feed sends to the dispatcher while the session is active.
	// It is replaced by Start and closed by Stop, both under gate.
	deliveries  chan delivery
	feedDropped atomic.Uint64

	rejections struct {
		invalid, mock, implausible, inaccurate, duplicate, noOrientation, throttled atomic.Uint64
	}
}

// delivery is a pending feed send, exactly one of tp and qc set.
type delivery struct {
	tp *trackpoint.TrackPoint
	qc *quality.Change
}

// New returns a stopped session. A nil factory selects the estimator named by config.
func New(config *params.FusionConfig, locator provider.Locator, factory estimator.Factory, logger *slog.Logger) (*Session, error) {
	if config == nil {
		config = params.DefaultFusionConfig()
	}
	if locator == nil {
		locator = provider.NewManual()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		f, err := estimator.NewFactory(config)
		if err != nil {
			return nil, err
		}
		factory = f
	}
	s := &Session{
		config:    config,
		locator:   locator,
		logger:    logger.With("component", "session"),
		queue:     queue.New(config.QueueCapacity),
		monitor:   quality.NewMonitor(config.PreferredSatellites, config.MinSatellites),
		providers: map[provider.Kind]bool{},
	}
	s.sched = scheduler.New(s.queue, factory, logger)
	if config.DedupeSize > 0 {
		s.dedupe = cache.NewDedupePassLRUFunc[raw.Location](config.DedupeSize)
	}
	if config.CellLevel > 0 {
		s.cells = cellfilter.New(config.CellLevel, config.CellMinPoints)
	}
	s.lastSensor.Store(math.MinInt64)
	return s, nil
}

// SetHooks installs callbacks. Call it before Start.
func (s *Session) SetHooks(h Hooks) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.hooks = h
}

// SubscribeTrackPoints delivers emitted track points to ch from a dispatcher goroutine.
// Callbacks never wait on ch. A subscriber that falls more than deliveryBuffer
// points behind loses points, counted in Stats.FeedDropped; use Hooks to see every one.
func (s *Session) SubscribeTrackPoints(ch chan<- trackpoint.TrackPoint) event.Subscription {
	return s.trackFeed.Subscribe(ch)
}

// SubscribeQuality delivers reception quality changes to ch, like SubscribeTrackPoints.
func (s *Session) SubscribeQuality(ch chan<- quality.Change) event.Subscription {
	return s.qualityFeed.Subscribe(ch)
}

func (s *Session) Active() bool {
	return s.active.Load()
}

func (s *Session) interval(kind provider.Kind) time.Duration {
	if kind == provider.Network {
		return s.config.NetworkMinTime
	}
	return s.config.GNSSMinTime
}

// Start subscribes to the given providers, or to GNSS and network if none are given.
// Providers already started are left alone. A provider the locator cannot serve
// yields an ErrProviderUnavailable; the others are still started.
func (s *Session) Start(kinds ...provider.Kind) error {
	if len(kinds) == 0 {
		kinds = []provider.Kind{provider.GNSS, provider.Network}
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	wasActive := s.active.Load()
	var errs []error
	for _, kind := range kinds {
		if s.providers[kind] {
			continue
		}
		if !s.locator.Enabled(kind) {
			errs = append(errs, fmt.Errorf("%w: %s disabled", ErrProviderUnavailable, kind))
			continue
		}
		minDistance := s.config.GNSSMinDistance
		if kind == provider.Network {
			minDistance = 0
		}
		if err := s.locator.RequestUpdates(kind, s.interval(kind), minDistance); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, kind, err))
			continue
		}
		s.providers[kind] = true
		s.logger.Info("Provider started", "provider", kind, "interval", s.interval(kind))
	}
	if !wasActive && len(s.providers) > 0 {
		s.queue.Drain()
		s.sched.Reset()
		s.monitor.Reset()
		s.rotation.Store(nil)
		s.lastSensor.Store(math.MinInt64)
		s.deliveries = make(chan delivery, deliveryBuffer)
		go s.dispatch(s.deliveries)
		s.active.Store(true)
		s.logger.Info("Session started", "providers", len(s.providers), "estimator", s.config.Estimator,
			"sensor_hz", s.config.SensorFrequencyHz, "sensor_decimation_hz", s.config.SensorDecimationHz)
	}
	return errors.Join(errs...)
}

// Stop unsubscribes from the given providers, or from all of them if none are given.
// The session goes inactive when no provider remains. Once Stop returns
// no callback pushes a sample or triggers a drain; one already draining completes first.
func (s *Session) Stop(kinds ...provider.Kind) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	if len(kinds) == 0 {
		for kind := range s.providers {
			kinds = append(kinds, kind)
		}
	}
	var errs []error
	for _, kind := range kinds {
		if !s.providers[kind] {
			continue
		}
		if err := s.locator.RemoveUpdates(kind); err != nil {
			errs = append(errs, fmt.Errorf("remove %s updates: %w", kind, err))
		}
		delete(s.providers, kind)
		s.logger.Info("Provider stopped", "provider", kind)
	}
	if s.active.Load() && len(s.providers) == 0 {
		s.active.Store(false)
		close(s.deliveries)
		s.deliveries = nil
		dropped := len(s.queue.Drain())
		s.logger.Info("Session stopped", "discarded", dropped, "stats", s.Stats())
	}
	return errors.Join(errs...)
}

// OnLocation takes a fix from any provider, queues it, and drains the queue.
func (s *Session) OnLocation(l raw.Location) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if !s.active.Load() {
		return ErrNotStarted
	}
	if l.Provider == "" {
		l.Provider = provider.GNSS
	}
	if !s.providers[l.Provider] {
		return fmt.Errorf("%w: provider %q", ErrNotStarted, l.Provider)
	}
	if err := coords.Validate(l.Latitude, l.Longitude); err != nil {
		s.rejections.invalid.Add(1)
		s.logger.Warn("Rejecting fix", "error", err)
		return err
	}
	if err := l.CheckMonotonic(); err != nil {
		s.rejections.invalid.Add(1)
		s.logger.Warn("Rejecting fix", "error", err, "time", l.Time)
		return err
	}
	if l.Mock && s.config.FilterMockGNSS {
		s.rejections.mock.Add(1)
		s.logger.Debug("Rejecting mock fix", "provider", l.Provider)
		return nil
	}
	if s.config.FilterImplausible && !clean.FilterPlausible(l) {
		s.rejections.implausible.Add(1)
		s.logger.Warn("Rejecting implausible fix", "speed", l.Speed, "altitude", l.Altitude)
		return nil
	}
	if l.Provider == provider.Network && l.Accuracy/networkAccuracyScale > s.config.NetworkMaxAccuracy {
		s.rejections.inaccurate.Add(1)
		s.logger.Debug("Rejecting inaccurate network fix", "accuracy", l.Accuracy)
		return nil
	}
	if s.dedupe != nil && !s.dedupe(l) {
		s.rejections.duplicate.Add(1)
		s.logger.Debug("Rejecting duplicate fix", "ts", l.Timestamp())
		return nil
	}
	if l.Declination != 0 {
		s.declination.Store(math.Float64bits(l.Declination))
	}

	sm := l.Sample()
	s.queue.Push(sm)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	tp := s.sched.Drain(sm)
	if !l.Time.IsZero() {
		tp.Time = l.Time
	}
	s.emit(tp)
	return nil
}

// emit publishes a drained point. The caller holds emitMu.
func (s *Session) emit(tp trackpoint.TrackPoint) {
	s.last.Store(&tp)
	if s.cells != nil {
		s.cellsMu.Lock()
		s.cells.Push(tp)
		s.cellsMu.Unlock()
	}
	s.deliver(delivery{tp: &tp})
	if s.hooks.OnTrackPoint != nil {
		s.hooks.OnTrackPoint(tp)
	}
}

// deliver hands d to the dispatcher without blocking. The caller holds gate shared
// and the session is active.
func (s *Session) deliver(d delivery) {
	select {
	case s.deliveries <- d:
	default:
		if n := s.feedDropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("Feed subscribers lagging, dropping deliveries", "dropped", n)
		}
	}
}

// dispatch sends deliveries to the feeds until ch is closed and empty.
// A stuck subscriber holds up only this goroutine.
func (s *Session) dispatch(ch <-chan delivery) {
	for d := range ch {
		if d.tp != nil {
			s.trackFeed.Send(*d.tp)
		} else {
			s.qualityFeed.Send(*d.qc)
		}
	}
}

// OnSatelliteStatus classifies reception by satellites used in the fix.
// A status reporting no satellites at all is ignored.
func (s *Session) OnSatelliteStatus(st raw.SatelliteStatus) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if !s.active.Load() {
		return ErrNotStarted
	}
	if st.SatelliteCount <= 0 {
		return nil
	}
	c, changed := s.monitor.Observe(quality.CountUsedInFix(st.UsedInFix))
	if !changed {
		return nil
	}
	s.logger.Info("Reception quality changed", "change", c)
	s.deliver(delivery{qc: &c})
	if s.hooks.OnQualityChanged != nil {
		s.hooks.OnQualityChanged(c)
	}
	return nil
}

// OnSensor takes an orientation or linear acceleration reading.
// Acceleration is rotated into the world frame and queued; it never triggers a drain.
func (s *Session) OnSensor(ev raw.SensorEvent) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if !s.active.Load() {
		return ErrNotStarted
	}
	switch ev.Type {
	case raw.RotationVector:
		r, err := rotationFromVector(ev.Values)
		if err != nil {
			s.rejections.invalid.Add(1)
			return err
		}
		s.rotation.Store(r)
		return nil

	case raw.LinearAcceleration:
		r := s.rotation.Load()
		if r == nil {
			s.rejections.noOrientation.Add(1)
			return nil
		}
		ts := ev.Timestamp()
		if !s.admitSensor(ts) {
			s.rejections.throttled.Add(1)
			return nil
		}
		east, north, up, err := r.apply(ev.Values)
		if err != nil {
			s.rejections.invalid.Add(1)
			return err
		}
		east, north = trueNorth(east, north, math.Float64frombits(s.declination.Load()))
		s.queue.Push(sample.NewInertial(ts, sample.Inertial{East: east, North: north, Up: up}))
		return nil
	}
	s.rejections.invalid.Add(1)
	return fmt.Errorf("unknown sensor type %q", ev.Type)
}

// admitSensor decimates acceleration to SensorDecimationHz. Zero admits every reading.
func (s *Session) admitSensor(ts int64) bool {
	if s.config.SensorDecimationHz <= 0 {
		return true
	}
	period := int64(1000 / s.config.SensorDecimationHz)
	for {
		last := s.lastSensor.Load()
		if last != math.MinInt64 && ts > last-period && ts < last+period {
			return false
		}
		if s.lastSensor.CompareAndSwap(last, ts) {
			return true
		}
	}
}

// OnEvent dispatches a decoded raw event.
func (s *Session) OnEvent(ev raw.Event) error {
	switch ev.Type {
	case raw.EventLocation:
		return s.OnLocation(*ev.Location)
	case raw.EventSatellites:
		return s.OnSatelliteStatus(*ev.Satellites)
	case raw.EventSensor:
		return s.OnSensor(*ev.Sensor)
	}
	return fmt.Errorf("%w: %q", raw.ErrUnknownEvent, ev.Type)
}

// Last returns the most recently emitted track point.
func (s *Session) Last() (trackpoint.TrackPoint, bool) {
	tp := s.last.Load()
	if tp == nil {
		return trackpoint.TrackPoint{}, false
	}
	return *tp, true
}

// Estimate returns the estimator's current state, if it has been initialized.
func (s *Session) Estimate() (estimator.State, bool) {
	return s.sched.Estimate()
}

// FlushCells closes the cell filter's open cell and returns the last cell mean, if any.
func (s *Session) FlushCells() (trackpoint.TrackPoint, bool) {
	if s.cells == nil {
		return trackpoint.TrackPoint{}, false
	}
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	return s.cells.Flush()
}

func (s *Session) Stats() Stats {
	st := Stats{
		Queue:     s.queue.Stats(),
		Scheduler: s.sched.Stats(),
		Quality:   s.monitor.Current(),
		Rejections: Rejections{
			Invalid:       s.rejections.invalid.Load(),
			Mock:          s.rejections.mock.Load(),
			Implausible:   s.rejections.implausible.Load(),
			Inaccurate:    s.rejections.inaccurate.Load(),
			Duplicate:     s.rejections.duplicate.Load(),
			NoOrientation: s.rejections.noOrientation.Load(),
			Throttled:     s.rejections.throttled.Load(),
		},
		FeedDropped: s.feedDropped.Load(),
	}
	if s.cells != nil {
		s.cellsMu.Lock()
		st.DistanceAsIs = s.cells.DistanceAsIs()
		st.DistanceFiltered = s.cells.DistanceFiltered()
		s.cellsMu.Unlock()
	}
	return st
}
