package webd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rotblauer/catfuse/cache"
	"github.com/rotblauer/catfuse/catz"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/fusion/quality"
	"github.com/rotblauer/catfuse/provider"
	"github.com/rotblauer/catfuse/session"
	"github.com/rotblauer/catfuse/state"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

// device is a live tracking session for one posting device.
type device struct {
	id      conceptual.DeviceID
	session *session.Session

	// postMu serializes event posts, so track points are persisted in emission order.
	postMu sync.Mutex

	pendingMu sync.Mutex
	pending   []trackpoint.TrackPoint
}

// getOrStartDevice returns the device's live session, starting a new one if needed.
// Starting may evict, and so stop, the least recently used session.
func (s *WebDaemon) getOrStartDevice(id conceptual.DeviceID) (*device, error) {
	if d, ok := s.sessions.Get(id); ok {
		return d, nil
	}
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if d, ok := s.sessions.Get(id); ok {
		return d, nil
	}

	// Posted events stand in for platform callbacks, so both providers are always available.
	sess, err := session.New(s.Config.Fusion, provider.NewManual(), s.factory, s.logger.With("device", id))
	if err != nil {
		return nil, err
	}
	d := &device{id: id, session: sess}
	sess.SetHooks(session.Hooks{
		OnTrackPoint: func(tp trackpoint.TrackPoint) {
			cache.SetLastKnownTTL(id, tp)
			d.pendingMu.Lock()
			d.pending = append(d.pending, tp)
			d.pendingMu.Unlock()
			s.broadcast(broadcast{Action: actionTrackPoint, Device: id, Feature: tp.Rounded().Feature()})
		},
		OnQualityChanged: func(c quality.Change) {
			s.broadcast(broadcast{Action: actionQuality, Device: id, Quality: &c})
		},
	})
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	s.sessions.Add(id, d)
	s.logger.Info("Device session started", "device", id, "sessions", s.sessions.Len())
	return d, nil
}

func (s *WebDaemon) onEvict(id conceptual.DeviceID, d *device) {
	d.postMu.Lock()
	defer d.postMu.Unlock()
	if err := d.session.Stop(); err != nil {
		s.logger.Warn("Failed to stop evicted session", "device", id, "error", err)
	}
	if tp, ok := d.session.FlushCells(); ok {
		s.logger.Debug("Flushed cell", "device", id, "cell", tp)
	}
	if err := s.persist(d); err != nil {
		s.logger.Error("Failed to persist evicted session", "device", id, "error", err)
	}
	s.logger.Info("Device session stopped", "device", id, "stats", d.session.Stats())
}

func (d *device) takePending() []trackpoint.TrackPoint {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

// persist appends pending track points to the device's track log and stores the last one.
// Nothing is written without a data directory.
func (s *WebDaemon) persist(d *device) error {
	tps := d.takePending()
	if len(tps) == 0 || s.Config.DataDir == "" {
		return nil
	}
	st, err := state.OpenDevice(s.Config.DataDir, d.id, false)
	if err != nil {
		return err
	}
	return errors.Join(
		st.AppendTrackPoints(tps...),
		st.StoreLastTrackPoint(tps[len(tps)-1]),
		st.StoreSummary(d.session.Stats()),
		st.Close(),
	)
}

// lastKnown returns the device's last track point from the cache, then from disk.
func (s *WebDaemon) lastKnown(id conceptual.DeviceID) (trackpoint.TrackPoint, error) {
	if tp, ok := cache.GetLastKnownTTL(id); ok {
		return tp, nil
	}
	if s.Config.DataDir == "" || !catz.NewFlatWithRoot(s.Config.DataDir).ForDevice(id).Exists() {
		return trackpoint.TrackPoint{}, state.ErrNotFound
	}
	st, err := state.OpenDevice(s.Config.DataDir, id, false)
	if err != nil {
		return trackpoint.TrackPoint{}, err
	}
	defer st.Close()
	return st.ReadLastTrackPoint()
}
