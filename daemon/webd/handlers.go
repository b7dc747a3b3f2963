package webd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/session"
	"github.com/rotblauer/catfuse/state"
	"github.com/rotblauer/catfuse/types/raw"
)

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type webDaemonStatus struct {
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

func (s *WebDaemon) statusReport(w http.ResponseWriter, r *http.Request) {
	status := webDaemonStatus{
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: s.sessions.Len(),
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func deviceID(r *http.Request) conceptual.DeviceID {
	return conceptual.DeviceID(mux.Vars(r)["device"])
}

type eventsResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// handleEvents feeds posted raw events, one object or an array of them, to the device's session.
// Events the session rejects are counted in the response, not failed.
func (s *WebDaemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	if id.Empty() {
		http.Error(w, "Missing device", http.StatusBadRequest)
		return
	}
	if r.Body == nil {
		http.Error(w, "Please send a request body", http.StatusBadRequest)
		return
	}

	var events []raw.Event
	err := raw.ScanEvents(r.Body, func(ev raw.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to decode events", "device", id, "error", err)
		http.Error(w, "Failed to decode events", http.StatusUnprocessableEntity)
		return
	}

	resp := eventsResponse{}
	for attempt := 0; attempt < 2; attempt++ {
		d, err := s.getOrStartDevice(id)
		if err != nil {
			s.logger.Error("Failed to start session", "device", id, "error", err)
			http.Error(w, "Failed to start session", http.StatusInternalServerError)
			return
		}
		var stale bool
		resp, stale = s.postEvents(d, events)
		if !stale {
			break
		}
		// Evicted between lookup and post; the next lookup starts a fresh session.
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// postEvents delivers events to d's session and persists what it emitted.
// It reports stale if the session was stopped before any event was delivered.
func (s *WebDaemon) postEvents(d *device, events []raw.Event) (resp eventsResponse, stale bool) {
	d.postMu.Lock()
	defer d.postMu.Unlock()
	if !d.session.Active() {
		return resp, true
	}
	for _, ev := range events {
		if err := d.session.OnEvent(ev); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Accepted++
	}
	if err := s.persist(d); err != nil {
		s.logger.Error("Failed to persist track points", "device", d.id, "error", err)
	}
	return resp, false
}

func (s *WebDaemon) handleLast(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	tp, err := s.lastKnown(id)
	if errors.Is(err, state.ErrNotFound) {
		http.Error(w, "No track point for device", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Warn("Failed to get last known", "device", id, "error", err)
		http.Error(w, "Failed to get last known", http.StatusInternalServerError)
		return
	}
	if err := json.NewEncoder(w).Encode(tp.Feature()); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

type deviceStats struct {
	Device conceptual.DeviceID `json:"device"`
	Active bool                `json:"active"`
	Stats  session.Stats       `json:"stats"`
}

func (s *WebDaemon) handleStats(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	d, ok := s.sessions.Peek(id)
	if !ok {
		http.Error(w, "No live session for device", http.StatusNotFound)
		return
	}
	out := deviceStats{Device: id, Active: d.session.Active(), Stats: d.session.Stats()}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
