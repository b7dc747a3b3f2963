package webd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/state"
)

// newTestWebDaemon creates a new WebDaemon for testing purposes, with its data in a temp dir.
func newTestWebDaemon(t *testing.T) *WebDaemon {
	t.Helper()
	config := params.DefaultTestWebDaemonConfig()
	config.DataDir = t.TempDir()
	d, err := NewWebDaemon(config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return d
}

func location(ms int64, lat, lon float64) string {
	return fmt.Sprintf(`{"type":"location","provider":"gps","latitude":%f,"longitude":%f,"altitude":150,"speed":1.2,"bearing":0,"accuracy":5,"elapsed_realtime_nanos":%d,"time":"2024-12-20T22:19:53Z"}`,
		lat, lon, ms*1_000_000)
}

func post(t *testing.T, h http.Handler, device, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/devices/"+device+"/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Result()
}

func get(t *testing.T, h http.Handler, path string) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Result()
}

func TestWebDaemon_ping(t *testing.T) {
	req := httptest.NewRequest("GET", "http://catsonmaps.org/ping", nil)
	w := httptest.NewRecorder()
	pingPong(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		t.Fatalf("status code not 200")
	}
	if string(body) != "pong" {
		t.Errorf("body is not pong: %s", string(body))
	}
}

func TestWebDaemon_status(t *testing.T) {
	d := newTestWebDaemon(t)
	resp := get(t, d.NewRouter(), "/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	status := webDaemonStatus{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Uptime == "" {
		t.Fatal("uptime is empty")
	}
}

func TestWebDaemon_events(t *testing.T) {
	d := newTestWebDaemon(t)
	router := d.NewRouter()

	body := "[" + location(1000, 55.75, 37.61) + "," + location(2000, 55.75001, 37.61) + "]"
	resp := post(t, router, "events-cat", body)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	got := eventsResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Accepted != 2 || got.Rejected != 0 {
		t.Fatalf("want 2 accepted, got %+v", got)
	}

	resp = get(t, router, "/devices/events-cat/last")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("last status %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	f, err := geojson.UnmarshalFeature(b)
	if err != nil {
		t.Fatal(err)
	}
	if lat := f.Point().Lat(); lat < 55.749 || lat > 55.751 {
		t.Errorf("unexpected last latitude %v", lat)
	}

	resp = get(t, router, "/devices/events-cat/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d", resp.StatusCode)
	}
	stats := deviceStats{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if !stats.Active || stats.Stats.Scheduler.Drains != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	// Persisted for after the session is gone.
	d.Close()
	st, err := state.OpenDevice(d.Config.DataDir, conceptual.DeviceID("events-cat"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	tp, err := st.ReadLastTrackPoint()
	if err != nil {
		t.Fatal(err)
	}
	if tp.Latitude < 55.749 {
		t.Errorf("unexpected stored track point %+v", tp)
	}
}

func TestWebDaemon_rejectedEvents(t *testing.T) {
	d := newTestWebDaemon(t)
	router := d.NewRouter()

	resp := post(t, router, "rejecting-cat", location(1000, 123, 37.61))
	got := eventsResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Accepted != 0 || got.Rejected != 1 || len(got.Errors) != 1 {
		t.Errorf("want 1 rejected, got %+v", got)
	}

	resp = post(t, router, "rejecting-cat", `{"type":"teleport"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("want 422 for unknown event, got %d", resp.StatusCode)
	}
}

func TestWebDaemon_lastNotFound(t *testing.T) {
	d := newTestWebDaemon(t)
	resp := get(t, d.NewRouter(), "/devices/nobody/last")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("want 404, got %d", resp.StatusCode)
	}
}

func TestWebDaemon_evictStopsSession(t *testing.T) {
	config := params.DefaultTestWebDaemonConfig()
	config.DataDir = t.TempDir()
	config.MaxSessions = 1
	d, err := NewWebDaemon(config)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	router := d.NewRouter()

	post(t, router, "evicted-cat", location(1000, 55.75, 37.61))
	first, ok := d.sessions.Peek("evicted-cat")
	if !ok {
		t.Fatal("expected a session")
	}
	post(t, router, "evicting-cat", location(1000, 40.0, -105.0))
	if d.sessions.Len() != 1 {
		t.Fatalf("want 1 session, got %d", d.sessions.Len())
	}
	if first.session.Active() {
		t.Error("evicted session should be stopped")
	}
	// The evicted device's last track point survives the session.
	if _, err := d.lastKnown("evicted-cat"); err != nil {
		t.Errorf("want last known after eviction, got %v", err)
	}
}

func TestWebDaemon_token(t *testing.T) {
	t.Setenv("CATFUSE_TOKEN", "meow")
	d := newTestWebDaemon(t)
	router := d.NewRouter()

	resp := post(t, router, "token-cat", location(1000, 55.75, 37.61))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403 without token, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodPost, "/devices/token-cat/events", strings.NewReader(location(1000, 55.75, 37.61)))
	req.Header.Set("Authorization", "meow")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("want 200 with token, got %d", w.Code)
	}
}
