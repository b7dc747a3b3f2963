package webd

import (
	"encoding/json"

	"github.com/olahol/melody"
	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/fusion/quality"
)

type websocketAction string

const (
	actionTrackPoint websocketAction = "trackpoint"
	actionQuality    websocketAction = "quality"
)

type broadcast struct {
	Action  websocketAction     `json:"action"`
	Device  conceptual.DeviceID `json:"device"`
	Feature *geojson.Feature    `json:"feature,omitempty"`
	Quality *quality.Change     `json:"quality,omitempty"`
}

// broadcast hands b to the websocket hub and remembers it for late joiners.
func (s *WebDaemon) broadcast(b broadcast) {
	s.recent.Add(b)
	s.feedBroadcast.Send(b)
}

// initMelody sets up the websocket handler.
func (s *WebDaemon) initMelody() {
	s.melodyInstance = melody.New()

	// Catch up new clients with recent broadcasts.
	s.melodyInstance.HandleConnect(func(ms *melody.Session) {
		s.logger.Info("[websocket] connected", "remote", ms.Request.RemoteAddr)
		for _, b := range s.recent.Get() {
			data, err := json.Marshal(b)
			if err != nil {
				continue
			}
			_ = ms.Write(data)
		}
	})

	// Right now don't care about incoming messages from clients. Log and drop.
	s.melodyInstance.HandleMessage(func(ms *melody.Session, msg []byte) {
		s.logger.Debug("[websocket] message", "remote", ms.Request.RemoteAddr, "message", string(msg))
	})

	s.melodyInstance.HandleDisconnect(func(ms *melody.Session) {
		s.logger.Info("[websocket] disconnected", "remote", ms.Request.RemoteAddr)
	})

	s.melodyInstance.HandleError(func(ms *melody.Session, e error) {
		s.logger.Warn("[websocket] error", "remote", ms.Request.RemoteAddr, "error", e)
	})

	// Session hooks send on the feed; this loop does the (slower) socket writes
	// so a slow client never holds up fusion.
	broadcasts := make(chan broadcast, 256)
	sub := s.feedBroadcast.Subscribe(broadcasts)
	s.broadcastSub = sub
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case b := <-broadcasts:
				data, err := json.Marshal(b)
				if err != nil {
					s.logger.Error("Failed to marshal broadcast", "error", err)
					continue
				}
				if err := s.melodyInstance.Broadcast(data); err != nil {
					s.logger.Warn("Failed to broadcast", "action", b.Action, "error", err)
				}
			case err := <-sub.Err():
				if err != nil {
					s.logger.Error("Broadcast subscription failed", "error", err)
				}
				return
			}
		}
	}()
}
