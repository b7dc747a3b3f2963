package raw

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

type EventType string

const (
	EventLocation   EventType = "location"
	EventSatellites EventType = "satellites"
	EventSensor     EventType = "sensor"
)

var ErrUnknownEvent = errors.New("unknown raw event")

// Event is the tagged envelope recorded and posted callbacks travel in.
// The payload fields are flattened next to the "type" field on the wire, eg.
//
//	{"type":"location","provider":"gps","latitude":55.75,...}
//	{"type":"sensor","sensor":"linear_acceleration","values":[0.1,0,0],...}
type Event struct {
	Type       EventType
	Location   *Location
	Satellites *SatelliteStatus
	Sensor     *SensorEvent
}

func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventLocation:
		payload = e.Location
	case EventSatellites:
		payload = e.Satellites
	case EventSensor:
		payload = e.Sensor
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(b) < 2 || b[0] != '{' {
		return nil, fmt.Errorf("%w: empty %s payload", ErrUnknownEvent, e.Type)
	}
	head := fmt.Sprintf(`{"type":%q`, e.Type)
	if len(b) > 2 {
		head += ","
	}
	return append([]byte(head), b[1:]...), nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// DecodeEvent sniffs the envelope's type and decodes the payload it names.
func DecodeEvent(msg []byte) (Event, error) {
	parsed := gjson.ParseBytes(msg)
	if !parsed.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrUnknownEvent)
	}
	t := EventType(parsed.Get("type").String())
	ev := Event{Type: t}
	var err error
	switch t {
	case EventLocation:
		ev.Location = &Location{}
		err = json.Unmarshal(msg, ev.Location)
	case EventSatellites:
		ev.Satellites = &SatelliteStatus{}
		err = json.Unmarshal(msg, ev.Satellites)
	case EventSensor:
		ev.Sensor = &SensorEvent{}
		err = json.Unmarshal(msg, ev.Sensor)
	default:
		return Event{}, fmt.Errorf("%w: type=%q", ErrUnknownEvent, t)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", t, err)
	}
	return ev, nil
}

// ScanJSONMessages reads a stream of JSON messages from an io.Reader,
// and calls onEach for each decoded message.
// If the stream is encoded as a JSON array, onEach is called
// for each element in the array.
func ScanJSONMessages(body io.Reader, onEach func(message json.RawMessage) error) error {
	buf := bufio.NewReader(body)
	var first byte
	for {
		b, err := buf.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		first = b
		break
	}
	if err := buf.UnreadByte(); err != nil {
		return err
	}
	dec := json.NewDecoder(buf)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
	for dec.More() {
		var msg json.RawMessage
		err := dec.Decode(&msg)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("decode err: %T %w", err, err)
			}
			break
		}
		if err := onEach(msg); err != nil {
			return err
		}
	}
	return nil
}

// ScanEvents decodes every event in body, NDJSON or array.
func ScanEvents(body io.Reader, onEach func(ev Event) error) error {
	return ScanJSONMessages(body, func(message json.RawMessage) error {
		ev, err := DecodeEvent(message)
		if err != nil {
			return err
		}
		return onEach(ev)
	})
}
