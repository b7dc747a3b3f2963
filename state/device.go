package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rotblauer/catfuse/catz"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/types/trackpoint"
	"go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("not found")

// Device is a device's persisted state: a small bbolt KV store
// next to its flat files.
type Device struct {
	ID   conceptual.DeviceID
	DB   *bbolt.DB
	Flat *catz.Flat
}

// OpenDevice opens (creating if needed) the device's state under root.
// A writable DB holds a file lock: other openers of the same device block
// until it is closed.
func OpenDevice(root string, id conceptual.DeviceID, readOnly bool) (*Device, error) {
	flat := catz.NewFlatWithRoot(root).ForDevice(id)
	if err := flat.MkdirAll(); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(flat.Path(), params.StateDBName), 0600, &bbolt.Options{
		ReadOnly: readOnly,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return &Device{ID: id, DB: db, Flat: flat}, nil
}

func (d *Device) Close() error {
	return d.DB.Close()
}

func (d *Device) storeKV(key []byte, data []byte) error {
	if key == nil {
		return fmt.Errorf("storeKV: nil key")
	}
	if data == nil {
		return fmt.Errorf("storeKV: nil data")
	}
	return d.DB.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(params.StateBucket)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

func (d *Device) readKV(key []byte) ([]byte, error) {
	buf := bytes.NewBuffer([]byte{})
	err := d.DB.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(params.StateBucket)
		if bucket == nil {
			return ErrNotFound
		}
		// The value returned by Get is only valid in the scope of the transaction.
		got := bucket.Get(key)
		if got == nil {
			return ErrNotFound
		}
		_, err := buf.Write(got)
		return err
	})
	return buf.Bytes(), err
}

func (d *Device) WriteKV(key, value []byte) error {
	return d.storeKV(key, value)
}

func (d *Device) ReadKV(key []byte) ([]byte, error) {
	return d.readKV(key)
}

func (d *Device) StoreLastTrackPoint(tp trackpoint.TrackPoint) error {
	b, err := json.Marshal(tp)
	if err != nil {
		return err
	}
	if err := d.storeKV(params.StateKeyLastTrackPoint, b); err != nil {
		slog.Error("Failed to store last track point", "device", d.ID, "error", err)
		return err
	}
	slog.Debug("Stored last track point", "device", d.ID, "track", string(b))
	return nil
}

func (d *Device) ReadLastTrackPoint() (trackpoint.TrackPoint, error) {
	var tp trackpoint.TrackPoint
	got, err := d.readKV(params.StateKeyLastTrackPoint)
	if err != nil {
		return tp, err
	}
	if err := json.Unmarshal(got, &tp); err != nil {
		return tp, fmt.Errorf("%w: %q", err, string(got))
	}
	return tp, nil
}

// StoreSummary persists any JSON-encodable session summary.
func (d *Device) StoreSummary(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.storeKV(params.StateKeySummary, b)
}

func (d *Device) ReadSummary(v any) error {
	got, err := d.readKV(params.StateKeySummary)
	if err != nil {
		return err
	}
	return json.Unmarshal(got, v)
}

// AppendTrackPoints appends track points as GeoJSON features to the device's track log.
func (d *Device) AppendTrackPoints(tps ...trackpoint.TrackPoint) error {
	w, err := d.Flat.TracksGZWriter()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, tp := range tps {
		if err := enc.Encode(tp.Feature()); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
