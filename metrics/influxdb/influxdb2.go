package influxdb

import (
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/types/trackpoint"
)

const measurementTrackPoint = "trackpoint"

// Enabled reports whether an InfluxDB target is configured.
func Enabled() bool {
	return params.INFLUXDB_URL != ""
}

// TrackPointPoint renders one track point as an InfluxDB point.
func TrackPointPoint(device conceptual.DeviceID, tp trackpoint.TrackPoint) *write.Point {
	r := tp.Rounded()
	filtered := 0
	if r.Filtered {
		filtered = 1
	}
	at := r.Time
	if at.IsZero() {
		at = time.UnixMilli(r.Timestamp)
	}
	return influxdb2.NewPointWithMeasurement(measurementTrackPoint).
		SetTime(at).
		AddTag("device", device.String()).
		AddTag("provider", r.Provider).
		AddField("latitude", r.Latitude).
		AddField("longitude", r.Longitude).
		AddField("altitude", r.Altitude).
		AddField("bearing", r.Bearing).
		AddField("speed", r.Speed).
		AddField("accuracy", r.Accuracy).
		AddField("filtered", filtered)
}

// ExportTrackPoints posts track points to an InfluxDB Write API.
// Because it accepts a slice, use batches. The Write API will buffer and flush.
// The last error encountered is returned.
func ExportTrackPoints(device conceptual.DeviceID, tps []trackpoint.TrackPoint) error {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(params.INFLUXDB_URL, params.INFLUXDB_TOKEN, opts)
	writeAPI := client.WriteAPI(params.INFLUXDB_ORG, params.INFLUXDB_BUCKET)

	// Errors must be requested before writing for them to be collected.
	// The chan is unbuffered and must be drained or the writer will block.
	errorsCh := writeAPI.Errors()
	var err error
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range errorsCh {
			if e != nil {
				mu.Lock()
				err = e
				mu.Unlock()
			}
		}
	}()

	for _, tp := range tps {
		writeAPI.WritePoint(TrackPointPoint(device, tp))
	}
	writeAPI.Flush()
	client.Close()
	<-done
	mu.Lock()
	defer mu.Unlock()
	return err
}
