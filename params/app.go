package params

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

func init() {
	metrics.Enabled = true
}

const (
	DevicesDir = "devices"

	TracksGZFileName = "tracks.ndjson.gz"
	StateDBName      = "state.db"
)

var DefaultDatadirRoot = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".catfuse")
}()

var StateBucket = []byte("state")

// StateKey* are the keys of the per-device state bucket.
var (
	StateKeyLastTrackPoint = []byte("last")
	StateKeySummary        = []byte("summary")
)

var DefaultGZipCompressionLevel = gzip.BestCompression

var (
	CacheLastKnownTTL = 7 * 24 * time.Hour

	// MeterLogInterval is how often throughput is logged by long-running commands.
	MeterLogInterval = 30 * time.Second
)

// INFLUXDB_* configure the optional track point export.
// An empty URL disables the export.
var (
	INFLUXDB_URL    = os.Getenv("INFLUXDB_URL")
	INFLUXDB_TOKEN  = os.Getenv("INFLUXDB_TOKEN")
	INFLUXDB_ORG    = os.Getenv("INFLUXDB_ORG")
	INFLUXDB_BUCKET = os.Getenv("INFLUXDB_BUCKET")
)
