/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotblauer/catfuse/catz"
	"github.com/rotblauer/catfuse/common"
	"github.com/rotblauer/catfuse/conceptual"
	"github.com/rotblauer/catfuse/fusion/quality"
	"github.com/rotblauer/catfuse/metrics/influxdb"
	"github.com/rotblauer/catfuse/params"
	"github.com/rotblauer/catfuse/provider"
	"github.com/rotblauer/catfuse/session"
	"github.com/rotblauer/catfuse/state"
	"github.com/rotblauer/catfuse/stream"
	"github.com/rotblauer/catfuse/types/raw"
	"github.com/rotblauer/catfuse/types/trackpoint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const replayStoreBatchSize = 1000

type replayOptions struct {
	Device conceptual.DeviceID
	Fusion *params.FusionConfig

	// DataDir, if set, receives the track log, last track point and summary.
	DataDir string
	Influx  bool
}

type summaryStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

func summarize(data []float64) summaryStats {
	statsMustFloat := func(fn func() (float64, error)) float64 {
		out, err := fn()
		if err != nil {
			return 0
		}
		return common.DecimalToFixed(out, 2)
	}
	statsData := stats.Float64Data(data)
	return summaryStats{
		Mean:   statsMustFloat(statsData.Mean),
		Median: statsMustFloat(statsData.Median),
		P95: statsMustFloat(func() (float64, error) {
			return statsData.Percentile(95)
		}),
		Max: statsMustFloat(statsData.Max),
	}
}

type replaySummary struct {
	Device      conceptual.DeviceID `json:"device"`
	Events      int                 `json:"events"`
	Rejected    int                 `json:"rejected"`
	TrackPoints int                 `json:"track_points"`
	Filtered    int                 `json:"filtered"`

	// Accuracy is the filter's position error at each track point, meters.
	Accuracy summaryStats `json:"accuracy"`
	// Correction is the distance from each fix to the track point it yielded, meters.
	Correction summaryStats `json:"correction"`

	Session session.Stats `json:"session"`
}

// replay drives a session with the raw events in r, writing each track point to w as NDJSON.
func replay(ctx context.Context, r io.Reader, w io.Writer, opts replayOptions) (replaySummary, error) {
	summary := replaySummary{Device: opts.Device}

	sess, err := session.New(opts.Fusion, provider.NewManual(), nil, slog.With("device", opts.Device))
	if err != nil {
		return summary, err
	}

	var tps []trackpoint.TrackPoint
	var accuracies, corrections []float64
	var fix orb.Point
	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)
	var encErr error
	sess.SetHooks(session.Hooks{
		OnTrackPoint: func(tp trackpoint.TrackPoint) {
			tps = append(tps, tp)
			accuracies = append(accuracies, tp.Accuracy)
			corrections = append(corrections, geo.Distance(fix, tp.Point()))
			if tp.Filtered {
				summary.Filtered++
			}
			if err := enc.Encode(tp.Rounded()); err != nil && encErr == nil {
				encErr = err
			}
		},
		OnQualityChanged: func(c quality.Change) {
			slog.Info("Reception", "quality", c.Current, "satellites", c.Satellites, "message", c.Message)
		},
	})
	if err := sess.Start(); err != nil {
		return summary, err
	}

	meter := stream.NewTickMeter(params.MeterLogInterval, "Replayed events", nil)
	defer meter.Stop()

	err = raw.ScanEvents(r, func(ev raw.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Events++
		var label time.Time
		if ev.Location != nil {
			fix = orb.Point{ev.Location.Longitude, ev.Location.Latitude}
			label = ev.Location.Time
		}
		meter.Mark(label, 1)
		if err := sess.OnEvent(ev); err != nil {
			summary.Rejected++
			slog.Debug("Event rejected", "type", ev.Type, "error", err)
		}
		return encErr
	})
	if stopErr := sess.Stop(); stopErr != nil {
		slog.Warn("Failed to stop session", "error", stopErr)
	}
	if flushErr := out.Flush(); err == nil {
		err = flushErr
	}
	if cell, ok := sess.FlushCells(); ok {
		slog.Debug("Flushed open cell", "cell", cell)
	}

	summary.TrackPoints = len(tps)
	summary.Accuracy = summarize(accuracies)
	summary.Correction = summarize(corrections)
	summary.Session = sess.Stats()
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}

	if opts.DataDir != "" && len(tps) > 0 {
		if err := storeReplay(ctx, opts, tps, summary); err != nil {
			return summary, err
		}
	}
	if opts.Influx {
		if err := influxdb.ExportTrackPoints(opts.Device, tps); err != nil {
			slog.Error("Failed to export track points", "error", err)
		}
	}
	return summary, nil
}

func storeReplay(ctx context.Context, opts replayOptions, tps []trackpoint.TrackPoint, summary replaySummary) error {
	st, err := state.OpenDevice(opts.DataDir, opts.Device, false)
	if err != nil {
		return err
	}
	defer st.Close()

	// Context cancellation (interrupts) must not truncate the store.
	storeCtx := context.WithoutCancel(ctx)
	batches := stream.Batch(storeCtx, replayStoreBatchSize,
		stream.Transform(storeCtx, trackpoint.TrackPoint.Rounded,
			stream.Slice(storeCtx, tps)))
	for batch := range batches {
		if err := st.AppendTrackPoints(batch...); err != nil {
			return fmt.Errorf("append track points: %w", err)
		}
	}
	return errors.Join(
		st.StoreLastTrackPoint(tps[len(tps)-1]),
		st.StoreSummary(summary),
	)
}

var optReplayStore bool
var optReplayInflux bool

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Replay recorded raw events through a tracking session",
	Long: `Reads raw events as NDJSON or a JSON array, gzipped or not, from file or stdin,
and writes one track point per accepted location fix to stdout as NDJSON.

Events are delivered in input order, as a device would deliver its callbacks.

Flags:

  --device   Device ID the session runs as. (Default is "replay".)
  --store    Append track points to <datadir>/devices/<device>/tracks.ndjson.gz
             and store the last track point and a summary.
  --influx   Export track points to InfluxDB (INFLUXDB_* env).

Examples:

  catfuse replay recording.ndjson.gz --store --device rye > tracks.ndjson
  zcat recording.ndjson.gz | catfuse replay --estimator geo
`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		var in io.ReadCloser
		var err error
		if len(args) == 0 || args[0] == "-" {
			in, err = catz.MaybeGZReader(io.NopCloser(os.Stdin))
		} else {
			in, err = catz.OpenMaybeGZ(args[0])
		}
		if err != nil {
			log.Fatalln(err)
		}
		defer in.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sig := <-common.Interrupted()
			slog.Warn("Received signal, stopping replay", "signal", sig)
			cancel()
		}()

		opts := replayOptions{
			Device: conceptual.DeviceID(viper.GetString("replay.device")),
			Fusion: fusionConfig(),
			Influx: optReplayInflux && influxdb.Enabled(),
		}
		if optReplayStore {
			opts.DataDir = dataDir()
		}
		summary, err := replay(ctx, in, os.Stdout, opts)
		if err != nil {
			log.Fatalln(err)
		}
		slog.Info("Replay done",
			"device", summary.Device,
			"events", summary.Events,
			"rejected", summary.Rejected,
			"track_points", summary.TrackPoints,
			"filtered", summary.Filtered,
			"accuracy", summary.Accuracy,
			"correction", summary.Correction,
			"distance_as_is", common.DecimalToFixed(summary.Session.DistanceAsIs, 1),
			"distance_filtered", common.DecimalToFixed(summary.Session.DistanceFiltered, 1))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	flags := replayCmd.Flags()
	flags.String("device", "replay", "Device ID the session runs as")
	flags.BoolVar(&optReplayStore, "store", false, "Persist track points and state under the data directory")
	flags.BoolVar(&optReplayInflux, "influx", false, "Export track points to InfluxDB")
	if err := viper.BindPFlag("replay.device", flags.Lookup("device")); err != nil {
		panic(err)
	}
}
