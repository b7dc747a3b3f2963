package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/catfuse/common"
)

// TickMeter counts marked items and bytes, logging rates on each tick.
type TickMeter struct {
	label    string
	interval time.Duration
	started  time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last time.Time // any value, eg trackpoint.Time

	ticker     *time.Ticker
	done       chan struct{}
	stopOnce   sync.Once
	reg        metrics.Registry
	countMeter metrics.Meter
	sizeMeter  metrics.Meter
}

func NewTickMeter(interval time.Duration, label string, logger *slog.Logger) *TickMeter {
	// Meters are no-ops without this global setting.
	metrics.Enabled = true

	if logger == nil {
		logger = slog.Default()
	}
	reg := metrics.NewRegistry()
	tm := &TickMeter{
		label:      label,
		interval:   interval,
		started:    time.Now(),
		logger:     logger,
		done:       make(chan struct{}),
		reg:        reg,
		countMeter: metrics.NewMeter(),
		sizeMeter:  metrics.NewMeter(),
	}
	_ = reg.Register(label+".count.meter", tm.countMeter)
	_ = reg.Register(label+".size.meter", tm.sizeMeter)
	if interval > 0 {
		tm.ticker = time.NewTicker(interval)
		go tm.run()
	}
	return tm
}

// Mark records one item of n bytes. A non-zero t becomes the logged label.
func (tm *TickMeter) Mark(t time.Time, n int) {
	if !t.IsZero() {
		tm.mu.Lock()
		tm.last = t
		tm.mu.Unlock()
	}
	tm.countMeter.Mark(1)
	tm.sizeMeter.Mark(int64(n))
}

func (tm *TickMeter) Count() int64 {
	return tm.countMeter.Snapshot().Count()
}

func (tm *TickMeter) Registry() metrics.Registry {
	return tm.reg
}

func (tm *TickMeter) run() {
	for {
		select {
		case <-tm.done:
			return
		case <-tm.ticker.C:
			tm.Log()
		}
	}
}

func (tm *TickMeter) Log() {
	countSnap := tm.countMeter.Snapshot()
	sizeSnap := tm.sizeMeter.Snapshot()

	tm.mu.Lock()
	last := tm.last
	tm.mu.Unlock()

	tm.logger.Info(tm.label, "n", humanize.Comma(countSnap.Count()),
		"last", last.Format(time.DateTime),
		"rate", common.DecimalToFixed(countSnap.Rate1(), 1),
		"bps", humanize.Bytes(uint64(sizeSnap.Rate1())),
		"total.bytes", humanize.Bytes(uint64(sizeSnap.Count())),
		"running", time.Since(tm.started).Round(time.Second))
}

func (tm *TickMeter) Stop() {
	if tm == nil {
		return
	}
	tm.stopOnce.Do(func() {
		if tm.ticker != nil {
			tm.ticker.Stop()
		}
		close(tm.done)
		tm.countMeter.Stop()
		tm.sizeMeter.Stop()
	})
}
