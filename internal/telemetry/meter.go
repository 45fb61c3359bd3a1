package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"

	"github.com/cjeanneret/roboremote/internal/debug"
)

// Report summarizes tick intervals over one meter window. Durations are in milliseconds.
type Report struct {
	Ticks   uint64  // total since start
	Window  int     // ticks in this window
	Mean    float64 // ms
	P95     float64 // ms
	Max     float64 // ms
	Late    int     // late ticks in this window
	Dropped int     // commands dropped by the in-flight guard in this window
}

func (r Report) String() string {
	return fmt.Sprintf("Ticks n=%s window=%d interval.mean=%.1fms p95=%.1fms max=%.1fms late=%d dropped=%d",
		humanize.Comma(int64(r.Ticks)), r.Window, r.Mean, r.P95, r.Max, r.Late, r.Dropped)
}

// TickMeter accumulates tick timing from frames and logs a report every interval.
type TickMeter struct {
	interval time.Duration

	mu        sync.Mutex
	ticks     uint64
	intervals []float64
	late      int
	dropped   int
}

func NewTickMeter(interval time.Duration) *TickMeter {
	return &TickMeter{interval: interval}
}

// Observe records one frame.
func (m *TickMeter) Observe(fr Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	if fr.Interval > 0 {
		m.intervals = append(m.intervals, float64(fr.Interval)/float64(time.Millisecond))
	}
	if fr.Late {
		m.late++
	}
	if !fr.Sent {
		m.dropped++
	}
}

// Report returns the current window statistics and starts a new window.
func (m *TickMeter) Report() Report {
	m.mu.Lock()
	data := stats.Float64Data(m.intervals)
	r := Report{Ticks: m.ticks, Window: len(data), Late: m.late, Dropped: m.dropped}
	m.intervals = nil
	m.late, m.dropped = 0, 0
	m.mu.Unlock()

	if len(data) == 0 {
		return r
	}
	r.Mean, _ = stats.Mean(data)
	r.P95, _ = stats.Percentile(data, 95)
	r.Max, _ = stats.Max(data)
	return r
}

// Run observes feed and logs a report every interval until ctx is done.
func (m *TickMeter) Run(ctx context.Context, feed *Feed) {
	feed.Watch(ctx, m.Observe)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := m.Report()
			if r.Late > 0 {
				debug.Warn("%s", r)
			} else {
				debug.Info("%s", r)
			}
		}
	}
}
