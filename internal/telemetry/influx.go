package telemetry

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/cjeanneret/roboremote/internal/config"
	"github.com/cjeanneret/roboremote/internal/debug"
)

// Measurement is the InfluxDB measurement name for control frames.
const Measurement = "roboremote_tick"

// InfluxExporter writes one point per frame through the async write API.
type InfluxExporter struct {
	client influxdb2.Client
	write  api.WriteAPI
	done   chan struct{}
}

// NewInfluxExporter connects to cfg.InfluxURL. Write errors are logged, never returned.
func NewInfluxExporter(cfg config.TelemetryConfig) *InfluxExporter {
	return newInfluxExporter(cfg, influxdb2.DefaultOptions())
}

func newInfluxExporter(cfg config.TelemetryConfig, opts *influxdb2.Options) *InfluxExporter {
	opts.SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	w := client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)

	e := &InfluxExporter{client: client, write: w, done: make(chan struct{})}
	// The error channel must be drained or the writer blocks.
	errorsCh := w.Errors()
	go func() {
		defer close(e.done)
		for err := range errorsCh {
			debug.Trace("influx: write failed: %v", err)
		}
	}()
	debug.Info("Exporting ticks to InfluxDB at %s (bucket %s)", cfg.InfluxURL, cfg.InfluxBucket)
	return e
}

// Point converts a frame to an InfluxDB point.
func Point(fr Frame) *write.Point {
	enabled := 0
	if fr.State.Enabled {
		enabled = 1
	}
	return influxdb2.NewPointWithMeasurement(Measurement).
		SetTime(fr.Time).
		AddTag("sent", boolTag(fr.Sent)).
		AddField("seq", fr.Seq).
		AddField("angle", fr.Command.Angle).
		AddField("speed", fr.Command.Speed).
		AddField("target_power", fr.State.TargetPower).
		AddField("filtered_angle", fr.State.FilteredAngle).
		AddField("enabled", enabled).
		AddField("interval_ms", float64(fr.Interval)/float64(time.Millisecond)).
		AddField("late", fr.Late)
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Export hands fr to the client's write buffer. It blocks when the buffer is
// full, so it must not run on the control loop.
func (e *InfluxExporter) Export(fr Frame) {
	e.write.WritePoint(Point(fr))
}

// Run exports every frame from feed until ctx is done, then flushes and closes.
// Frames published while the exporter is stuck on a slow server are dropped
// by the feed.
func (e *InfluxExporter) Run(ctx context.Context, feed *Feed) {
	ch := make(chan Frame, SubscriberBuffer)
	sub := feed.Subscribe(ch)
	defer e.Close()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Err():
			return
		case fr := <-ch:
			e.Export(fr)
		}
	}
}

// Close flushes buffered points and releases the client.
func (e *InfluxExporter) Close() {
	e.write.Flush()
	e.client.Close()
	select {
	case <-e.done:
	case <-time.After(time.Second):
	}
}
