package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/logic/control"
)

// Stats counts dispatch outcomes since the dispatcher was created.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Dispatcher sends commands asynchronously. Failures are counted and
// traced, never reported to the caller: the next tick supersedes them.
type Dispatcher struct {
	sink    Sink
	sem     *semaphore.Weighted // nil = unbounded
	limit   int
	timeout time.Duration

	wg      sync.WaitGroup
	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher wraps sink. maxInFlight bounds concurrent sends (0 = unbounded);
// timeout bounds each send (0 = none beyond the sink's own).
func NewDispatcher(sink Sink, maxInFlight int, timeout time.Duration) *Dispatcher {
	d := &Dispatcher{sink: sink, timeout: timeout}
	if maxInFlight > 0 {
		d.limit = maxInFlight
		d.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return d
}

// Dispatch starts sending cmd and returns immediately. It reports false
// when the command was dropped because too many sends are in flight.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd control.Command) bool {
	if d.sem != nil && !d.sem.TryAcquire(1) {
		d.dropped.Add(1)
		debug.Trace("dispatch: %d in flight, dropping angle=%d speed=%.2f", d.InFlightLimit(), cmd.Angle, cmd.Speed)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			defer d.sem.Release(1)
		}

		sendCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		if err := d.sink.Send(sendCtx, cmd); err != nil {
			d.failed.Add(1)
			debug.Trace("dispatch: send failed: %v", err)
			return
		}
		d.sent.Add(1)
	}()
	return true
}

// InFlightLimit returns the configured bound, 0 when unbounded.
func (d *Dispatcher) InFlightLimit() int {
	return d.limit
}

// Stats returns the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

// Close waits for outstanding sends and closes the sink.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return d.sink.Close()
}
