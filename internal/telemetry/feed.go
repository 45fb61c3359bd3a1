// Package telemetry carries per-tick control frames to observers: the web
// dashboard, the tick meter and the optional InfluxDB exporter.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/cjeanneret/roboremote/internal/logic/control"
)

// Frame is everything that happened on one dispatch tick.
type Frame struct {
	Seq      uint64           `json:"seq"`
	Time     time.Time        `json:"time"`
	Interval time.Duration    `json:"interval"` // since the previous tick
	Late     bool             `json:"late"`
	Sent     bool             `json:"sent"` // false when the dispatcher dropped the command
	Command  control.Command  `json:"command"`
	Feedback control.Feedback `json:"feedback"`
	State    control.Snapshot `json:"state"`
}

// SubscriberBuffer is the channel size used by Watch and the exporters.
const SubscriberBuffer = 16

// Feed fans frames out to subscribers. Publish never waits on a slow
// subscriber: each one is served by a relay that drops the frame when the
// subscriber channel is full.
type Feed struct {
	feed    event.FeedOf[Frame]
	dropped atomic.Uint64
}

// Publish delivers fr to all subscriber relays and returns how many took it.
func (f *Feed) Publish(fr Frame) int {
	return f.feed.Send(fr)
}

// Dropped returns the number of frames discarded because a subscriber was full.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Subscribe registers ch. Frames that do not fit in ch are dropped.
func (f *Feed) Subscribe(ch chan<- Frame) event.Subscription {
	relay := make(chan Frame, 1)
	inner := f.feed.Subscribe(relay)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case fr := <-relay:
				select {
				case ch <- fr:
				default:
					f.dropped.Add(1)
				}
			}
		}
	})
}

// Watch calls fn for every frame until ctx is done. fn runs on its own goroutine.
func (f *Feed) Watch(ctx context.Context, fn func(Frame)) {
	ch := make(chan Frame, SubscriberBuffer)
	sub := f.Subscribe(ch)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Err():
				return
			case fr := <-ch:
				fn(fr)
			}
		}
	}()
}
