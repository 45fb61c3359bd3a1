package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/roboremote/internal/logic/control"
)

// ---------- encoding ----------

func TestEncodeQuery(t *testing.T) {
	cases := []struct {
		cmd  control.Command
		want string
	}{
		{control.Command{Angle: 60, Speed: 0}, "angle=60&speed=0"},
		{control.Command{Angle: 120, Speed: 10}, "angle=120&speed=10"},
		{control.Command{Angle: 0, Speed: 17.5}, "angle=0&speed=17.5"},
		{control.Command{Angle: 73, Speed: 0.0001}, "angle=73&speed=0.0001"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			if got := EncodeQuery(tc.cmd); got != tc.want {
				t.Errorf("EncodeQuery(%+v) = %q, want %q", tc.cmd, got, tc.want)
			}
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	f := EncodeFrame(0x120, control.Command{Angle: 90, Speed: 12.34})
	if f.ID != 0x120 || f.Length != 3 {
		t.Fatalf("frame header = id %#x len %d", f.ID, f.Length)
	}
	if f.Data[0] != 90 {
		t.Errorf("angle byte = %d, want 90", f.Data[0])
	}
	// 1234 = 0x04D2, little endian
	if f.Data[1] != 0xD2 || f.Data[2] != 0x04 {
		t.Errorf("speed bytes = %#x %#x, want 0xd2 0x04", f.Data[1], f.Data[2])
	}
	if got := DecodeFrame(f); got.Angle != 90 || got.Speed != 12.34 {
		t.Errorf("DecodeFrame = %+v", got)
	}
}

func TestEncodeFrame_Clamps(t *testing.T) {
	f := EncodeFrame(1, control.Command{Angle: -5, Speed: -1})
	if f.Data[0] != 0 || f.Data[1] != 0 || f.Data[2] != 0 {
		t.Errorf("negative values should clamp to zero, got %v", f.Data[:3])
	}
	f = EncodeFrame(1, control.Command{Angle: 300, Speed: 1e6})
	if f.Data[0] != 255 || f.Data[1] != 0xFF || f.Data[2] != 0xFF {
		t.Errorf("large values should saturate, got %v", f.Data[:3])
	}
}

// ---------- HTTPSink ----------

func TestHTTPSink_Send(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotQuery, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ignored"))
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL+"/motor", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	// non-2xx status is not an error
	if err := sink.Send(context.Background(), control.Command{Angle: 60, Speed: 2.5}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotMethod != http.MethodGet || gotPath != "/motor" || gotQuery != "angle=60&speed=2.5" {
		t.Errorf("request = %s %s?%s", gotMethod, gotPath, gotQuery)
	}
}

func TestHTTPSink_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink, _ := NewHTTPSink(url+"/motor", 500*time.Millisecond)
	if err := sink.Send(context.Background(), control.Command{}); err == nil {
		t.Error("expected error for closed server")
	}
}

func TestNewHTTPSink_Invalid(t *testing.T) {
	for _, ep := range []string{"", "motor", "http://"} {
		if _, err := NewHTTPSink(ep, 0); err == nil {
			t.Errorf("NewHTTPSink(%q): expected error", ep)
		}
	}
}

// ---------- Dispatcher ----------

type fakeSink struct {
	mu      sync.Mutex
	cmds    []control.Command
	err     error
	block   chan struct{}
	started chan struct{}
	closed  bool
}

func (f *fakeSink) Send(ctx context.Context, cmd control.Command) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestDispatcher_SendsAndCounts(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, 0, 0)
	for i := 0; i < 5; i++ {
		if !d.Dispatch(context.Background(), control.Command{Angle: i}) {
			t.Fatalf("dispatch %d dropped with unbounded guard", i)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if st := d.Stats(); st.Sent != 5 || st.Failed != 0 || st.Dropped != 0 {
		t.Errorf("stats = %+v, want 5 sent", st)
	}
	if len(sink.cmds) != 5 || !sink.closed {
		t.Errorf("sink got %d cmds, closed=%v", len(sink.cmds), sink.closed)
	}
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	d := NewDispatcher(&fakeSink{err: errors.New("unreachable")}, 0, 0)
	d.Dispatch(context.Background(), control.Command{})
	d.Dispatch(context.Background(), control.Command{})
	_ = d.Close()
	if st := d.Stats(); st.Failed != 2 || st.Sent != 0 {
		t.Errorf("stats = %+v, want 2 failed", st)
	}
}

func TestDispatcher_InFlightGuardDrops(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{}), started: make(chan struct{}, 4)}
	d := NewDispatcher(sink, 2, 0)
	if d.InFlightLimit() != 2 {
		t.Fatalf("InFlightLimit = %d, want 2", d.InFlightLimit())
	}

	start := time.Now()
	d.Dispatch(context.Background(), control.Command{Angle: 1})
	d.Dispatch(context.Background(), control.Command{Angle: 2})
	<-sink.started
	<-sink.started
	if d.Dispatch(context.Background(), control.Command{Angle: 3}) {
		t.Error("third dispatch should be dropped while two are in flight")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Dispatch must not block the caller")
	}

	close(sink.block)
	_ = d.Close()
	if st := d.Stats(); st.Sent != 2 || st.Dropped != 1 {
		t.Errorf("stats = %+v, want 2 sent 1 dropped", st)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 0, 10*time.Millisecond)
	d.Dispatch(context.Background(), control.Command{})
	_ = d.Close()
	if st := d.Stats(); st.Failed != 1 {
		t.Errorf("stats = %+v, want timed out send counted as failed", st)
	}
}

func TestDispatcher_OverHTTP(t *testing.T) {
	hits := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.RawQuery
	}))
	defer srv.Close()

	sink, _ := NewHTTPSink(srv.URL+"/motor", time.Second)
	d := NewDispatcher(sink, 4, time.Second)
	d.Dispatch(context.Background(), control.Command{Angle: 120, Speed: 10})

	select {
	case q := <-hits:
		if q != "angle=120&speed=10" {
			t.Errorf("query = %q", q)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suitcase endpoint not hit")
	}
	_ = d.Close()
}
