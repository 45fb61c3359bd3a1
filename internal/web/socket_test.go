package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/roboremote/internal/logic/control"
	"github.com/cjeanneret/roboremote/internal/telemetry"
)

func TestHub_HandleMessages(t *testing.T) {
	ctrl := &fakeController{}
	lease := &fakeLease{}
	h := NewHub(ctrl, lease)
	ctx := context.Background()

	cases := []struct {
		name    string
		msg     string
		wantErr bool
	}{
		{"toggle", `{"type":"toggle"}`, false},
		{"rotate", `{"type":"rotate","delta":0.25}`, false},
		{"reset", `{"type":"reset_tilt"}`, false},
		{"heartbeat", `{"type":"heartbeat"}`, false},
		{"invalid_json", `{"type":`, true},
		{"unknown", `{"type":"dance"}`, true},
		{"rotate_string_delta", `{"type":"rotate","delta":"lots"}`, true},
		{"rotate_missing_delta", `{"type":"rotate"}`, true},
		{"rotate_out_of_range", `{"type":"rotate","delta":3}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.handle(ctx, []byte(tc.msg))
			if (err != nil) != tc.wantErr {
				t.Errorf("handle(%s) = %v, wantErr %v", tc.msg, err, tc.wantErr)
			}
		})
	}

	snap, _ := ctrl.Snapshot(ctx)
	if !snap.Enabled || snap.TargetPower != 50 {
		t.Errorf("state = %+v, want enabled with target 50", snap)
	}
	if ctrl.resets != 1 {
		t.Errorf("resets = %d, want 1", ctrl.resets)
	}
	if acquired, _ := lease.counts(); acquired != 1 {
		t.Errorf("heartbeat acquisitions = %d, want 1", acquired)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, want string) map[string]json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if string(msg["type"]) == `"`+want+`"` {
			return msg
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_WebSocketSession(t *testing.T) {
	ctrl := &fakeController{}
	lease := &fakeLease{}
	s := newTestServer(ctrl, lease)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	var feed telemetry.Feed
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx, &feed)

	c1 := dial(t, srv)
	defer c1.Close()
	readType(t, c1, MsgState)
	c2 := dial(t, srv)
	readType(t, c2, MsgState)

	waitUntil(t, "two viewers", func() bool { return s.hub.Viewers() == 2 })
	if acquired, _ := lease.counts(); acquired != 1 {
		t.Errorf("lease acquired %d times, want once for the first viewer", acquired)
	}

	// input over the socket reaches the controller
	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"toggle"}`)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "toggle", func() bool {
		snap, _ := ctrl.Snapshot(context.Background())
		return snap.Enabled
	})

	// bad input is answered with an error message
	c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`))
	readType(t, c1, MsgError)

	// frames published on the feed reach viewers
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				feed.Publish(telemetry.Frame{Seq: 9, Command: control.Command{Angle: 80, Speed: 4}})
			}
		}
	}()
	msg := readType(t, c1, MsgFrame)
	close(stop)
	var cmd control.Command
	json.Unmarshal(msg["command"], &cmd)
	if string(msg["seq"]) != "9" || cmd.Angle != 80 {
		t.Errorf("frame = seq %s command %+v", msg["seq"], cmd)
	}

	// the lease is released only when the last viewer leaves
	c2.Close()
	waitUntil(t, "one viewer", func() bool { return s.hub.Viewers() == 1 })
	if _, released := lease.counts(); released != 0 {
		t.Error("lease released while a viewer is still connected")
	}
	c1.Close()
	waitUntil(t, "no viewers", func() bool { return s.hub.Viewers() == 0 })
	if _, released := lease.counts(); released != 1 {
		t.Errorf("lease released %d times, want 1", released)
	}
}
