package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/olahol/melody"
	"github.com/tidwall/gjson"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/logic/control"
	"github.com/cjeanneret/roboremote/internal/telemetry"
)

// Message types exchanged over the dashboard websocket.
const (
	MsgRotate    = "rotate"
	MsgToggle    = "toggle"
	MsgResetTilt = "reset_tilt"
	MsgHeartbeat = "heartbeat"

	MsgFrame = "frame"
	MsgState = "state"
	MsgError = "error"
)

// frameMessage is one tick pushed to the dashboard.
type frameMessage struct {
	Type string `json:"type"`
	telemetry.Frame
}

type stateMessage struct {
	Type  string           `json:"type"`
	State control.Snapshot `json:"state"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Hub serves the feedback websocket: frames go out, knob-like input comes in.
// The first viewer acquires the keep-alive lease and the last one releases it.
type Hub struct {
	m       *melody.Melody
	ctrl    Controller
	lease   Lease // may be nil
	viewers atomic.Int64
}

func NewHub(ctrl Controller, lease Lease) *Hub {
	h := &Hub{m: melody.New(), ctrl: ctrl, lease: lease}

	h.m.HandleConnect(func(s *melody.Session) {
		n := h.viewers.Add(1)
		debug.Live("[websocket] connected %s (%d viewers)", s.Request.RemoteAddr, n)
		if n == 1 && h.lease != nil {
			h.lease.Acquire()
		}
		// send the current state right away so the view is not blank until the next tick
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if snap, err := h.ctrl.Snapshot(ctx); err == nil {
			b, _ := json.Marshal(stateMessage{Type: MsgState, State: snap})
			s.Write(b)
		}
	})

	h.m.HandleDisconnect(func(s *melody.Session) {
		n := h.viewers.Add(-1)
		debug.Live("[websocket] disconnected %s (%d viewers)", s.Request.RemoteAddr, n)
		if n == 0 && h.lease != nil {
			h.lease.Release()
		}
	})

	h.m.HandleError(func(s *melody.Session, err error) {
		debug.Trace("[websocket] error %v %s", err, s.Request.RemoteAddr)
	})

	h.m.HandleMessage(func(s *melody.Session, msg []byte) {
		if err := h.handle(s.Request.Context(), msg); err != nil {
			b, _ := json.Marshal(errorMessage{Type: MsgError, Error: err.Error()})
			s.Write(b)
		}
	})
	return h
}

// handle applies one client message.
func (h *Hub) handle(ctx context.Context, msg []byte) error {
	if !gjson.ValidBytes(msg) {
		return fmt.Errorf("invalid JSON")
	}
	switch typ := gjson.GetBytes(msg, "type").String(); typ {
	case MsgRotate:
		delta := gjson.GetBytes(msg, "delta")
		if delta.Type != gjson.Number {
			return fmt.Errorf("rotate: delta must be a number")
		}
		if err := ValidateDelta(delta.Float()); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		return h.ctrl.Rotate(ctx, delta.Float())
	case MsgToggle:
		_, err := h.ctrl.Toggle(ctx)
		return err
	case MsgResetTilt:
		return h.ctrl.ResetTilt(ctx)
	case MsgHeartbeat:
		if h.lease != nil {
			h.lease.Acquire()
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %q", typ)
	}
}

// Viewers returns the number of connected dashboards.
func (h *Hub) Viewers() int {
	return int(h.viewers.Load())
}

// ServeHTTP upgrades the request to a websocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.m.HandleRequest(w, r); err != nil {
		debug.Trace("[websocket] upgrade failed: %v", err)
	}
}

// Broadcast pushes one frame to every viewer.
func (h *Hub) Broadcast(fr telemetry.Frame) {
	if h.m.Len() == 0 {
		return
	}
	b, err := json.Marshal(frameMessage{Type: MsgFrame, Frame: fr})
	if err != nil {
		debug.Error(fmt.Errorf("marshal frame: %w", err))
		return
	}
	if err := h.m.Broadcast(b); err != nil {
		debug.Trace("[websocket] broadcast failed: %v", err)
	}
}

// Run broadcasts frames from feed until ctx is done, then closes all sessions.
func (h *Hub) Run(ctx context.Context, feed *telemetry.Feed) {
	feed.Watch(ctx, h.Broadcast)
	<-ctx.Done()
	h.m.Close()
}
