package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/logic/control"
	"github.com/cjeanneret/roboremote/internal/logic/ramp"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 1 << 10

// Controller is the control session driven by the dashboard.
type Controller interface {
	Rotate(ctx context.Context, delta float64) error
	Toggle(ctx context.Context) (bool, error)
	ResetTilt(ctx context.Context) error
	Snapshot(ctx context.Context) (control.Snapshot, error)
}

// Lease keeps the remote awake while a dashboard is attached.
type Lease interface {
	Acquire()
	Release()
	StayOnScreen() bool
}

// Counters are the transport and timer counters shown on /state.
type Counters struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Ticks   uint64 `json:"ticks"`
	Late    uint64 `json:"late"`
}

// ConfigView holds the settings the dashboard needs (from config).
type ConfigView struct {
	Endpoint       string  `json:"endpoint"`
	Transport      string  `json:"transport"`
	TickMs         int     `json:"tick_ms"`
	KeepAliveSec   int     `json:"keepalive_s"`
	DeltaPerDetent float64 `json:"delta_per_detent"`
}

// StateView is the /state response.
type StateView struct {
	control.Snapshot
	StayOnScreen bool      `json:"stay_on_screen"`
	Viewers      int       `json:"viewers"`
	Counters     *Counters `json:"counters,omitempty"`
}

// RotateRequest is the POST /control/rotate body.
type RotateRequest struct {
	Delta float64 `json:"delta"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Controller Controller
	Logs       *LogStream
	Config     ConfigView
	Lease      Lease           // may be nil
	Counters   func() Counters // may be nil
	viewers    func() int
	staticFS   fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(ctrl Controller, logs *LogStream, cfg ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Controller: ctrl,
		Logs:       logs,
		Config:     cfg,
		staticFS:   staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// controlError maps a controller error to an HTTP status.
func controlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "control loop busy", http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

// HandleConfig returns the dashboard settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ServeIndex serves the dashboard page.
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns a snapshot of the control state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	snap, err := h.Controller.Snapshot(ctx)
	if err != nil {
		controlError(w, err)
		return
	}
	view := StateView{Snapshot: snap}
	if h.Lease != nil {
		view.StayOnScreen = h.Lease.StayOnScreen()
	}
	if h.viewers != nil {
		view.Viewers = h.viewers()
	}
	if h.Counters != nil {
		c := h.Counters()
		view.Counters = &c
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleToggle flips the enable switch.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.Controller.Toggle(r.Context())
	if err != nil {
		controlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": enabled,
		"button":  control.ButtonFor(enabled),
	})
}

// HandleResetTilt re-anchors the tilt zero.
func (h *Handlers) HandleResetTilt(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.ResetTilt(r.Context()); err != nil {
		controlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleRotate applies a rotation delta like one knob movement.
func (h *Handlers) HandleRotate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateDelta(req.Delta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Controller.Rotate(r.Context(), req.Delta); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateDelta rejects rotation deltas that are not finite or that exceed
// a full-scale sweep in one event.
func ValidateDelta(delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return errors.New("delta must be a finite number")
	}
	if math.Abs(delta) > ramp.MaxPower/control.RotationGain {
		return errors.New("delta out of range")
	}
	return nil
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Logs.Subscribe()
	defer unsub()
	debug.Trace("status stream client connected from %s", r.RemoteAddr)

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
