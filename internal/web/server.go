// Package web serves the remote's dashboard: control endpoints, a live
// feedback websocket and the debug log as a server-sent event stream.
package web

import (
	"context"
	"embed"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/telemetry"
)

// staticFiles holds the dashboard page and its assets.
//
//go:embed static/*
var staticFiles embed.FS

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	hub      *Hub
}

// NewServer creates a server for addr. lease may be nil.
func NewServer(addr string, ctrl Controller, lease Lease, logs *LogStream, cfg ConfigView) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return newServer(addr, ctrl, lease, logs, cfg, subFS), nil
}

func newServer(addr string, ctrl Controller, lease Lease, logs *LogStream, cfg ConfigView, staticFS fs.FS) *Server {
	h := NewHandlers(ctrl, logs, cfg, staticFS)
	h.Lease = lease
	hub := NewHub(ctrl, lease)
	h.viewers = hub.Viewers
	return &Server{addr: addr, handlers: h, hub: hub}
}

// SetCounters installs the source of the /state counters.
func (s *Server) SetCounters(fn func() Counters) {
	s.handlers.Counters = fn
}

// requestLog sends access log lines to the verbose debug level.
type requestLog struct{}

func (requestLog) Write(p []byte) (int, error) {
	debug.Verbose("%s", strings.TrimSpace(string(p)))
	return len(p), nil
}

// Router returns an http.Handler with all routes and middleware registered.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter().StrictSlash(false)

	router.Path("/").HandlerFunc(s.handlers.ServeIndex).Methods(http.MethodGet)
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	router.Path("/ws").Handler(s.hub)
	router.Path("/status/stream").HandlerFunc(s.handlers.HandleStatusStream).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Path("/config").HandlerFunc(s.handlers.HandleConfig).Methods(http.MethodGet)
	api.Path("/state").HandlerFunc(s.handlers.HandleState).Methods(http.MethodGet)

	ctl := api.PathPrefix("/control").Subrouter()
	ctl.Path("/toggle").HandlerFunc(s.handlers.HandleToggle).Methods(http.MethodPost)
	ctl.Path("/reset-tilt").HandlerFunc(s.handlers.HandleResetTilt).Methods(http.MethodPost)
	ctl.Path("/rotate").HandlerFunc(s.handlers.HandleRotate).Methods(http.MethodPost)

	var h http.Handler = router
	h = ghandlers.CORS(
		ghandlers.AllowedOrigins([]string{"*"}),
		ghandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		ghandlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = ghandlers.RecoveryHandler(ghandlers.PrintRecoveryStack(debug.IsEnabled(debug.LevelTrace)))(h)
	return ghandlers.CombinedLoggingHandler(requestLog{}, h)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
// Frames from feed are pushed to websocket viewers while it runs.
func (s *Server) Run(ctx context.Context, feed *telemetry.Feed) error {
	if feed != nil {
		go s.hub.Run(ctx, feed)
	}

	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Dashboard listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
