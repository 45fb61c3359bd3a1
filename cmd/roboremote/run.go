package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/roboremote/internal/config"
	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/dispatch"
	"github.com/cjeanneret/roboremote/internal/hw/gpio"
	"github.com/cjeanneret/roboremote/internal/hw/imu"
	"github.com/cjeanneret/roboremote/internal/hw/knob"
	"github.com/cjeanneret/roboremote/internal/keepalive"
	"github.com/cjeanneret/roboremote/internal/session"
	"github.com/cjeanneret/roboremote/internal/telemetry"
	"github.com/cjeanneret/roboremote/internal/web"
)

// newGPIODriver is replaced in tests.
var newGPIODriver = gpio.NewDriver

func newRunCmd(gf *globalFlags) *cobra.Command {
	webPort := &webPortFlag{defaultPort: 8080}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, gf, webPort)
		},
	}
	addWebFlag(cmd.Flags(), webPort)
	return cmd
}

func runRemote(cmd *cobra.Command, gf *globalFlags, webPort *webPortFlag) error {
	cfg, err := loadConfig(cmd, gf)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", gf.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Suitcase config", cfg.Suitcase)
	debug.PrintStruct("Control config", cfg.Control)

	var logs *web.LogStream
	if webPort.port() > 0 {
		// mirror debug output before anything else logs
		logs = web.NewLogStream()
		debug.SetOutput(io.MultiWriter(os.Stdout, logs))
	}

	debug.Step(1, "Opening suitcase transport")
	sink, err := newSink(ctx, cfg)
	if err != nil {
		return err
	}
	disp := dispatch.NewDispatcher(sink, cfg.Suitcase.MaxInFlight, cfg.RequestTimeout())
	defer func() {
		if err := disp.Close(); err != nil {
			debug.Error(fmt.Errorf("close transport: %w", err))
		}
	}()

	debug.Step(2, "Opening tilt source")
	src, srcCloser, err := newTiltSource(cfg)
	if err != nil {
		return err
	}
	if srcCloser != nil {
		defer srcCloser.Close()
	}

	feed := &telemetry.Feed{}
	loop := session.New(disp, feed, cfg.TickPeriod(), cfg.TickTolerance())
	lease := keepalive.New(cfg.KeepAlive())
	lease.OnExpire(func() {
		debug.Live("No dashboard heartbeat; display may sleep, control continues")
	})

	// Hardware and the web server are opened before any goroutine starts, so
	// an init error returns with nothing left running.
	var panel *knob.Panel
	if cfg.Knob.Enabled {
		debug.Step(3, "Initializing knob panel")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		drv, err := newGPIODriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		defer func() {
			if err := drv.Close(); err != nil {
				debug.Error(fmt.Errorf("close GPIO: %w", err))
			}
		}()
		if panel, err = knob.NewPanel(drv, cfg.Knob); err != nil {
			return fmt.Errorf("init knob: %w", err)
		}
	}

	var srv *web.Server
	if port := webPort.port(); port > 0 {
		srv, err = web.NewServer(fmt.Sprintf(":%d", port), loop, lease, logs, web.ConfigView{
			Endpoint:       endpointOf(cfg),
			Transport:      cfg.Suitcase.Transport,
			TickMs:         cfg.Control.TickMs,
			KeepAliveSec:   cfg.Session.KeepAliveSec,
			DeltaPerDetent: cfg.Knob.DeltaPerDetent,
		})
		if err != nil {
			return fmt.Errorf("init web server: %w", err)
		}
		srv.SetCounters(func() web.Counters {
			ds, ls := disp.Stats(), loop.Stats()
			return web.Counters{Sent: ds.Sent, Failed: ds.Failed, Dropped: ds.Dropped, Ticks: ls.Ticks, Late: ls.Late}
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		loop.PumpTilt(gctx, src, cfg.SamplePeriod())
		return nil
	})
	g.Go(func() error {
		lease.Run(gctx)
		return nil
	})
	g.Go(func() error {
		telemetry.NewTickMeter(cfg.MeterInterval()).Run(gctx, feed)
		return nil
	})
	if cfg.Telemetry.InfluxURL != "" {
		exporter := telemetry.NewInfluxExporter(cfg.Telemetry)
		g.Go(func() error {
			exporter.Run(gctx, feed)
			return nil
		})
	}
	if panel != nil {
		g.Go(func() error {
			panel.Follow(gctx, feed)
			return nil
		})
		g.Go(func() error {
			err := panel.Run(gctx, loop, knob.DefaultPollInterval)
			if errors.Is(err, session.ErrStopped) {
				return nil
			}
			return err
		})
	}
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx, feed) })
	}

	debug.Summary(fmt.Sprintf("Sending to %s every %s", endpointOf(cfg), cfg.TickPeriod()))
	err = g.Wait()

	st := disp.Stats()
	debug.Info("Commands sent=%d failed=%d dropped=%d", st.Sent, st.Failed, st.Dropped)
	return err
}

func newSink(ctx context.Context, cfg *config.Config) (dispatch.Sink, error) {
	switch cfg.Suitcase.Transport {
	case config.TransportCAN:
		sink, err := dispatch.DialCAN(ctx, cfg.Suitcase.CANInterface, cfg.Suitcase.CANFrameID)
		if err != nil {
			return nil, fmt.Errorf("open CAN transport: %w", err)
		}
		return sink, nil
	default:
		sink, err := dispatch.NewHTTPSink(cfg.Endpoint(), cfg.RequestTimeout())
		if err != nil {
			return nil, fmt.Errorf("open HTTP transport: %w", err)
		}
		return sink, nil
	}
}

func newTiltSource(cfg *config.Config) (imu.Source, io.Closer, error) {
	switch cfg.Tilt.Source {
	case config.TiltMPU6050:
		sensor, bus, err := imu.OpenMPU6050(cfg.Tilt.I2CBus, cfg.Tilt.I2CAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("open MPU-6050: %w", err)
		}
		return sensor, bus, nil
	default:
		debug.Info("Using mock tilt source")
		return imu.NewMock(), nil, nil
	}
}

func endpointOf(cfg *config.Config) string {
	if cfg.Suitcase.Transport == config.TransportCAN {
		return fmt.Sprintf("can://%s/%#x", cfg.Suitcase.CANInterface, cfg.Suitcase.CANFrameID)
	}
	return cfg.Endpoint()
}
