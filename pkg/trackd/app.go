// Package trackd assembles the tracking daemon: a backend behind a
// subsystem, the frame loop that polls it and the web server that
// publishes its changes.
package trackd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-trackables/internal/config"
	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/internal/metrics"
	"github.com/teslashibe/go-trackables/pkg/camera"
	"github.com/teslashibe/go-trackables/pkg/camera/device"
	"github.com/teslashibe/go-trackables/pkg/frameloop"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
	"github.com/teslashibe/go-trackables/pkg/tracking"
	"github.com/teslashibe/go-trackables/pkg/tracking/detection"
	"github.com/teslashibe/go-trackables/pkg/tracking/sim"
	"github.com/teslashibe/go-trackables/pkg/web"
)

const shutdownTimeout = 5 * time.Second

// App is the tracking daemon
type App struct {
	config config.Config
	log    *slog.Logger

	loop   *frameloop.Loop
	server *web.Server

	// Destroyed on shutdown, in order
	subsystems []interface{ Destroy() error }

	scene   *sim.Scene[sim.Marker]
	capture *device.Capture
}

// New creates the daemon for a validated configuration
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &App{config: cfg, log: log.Component("trackd")}, nil
}

// Init builds the backend, loop and server. Call it before Run.
func (a *App) Init() error {
	metrics.Register()

	a.loop = frameloop.New(frameloop.Config{Interval: a.config.Interval, Strict: a.config.Strict})
	a.server = web.NewServer(web.Config{Addr: a.config.Addr, AccessLog: a.config.AccessLog}, a.loop)

	var err error
	switch a.config.Backend {
	case config.BackendSim:
		err = a.initSim()
	case config.BackendFace, config.BackendPerson:
		err = a.initCamera()
	default:
		err = fmt.Errorf("unknown backend %q", a.config.Backend)
	}
	if err != nil {
		a.Shutdown()
		return fmt.Errorf("init %s backend: %w", a.config.Backend, err)
	}

	a.log.Info("initialized",
		"backend", a.config.Backend,
		"allocator", a.config.Allocator,
		"interval", a.config.Interval,
		"when_stopped", a.config.StoppedPolicy,
		"strict", a.config.Strict)
	return nil
}

func (a *App) subsystemConfig() subsystem.Config {
	return subsystem.Config{StoppedPolicy: a.config.StoppedPolicy, Validate: a.config.ValidateChanges}
}

func (a *App) bindOptions() frameloop.BindOptions {
	return frameloop.BindOptions{ArenaSize: a.config.ArenaSize}
}

func (a *App) initSim() error {
	a.scene = sim.NewScene(sim.MarkerEqual)
	sub := subsystem.New(subsystem.Descriptor{ID: "markers", Kind: "sim"}, subsystem.Provider[sim.Marker](a.scene), a.subsystemConfig())
	a.subsystems = append(a.subsystems, sub)

	handler := web.EventHandler[sim.Marker](a.server.Changes())
	return a.loop.Add(frameloop.Bind(sub, a.config.Allocator, handler, a.bindOptions()))
}

func (a *App) initCamera() error {
	var det detection.Detector
	var err error
	if a.config.Backend == config.BackendFace {
		dcfg := detection.DefaultConfig()
		dcfg.ModelPath = a.config.FaceModel
		det, err = detection.NewYuNet(dcfg)
	} else {
		ycfg := detection.DefaultYOLOConfig()
		ycfg.ModelPath = a.config.ObjectModel
		var yolo *detection.YOLODetector
		yolo, err = detection.NewYOLO(ycfg)
		if err == nil {
			det = detection.NewClassDetector(yolo, "person")
		}
	}
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	a.capture, err = device.Open(a.config.Camera)
	if err != nil {
		det.Close()
		return err
	}
	mgr := camera.NewManager(a.config.Camera)
	mgr.OnConfigChange = a.capture.Apply
	a.server.Camera = mgr

	tcfg := trackingConfig(a.config.TrackingPreset)
	tcfg.Async = a.config.Async
	backend, err := tracking.New(tcfg, a.capture, det)
	if err != nil {
		det.Close()
		return err
	}

	id := a.config.Backend + "s"
	sub := subsystem.New(subsystem.Descriptor{ID: id, Kind: a.config.Backend}, subsystem.Provider[tracking.Entity](backend), a.subsystemConfig())
	a.subsystems = append(a.subsystems, sub)

	handler := web.EventHandler[tracking.Entity](a.server.Changes())
	return a.loop.Add(frameloop.Bind(sub, a.config.Allocator, handler, a.bindOptions()))
}

func trackingConfig(preset string) tracking.Config {
	switch preset {
	case config.PresetSlow:
		return tracking.SlowConfig()
	case config.PresetAggressive:
		return tracking.AggressiveConfig()
	default:
		return tracking.DefaultConfig()
	}
}

// Run starts the subsystems (when AutoStart is set), the frame loop and
// the web server. Blocks until ctx is cancelled or a component fails, and
// returns only after the frame loop has stopped polling.
func (a *App) Run(ctx context.Context) error {
	if a.config.AutoStart {
		for _, p := range a.loop.Pollers() {
			if err := p.Start(ctx); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if a.scene != nil {
		wcfg := sim.DefaultWanderConfig()
		wcfg.MaxMarkers = a.config.SimMarkers
		seed := uint64(time.Now().UnixNano())
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Wander(ctx, a.scene, wcfg, rand.New(rand.NewPCG(seed, seed>>1)))
		}()
	}

	errs := make(chan error, 2)
	go func() {
		if err := a.server.Start(ctx); err != nil {
			errs <- fmt.Errorf("web server: %w", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.loop.Run(ctx); err != nil {
			errs <- fmt.Errorf("frame loop: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

// Shutdown stops the server and destroys every subsystem
func (a *App) Shutdown() {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sub := range a.subsystems {
		if err := sub.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown", "error", err)
		return
	}
	a.log.Info("shutdown complete")
}
