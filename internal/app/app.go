package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/controller"
	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/engine"
	"github.com/specialistvlad/audiogrid/internal/events"
	"github.com/specialistvlad/audiogrid/internal/registry"
	"github.com/specialistvlad/audiogrid/internal/snapshotstore"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	ctx        context.Context
	config     *Config
	registry   *registry.Registry
	device     *device.Static
	engine     *engine.Engine
	controller *controller.Controller
	store      *snapshotstore.Store
	httpServer *http.Server
	clock      atomic.Pointer[device.Clock]
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own logger, registry, engine and graph
// controller. Invalid node kinds or an unusable snapshot database are
// startup errors and panic.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := reg.ValidateRegistry(ctx); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.", "types", reg.Types())

	var store *snapshotstore.Store
	if cfg.SnapshotPath != "" {
		var err error
		store, err = snapshotstore.Open(cfg.SnapshotPath)
		if err != nil {
			panic(fmt.Errorf("failed to open snapshot store: %w", err))
		}
		logger.Debug("Snapshot store opened.", "path", cfg.SnapshotPath)
	}

	dev := device.NewStatic(cfg.Device)
	eng := engine.New(cfg.Device)
	ctl := controller.New(controller.Options{
		Registry: reg,
		Engine:   eng,
		Bus:      events.NewBus(),
		Device:   dev,
	})
	logger.Debug("Engine created.", "device", cfg.Device.String())

	return &App{
		outW:       outW,
		logger:     logger,
		ctx:        ctx,
		config:     cfg,
		registry:   reg,
		device:     dev,
		engine:     eng,
		controller: ctl,
		store:      store,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Controller returns the graph controller.
func (a *App) Controller() *controller.Controller {
	return a.controller
}

// Device returns the device whose configuration the engine follows. Changing
// it triggers a reconfiguration on the next poll.
func (a *App) Device() *device.Static {
	return a.device
}
