package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/specialistvlad/audiogrid/internal/events"
	"github.com/specialistvlad/audiogrid/internal/fsutil"
	"github.com/specialistvlad/audiogrid/internal/remote"
	"github.com/specialistvlad/audiogrid/internal/snapshotstore"
	"golang.org/x/sync/errgroup"
)

// Run loads the graph, drives the engine from a simulated hardware clock and
// services the controller until ctx is cancelled or the configured run
// duration elapses. On the way out the graph is saved as the last graph and
// every node is destroyed.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	if err := a.loadGraph(ctx); err != nil {
		a.shutdown(context.WithoutCancel(ctx), false)
		return err
	}

	a.healthCheckServer()

	if a.config.RunFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.RunFor)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runClock(gctx) })
	g.Go(func() error { return a.controller.Run(gctx, a.config.PollInterval) })
	if a.config.RemoteURL != "" {
		g.Go(func() error { return a.runRemote(gctx) })
	}

	a.logger.Info("Audio engine running.", "device", a.device.Config().String(), "nodes", len(a.controller.Nodes()))
	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		a.logger.Error("Audio engine stopped unexpectedly.", "error", err)
	}

	stats := a.engine.Stats()
	a.logger.Info("Audio engine stopped.", "blocks", stats.Blocks, "overruns", stats.Overruns, "faults", stats.Faults)
	if serr := a.shutdown(context.WithoutCancel(ctx), true); err == nil {
		err = serr
	}
	a.logger.Debug("App.Run method finished.")
	return err
}

// runClock drives the engine from a simulated hardware clock. The clock is
// rebuilt whenever the controller moves to a new device configuration.
func (a *App) runClock(ctx context.Context) error {
	evs, unsubscribe := a.controller.Bus().Subscribe(16)
	defer unsubscribe()

	cfg := a.controller.Config()
	for {
		clock := device.NewClock(cfg, a.engine.Process, a.engine.ReportOverrun)
		a.clock.Store(clock)
		a.logger.Debug("Clock started.", "device", cfg.String(), "period", clock.Period())

		clockCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- clock.Run(clockCtx) }()

		next := cfg
		for next == cfg {
			select {
			case err := <-done:
				stop()
				return err
			case e, ok := <-evs:
				if !ok {
					evs = nil
					continue
				}
				if e.Kind == events.DeviceChanged || e.Kind == events.ReconfigureFailed {
					next = a.controller.Config()
				}
			}
		}
		stop()
		<-done
		cfg = next
	}
}

// loadGraph installs the configured document, or the last graph when no
// document is configured.
func (a *App) loadGraph(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if a.config.DocumentPath != "" {
		files, err := fsutil.FindDocuments(a.config.DocumentPath)
		if err != nil {
			return fmt.Errorf("failed to find graph documents: %w", err)
		}
		if len(files) == 0 {
			return fmt.Errorf("no graph document found in %s", a.config.DocumentPath)
		}
		if len(files) > 1 {
			logger.Warn("Several graph documents found, loading the first.", "files", files)
		}
		d, err := document.Load(files[0])
		if err != nil {
			return fmt.Errorf("failed to load graph: %w", err)
		}
		if err := a.controller.SetRoot(ctx, d); err != nil {
			return fmt.Errorf("failed to load graph %s: %w", files[0], err)
		}
		logger.Info("Graph loaded.", "file", files[0], "nodes", len(d.Nodes), "arcs", len(d.Arcs))
		return nil
	}

	if a.store == nil {
		logger.Info("Starting with an empty graph.")
		return nil
	}
	d, snap, err := a.store.Latest(ctx, a.config.SnapshotName)
	if errors.Is(err, snapshotstore.ErrNotFound) {
		logger.Info("No previous graph to restore, starting with an empty graph.")
		return nil
	}
	if err == nil {
		err = a.controller.SetRoot(ctx, d)
	}
	if err != nil {
		logger.Warn("Last graph could not be restored, starting with an empty graph.", "error", err)
		return nil
	}
	logger.Info("Last graph restored.", "snapshot", snap.ID, "saved_at", snap.CreatedAt, "nodes", len(d.Nodes))
	return nil
}

func (a *App) runRemote(ctx context.Context) error {
	conn, err := remote.Dial(ctx, remote.Options{
		URL:                a.config.RemoteURL,
		Namespace:          a.config.RemoteNamespace,
		InsecureSkipVerify: a.config.RemoteInsecure,
	})
	if err != nil {
		// The editor is optional; audio keeps running without it.
		ctxlog.FromContext(ctx).Warn("Remote editor unavailable.", "error", err)
		return nil
	}
	defer conn.Disconnect()
	return remote.NewBridge(conn, a.controller).Run(ctx, a.controller.Bus())
}

// saveGraph writes the current graph to the configured document file, stores
// it as the last graph and prunes older snapshots.
func (a *App) saveGraph(ctx context.Context) error {
	if a.store == nil && a.config.SaveDocument == "" {
		return nil
	}
	d, err := a.controller.Document(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture graph: %w", err)
	}
	if a.config.SaveDocument != "" {
		if err := document.Save(a.config.SaveDocument, d); err != nil {
			return fmt.Errorf("failed to write graph document: %w", err)
		}
		ctxlog.FromContext(ctx).Info("Graph document written.", "file", a.config.SaveDocument, "nodes", len(d.Nodes))
	}
	if a.store == nil {
		return nil
	}
	if _, _, err := a.store.Save(ctx, a.config.SnapshotName, d); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	if a.config.SnapshotKeep > 0 {
		if _, err := a.store.Prune(ctx, a.config.SnapshotName, a.config.SnapshotKeep); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) shutdown(ctx context.Context, save bool) error {
	var errs []error
	if save {
		errs = append(errs, a.saveGraph(ctx))
	}
	errs = append(errs, a.closeHealthCheckServer(ctx))
	errs = append(errs, a.controller.Close(ctx))
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
