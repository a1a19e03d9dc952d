package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/specialistvlad/audiogrid/internal/controller"
	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/engine"
	"github.com/specialistvlad/audiogrid/internal/graph"
	"github.com/specialistvlad/audiogrid/internal/snapshotstore"
)

// Status is the body served by /stats.
type Status struct {
	Device      string                `json:"device"`
	Engine      engine.Stats          `json:"engine"`
	Order       []uint32              `json:"order"`
	Nodes       []controller.NodeInfo `json:"nodes"`
	Connections []graph.Connection    `json:"connections"`
	// Snapshots lists the saved last graphs, newest first.
	Snapshots []snapshotstore.Snapshot `json:"snapshots,omitempty"`
}

// Status reports the engine counters, the current graph and the saved
// snapshots.
func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Device:      a.controller.Config().String(),
		Engine:      a.engine.Stats(),
		Order:       a.controller.Order(),
		Nodes:       a.controller.Nodes(),
		Connections: a.controller.Connections(),
	}
	if a.store != nil {
		snaps, err := a.store.List(ctx, a.config.SnapshotName)
		if err != nil {
			a.logger.Warn("Failed to list snapshots.", "error", err)
		}
		st.Snapshots = snaps
	}
	return st
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Stats endpoint hit.", "remote_addr", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Status(r.Context())); err != nil {
		logger.Warn("Failed to write stats response.", "error", err)
	}
}

// newMux routes the health endpoints.
func (a *App) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.healthHandler)
	mux.HandleFunc("GET /stats", a.statsHandler)
	return mux
}

// healthCheckServer initializes and runs the health check HTTP server.
func (a *App) healthCheckServer() {
	logger := ctxlog.FromContext(a.ctx)
	if a.config.HealthcheckPort <= 0 {
		logger.Debug("Health check server not started: disabled.")
		return
	}

	addr := fmt.Sprintf(":%d", a.config.HealthcheckPort)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Health check server starting.", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly.", "error", err)
		}
	}()
}

func (a *App) closeHealthCheckServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger.Info("Shutting down health check server.")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Health check server shutdown failed.", "error", err)
		return err
	}
	return nil
}
