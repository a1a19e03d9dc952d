package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/events"
)

// Reconfigure follows a device configuration change. Rendering is suspended
// while I/O ports are resized, connections made illegal by the resize are
// removed and every node is prepared again. Nodes that fail to prepare render
// silence; the first such failure is returned and reported as a
// ReconfigureFailed event.
func (c *Controller) Reconfigure(ctx context.Context, cfg device.Config) error {
	logger := ctxlog.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	logger.Info("Reconfigure started.", "from", c.cfg.String(), "to", cfg.String())

	if err := c.eng.Suspend(ctx); err != nil {
		c.bus.Publish(events.Event{Kind: events.ReconfigureFailed, Device: &cfg, Err: err.Error()})
		return fmt.Errorf("reconfigure: %w", err)
	}
	defer c.eng.Resume()

	if err := c.eng.Configure(cfg); err != nil {
		c.bus.Publish(events.Event{Kind: events.ReconfigureFailed, Device: &cfg, Err: err.Error()})
		return fmt.Errorf("reconfigure: %w", err)
	}
	c.cfg = cfg

	nodes := c.g.Nodes()
	for _, n := range nodes {
		if n.ResizePorts(cfg) {
			if dn, ok := c.doc.Node(n.ID()); ok {
				dn.Ports = n.Ports()
			}
			logger.Debug("Node ports resized.", "node", n.ID(), "ports", len(n.Ports()))
		}
	}
	for _, conn := range c.g.RemoveIllegalConnections() {
		c.doc.RemoveArc(arcOf(conn))
		logger.Info("Removed connection made illegal by the new device layout.", "connection", conn.String())
	}

	prepErr := c.prepareAll(ctx, nodes)
	p := c.publish()

	if prepErr != nil {
		c.bus.Publish(events.Event{Kind: events.ReconfigureFailed, Generation: p.Generation(), Device: &cfg, Err: prepErr.Error()})
		logger.Warn("Reconfigure finished with failures.", "error", prepErr, "duration", time.Since(start))
		return fmt.Errorf("reconfigure: %w", prepErr)
	}
	c.bus.Publish(events.Event{Kind: events.DeviceChanged, Generation: p.Generation(), Device: &cfg})
	logger.Info("Reconfigure finished.", "nodes", len(nodes), "generation", p.Generation(), "duration", time.Since(start))
	return nil
}
