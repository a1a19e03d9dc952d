package controller

import (
	"context"
	"time"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/events"
)

// Poll performs one round of housekeeping: it destroys retired nodes,
// follows device configuration changes and turns engine counters and node
// flags into events.
func (c *Controller) Poll(ctx context.Context) {
	c.eng.Collect()

	if c.dev != nil {
		if cfg := c.dev.Config(); cfg != c.Config() {
			if err := c.Reconfigure(ctx, cfg); err != nil {
				ctxlog.FromContext(ctx).Warn("Device change could not be applied cleanly.", "error", err)
			}
		}
	}

	st := c.eng.Stats()

	c.mu.Lock()
	defer c.mu.Unlock()

	if st.Overruns > c.overruns {
		c.bus.Publish(events.Event{
			Kind:       events.DeadlineMissed,
			Generation: st.Generation,
			Count:      st.Overruns - c.overruns,
			Overrun:    st.LastOverrun,
		})
		c.overruns = st.Overruns
	}

	for _, n := range c.g.Nodes() {
		id := n.ID()
		if f := n.Faulted(); f != c.faulted[id] {
			if f {
				c.bus.Publish(events.Event{Kind: events.NodeFault, Generation: st.Generation, Node: id, Err: "processor panicked during render"})
				ctxlog.FromContext(ctx).Error("Node faulted and was silenced.", "node", id, "type", n.Type())
			}
			c.faulted[id] = f
		}
		if n.TakeChanged() {
			c.bus.Publish(events.Event{Kind: events.NodeStateChanged, Generation: st.Generation, Node: id})
			if lines := n.DrainLog(); len(lines) > 0 {
				c.bus.Publish(events.Event{Kind: events.NodeLog, Generation: st.Generation, Node: id, Log: lines})
			}
		}
	}
}

// Run polls every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}
