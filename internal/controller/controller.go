// Package controller owns the authoritative processing graph. Every mutation
// is validated, applied to the graph and its document mirror, and made
// visible to the real-time goroutine by publishing a freshly compiled plan.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/specialistvlad/audiogrid/internal/engine"
	"github.com/specialistvlad/audiogrid/internal/events"
	"github.com/specialistvlad/audiogrid/internal/graph"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrNodeNotFound is returned for operations on unknown node ids.
	ErrNodeNotFound = graph.ErrNodeNotFound
	// ErrRootTypeMismatch is returned when installing a document whose root
	// is not a graph.
	ErrRootTypeMismatch = document.ErrRootTypeMismatch
	// ErrInvalidGraphDocument is returned when a document cannot be turned
	// into a graph with the node and connection counts it declares.
	ErrInvalidGraphDocument = errors.New("invalid graph document")
)

// Options configures a Controller.
type Options struct {
	Registry *registry.Registry
	Engine   *engine.Engine
	Bus      *events.Bus
	Device   device.Device
	// Name is the name of the initial, empty graph document.
	Name string
}

// Controller serializes graph mutations coming from control goroutines.
type Controller struct {
	mu  sync.Mutex
	reg *registry.Registry
	eng *engine.Engine
	bus *events.Bus
	dev device.Device

	g   *graph.Graph
	doc *document.Document
	cfg device.Config

	// last reported engine and node fault state
	overruns uint64
	faulted  map[uint32]bool
}

// New creates a controller managing an empty graph. The engine must have
// been created for the device's current configuration.
func New(opts Options) *Controller {
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Name == "" {
		opts.Name = "Graph"
	}
	return &Controller{
		reg:     opts.Registry,
		eng:     opts.Engine,
		bus:     opts.Bus,
		dev:     opts.Device,
		g:       graph.New(),
		doc:     document.New(opts.Name),
		cfg:     opts.Engine.Config(),
		faulted: make(map[uint32]bool),
	}
}

// Bus returns the event bus the controller publishes on.
func (c *Controller) Bus() *events.Bus { return c.bus }

// Config returns the device configuration nodes are prepared for.
func (c *Controller) Config() device.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// publish compiles and installs a new plan. Callers hold c.mu.
func (c *Controller) publish() *engine.Plan {
	p := c.eng.Publish(c.g)
	c.bus.Publish(events.Event{Kind: events.TopologyChanged, Generation: p.Generation()})
	return p
}

// retire hands nodes that are no longer in the published plan to the engine
// for deferred destruction. Callers hold c.mu.
func (c *Controller) retire(nodes ...*node.Node) {
	for _, n := range nodes {
		delete(c.faulted, n.ID())
		c.eng.Retire(n.Destroy)
	}
	c.eng.Collect()
}

// prepare readies a node for the current configuration. A node that fails to
// prepare stays in the graph and renders silence.
func (c *Controller) prepare(ctx context.Context, n *node.Node) error {
	n.ResizePorts(c.cfg)
	if err := n.Prepare(c.cfg.SampleRate, c.cfg.BufferSize); err != nil {
		ctxlog.FromContext(ctx).Warn("Node failed to prepare, it will render silence.", "node", n.ID(), "type", n.Type(), "error", err)
		c.bus.Publish(events.Event{Kind: events.NodeFault, Node: n.ID(), Err: err.Error()})
		return err
	}
	return nil
}

func mirrorNode(n *node.Node) document.Node {
	return document.Node{
		ID:       n.ID(),
		Type:     n.Type(),
		Name:     n.Name(),
		Enabled:  n.Enabled(),
		Bypassed: n.Bypassed(),
		Params:   n.Params(),
		Ports:    n.Ports(),
	}
}

func arcOf(conn graph.Connection) document.Arc {
	return document.Arc(conn)
}

// AddNode creates a node of the given kind, prepares it and publishes a plan
// that includes it.
func (c *Controller) AddNode(ctx context.Context, typeID string, params cty.Value) (uint32, error) {
	logger := ctxlog.FromContext(ctx)
	n, err := c.reg.Create(typeID, params)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.g.AddNode(n)
	_ = c.prepare(ctx, n)
	c.doc.AddNode(mirrorNode(n))
	p := c.publish()
	logger.Debug("Node added.", "node", id, "type", typeID, "generation", p.Generation())
	return id, nil
}

// RemoveNode removes a node and its connections. The node is destroyed once
// the real-time goroutine can no longer be rendering it.
func (c *Controller) RemoveNode(ctx context.Context, id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, severed, err := c.g.RemoveNode(id)
	if err != nil {
		return err
	}
	c.doc.RemoveNode(id)
	p := c.publish()
	c.retire(n)
	ctxlog.FromContext(ctx).Debug("Node removed.", "node", id, "connections", len(severed), "generation", p.Generation())
	return nil
}

// Connect adds a connection between two ports.
func (c *Controller) Connect(ctx context.Context, conn graph.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.g.Connect(conn); err != nil {
		return err
	}
	c.doc.AddArc(arcOf(conn))
	p := c.publish()
	ctxlog.FromContext(ctx).Debug("Connected.", "connection", conn.String(), "generation", p.Generation())
	return nil
}

// ConnectChannels connects two nodes by channel number instead of port index.
func (c *Controller) ConnectChannels(ctx context.Context, t port.Type, src uint32, srcChannel int, dst uint32, dstChannel int) (graph.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.g.ConnectChannels(src, srcChannel, dst, dstChannel, t)
	if err != nil {
		return graph.Connection{}, err
	}
	c.doc.AddArc(arcOf(conn))
	p := c.publish()
	ctxlog.FromContext(ctx).Debug("Connected channels.", "connection", conn.String(), "type", t.String(), "generation", p.Generation())
	return conn, nil
}

// Disconnect removes a connection.
func (c *Controller) Disconnect(ctx context.Context, conn graph.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.g.Disconnect(conn); err != nil {
		return err
	}
	c.doc.RemoveArc(arcOf(conn))
	p := c.publish()
	ctxlog.FromContext(ctx).Debug("Disconnected.", "connection", conn.String(), "generation", p.Generation())
	return nil
}

// Clear removes every node.
func (c *Controller) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.g.Clear()
	c.doc.Clear()
	c.publish()
	c.retire(removed...)
	ctxlog.FromContext(ctx).Info("Graph cleared.", "nodes", len(removed))
}

// SetEnabled turns rendering of a node on or off.
func (c *Controller) SetEnabled(ctx context.Context, id uint32, enabled bool) error {
	return c.updateNode(ctx, id, func(n *node.Node, dn *document.Node) error {
		n.SetEnabled(enabled)
		dn.Enabled = enabled
		return nil
	})
}

// SetBypassed turns bypass of a node on or off.
func (c *Controller) SetBypassed(ctx context.Context, id uint32, bypassed bool) error {
	return c.updateNode(ctx, id, func(n *node.Node, dn *document.Node) error {
		n.SetBypassed(bypassed)
		dn.Bypassed = bypassed
		return nil
	})
}

// SetName renames a node.
func (c *Controller) SetName(ctx context.Context, id uint32, name string) error {
	return c.updateNode(ctx, id, func(n *node.Node, dn *document.Node) error {
		n.SetName(name)
		dn.Name = name
		return nil
	})
}

// SetNodeState restores a processor's opaque state. Rendering is suspended
// for the duration of the call.
func (c *Controller) SetNodeState(ctx context.Context, id uint32, state []byte) error {
	return c.updateNode(ctx, id, func(n *node.Node, _ *document.Node) error {
		if err := c.eng.Suspend(ctx); err != nil {
			return err
		}
		defer c.eng.Resume()
		return n.SetState(state)
	})
}

func (c *Controller) updateNode(ctx context.Context, id uint32, fn func(*node.Node, *document.Node) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.g.Node(id)
	if !ok {
		return &graph.Error{Kind: ErrNodeNotFound, Msg: fmt.Sprintf("node %d", id)}
	}
	dn, _ := c.doc.Node(id)
	if err := fn(n, dn); err != nil {
		return fmt.Errorf("node %d: %w", id, err)
	}
	c.bus.Publish(events.Event{Kind: events.NodeStateChanged, Node: id, Generation: c.eng.Current().Generation()})
	ctxlog.FromContext(ctx).Debug("Node updated.", "node", id)
	return nil
}

// NodeInfo describes a live node.
type NodeInfo struct {
	ID          uint32    `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Enabled     bool      `json:"enabled"`
	Bypassed    bool      `json:"bypassed"`
	Faulted     bool      `json:"faulted"`
	RenderIndex int       `json:"render_index"`
	Ports       port.List `json:"-"`
}

// Nodes describes every node in insertion order.
func (c *Controller) Nodes() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := c.g.Nodes()
	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeInfo{
			ID:          n.ID(),
			Type:        n.Type(),
			Name:        n.Name(),
			Status:      n.Status().String(),
			Enabled:     n.Enabled(),
			Bypassed:    n.Bypassed(),
			Faulted:     n.Faulted(),
			RenderIndex: n.RenderIndex(),
			Ports:       n.Ports(),
		})
	}
	return out
}

// Connections returns every connection, sorted.
func (c *Controller) Connections() []graph.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g.Connections()
}

// Order returns the render order of the published plan.
func (c *Controller) Order() []uint32 {
	return c.eng.Current().Order()
}

// Collect destroys retired nodes that are no longer referenced.
func (c *Controller) Collect() int {
	return c.eng.Collect()
}

// Close removes every node and waits until all of them are destroyed.
func (c *Controller) Close(ctx context.Context) error {
	c.Clear(ctx)
	return c.eng.Drain(ctx)
}
