package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/specialistvlad/audiogrid/internal/graph"
	"github.com/specialistvlad/audiogrid/internal/node"
	"golang.org/x/sync/errgroup"
)

// Document returns a copy of the document mirroring the graph, with every
// node's state captured now.
func (c *Controller) Document(ctx context.Context) (*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.doc.Clone()
	for i := range d.Nodes {
		dn := &d.Nodes[i]
		n, ok := c.g.Node(dn.ID)
		if !ok {
			return nil, fmt.Errorf("%w: node %d is mirrored but not in the graph", ErrInvalidGraphDocument, dn.ID)
		}
		state, err := n.State()
		if err != nil {
			return nil, fmt.Errorf("capture state of node %d (%s): %w", dn.ID, dn.Type, err)
		}
		dn.State = state
	}
	ctxlog.FromContext(ctx).Debug("Document captured.", "nodes", len(d.Nodes), "arcs", len(d.Arcs))
	return d, nil
}

// SetRoot replaces the whole graph with the one described by d. The new graph
// is built and prepared on the side; on any error it is discarded and the
// active graph keeps rendering untouched.
func (c *Controller) SetRoot(ctx context.Context, d *document.Document) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("SetRoot started.", "name", d.Name, "nodes", len(d.Nodes), "arcs", len(d.Arcs))

	if d.Type != document.RootType {
		return fmt.Errorf("%w: got %q", ErrRootTypeMismatch, d.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	g, mirror, err := c.build(ctx, d)
	if err != nil {
		if g != nil {
			for _, n := range g.Clear() {
				n.Destroy()
			}
		}
		logger.Warn("Graph document rejected, keeping the active graph.", "name", d.Name, "error", err)
		return err
	}

	old := c.g
	c.g, c.doc = g, mirror
	clear(c.faulted)
	p := c.publish()
	c.retire(old.Clear()...)
	logger.Info("Graph installed.", "name", d.Name, "nodes", g.Len(), "generation", p.Generation())
	return nil
}

// build turns a document into a prepared graph and its mirror. Callers hold
// c.mu. The returned graph is non-nil whenever nodes were created.
func (c *Controller) build(ctx context.Context, d *document.Document) (*graph.Graph, *document.Document, error) {
	g := graph.New()
	mirror := document.New(d.Name)
	resized := make(map[uint32]bool)

	for _, dn := range d.Nodes {
		n, err := c.reg.Create(dn.Type, dn.Params)
		if err != nil {
			return g, nil, fmt.Errorf("%w: node %d: %w", ErrInvalidGraphDocument, dn.ID, err)
		}
		if err := g.AddNodeWithID(dn.ID, n); err != nil {
			n.Destroy()
			return g, nil, fmt.Errorf("%w: %w", ErrInvalidGraphDocument, err)
		}
		n.SetName(dn.Name)
		n.SetEnabled(dn.Enabled)
		n.SetBypassed(dn.Bypassed)
		if len(dn.State) > 0 {
			if err := n.SetState(dn.State); err != nil {
				return g, nil, fmt.Errorf("%w: restore state of node %d: %w", ErrInvalidGraphDocument, dn.ID, err)
			}
		}
		n.TakeChanged()

		if n.ResizePorts(c.cfg) {
			resized[dn.ID] = true
		} else if len(dn.Ports) > 0 && !dn.Ports.Equal(n.Ports()) {
			return g, nil, fmt.Errorf("%w: node %d (%s) ports do not match its kind", ErrInvalidGraphDocument, dn.ID, dn.Type)
		}
	}

	var dropped int
	for _, a := range d.Arcs {
		conn := graph.Connection(a)
		err := g.Connect(conn)
		if err == nil {
			continue
		}
		// device ports may have changed since the document was saved
		if (resized[a.SourceNode] || resized[a.DestNode]) &&
			(errors.Is(err, graph.ErrPortNotFound) || errors.Is(err, graph.ErrTypeMismatch)) {
			ctxlog.FromContext(ctx).Warn("Dropping connection to a resized device port.", "connection", conn.String())
			dropped++
			continue
		}
		return g, nil, fmt.Errorf("%w: %w", ErrInvalidGraphDocument, err)
	}

	if g.Len() != len(d.Nodes) || len(g.Connections()) != len(d.Arcs)-dropped {
		return g, nil, fmt.Errorf("%w: loaded %d nodes and %d connections, document has %d and %d",
			ErrInvalidGraphDocument, g.Len(), len(g.Connections()), len(d.Nodes), len(d.Arcs))
	}

	c.prepareAll(ctx, g.Nodes())

	for _, n := range g.Nodes() {
		mirror.AddNode(mirrorNode(n))
	}
	for _, conn := range g.Connections() {
		mirror.AddArc(arcOf(conn))
	}
	return g, mirror, nil
}

// prepareAll prepares nodes in parallel and returns the first failure.
// Nodes that fail stay silent. Callers hold c.mu and, for nodes in the live
// plan, the engine suspended.
func (c *Controller) prepareAll(ctx context.Context, nodes []*node.Node) error {
	var eg errgroup.Group
	for _, n := range nodes {
		eg.Go(func() error {
			return c.prepare(ctx, n)
		})
	}
	return eg.Wait()
}
