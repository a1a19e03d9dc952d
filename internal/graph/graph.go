package graph

import (
	"fmt"
	"slices"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/emirpasic/gods/utils"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
)

// Connection is a directed link from an output port to an input port.
type Connection struct {
	SourceNode uint32
	SourcePort int
	DestNode   uint32
	DestPort   int
}

func (c Connection) String() string {
	return fmt.Sprintf("%d:%d -> %d:%d", c.SourceNode, c.SourcePort, c.DestNode, c.DestPort)
}

// Compare orders connections by source then destination.
func (c Connection) Compare(o Connection) int {
	switch {
	case c.SourceNode != o.SourceNode:
		return cmpUint32(c.SourceNode, o.SourceNode)
	case c.SourcePort != o.SourcePort:
		return c.SourcePort - o.SourcePort
	case c.DestNode != o.DestNode:
		return cmpUint32(c.DestNode, o.DestNode)
	}
	return c.DestPort - o.DestPort
}

func cmpUint32(a, b uint32) int {
	if a < b {
		return -1
	}
	return 1
}

// Graph is the node and connection set of a processing graph.
//
// Graph is not safe for concurrent use. The controller serializes every
// mutation; the render thread never touches a Graph, only compiled plans.
type Graph struct {
	nodes  map[uint32]*node.Node
	ids    []uint32 // insertion order
	conns  map[Connection]struct{}
	edges  map[uint32]map[uint32]int // source -> dest -> connection count
	nextID uint32
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[uint32]*node.Node),
		conns:  make(map[Connection]struct{}),
		edges:  make(map[uint32]map[uint32]int),
		nextID: 1,
	}
}

// AddNode inserts n under a freshly assigned id. Ids start at 1 and are never
// reused within the lifetime of the graph.
func (g *Graph) AddNode(n *node.Node) uint32 {
	id := g.nextID
	g.insert(id, n)
	return id
}

// AddNodeWithID inserts n under an explicit id, as done when loading a
// document. Later AddNode calls continue after the highest id seen.
func (g *Graph) AddNodeWithID(id uint32, n *node.Node) error {
	if id == 0 {
		return errorf(ErrDuplicateNode, "node id 0 is reserved")
	}
	if _, ok := g.nodes[id]; ok {
		return errorf(ErrDuplicateNode, "node %d", id)
	}
	g.insert(id, n)
	return nil
}

func (g *Graph) insert(id uint32, n *node.Node) {
	n.SetID(id)
	g.nodes[id] = n
	g.ids = append(g.ids, id)
	if id >= g.nextID {
		g.nextID = id + 1
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id uint32) (*node.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*node.Node {
	out := make([]*node.Node, 0, len(g.ids))
	for _, id := range g.ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// RemoveNode deletes a node and every connection touching it. The removed
// node is returned untouched; releasing it is the caller's job once no plan
// references it any more.
func (g *Graph) RemoveNode(id uint32) (*node.Node, []Connection, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, nil, errorf(ErrNodeNotFound, "node %d", id)
	}
	var severed []Connection
	for c := range g.conns {
		if c.SourceNode == id || c.DestNode == id {
			severed = append(severed, c)
		}
	}
	slices.SortFunc(severed, Connection.Compare)
	for _, c := range severed {
		g.unlink(c)
	}
	delete(g.nodes, id)
	g.ids = slices.DeleteFunc(g.ids, func(v uint32) bool { return v == id })
	return n, severed, nil
}

// Clear removes every node and connection and returns the removed nodes in
// insertion order. Id assignment is not reset.
func (g *Graph) Clear() []*node.Node {
	removed := g.Nodes()
	clear(g.nodes)
	clear(g.conns)
	clear(g.edges)
	g.ids = g.ids[:0]
	return removed
}

// Validate reports whether c could be added without changing the graph.
func (g *Graph) Validate(c Connection) error {
	src, ok := g.nodes[c.SourceNode]
	if !ok {
		return errorf(ErrNodeNotFound, "source node %d", c.SourceNode)
	}
	dst, ok := g.nodes[c.DestNode]
	if !ok {
		return errorf(ErrNodeNotFound, "destination node %d", c.DestNode)
	}
	sp, ok := src.Port(c.SourcePort)
	if !ok {
		return errorf(ErrPortNotFound, "node %d has no port %d", c.SourceNode, c.SourcePort)
	}
	dp, ok := dst.Port(c.DestPort)
	if !ok {
		return errorf(ErrPortNotFound, "node %d has no port %d", c.DestNode, c.DestPort)
	}
	if err := port.Check(sp, dp); err != nil {
		return &Error{Kind: ErrTypeMismatch, Msg: err.Error()}
	}
	if g.HasConnection(c) {
		return errorf(ErrDuplicateConnection, "%s", c)
	}
	if limit := dp.FanInLimit(); limit > 0 && g.FanIn(c.DestNode, c.DestPort) >= limit {
		return errorf(ErrFanInExceeded, "port %s accepts %d connection(s)", dp, limit)
	}
	if c.SourceNode == c.DestNode || g.Reaches(c.DestNode, c.SourceNode) {
		return errorf(ErrWouldCreateIllegalCycle, "%s", c)
	}
	return nil
}

// Connect adds c after validating it. On error the graph is unchanged.
func (g *Graph) Connect(c Connection) error {
	if err := g.Validate(c); err != nil {
		return err
	}
	g.link(c)
	return nil
}

// ConnectChannels connects the output port of type t on channel srcChannel
// of src to the input port of the same type on channel dstChannel of dst.
func (g *Graph) ConnectChannels(src uint32, srcChannel int, dst uint32, dstChannel int, t port.Type) (Connection, error) {
	sn, ok := g.nodes[src]
	if !ok {
		return Connection{}, errorf(ErrNodeNotFound, "source node %d", src)
	}
	dn, ok := g.nodes[dst]
	if !ok {
		return Connection{}, errorf(ErrNodeNotFound, "destination node %d", dst)
	}
	sp, ok := sn.Ports().ByChannel(t, port.Output, srcChannel)
	if !ok {
		return Connection{}, errorf(ErrPortNotFound, "node %d has no %s output on channel %d", src, t, srcChannel)
	}
	dp, ok := dn.Ports().ByChannel(t, port.Input, dstChannel)
	if !ok {
		return Connection{}, errorf(ErrPortNotFound, "node %d has no %s input on channel %d", dst, t, dstChannel)
	}
	c := Connection{SourceNode: src, SourcePort: sp.Index, DestNode: dst, DestPort: dp.Index}
	return c, g.Connect(c)
}

// Disconnect removes c.
func (g *Graph) Disconnect(c Connection) error {
	if !g.HasConnection(c) {
		return errorf(ErrConnectionNotFound, "%s", c)
	}
	g.unlink(c)
	return nil
}

// HasConnection reports whether c is present.
func (g *Graph) HasConnection(c Connection) bool {
	_, ok := g.conns[c]
	return ok
}

// Connections returns every connection in Compare order.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, 0, len(g.conns))
	for c := range g.conns {
		out = append(out, c)
	}
	slices.SortFunc(out, Connection.Compare)
	return out
}

// ConnectionsTo returns the connections terminating at node id, sorted.
func (g *Graph) ConnectionsTo(id uint32) []Connection {
	var out []Connection
	for c := range g.conns {
		if c.DestNode == id {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, Connection.Compare)
	return out
}

// FanIn returns how many connections terminate at the given input port.
func (g *Graph) FanIn(id uint32, portIndex int) int {
	n := 0
	for c := range g.conns {
		if c.DestNode == id && c.DestPort == portIndex {
			n++
		}
	}
	return n
}

// RemoveIllegalConnections drops every connection whose ports no longer
// exist or no longer match, which happens after a node's layout is resized.
// The removed connections are returned sorted.
func (g *Graph) RemoveIllegalConnections() []Connection {
	var removed []Connection
	for c := range g.conns {
		sp, okS := g.nodes[c.SourceNode].Port(c.SourcePort)
		dp, okD := g.nodes[c.DestNode].Port(c.DestPort)
		if !okS || !okD || port.Check(sp, dp) != nil {
			removed = append(removed, c)
		}
	}
	slices.SortFunc(removed, Connection.Compare)
	for _, c := range removed {
		g.unlink(c)
	}
	return removed
}

// Reaches reports whether a directed path leads from one node to another.
// A node reaches itself.
func (g *Graph) Reaches(from, to uint32) bool {
	if from == to {
		return true
	}
	seen := map[uint32]bool{from: true}
	queue := linkedlistqueue.New()
	queue.Enqueue(from)
	for !queue.Empty() {
		v, _ := queue.Dequeue()
		for next := range g.edges[v.(uint32)] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue.Enqueue(next)
			}
		}
	}
	return false
}

// Order returns every node id in a topological order. Among nodes whose
// upstream is already scheduled, the smallest id always goes first, so the
// order depends only on the node and connection sets.
func (g *Graph) Order() []uint32 {
	indegree := make(map[uint32]int, len(g.nodes))
	for _, dests := range g.edges {
		for dst := range dests {
			indegree[dst]++
		}
	}

	ready := binaryheap.NewWith(utils.UInt32Comparator)
	for id := range g.nodes {
		if indegree[id] == 0 {
			ready.Push(id)
		}
	}

	order := make([]uint32, 0, len(g.nodes))
	for !ready.Empty() {
		v, _ := ready.Pop()
		id := v.(uint32)
		order = append(order, id)
		for dst := range g.edges[id] {
			indegree[dst]--
			if indegree[dst] == 0 {
				ready.Push(dst)
			}
		}
	}
	return order
}

func (g *Graph) link(c Connection) {
	g.conns[c] = struct{}{}
	dests := g.edges[c.SourceNode]
	if dests == nil {
		dests = make(map[uint32]int)
		g.edges[c.SourceNode] = dests
	}
	dests[c.DestNode]++
}

func (g *Graph) unlink(c Connection) {
	delete(g.conns, c)
	dests := g.edges[c.SourceNode]
	if dests[c.DestNode]--; dests[c.DestNode] <= 0 {
		delete(dests, c.DestNode)
	}
	if len(dests) == 0 {
		delete(g.edges, c.SourceNode)
	}
}
