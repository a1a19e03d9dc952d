// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Document structure, the persisted form of a
// processing graph. A document is a plain value: it holds no live nodes and
// can be copied, diffed and stored freely. The controller keeps one as a
// mirror of the live graph and rebuilds the graph from one on load.
package document

import (
	"cmp"
	"encoding/hex"
	"errors"
	"slices"

	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/zclconf/go-cty/cty"
	"lukechampine.com/blake3"
)

// RootType is the only accepted root element type.
const RootType = "graph"

var (
	// ErrRootTypeMismatch is returned when the root element of a document is
	// not a single "graph" block.
	ErrRootTypeMismatch = errors.New("document root is not a graph")
	// ErrInvalidDocument is returned for structurally broken documents.
	ErrInvalidDocument = errors.New("invalid graph document")
)

// Document is a persisted graph.
type Document struct {
	Type  string
	Name  string
	Nodes []Node
	Arcs  []Arc
}

// Node is a persisted node.
type Node struct {
	ID       uint32
	Type     string
	Name     string
	Enabled  bool
	Bypassed bool
	// Params are the construction parameters passed to the node factory.
	Params cty.Value
	// State is the processor's opaque state blob.
	State []byte
	Ports port.List
}

// Arc is a persisted connection.
type Arc struct {
	SourceNode uint32
	SourcePort int
	DestNode   uint32
	DestPort   int
}

// Compare orders arcs by source then destination.
func (a Arc) Compare(b Arc) int {
	return cmp.Or(
		cmp.Compare(a.SourceNode, b.SourceNode),
		cmp.Compare(a.SourcePort, b.SourcePort),
		cmp.Compare(a.DestNode, b.DestNode),
		cmp.Compare(a.DestPort, b.DestPort),
	)
}

// New returns an empty document with the given name.
func New(name string) *Document {
	return &Document{Type: RootType, Name: name}
}

// Node returns a pointer to the node with the given id.
func (d *Document) Node(id uint32) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// AddNode appends n, keeping insertion order.
func (d *Document) AddNode(n Node) {
	d.Nodes = append(d.Nodes, n)
}

// RemoveNode deletes the node and every arc touching it.
func (d *Document) RemoveNode(id uint32) bool {
	before := len(d.Nodes)
	d.Nodes = slices.DeleteFunc(d.Nodes, func(n Node) bool { return n.ID == id })
	d.Arcs = slices.DeleteFunc(d.Arcs, func(a Arc) bool { return a.SourceNode == id || a.DestNode == id })
	return len(d.Nodes) != before
}

// AddArc inserts a keeping arcs sorted.
func (d *Document) AddArc(a Arc) {
	i, found := slices.BinarySearchFunc(d.Arcs, a, Arc.Compare)
	if !found {
		d.Arcs = slices.Insert(d.Arcs, i, a)
	}
}

// RemoveArc deletes a.
func (d *Document) RemoveArc(a Arc) bool {
	before := len(d.Arcs)
	d.Arcs = slices.DeleteFunc(d.Arcs, func(x Arc) bool { return x == a })
	return len(d.Arcs) != before
}

// Clear removes every node and arc.
func (d *Document) Clear() {
	d.Nodes = nil
	d.Arcs = nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{Type: d.Type, Name: d.Name}
	out.Nodes = make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		n.State = slices.Clone(n.State)
		n.Ports = slices.Clone(n.Ports)
		out.Nodes[i] = n
	}
	out.Arcs = slices.Clone(d.Arcs)
	return out
}

// Digest returns the hex BLAKE3 hash of the encoded document. Equal graphs
// have equal digests.
func Digest(d *Document) (string, error) {
	data, err := Encode(d)
	if err != nil {
		return "", err
	}
	return DigestEncoded(data), nil
}

// DigestEncoded returns the digest of an already encoded document.
func DigestEncoded(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortArcs(arcs []Arc) {
	slices.SortFunc(arcs, Arc.Compare)
}
