// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file implements the HCL form of a Document:
//
//	graph "Main" {
//	  node "1" {
//	    type   = "oscillator"
//	    name   = "Oscillator"
//	    params = { frequency = 440 }
//	    state  = "eyJmcmVxdWVuY3kiOjQ0MH0="
//
//	    port "0" {
//	      type    = "audio"
//	      flow    = "output"
//	      channel = 0
//	    }
//	  }
//
//	  arc {
//	    source_node = 1
//	    source_port = 0
//	    dest_node   = 2
//	    dest_port   = 0
//	  }
//	}
//
// Encoding is deterministic: nodes keep insertion order, arcs are sorted and
// attributes are always written in the same order, so equal documents encode
// to equal bytes.
package document

import (
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/zclconf/go-cty/cty"
)

type graphBlock struct {
	Name  string       `hcl:"name,label"`
	Nodes []*nodeBlock `hcl:"node,block"`
	Arcs  []*arcBlock  `hcl:"arc,block"`
}

type nodeBlock struct {
	ID       string         `hcl:"id,label"`
	Type     string         `hcl:"type"`
	Name     *string        `hcl:"name,optional"`
	Enabled  *bool          `hcl:"enabled,optional"`
	Bypassed *bool          `hcl:"bypassed,optional"`
	Params   hcl.Expression `hcl:"params,optional"`
	State    *string        `hcl:"state,optional"`
	Ports    []*portBlock   `hcl:"port,block"`
}

type portBlock struct {
	Index    string  `hcl:"index,label"`
	Type     string  `hcl:"type"`
	Flow     string  `hcl:"flow"`
	Channel  *int    `hcl:"channel,optional"`
	Symbol   *string `hcl:"symbol,optional"`
	Name     *string `hcl:"name,optional"`
	MaxFanIn *int    `hcl:"max_fan_in,optional"`
}

type arcBlock struct {
	SourceNode int `hcl:"source_node"`
	SourcePort int `hcl:"source_port"`
	DestNode   int `hcl:"dest_node"`
	DestPort   int `hcl:"dest_port"`
}

// Load reads and decodes the document at path.
func Load(path string) (*Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph document: %w", err)
	}
	return Decode(path, src)
}

// Save encodes d and writes it to path, replacing any existing file only once
// the new content is fully written.
func Save(path string, d *Document) error {
	data, err := Encode(d)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".graph-*.hcl")
	if err != nil {
		return fmt.Errorf("failed to save graph document: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save graph document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save graph document: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Decode parses src as an HCL graph document. filename is only used in
// diagnostics.
func Decode(filename string, src []byte) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, diags.Error())
	}

	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported syntax", ErrInvalidDocument)
	}
	if len(body.Attributes) != 0 || len(body.Blocks) != 1 || body.Blocks[0].Type != RootType {
		return nil, fmt.Errorf("%w: expected exactly one %q block", ErrRootTypeMismatch, RootType)
	}

	var root struct {
		Graph *graphBlock `hcl:"graph,block"`
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, diags.Error())
	}
	return translate(root.Graph)
}

func translate(g *graphBlock) (*Document, error) {
	d := New(g.Name)
	seen := make(map[uint32]bool, len(g.Nodes))
	for _, nb := range g.Nodes {
		n, err := translateNode(nb)
		if err != nil {
			return nil, err
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("%w: duplicate node %d", ErrInvalidDocument, n.ID)
		}
		seen[n.ID] = true
		d.AddNode(n)
	}
	for _, ab := range g.Arcs {
		a, err := translateArc(ab)
		if err != nil {
			return nil, err
		}
		if !seen[a.SourceNode] || !seen[a.DestNode] {
			return nil, fmt.Errorf("%w: arc %d:%d -> %d:%d references a missing node",
				ErrInvalidDocument, a.SourceNode, a.SourcePort, a.DestNode, a.DestPort)
		}
		d.AddArc(a)
	}
	return d, nil
}

func translateNode(nb *nodeBlock) (Node, error) {
	id, err := strconv.ParseUint(nb.ID, 10, 32)
	if err != nil || id == 0 {
		return Node{}, fmt.Errorf("%w: node id %q must be a positive integer", ErrInvalidDocument, nb.ID)
	}
	n := Node{ID: uint32(id), Type: nb.Type, Name: nb.Type, Enabled: true, Params: cty.EmptyObjectVal}
	if nb.Name != nil {
		n.Name = *nb.Name
	}
	if nb.Enabled != nil {
		n.Enabled = *nb.Enabled
	}
	if nb.Bypassed != nil {
		n.Bypassed = *nb.Bypassed
	}
	if nb.State != nil && *nb.State != "" {
		n.State, err = base64.StdEncoding.DecodeString(*nb.State)
		if err != nil {
			return Node{}, fmt.Errorf("%w: node %d state: %v", ErrInvalidDocument, id, err)
		}
	}
	if nb.Params != nil {
		v, diags := nb.Params.Value(nil)
		if diags.HasErrors() {
			return Node{}, fmt.Errorf("%w: node %d params: %s", ErrInvalidDocument, id, diags.Error())
		}
		switch {
		case v.IsNull():
		case v.Type().IsObjectType() || v.Type().IsMapType():
			n.Params = v
		default:
			return Node{}, fmt.Errorf("%w: node %d params must be an object", ErrInvalidDocument, id)
		}
	}

	n.Ports = make(port.List, len(nb.Ports))
	filled := make([]bool, len(nb.Ports))
	for _, pb := range nb.Ports {
		p, err := translatePort(pb)
		if err != nil {
			return Node{}, fmt.Errorf("node %d: %w", id, err)
		}
		if p.Index < 0 || p.Index >= len(nb.Ports) || filled[p.Index] {
			return Node{}, fmt.Errorf("%w: node %d port indexes must be unique and contiguous from 0", ErrInvalidDocument, id)
		}
		p.Node = n.ID
		filled[p.Index] = true
		n.Ports[p.Index] = p
	}
	return n, nil
}

func translatePort(pb *portBlock) (port.Port, error) {
	index, err := strconv.Atoi(pb.Index)
	if err != nil {
		return port.Port{}, fmt.Errorf("%w: port index %q", ErrInvalidDocument, pb.Index)
	}
	t, err := port.ParseType(pb.Type)
	if err != nil {
		return port.Port{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	dir, err := port.ParseDirection(pb.Flow)
	if err != nil {
		return port.Port{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	p := port.Port{Index: index, Type: t, Direction: dir}
	if pb.Channel != nil {
		p.Channel = *pb.Channel
	}
	if pb.Symbol != nil {
		p.Symbol = *pb.Symbol
	}
	if pb.Name != nil {
		p.Name = *pb.Name
	}
	if pb.MaxFanIn != nil {
		p.MaxFanIn = *pb.MaxFanIn
	}
	return p, nil
}

func translateArc(ab *arcBlock) (Arc, error) {
	for _, v := range []int{ab.SourceNode, ab.DestNode} {
		if v <= 0 || v > math.MaxUint32 {
			return Arc{}, fmt.Errorf("%w: arc node id %d out of range", ErrInvalidDocument, v)
		}
	}
	return Arc{
		SourceNode: uint32(ab.SourceNode),
		SourcePort: ab.SourcePort,
		DestNode:   uint32(ab.DestNode),
		DestPort:   ab.DestPort,
	}, nil
}

// Encode renders d as formatted HCL.
func Encode(d *Document) ([]byte, error) {
	if d.Type != "" && d.Type != RootType {
		return nil, fmt.Errorf("%w: cannot encode root type %q", ErrRootTypeMismatch, d.Type)
	}
	f := hclwrite.NewEmptyFile()
	gb := f.Body().AppendNewBlock(RootType, []string{d.Name}).Body()

	for i, n := range d.Nodes {
		if i > 0 {
			gb.AppendNewline()
		}
		nb := gb.AppendNewBlock("node", []string{strconv.FormatUint(uint64(n.ID), 10)}).Body()
		nb.SetAttributeValue("type", cty.StringVal(n.Type))
		nb.SetAttributeValue("name", cty.StringVal(n.Name))
		nb.SetAttributeValue("enabled", cty.BoolVal(n.Enabled))
		nb.SetAttributeValue("bypassed", cty.BoolVal(n.Bypassed))
		if n.Params != cty.NilVal && !n.Params.IsNull() && n.Params.LengthInt() > 0 {
			if !n.Params.IsWhollyKnown() {
				return nil, fmt.Errorf("%w: node %d params are not fully known", ErrInvalidDocument, n.ID)
			}
			nb.SetAttributeValue("params", n.Params)
		}
		if len(n.State) > 0 {
			nb.SetAttributeValue("state", cty.StringVal(base64.StdEncoding.EncodeToString(n.State)))
		}
		for _, p := range n.Ports {
			nb.AppendNewline()
			pb := nb.AppendNewBlock("port", []string{strconv.Itoa(p.Index)}).Body()
			pb.SetAttributeValue("type", cty.StringVal(p.Type.String()))
			pb.SetAttributeValue("flow", cty.StringVal(p.Direction.String()))
			pb.SetAttributeValue("channel", cty.NumberIntVal(int64(p.Channel)))
			if p.Symbol != "" {
				pb.SetAttributeValue("symbol", cty.StringVal(p.Symbol))
			}
			if p.Name != "" {
				pb.SetAttributeValue("name", cty.StringVal(p.Name))
			}
			if p.MaxFanIn != 0 {
				pb.SetAttributeValue("max_fan_in", cty.NumberIntVal(int64(p.MaxFanIn)))
			}
		}
	}

	arcs := append([]Arc(nil), d.Arcs...)
	sortArcs(arcs)
	for _, a := range arcs {
		gb.AppendNewline()
		ab := gb.AppendNewBlock("arc", nil).Body()
		ab.SetAttributeValue("source_node", cty.NumberIntVal(int64(a.SourceNode)))
		ab.SetAttributeValue("source_port", cty.NumberIntVal(int64(a.SourcePort)))
		ab.SetAttributeValue("dest_node", cty.NumberIntVal(int64(a.DestNode)))
		ab.SetAttributeValue("dest_port", cty.NumberIntVal(int64(a.DestPort)))
	}
	return hclwrite.Format(f.Bytes()), nil
}
