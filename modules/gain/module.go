// Package gain provides a multichannel volume node. The level is set in
// decibels through its parameters, its state blob or, sample accurately, by
// events on its control input.
package gain

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
)

const TypeID = "gain"

// MinDB is treated as silence.
const MinDB = -120.0

// Module implements the registry.Module interface for this package.
type Module struct{}

// Params are the construction parameters.
type Params struct {
	Channels int     `cty:"channels"`
	GainDB   float64 `cty:"gain_db"`
}

// State is the persisted state.
type State struct {
	GainDB float64 `cty:"gain_db"`
}

// Register registers the gain node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNodeType(&registry.NodeType{
		ID:        TypeID,
		Name:      "Gain",
		NewParams: func() any { return &Params{Channels: 2} },
		New: func(params any) (node.Processor, error) {
			return New(*params.(*Params))
		},
	})
}

// Gain scales every audio input by the same level.
type Gain struct {
	ports port.List
	// db holds float64 bits; written by SetState and by control events
	db atomic.Uint64
}

// New builds a gain processor.
func New(p Params) (*Gain, error) {
	if p.Channels < 1 || p.Channels > 64 {
		return nil, fmt.Errorf("channels must be between 1 and 64, got %d", p.Channels)
	}
	var b port.Builder
	for ch := 0; ch < p.Channels; ch++ {
		b.Add(port.Audio, port.Input, ch, "in_"+strconv.Itoa(ch), "In "+strconv.Itoa(ch+1))
	}
	for ch := 0; ch < p.Channels; ch++ {
		b.Add(port.Audio, port.Output, ch, "out_"+strconv.Itoa(ch), "Out "+strconv.Itoa(ch+1))
	}
	b.AddControlInput(0, 1, "gain_db", "Gain (dB)")
	g := &Gain{ports: b.List()}
	g.SetDB(p.GainDB)
	return g, nil
}

// DB returns the current level in decibels.
func (g *Gain) DB() float64 { return math.Float64frombits(g.db.Load()) }

// SetDB sets the level in decibels.
func (g *Gain) SetDB(db float64) {
	g.db.Store(math.Float64bits(max(db, MinDB)))
}

// Linear converts decibels to a linear factor.
func Linear(db float64) float32 {
	if db <= MinDB {
		return 0
	}
	return float32(math.Pow(10, db/20))
}

func (g *Gain) Describe() node.Description {
	return node.Description{Type: TypeID, Name: "Gain", Ports: g.ports}
}

func (g *Gain) Prepare(float64, int) error { return nil }

func (g *Gain) Render(b *node.Block) {
	level := Linear(g.DB())
	start := 0
	if len(b.ControlIn) > 0 {
		for _, ev := range b.ControlIn[0].Events() {
			at := min(max(ev.Frame, start), b.Frames)
			g.apply(b, start, at, level)
			g.SetDB(float64(ev.Value))
			level = Linear(g.DB())
			start = at
		}
	}
	g.apply(b, start, b.Frames, level)
}

func (g *Gain) apply(b *node.Block, from, to int, level float32) {
	if from >= to {
		return
	}
	for ch, out := range b.AudioOut {
		in := b.AudioIn[ch]
		for i := from; i < to; i++ {
			out[i] = in[i] * level
		}
	}
}

func (g *Gain) Release() {}

func (g *Gain) State() ([]byte, error) {
	return registry.MarshalState(&State{GainDB: g.DB()})
}

func (g *Gain) SetState(data []byte) error {
	s := State{GainDB: g.DB()}
	if err := registry.UnmarshalState(data, &s); err != nil {
		return err
	}
	g.SetDB(s.GainDB)
	return nil
}
