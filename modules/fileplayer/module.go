// Package fileplayer provides a node that plays a WAV file from memory.
//
// The transport (playing flag and position) survives Release and Prepare, so
// a device reconfiguration resumes playback where it stopped. When
// midi_transport is set, MIDI Start, Stop and Continue messages on the MIDI
// input drive the transport sample accurately.
package fileplayer

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/event"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
	"github.com/specialistvlad/audiogrid/modules/gain"
)

const TypeID = "audio.fileplayer"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Params are the construction parameters.
type Params struct {
	Path          string  `cty:"path"`
	Loop          bool    `cty:"loop"`
	MIDITransport bool    `cty:"midi_transport"`
	VolumeDB      float64 `cty:"volume_db"`
}

// State is the persisted state.
type State struct {
	Path          string  `cty:"path"`
	Playing       bool    `cty:"playing"`
	Loop          bool    `cty:"loop"`
	MIDITransport bool    `cty:"midi_transport"`
	VolumeDB      float64 `cty:"volume_db"`
	// Position is the transport position in seconds.
	Position float64 `cty:"position"`
}

// Register registers the file player node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNodeType(&registry.NodeType{
		ID:        TypeID,
		Name:      "Audio File Player",
		NewParams: func() any { return &Params{} },
		New: func(params any) (node.Processor, error) {
			return New(*params.(*Params))
		},
	})
}

// Player plays a clip to a stereo output. Mono clips feed both channels.
type Player struct {
	ports port.List
	clip  atomic.Pointer[Clip]

	playing       atomic.Bool
	loop          atomic.Bool
	midiTransport atomic.Bool
	volumeDB      atomic.Uint64
	// position in clip frames, float64 bits
	position atomic.Uint64
	notify   atomic.Bool

	sampleRate float64
}

// New builds a player and loads params.Path when set.
func New(p Params) (*Player, error) {
	var b port.Builder
	b.Add(port.MIDI, port.Input, 0, "midi_in", "MIDI In").
		Add(port.Audio, port.Output, 0, "out_0", "Left").
		Add(port.Audio, port.Output, 1, "out_1", "Right")
	pl := &Player{ports: b.List()}
	pl.loop.Store(p.Loop)
	pl.midiTransport.Store(p.MIDITransport)
	pl.SetVolumeDB(p.VolumeDB)
	if p.Path != "" {
		if err := pl.Open(p.Path); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// Open loads a WAV file and rewinds the transport. Opening the file already
// loaded is a no-op. Callers must not overlap Open with Render.
func (p *Player) Open(path string) error {
	if c := p.clip.Load(); c != nil && c.Path == path {
		return nil
	}
	c, err := LoadWAV(path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	if c.Frames() == 0 {
		return fmt.Errorf("open audio file %s: %w: no samples", path, ErrUnsupportedFormat)
	}
	p.clip.Store(c)
	p.setPosition(0)
	return nil
}

// Clip returns the loaded clip or nil.
func (p *Player) Clip() *Clip { return p.clip.Load() }

// Play starts the transport.
func (p *Player) Play() { p.playing.Store(true) }

// Stop halts the transport without rewinding.
func (p *Player) Stop() { p.playing.Store(false) }

// Playing reports whether the transport runs.
func (p *Player) Playing() bool { return p.playing.Load() }

// Position returns the transport position in seconds.
func (p *Player) Position() float64 {
	c := p.clip.Load()
	if c == nil {
		return 0
	}
	return p.frame() / c.SampleRate
}

// Seek moves the transport to seconds, clamped to the clip.
func (p *Player) Seek(seconds float64) {
	c := p.clip.Load()
	if c == nil {
		return
	}
	p.setPosition(min(max(seconds*c.SampleRate, 0), float64(c.Frames())))
}

// SetVolumeDB sets the output level in decibels.
func (p *Player) SetVolumeDB(db float64) { p.volumeDB.Store(math.Float64bits(db)) }

// VolumeDB returns the output level in decibels.
func (p *Player) VolumeDB() float64 { return math.Float64frombits(p.volumeDB.Load()) }

func (p *Player) frame() float64 { return math.Float64frombits(p.position.Load()) }

func (p *Player) setPosition(f float64) { p.position.Store(math.Float64bits(f)) }

func (p *Player) Describe() node.Description {
	return node.Description{Type: TypeID, Name: "Audio File Player", Ports: p.ports}
}

func (p *Player) Prepare(sampleRate float64, _ int) error {
	p.sampleRate = sampleRate
	return nil
}

func (p *Player) transport(m event.MIDI) {
	switch {
	case m.IsStart():
		p.setPosition(0)
		p.playing.Store(true)
	case m.IsContinue():
		p.playing.Store(true)
	case m.IsStop():
		p.playing.Store(false)
	default:
		return
	}
	p.notify.Store(true)
}

func (p *Player) Render(b *node.Block) {
	c := p.clip.Load()
	if c == nil || p.sampleRate <= 0 {
		return
	}
	start := 0
	if p.midiTransport.Load() && len(b.MIDIIn) > 0 {
		for _, m := range b.MIDIIn[0].Events() {
			at := min(max(m.Frame, start), b.Frames)
			p.play(c, b.AudioOut, start, at)
			p.transport(m)
			start = at
		}
	}
	p.play(c, b.AudioOut, start, b.Frames)
}

// play renders frames [from, to) of the block with linear interpolation.
func (p *Player) play(c *Clip, out [][]float32, from, to int) {
	if from >= to || !p.playing.Load() {
		return
	}
	level := gain.Linear(p.VolumeDB())
	step := c.SampleRate / p.sampleRate
	length := float64(c.Frames())
	if length == 0 {
		return
	}
	pos := p.frame()
	loop := p.loop.Load()

	for i := from; i < to; i++ {
		if pos >= length {
			if !loop {
				p.playing.Store(false)
				p.notify.Store(true)
				break
			}
			pos = math.Mod(pos, length)
		}
		idx := int(pos)
		frac := float32(pos - float64(idx))
		next := idx + 1
		if next >= c.Frames() {
			next = 0
			if !loop {
				next = idx
			}
		}
		for ch, dst := range out {
			src := c.Channels[min(ch, len(c.Channels)-1)]
			dst[i] = (src[idx] + (src[next]-src[idx])*frac) * level
		}
		pos += step
	}
	p.setPosition(pos)
}

// Release keeps the transport so playback resumes after the next Prepare.
func (p *Player) Release() {}

// TakeNotification reports transport changes made by MIDI or by reaching the
// end of the clip.
func (p *Player) TakeNotification() bool { return p.notify.Swap(false) }

func (p *Player) state() State {
	s := State{
		Playing:       p.Playing(),
		Loop:          p.loop.Load(),
		MIDITransport: p.midiTransport.Load(),
		VolumeDB:      p.VolumeDB(),
		Position:      p.Position(),
	}
	if c := p.clip.Load(); c != nil {
		s.Path = c.Path
	}
	return s
}

func (p *Player) State() ([]byte, error) {
	s := p.state()
	return registry.MarshalState(&s)
}

func (p *Player) SetState(data []byte) error {
	s := p.state()
	if err := registry.UnmarshalState(data, &s); err != nil {
		return err
	}
	if s.Path != "" {
		if err := p.Open(s.Path); err != nil {
			return err
		}
	}
	p.loop.Store(s.Loop)
	p.midiTransport.Store(s.MIDITransport)
	p.SetVolumeDB(s.VolumeDB)
	p.Seek(s.Position)
	p.playing.Store(s.Playing)
	return nil
}
