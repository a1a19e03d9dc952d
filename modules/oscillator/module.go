// Package oscillator provides a test-tone generator. A held MIDI note
// overrides the configured frequency; gated oscillators are silent without
// one.
package oscillator

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/event"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
)

const TypeID = "oscillator"

// Control input parameter numbers.
const (
	ParamFrequency = 0
	ParamAmplitude = 1
)

// Waveform selects the generated shape.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Saw
	Triangle
)

// ParseWaveform converts a parameter value into a Waveform.
func ParseWaveform(s string) (Waveform, error) {
	switch s {
	case "sine":
		return Sine, nil
	case "square":
		return Square, nil
	case "saw":
		return Saw, nil
	case "triangle":
		return Triangle, nil
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

// Module implements the registry.Module interface for this package.
type Module struct{}

// Params are the construction parameters.
type Params struct {
	Waveform  string  `cty:"waveform"`
	Frequency float64 `cty:"frequency"`
	Amplitude float64 `cty:"amplitude"`
	Channels  int     `cty:"channels"`
	// Gated oscillators are silent until a MIDI note is held.
	Gated bool `cty:"gated"`
}

// State is the persisted state.
type State struct {
	Frequency float64 `cty:"frequency"`
	Amplitude float64 `cty:"amplitude"`
}

// Register registers the oscillator node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNodeType(&registry.NodeType{
		ID:   TypeID,
		Name: "Oscillator",
		NewParams: func() any {
			return &Params{Waveform: "sine", Frequency: 440, Amplitude: 0.5, Channels: 1}
		},
		New: func(params any) (node.Processor, error) {
			return New(*params.(*Params))
		},
	})
}

// Oscillator generates a periodic waveform on every audio output.
type Oscillator struct {
	ports    port.List
	waveform Waveform
	gated    bool

	frequency atomic.Uint64
	amplitude atomic.Uint64

	// real-time only
	sampleRate float64
	phase      float64
	note       int
}

// New builds an oscillator.
func New(p Params) (*Oscillator, error) {
	w, err := ParseWaveform(p.Waveform)
	if err != nil {
		return nil, err
	}
	if p.Channels < 1 || p.Channels > 64 {
		return nil, fmt.Errorf("channels must be between 1 and 64, got %d", p.Channels)
	}
	var b port.Builder
	b.Add(port.MIDI, port.Input, 0, "midi_in", "MIDI In")
	b.AddControlInput(0, 0, "control", "Control")
	for ch := 0; ch < p.Channels; ch++ {
		b.Add(port.Audio, port.Output, ch, "out_"+strconv.Itoa(ch), "Out "+strconv.Itoa(ch+1))
	}
	o := &Oscillator{ports: b.List(), waveform: w, gated: p.Gated, note: -1}
	o.SetFrequency(p.Frequency)
	o.SetAmplitude(p.Amplitude)
	return o, nil
}

// Frequency returns the free-running frequency in Hz.
func (o *Oscillator) Frequency() float64 { return math.Float64frombits(o.frequency.Load()) }

// SetFrequency sets the free-running frequency in Hz.
func (o *Oscillator) SetFrequency(hz float64) { o.frequency.Store(math.Float64bits(max(hz, 0))) }

// Amplitude returns the peak level.
func (o *Oscillator) Amplitude() float64 { return math.Float64frombits(o.amplitude.Load()) }

// SetAmplitude sets the peak level, clamped to [0, 1].
func (o *Oscillator) SetAmplitude(a float64) { o.amplitude.Store(math.Float64bits(min(max(a, 0), 1))) }

// NoteFrequency returns the equal-tempered frequency of a MIDI note.
func NoteFrequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func (o *Oscillator) Describe() node.Description {
	return node.Description{Type: TypeID, Name: "Oscillator", Ports: o.ports}
}

func (o *Oscillator) Prepare(sampleRate float64, _ int) error {
	o.sampleRate = sampleRate
	o.phase = 0
	return nil
}

func (o *Oscillator) sample() float64 {
	switch o.waveform {
	case Square:
		if o.phase < 0.5 {
			return 1
		}
		return -1
	case Saw:
		return 2*o.phase - 1
	case Triangle:
		return 1 - 4*math.Abs(o.phase-0.5)
	}
	return math.Sin(2 * math.Pi * o.phase)
}

func (o *Oscillator) handleMIDI(m event.MIDI) {
	switch {
	case m.IsNoteOn():
		o.note = int(m.Note())
	case m.IsNoteOff() && int(m.Note()) == o.note:
		o.note = -1
	}
}

func (o *Oscillator) handleControl(c event.Control) {
	switch c.Param {
	case ParamFrequency:
		o.SetFrequency(float64(c.Value))
	case ParamAmplitude:
		o.SetAmplitude(float64(c.Value))
	}
}

func (o *Oscillator) Render(b *node.Block) {
	if len(b.AudioOut) == 0 || o.sampleRate <= 0 {
		return
	}
	var midi []event.MIDI
	if len(b.MIDIIn) > 0 {
		midi = b.MIDIIn[0].Events()
	}
	var ctl []event.Control
	if len(b.ControlIn) > 0 {
		ctl = b.ControlIn[0].Events()
	}

	first := b.AudioOut[0]
	mi, ci := 0, 0
	for i := 0; i < b.Frames; i++ {
		for ; mi < len(midi) && midi[mi].Frame <= i; mi++ {
			o.handleMIDI(midi[mi])
		}
		for ; ci < len(ctl) && ctl[ci].Frame <= i; ci++ {
			o.handleControl(ctl[ci])
		}

		freq := o.Frequency()
		if o.note >= 0 {
			freq = NoteFrequency(o.note)
		} else if o.gated {
			first[i] = 0
			continue
		}
		first[i] = float32(o.sample() * o.Amplitude())
		o.phase += freq / o.sampleRate
		o.phase -= math.Floor(o.phase)
	}
	for ; mi < len(midi); mi++ {
		o.handleMIDI(midi[mi])
	}
	for ; ci < len(ctl); ci++ {
		o.handleControl(ctl[ci])
	}
	for _, out := range b.AudioOut[1:] {
		copy(out, first)
	}
}

func (o *Oscillator) Release() { o.note = -1 }

func (o *Oscillator) State() ([]byte, error) {
	return registry.MarshalState(&State{Frequency: o.Frequency(), Amplitude: o.Amplitude()})
}

func (o *Oscillator) SetState(data []byte) error {
	s := State{Frequency: o.Frequency(), Amplitude: o.Amplitude()}
	if err := registry.UnmarshalState(data, &s); err != nil {
		return err
	}
	o.SetFrequency(s.Frequency)
	o.SetAmplitude(s.Amplitude)
	return nil
}
