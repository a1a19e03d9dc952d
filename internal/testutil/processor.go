package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/zclconf/go-cty/cty"
)

// Proc is a configurable processor for tests. Audio output i carries audio
// input i scaled by Gain, or Constant for outputs without a matching input.
// MIDI and control outputs forward the input with the same typed index.
//
// Proc also detects lifecycle violations: rendering while not prepared and
// releasing while a render is in progress are counted in Violations.
type Proc struct {
	TypeID     string
	Layout     port.List
	Gain       float32
	Constant   float32
	PrepareErr error
	StateBlob  []byte
	// ToHost adds audio input i to device output channel i.
	ToHost bool
	// Resize, when set, makes the processor follow device changes.
	Resize func(cfg device.Config) port.List
	// OnSetState runs at the start of SetState.
	OnSetState func()

	prepared   atomic.Bool
	prepares   atomic.Int32
	releases   atomic.Int32
	renders    atomic.Int64
	violations atomic.Int64
	panicNext  atomic.Bool
	rendering  atomic.Bool

	logMu    sync.Mutex
	log      []string
	notified atomic.Bool
}

// NewPassThrough returns a processor with the given number of audio inputs
// and outputs.
func NewPassThrough(ins, outs int) *Proc {
	var b port.Builder
	for ch := 0; ch < ins; ch++ {
		b.Add(port.Audio, port.Input, ch, "in", "In")
	}
	for ch := 0; ch < outs; ch++ {
		b.Add(port.Audio, port.Output, ch, "out", "Out")
	}
	return &Proc{TypeID: "test.through", Layout: b.List(), Gain: 1}
}

// NewSource returns a processor with one audio output emitting value.
func NewSource(value float32) *Proc {
	p := NewPassThrough(0, 1)
	p.TypeID = "test.source"
	p.Constant = value
	return p
}

// NewEventThrough returns a processor with one input and one output of each
// event type. The control input accepts at most maxFanIn connections.
func NewEventThrough(maxFanIn int) *Proc {
	var b port.Builder
	b.Add(port.MIDI, port.Input, 0, "midi_in", "MIDI In").
		Add(port.MIDI, port.Output, 0, "midi_out", "MIDI Out").
		AddControlInput(0, maxFanIn, "ctl_in", "Control In").
		Add(port.Control, port.Output, 0, "ctl_out", "Control Out")
	return &Proc{TypeID: "test.events", Layout: b.List(), Gain: 1}
}

// NewSink returns a processor that adds its audio inputs to the device
// outputs.
func NewSink(channels int) *Proc {
	p := NewPassThrough(channels, 0)
	p.TypeID = "test.sink"
	p.ToHost = true
	return p
}

// NewNode wraps p in a node.
func NewNode(p *Proc) *node.Node { return node.New(p, cty.EmptyObjectVal) }

func (p *Proc) Describe() node.Description {
	return node.Description{Type: p.TypeID, Name: p.TypeID, Ports: p.Layout}
}

func (p *Proc) Prepare(float64, int) error {
	p.prepares.Add(1)
	if p.PrepareErr != nil {
		return p.PrepareErr
	}
	p.prepared.Store(true)
	return nil
}

func (p *Proc) Render(b *node.Block) {
	p.renders.Add(1)
	p.rendering.Store(true)
	defer p.rendering.Store(false)
	if !p.prepared.Load() {
		p.violations.Add(1)
	}
	if p.panicNext.CompareAndSwap(true, false) {
		panic("test processor failure")
	}
	for i, out := range b.AudioOut {
		if i < len(b.AudioIn) {
			for j, s := range b.AudioIn[i] {
				out[j] = s * p.Gain
			}
			continue
		}
		for j := range out {
			out[j] = p.Constant
		}
	}
	if p.ToHost {
		for i, in := range b.AudioIn {
			if i < len(b.HostOut) {
				for j, s := range in {
					b.HostOut[i][j] += s
				}
			}
		}
	}
	for i, out := range b.MIDIOut {
		if i < len(b.MIDIIn) {
			out.MergeFrom(b.MIDIIn[i])
		}
	}
	for i, out := range b.ControlOut {
		if i < len(b.ControlIn) {
			out.MergeFrom(b.ControlIn[i])
		}
	}
}

func (p *Proc) Release() {
	if p.rendering.Load() {
		p.violations.Add(1)
	}
	p.prepared.Store(false)
	p.releases.Add(1)
}

func (p *Proc) State() ([]byte, error) { return p.StateBlob, nil }

func (p *Proc) SetState(data []byte) error {
	if p.OnSetState != nil {
		p.OnSetState()
	}
	if string(data) == "corrupt" {
		return errors.New("corrupt state")
	}
	p.StateBlob = data
	return nil
}

func (p *Proc) ResizePorts(cfg device.Config) bool {
	if p.Resize == nil {
		return false
	}
	next := p.Resize(cfg)
	if next.Equal(p.Layout) {
		return false
	}
	p.Layout = next
	return true
}

// AppendLog adds lines to the processor's log and raises a notification.
func (p *Proc) AppendLog(lines ...string) {
	p.logMu.Lock()
	p.log = append(p.log, lines...)
	p.logMu.Unlock()
	p.notified.Store(true)
}

func (p *Proc) DrainLog() []string {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	lines := p.log
	p.log = nil
	return lines
}

func (p *Proc) TakeNotification() bool { return p.notified.Swap(false) }

// PanicOnNextRender makes the next Render call panic.
func (p *Proc) PanicOnNextRender() { p.panicNext.Store(true) }

// Prepared reports whether the processor currently holds resources.
func (p *Proc) Prepared() bool { return p.prepared.Load() }

// Prepares returns how many times Prepare was called.
func (p *Proc) Prepares() int { return int(p.prepares.Load()) }

// Releases returns how many times Release was called.
func (p *Proc) Releases() int { return int(p.releases.Load()) }

// Renders returns how many times Render was called.
func (p *Proc) Renders() int64 { return p.renders.Load() }

// Violations returns how many renders happened while not prepared.
func (p *Proc) Violations() int64 { return p.violations.Load() }
