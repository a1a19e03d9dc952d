// Package midimonitor provides a node that passes MIDI through unchanged and
// keeps a log of what it saw for an editor to display.
//
// The real-time goroutine writes into a fixed ring; a control goroutine reads
// it with Drain. When the ring is full new messages are counted as dropped.
package midimonitor

import (
	"fmt"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/event"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
)

const TypeID = "midi.monitor"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Params are the construction parameters.
type Params struct {
	Capacity int `cty:"capacity"`
}

// Register registers the monitor node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNodeType(&registry.NodeType{
		ID:        TypeID,
		Name:      "MIDI Monitor",
		NewParams: func() any { return &Params{Capacity: 256} },
		New: func(params any) (node.Processor, error) {
			return New(params.(*Params).Capacity)
		},
	})
}

// Entry is a logged message.
type Entry struct {
	// Position is the absolute frame since the monitor was prepared.
	Position uint64
	MIDI     event.MIDI
}

func (e Entry) String() string {
	return fmt.Sprintf("%d: %s", e.Position, Describe(e.MIDI))
}

// Monitor logs incoming MIDI.
type Monitor struct {
	ports port.List
	ring  []Entry
	mask  uint64

	head     atomic.Uint64 // next write, owned by Render
	tail     atomic.Uint64 // next read, owned by Drain
	dropped  atomic.Uint64
	pending  atomic.Bool
	position uint64
}

// New builds a monitor whose log holds at least capacity messages.
func New(capacity int) (*Monitor, error) {
	if capacity < 1 || capacity > 1<<16 {
		return nil, fmt.Errorf("capacity must be between 1 and 65536, got %d", capacity)
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	var b port.Builder
	b.Add(port.MIDI, port.Input, 0, "midi_in", "MIDI In").
		Add(port.MIDI, port.Output, 0, "midi_out", "MIDI Out")
	return &Monitor{ports: b.List(), ring: make([]Entry, size), mask: uint64(size - 1)}, nil
}

func (m *Monitor) Describe() node.Description {
	return node.Description{Type: TypeID, Name: "MIDI Monitor", Ports: m.ports}
}

func (m *Monitor) Prepare(float64, int) error {
	m.position = 0
	return nil
}

func (m *Monitor) Render(b *node.Block) {
	in, out := b.MIDIIn[0], b.MIDIOut[0]
	out.CopyFrom(in)
	head := m.head.Load()
	for _, msg := range in.Events() {
		if head-m.tail.Load() > m.mask {
			m.dropped.Add(1)
			continue
		}
		m.ring[head&m.mask] = Entry{Position: m.position + uint64(msg.Frame), MIDI: msg}
		head++
	}
	if head != m.head.Load() {
		m.head.Store(head)
		m.pending.Store(true)
	}
	m.position += uint64(b.Frames)
}

func (m *Monitor) Release() {}

// Drain returns and removes every logged message.
func (m *Monitor) Drain() []Entry {
	tail, head := m.tail.Load(), m.head.Load()
	out := make([]Entry, 0, head-tail)
	for ; tail != head; tail++ {
		out = append(out, m.ring[tail&m.mask])
	}
	m.tail.Store(tail)
	return out
}

// DrainLog drains the log as printable lines.
func (m *Monitor) DrainLog() []string {
	entries := m.Drain()
	if len(entries) == 0 {
		return nil
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Dropped returns how many messages did not fit in the log.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// TakeNotification reports whether messages were logged since the last call.
func (m *Monitor) TakeNotification() bool { return m.pending.Swap(false) }

func (m *Monitor) State() ([]byte, error) { return nil, nil }

func (m *Monitor) SetState([]byte) error { return nil }

// Describe returns a human readable description of a message.
func Describe(m event.MIDI) string {
	ch := m.Data[0]&0x0F + 1
	switch {
	case m.IsStart():
		return "Start"
	case m.IsContinue():
		return "Continue"
	case m.IsStop():
		return "Stop"
	case m.Size == 1 && m.Data[0] == 0xF8:
		return "Clock"
	case m.IsNoteOn():
		return fmt.Sprintf("Note on %d velocity %d channel %d", m.Note(), m.Velocity(), ch)
	case m.IsNoteOff():
		return fmt.Sprintf("Note off %d channel %d", m.Note(), ch)
	}
	switch m.Data[0] & 0xF0 {
	case 0xA0:
		return fmt.Sprintf("Aftertouch %d: %d channel %d", m.Data[1], m.Data[2], ch)
	case 0xB0:
		return fmt.Sprintf("Controller %d: %d channel %d", m.Data[1], m.Data[2], ch)
	case 0xC0:
		return fmt.Sprintf("Program change %d channel %d", m.Data[1], ch)
	case 0xD0:
		return fmt.Sprintf("Channel pressure %d channel %d", m.Data[1], ch)
	case 0xE0:
		return fmt.Sprintf("Pitch wheel %d channel %d", int(m.Data[2])<<7|int(m.Data[1]), ch)
	}
	return fmt.Sprintf("% X", m.Data[:m.Size])
}
