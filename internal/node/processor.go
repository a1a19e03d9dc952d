package node

import (
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/event"
	"github.com/specialistvlad/audiogrid/internal/port"
)

// Description is what a processor reports about itself to the host.
type Description struct {
	// Type is the registry identifier of the node kind, e.g. "gain".
	Type  string
	Name  string
	Ports port.List
}

// Block is the set of buffers a processor reads and writes during one
// render call. Every slice is already trimmed to Frames.
type Block struct {
	Frames int

	// AudioIn holds one buffer per audio input port, in typed-index order,
	// already containing the sum of every connected upstream output.
	AudioIn  [][]float32
	AudioOut [][]float32

	MIDIIn  []*event.Buffer[event.MIDI]
	MIDIOut []*event.Buffer[event.MIDI]

	ControlIn  []*event.Buffer[event.Control]
	ControlOut []*event.Buffer[event.Control]

	// HostIn and HostOut are the device channels for this block. Only I/O
	// nodes touch them; HostOut is accumulated into, never overwritten.
	HostIn  [][]float32
	HostOut [][]float32
}

// Processor is the capability interface every node kind implements.
//
// Prepare, Release, State and SetState are called from control goroutines.
// Render is called only from the real-time goroutine and must not allocate,
// block or panic. The host never overlaps Prepare, Release or SetState with
// Render on the same processor. State may run concurrently with Render, so
// fields written by Render and captured by State must be accessed atomically.
type Processor interface {
	Describe() Description
	Prepare(sampleRate float64, blockSize int) error
	Render(b *Block)
	Release()
	// State returns an opaque blob capturing the processor's persistent
	// state. SetState restores it.
	State() ([]byte, error)
	SetState(data []byte) error
}

// Resizer is implemented by processors whose port layout follows the device,
// such as hardware I/O nodes. ResizePorts returns true when the layout
// changed; the new layout is then read back through Describe.
type Resizer interface {
	ResizePorts(cfg device.Config) bool
}

// Notifier is implemented by processors that want to tell their editor that
// something changed. The node polls it from the control side.
type Notifier interface {
	// TakeNotification reports and clears a pending change.
	TakeNotification() bool
}

// LogSource is implemented by processors that keep a log for their editor.
// DrainLog is called from the control side and returns the lines written
// since the previous call.
type LogSource interface {
	DrainLog() []string
}
