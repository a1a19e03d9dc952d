package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/event"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/zclconf/go-cty/cty"
)

// ErrDestroyed is returned when a lifecycle call reaches a destroyed node.
var ErrDestroyed = errors.New("node destroyed")

// Status is the lifecycle position of a node.
type Status int32

const (
	// Created nodes own no real-time resources yet.
	Created Status = iota
	// Prepared nodes have buffers sized for the current device settings.
	Prepared
	// Rendering nodes have been rendered at least once since Prepare.
	Rendering
	// Released nodes have torn down their real-time resources.
	Released
	// Destroyed nodes are gone for good.
	Destroyed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Prepared:
		return "prepared"
	case Rendering:
		return "rendering"
	case Released:
		return "released"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Node is a single vertex of the processing graph. It wraps a Processor and
// owns everything the render loop needs for it: the port layout, the output
// buffers, the input mix buffers and the reusable Block.
type Node struct {
	id     uint32
	typeID string
	name   string
	// params are the construction parameters the node was created with.
	params cty.Value
	proc   Processor
	ports  port.List

	// --- Flags shared with the real-time goroutine ---

	enabled     atomic.Bool
	bypassed    atomic.Bool
	faulted     atomic.Bool
	changed     atomic.Bool
	status      atomic.Int32
	renderIndex atomic.Int32

	// --- Owned only by the control side, stable while a plan references the node ---

	sampleRate float64
	blockSize  int
	buffers    buffers
	block      Block

	destroyOnce sync.Once
}

// New wraps proc in a Node. The node is enabled and not yet part of a graph.
func New(proc Processor, params cty.Value) *Node {
	desc := proc.Describe()
	if params == cty.NilVal || params.IsNull() {
		params = cty.EmptyObjectVal
	}
	n := &Node{
		typeID: desc.Type,
		name:   desc.Name,
		params: params,
		proc:   proc,
		ports:  desc.Ports.WithNode(0),
	}
	n.enabled.Store(true)
	n.renderIndex.Store(-1)
	return n
}

// ID returns the graph-assigned id, or zero before insertion.
func (n *Node) ID() uint32 { return n.id }

// SetID is called by the graph when the node is inserted.
func (n *Node) SetID(id uint32) {
	n.id = id
	n.ports = n.ports.WithNode(id)
}

// Type returns the registry identifier of the node kind.
func (n *Node) Type() string { return n.typeID }

// Name returns the display name.
func (n *Node) Name() string { return n.name }

// SetName changes the display name.
func (n *Node) SetName(name string) { n.name = name }

// Params returns the construction parameters.
func (n *Node) Params() cty.Value { return n.params }

// Processor returns the wrapped processor.
func (n *Node) Processor() Processor { return n.proc }

// Ports returns the port layout. It is fixed after creation unless the
// processor implements Resizer.
func (n *Node) Ports() port.List { return n.ports }

// Port returns the port at index.
func (n *Node) Port(index int) (port.Port, bool) { return n.ports.Get(index) }

// Status returns the lifecycle status.
func (n *Node) Status() Status { return Status(n.status.Load()) }

// Enabled reports whether the node renders. Disabled nodes output silence.
func (n *Node) Enabled() bool { return n.enabled.Load() }

// SetEnabled toggles rendering.
func (n *Node) SetEnabled(v bool) {
	if n.enabled.Swap(v) != v {
		n.changed.Store(true)
	}
}

// Bypassed reports whether the node passes its inputs straight through.
func (n *Node) Bypassed() bool { return n.bypassed.Load() }

// SetBypassed toggles bypass.
func (n *Node) SetBypassed(v bool) {
	if n.bypassed.Swap(v) != v {
		n.changed.Store(true)
	}
}

// Faulted reports whether the processor panicked during render. A faulted
// node outputs silence until it is prepared again.
func (n *Node) Faulted() bool { return n.faulted.Load() }

// RenderIndex returns the node's position in the last compiled render order,
// or -1 when it is not scheduled.
func (n *Node) RenderIndex() int { return int(n.renderIndex.Load()) }

// SetRenderIndex caches the node's position in the render order.
func (n *Node) SetRenderIndex(i int) { n.renderIndex.Store(int32(i)) }

// Frames returns the length of the node's audio buffers, or zero when they
// have not been allocated for the current port layout.
func (n *Node) Frames() int { return n.buffers.frames }

// SampleRate returns the sample rate of the last successful Prepare.
func (n *Node) SampleRate() float64 { return n.sampleRate }

// BlockSize returns the block size of the last successful Prepare.
func (n *Node) BlockSize() int { return n.blockSize }

// Prepare sizes the node for the given settings. Calling it again with the
// same settings is a no-op; with different settings the processor is
// released first and every buffer is replaced.
func (n *Node) Prepare(sampleRate float64, blockSize int) error {
	st := n.Status()
	if st == Destroyed {
		return ErrDestroyed
	}
	live := st == Prepared || st == Rendering
	if live && n.sampleRate == sampleRate && n.blockSize == blockSize {
		return nil
	}
	if live {
		n.proc.Release()
	}

	n.buffers.allocate(n.ports, blockSize)
	n.block = n.buffers.block()
	n.sampleRate, n.blockSize = 0, 0

	if err := n.proc.Prepare(sampleRate, blockSize); err != nil {
		n.status.Store(int32(Released))
		return fmt.Errorf("prepare node %d (%s): %w", n.id, n.typeID, err)
	}
	n.sampleRate, n.blockSize = sampleRate, blockSize
	n.faulted.Store(false)
	n.status.Store(int32(Prepared))
	return nil
}

// Release tears down the processor's real-time resources. Buffers are kept
// so that a stale plan can still read silence from them.
func (n *Node) Release() {
	switch n.Status() {
	case Prepared, Rendering:
		n.proc.Release()
		n.status.Store(int32(Released))
	case Created:
		n.status.Store(int32(Released))
	}
}

// Destroy releases the node if needed and marks it destroyed. It is safe to
// call more than once.
func (n *Node) Destroy() {
	n.destroyOnce.Do(func() {
		n.Release()
		n.status.Store(int32(Destroyed))
	})
}

// ResizePorts asks a resizable processor to follow cfg. When the layout
// changes the node is released and must be prepared again before it renders.
// Callers must hold the engine suspended.
func (n *Node) ResizePorts(cfg device.Config) bool {
	r, ok := n.proc.(Resizer)
	if !ok || !r.ResizePorts(cfg) {
		return false
	}
	n.Release()
	n.ports = n.proc.Describe().Ports.WithNode(n.id)
	n.sampleRate, n.blockSize = 0, 0
	n.buffers.frames = 0
	return true
}

// State captures the processor's opaque state.
func (n *Node) State() ([]byte, error) { return n.proc.State() }

// SetState restores the processor's opaque state.
func (n *Node) SetState(data []byte) error {
	if err := n.proc.SetState(data); err != nil {
		return err
	}
	n.changed.Store(true)
	return nil
}

// MarkChanged flags the node for an asynchronous editor refresh. It is safe
// to call from the real-time goroutine.
func (n *Node) MarkChanged() { n.changed.Store(true) }

// TakeChanged reports and clears a pending change, including notifications
// raised by the processor itself.
func (n *Node) TakeChanged() bool {
	changed := n.changed.Swap(false)
	if nt, ok := n.proc.(Notifier); ok && nt.TakeNotification() {
		changed = true
	}
	return changed
}

// DrainLog returns the processor's pending log lines, or nil when the
// processor keeps no log.
func (n *Node) DrainLog() []string {
	if ls, ok := n.proc.(LogSource); ok {
		return ls.DrainLog()
	}
	return nil
}

// AudioOutput returns the full-length buffer of the i-th audio output.
func (n *Node) AudioOutput(i int) []float32 { return n.buffers.audioOut[i] }

// AudioInput returns the full-length mix buffer of the i-th audio input.
func (n *Node) AudioInput(i int) []float32 { return n.buffers.audioIn[i] }

// MIDIOutput returns the i-th MIDI output buffer.
func (n *Node) MIDIOutput(i int) *event.Buffer[event.MIDI] { return n.buffers.midiOut[i] }

// MIDIInput returns the i-th MIDI input buffer.
func (n *Node) MIDIInput(i int) *event.Buffer[event.MIDI] { return n.buffers.midiIn[i] }

// ControlOutput returns the i-th control output buffer.
func (n *Node) ControlOutput(i int) *event.Buffer[event.Control] { return n.buffers.controlOut[i] }

// ControlInput returns the i-th control input buffer.
func (n *Node) ControlInput(i int) *event.Buffer[event.Control] { return n.buffers.controlIn[i] }
