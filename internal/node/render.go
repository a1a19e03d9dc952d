package node

import (
	"github.com/specialistvlad/audiogrid/internal/event"
	"github.com/specialistvlad/audiogrid/internal/port"
)

// buffers holds the full-length storage behind a node's ports. It is
// replaced wholesale on every Prepare so that a plan still holding the old
// slices never observes a partially resized buffer.
type buffers struct {
	frames                int
	audioIn, audioOut     [][]float32
	midiIn, midiOut       []*event.Buffer[event.MIDI]
	controlIn, controlOut []*event.Buffer[event.Control]
}

func (b *buffers) allocate(ports port.List, frames int) {
	*b = buffers{
		frames:     frames,
		audioIn:    audioBuffers(ports.Count(port.Audio, port.Input), frames),
		audioOut:   audioBuffers(ports.Count(port.Audio, port.Output), frames),
		midiIn:     eventBuffers[event.MIDI](ports.Count(port.MIDI, port.Input)),
		midiOut:    eventBuffers[event.MIDI](ports.Count(port.MIDI, port.Output)),
		controlIn:  eventBuffers[event.Control](ports.Count(port.Control, port.Input)),
		controlOut: eventBuffers[event.Control](ports.Count(port.Control, port.Output)),
	}
}

// block returns a Block whose slice headers are rewritten in place by Render.
func (b *buffers) block() Block {
	return Block{
		AudioIn:    make([][]float32, len(b.audioIn)),
		AudioOut:   make([][]float32, len(b.audioOut)),
		MIDIIn:     b.midiIn,
		MIDIOut:    b.midiOut,
		ControlIn:  b.controlIn,
		ControlOut: b.controlOut,
	}
}

func audioBuffers(n, frames int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

func eventBuffers[T event.Timed](n int) []*event.Buffer[T] {
	out := make([]*event.Buffer[T], n)
	for i := range out {
		out[i] = event.NewBuffer[T](event.DefaultCapacity)
	}
	return out
}

// ClearInputs silences every input buffer for the next frames frames. The
// engine calls it before mixing upstream outputs in.
func (n *Node) ClearInputs(frames int) {
	for _, buf := range n.buffers.audioIn {
		clear(buf[:frames])
	}
	for _, buf := range n.buffers.midiIn {
		buf.Clear()
	}
	for _, buf := range n.buffers.controlIn {
		buf.Clear()
	}
}

func (n *Node) clearOutputs(frames int) {
	for _, buf := range n.buffers.audioOut {
		clear(buf[:frames])
	}
	for _, buf := range n.buffers.midiOut {
		buf.Clear()
	}
	for _, buf := range n.buffers.controlOut {
		buf.Clear()
	}
}

// Render runs the processor for one block. It never allocates. A node that
// is not prepared, disabled or faulted produces silence; a bypassed node
// copies each input to the output of the same type and typed index.
//
// Render reports whether the processor panicked during this call.
func (n *Node) Render(frames int, hostIn, hostOut [][]float32) (panicked bool) {
	if frames > n.blockSize {
		frames = n.blockSize
	}
	n.clearOutputs(frames)

	st := n.Status()
	if (st != Prepared && st != Rendering) || !n.enabled.Load() || n.faulted.Load() {
		return false
	}
	if n.bypassed.Load() {
		n.passThrough(frames)
		return false
	}

	b := &n.block
	b.Frames = frames
	for i, buf := range n.buffers.audioIn {
		b.AudioIn[i] = buf[:frames]
	}
	for i, buf := range n.buffers.audioOut {
		b.AudioOut[i] = buf[:frames]
	}
	b.HostIn, b.HostOut = hostIn, hostOut
	if st == Prepared {
		n.status.Store(int32(Rendering))
	}

	defer func() {
		if r := recover(); r != nil {
			n.faulted.Store(true)
			n.changed.Store(true)
			n.clearOutputs(frames)
			panicked = true
		}
	}()
	n.proc.Render(b)
	return false
}

func (n *Node) passThrough(frames int) {
	for i, out := range n.buffers.audioOut {
		if i < len(n.buffers.audioIn) {
			copy(out[:frames], n.buffers.audioIn[i][:frames])
		}
	}
	for i, out := range n.buffers.midiOut {
		if i < len(n.buffers.midiIn) {
			out.CopyFrom(n.buffers.midiIn[i])
		}
	}
	for i, out := range n.buffers.controlOut {
		if i < len(n.buffers.controlIn) {
			out.CopyFrom(n.buffers.controlIn[i])
		}
	}
}
