// Package audioio provides the graph endpoints for the audio device: an
// input node whose outputs carry the device input channels and an output node
// whose inputs are summed into the device output channels. Both follow the
// device channel counts when it is reconfigured.
package audioio

import (
	"strconv"

	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
)

const (
	InputTypeID  = "audio.input"
	OutputTypeID = "audio.output"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the input and output node kinds.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNodeType(&registry.NodeType{
		ID:   InputTypeID,
		Name: "Audio Input",
		New:  func(any) (node.Processor, error) { return NewInput(2), nil },
	})
	r.RegisterNodeType(&registry.NodeType{
		ID:   OutputTypeID,
		Name: "Audio Output",
		New:  func(any) (node.Processor, error) { return NewOutput(2), nil },
	})
}

// IO is a device endpoint. Which side it serves is fixed at construction.
type IO struct {
	output   bool
	channels int
	ports    port.List
}

// NewInput returns a device input endpoint with the given channel count.
func NewInput(channels int) *IO {
	io := &IO{channels: channels}
	io.ports = io.layout()
	return io
}

// NewOutput returns a device output endpoint with the given channel count.
func NewOutput(channels int) *IO {
	io := &IO{output: true, channels: channels}
	io.ports = io.layout()
	return io
}

func (io *IO) layout() port.List {
	var b port.Builder
	for ch := 0; ch < io.channels; ch++ {
		if io.output {
			b.Add(port.Audio, port.Input, ch, "out_"+strconv.Itoa(ch), "Output "+strconv.Itoa(ch+1))
		} else {
			b.Add(port.Audio, port.Output, ch, "in_"+strconv.Itoa(ch), "Input "+strconv.Itoa(ch+1))
		}
	}
	return b.List()
}

// Channels returns the current channel count.
func (io *IO) Channels() int { return io.channels }

func (io *IO) Describe() node.Description {
	if io.output {
		return node.Description{Type: OutputTypeID, Name: "Audio Output", Ports: io.ports}
	}
	return node.Description{Type: InputTypeID, Name: "Audio Input", Ports: io.ports}
}

// ResizePorts follows the device channel count for this endpoint's side.
func (io *IO) ResizePorts(cfg device.Config) bool {
	want := cfg.InputChannels
	if io.output {
		want = cfg.OutputChannels
	}
	if want == io.channels {
		return false
	}
	io.channels = want
	io.ports = io.layout()
	return true
}

func (io *IO) Prepare(float64, int) error { return nil }

func (io *IO) Render(b *node.Block) {
	if io.output {
		for ch, in := range b.AudioIn {
			if ch >= len(b.HostOut) {
				break
			}
			out := b.HostOut[ch]
			for i, s := range in[:b.Frames] {
				out[i] += s
			}
		}
		return
	}
	for ch, out := range b.AudioOut {
		if ch < len(b.HostIn) {
			copy(out[:b.Frames], b.HostIn[ch])
		}
	}
}

func (io *IO) Release() {}

func (io *IO) State() ([]byte, error) { return nil, nil }

func (io *IO) SetState([]byte) error { return nil }
