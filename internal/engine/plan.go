package engine

import (
	"github.com/specialistvlad/audiogrid/internal/graph"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
)

// source is one upstream output feeding an input, addressed by typed index.
type source struct {
	node  *node.Node
	index int
}

// input lists every source mixed into one input, addressed by typed index.
type input struct {
	index   int
	sources []source
}

type step struct {
	node    *node.Node
	audio   []input
	midi    []input
	control []input
}

// Plan is an immutable render schedule compiled from a graph. Once published
// it is only ever read, by the real-time goroutine.
type Plan struct {
	generation uint64
	blockSize  int
	steps      []step
	members    map[uint32]struct{}
}

// Generation returns the plan's monotonically increasing generation number.
func (p *Plan) Generation() uint64 { return p.generation }

// BlockSize returns the largest number of frames rendered per step pass.
func (p *Plan) BlockSize() int { return p.blockSize }

// Len returns the number of scheduled nodes.
func (p *Plan) Len() int { return len(p.steps) }

// Order returns the scheduled node ids in render order.
func (p *Plan) Order() []uint32 {
	out := make([]uint32, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.node.ID()
	}
	return out
}

// Contains reports whether node id is scheduled by the plan.
func (p *Plan) Contains(id uint32) bool {
	_, ok := p.members[id]
	return ok
}

// Compile builds a plan from g. Nodes whose buffers are not allocated for
// blockSize frames are left out, together with every connection touching
// them, so a plan never reads memory it does not own.
func Compile(generation uint64, g *graph.Graph, blockSize int) *Plan {
	p := &Plan{
		generation: generation,
		blockSize:  blockSize,
		members:    make(map[uint32]struct{}),
	}
	order := g.Order()
	for _, id := range order {
		n, _ := g.Node(id)
		if n.Frames() < blockSize || blockSize <= 0 {
			n.SetRenderIndex(-1)
			continue
		}
		p.members[id] = struct{}{}
	}

	for _, id := range order {
		if _, ok := p.members[id]; !ok {
			continue
		}
		n, _ := g.Node(id)
		s := step{node: n}
		for _, c := range g.ConnectionsTo(id) {
			if _, ok := p.members[c.SourceNode]; !ok {
				continue
			}
			src, _ := g.Node(c.SourceNode)
			sp, _ := src.Port(c.SourcePort)
			srcIndex, _ := src.Ports().TypedIndex(c.SourcePort)
			dstIndex, _ := n.Ports().TypedIndex(c.DestPort)
			from := source{node: src, index: srcIndex}

			switch sp.Type {
			case port.Audio:
				s.audio = addSource(s.audio, dstIndex, from)
			case port.MIDI:
				s.midi = addSource(s.midi, dstIndex, from)
			case port.Control:
				s.control = addSource(s.control, dstIndex, from)
			}
		}
		n.SetRenderIndex(len(p.steps))
		p.steps = append(p.steps, s)
	}
	return p
}

func addSource(inputs []input, index int, src source) []input {
	for i := range inputs {
		if inputs[i].index == index {
			inputs[i].sources = append(inputs[i].sources, src)
			return inputs
		}
	}
	return append(inputs, input{index: index, sources: []source{src}})
}

// render runs every step once for frames frames and returns how many
// processors panicked.
func (p *Plan) render(frames int, hostIn, hostOut [][]float32) int {
	faults := 0
	for i := range p.steps {
		s := &p.steps[i]
		n := s.node
		n.ClearInputs(frames)
		for _, in := range s.audio {
			dst := n.AudioInput(in.index)[:frames]
			for _, src := range in.sources {
				mix(dst, src.node.AudioOutput(src.index)[:frames])
			}
		}
		for _, in := range s.midi {
			dst := n.MIDIInput(in.index)
			for _, src := range in.sources {
				dst.MergeFrom(src.node.MIDIOutput(src.index))
			}
		}
		for _, in := range s.control {
			dst := n.ControlInput(in.index)
			for _, src := range in.sources {
				dst.MergeFrom(src.node.ControlOutput(src.index))
			}
		}
		if n.Render(frames, hostIn, hostOut) {
			faults++
		}
	}
	return faults
}

func mix(dst, src []float32) {
	for i, s := range src {
		dst[i] += s
	}
}
