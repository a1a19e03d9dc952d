package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/specialistvlad/audiogrid/internal/engine"
	"github.com/specialistvlad/audiogrid/internal/events"
	"github.com/specialistvlad/audiogrid/internal/graph"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/registry"
	"github.com/specialistvlad/audiogrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

var testConfig = device.Config{SampleRate: 48000, BufferSize: 16, InputChannels: 2, OutputChannels: 2}

type sourceParams struct {
	Value float64 `cty:"value"`
}

// kinds registers test node kinds and remembers every processor it builds.
type kinds struct {
	mu    sync.Mutex
	procs []*testutil.Proc
}

func (k *kinds) track(p *testutil.Proc) *testutil.Proc {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.procs = append(k.procs, p)
	return p
}

func (k *kinds) all() []*testutil.Proc {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]*testutil.Proc(nil), k.procs...)
}

func (k *kinds) Register(r *registry.Registry) {
	r.RegisterNodeType(&registry.NodeType{
		ID:        "test.source",
		NewParams: func() any { return &sourceParams{Value: 1} },
		New: func(params any) (node.Processor, error) {
			return k.track(testutil.NewSource(float32(params.(*sourceParams).Value))), nil
		},
	})
	r.RegisterNodeType(&registry.NodeType{
		ID:  "test.through",
		New: func(any) (node.Processor, error) { return k.track(testutil.NewPassThrough(1, 1)), nil },
	})
	r.RegisterNodeType(&registry.NodeType{
		ID:  "test.sink",
		New: func(any) (node.Processor, error) { return k.track(testutil.NewSink(2)), nil },
	})
	r.RegisterNodeType(&registry.NodeType{
		ID: "test.io",
		New: func(any) (node.Processor, error) {
			p := testutil.NewPassThrough(0, 2)
			p.TypeID = "test.io"
			p.Constant = 0.5
			p.Resize = func(cfg device.Config) port.List {
				var b port.Builder
				for ch := 0; ch < cfg.InputChannels; ch++ {
					b.Add(port.Audio, port.Output, ch, "out", "Out")
				}
				return b.List()
			}
			return k.track(p), nil
		},
	})
	r.RegisterNodeType(&registry.NodeType{
		ID: "test.broken",
		New: func(any) (node.Processor, error) {
			p := testutil.NewSource(1)
			p.TypeID = "test.broken"
			p.PrepareErr = errors.New("no resources")
			return k.track(p), nil
		},
	})
}

type fixture struct {
	ctx   context.Context
	c     *Controller
	eng   *engine.Engine
	dev   *device.Static
	kinds *kinds
	evs   <-chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	k := &kinds{}
	reg := registry.New()
	k.Register(reg)
	require.NoError(t, reg.ValidateRegistry(ctx))
	// forget the processors built by validation
	k.mu.Lock()
	k.procs = nil
	k.mu.Unlock()

	dev := device.NewStatic(testConfig)
	eng := engine.New(testConfig)
	bus := events.NewBus()
	evs, cancel := bus.Subscribe(256)
	t.Cleanup(cancel)

	c := New(Options{Registry: reg, Engine: eng, Bus: bus, Device: dev, Name: "test"})
	return &fixture{ctx: ctx, c: c, eng: eng, dev: dev, kinds: k, evs: evs}
}

func (f *fixture) add(t *testing.T, typeID string, params cty.Value) uint32 {
	t.Helper()
	id, err := f.c.AddNode(f.ctx, typeID, params)
	require.NoError(t, err)
	return id
}

func (f *fixture) connect(t *testing.T, src, dst uint32) graph.Connection {
	t.Helper()
	conn, err := f.c.ConnectChannels(f.ctx, port.Audio, src, 0, dst, 0)
	require.NoError(t, err)
	return conn
}

func (f *fixture) render(frames int) [][]float32 {
	in := [][]float32{make([]float32, frames), make([]float32, frames)}
	out := [][]float32{make([]float32, frames), make([]float32, frames)}
	f.eng.Process(in, out, frames)
	return out
}

// drain returns the kinds of every event published so far.
func (f *fixture) drain() []events.Kind {
	var kinds []events.Kind
	for {
		select {
		case e := <-f.evs:
			kinds = append(kinds, e.Kind)
		default:
			return kinds
		}
	}
}

func (f *fixture) drainEvents() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-f.evs:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestController_MutationsPublishPlans(t *testing.T) {
	f := newFixture(t)

	src := f.add(t, "test.source", cty.ObjectVal(map[string]cty.Value{"value": cty.NumberFloatVal(0.25)}))
	sink := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, src, sink)

	assert.Equal(t, []uint32{src, sink}, f.c.Order())
	out := f.render(testConfig.BufferSize)
	assert.Equal(t, float32(0.25), out[0][0])
	assert.Equal(t, float32(0), out[1][0])
	assert.Equal(t, []events.Kind{events.TopologyChanged, events.TopologyChanged, events.TopologyChanged}, f.drain())

	require.NoError(t, f.c.SetBypassed(f.ctx, src, true))
	assert.Equal(t, []events.Kind{events.NodeStateChanged}, f.drain())

	require.NoError(t, f.c.SetEnabled(f.ctx, src, false))
	out = f.render(testConfig.BufferSize)
	assert.Equal(t, float32(0), out[0][0])

	d, err := f.c.Document(f.ctx)
	require.NoError(t, err)
	require.Len(t, d.Nodes, 2)
	assert.False(t, d.Nodes[0].Enabled)
	assert.True(t, d.Nodes[0].Bypassed)
	assert.Equal(t, []document.Arc{{SourceNode: src, DestNode: sink}}, d.Arcs)
}

func TestController_ValidationLeavesGraphUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "test.through", cty.NilVal)
	b := f.add(t, "test.through", cty.NilVal)
	conn := f.connect(t, a, b)
	f.drain()
	gen := f.eng.Current().Generation()

	tests := []struct {
		name string
		conn graph.Connection
		want error
	}{
		{"missing node", graph.Connection{SourceNode: a, SourcePort: 1, DestNode: 99, DestPort: 0}, ErrNodeNotFound},
		{"missing port", graph.Connection{SourceNode: a, SourcePort: 7, DestNode: b, DestPort: 0}, graph.ErrPortNotFound},
		{"duplicate", conn, graph.ErrDuplicateConnection},
		{"cycle", graph.Connection{SourceNode: b, SourcePort: 1, DestNode: a, DestPort: 0}, graph.ErrWouldCreateIllegalCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.c.Connect(f.ctx, tt.conn), tt.want)
		})
	}

	_, err := f.c.AddNode(f.ctx, "test.missing", cty.NilVal)
	assert.ErrorIs(t, err, registry.ErrUnknownType)
	assert.ErrorIs(t, f.c.RemoveNode(f.ctx, 42), ErrNodeNotFound)
	assert.ErrorIs(t, f.c.SetEnabled(f.ctx, 42, false), ErrNodeNotFound)
	assert.ErrorIs(t, f.c.Disconnect(f.ctx, graph.Connection{SourceNode: b, DestNode: a}), graph.ErrConnectionNotFound)

	assert.Equal(t, []graph.Connection{conn}, f.c.Connections())
	assert.Equal(t, gen, f.eng.Current().Generation())
	assert.Empty(t, f.drain())
}

func TestController_RemoveNodeDestroysAfterCollect(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "test.source", cty.NilVal)
	b := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, a, b)
	procs := f.kinds.all()

	require.NoError(t, f.c.RemoveNode(f.ctx, a))
	f.c.Poll(f.ctx)

	assert.False(t, procs[0].Prepared())
	assert.Equal(t, 1, procs[0].Releases())
	assert.Empty(t, f.c.Connections())
	assert.Equal(t, []uint32{b}, f.c.Order())

	require.NoError(t, f.c.Close(f.ctx))
	assert.Equal(t, 1, procs[1].Releases())
	assert.Equal(t, 0, f.eng.Stats().Retired)
}

func TestController_SetRootRoundTrip(t *testing.T) {
	f := newFixture(t)
	src := f.add(t, "test.source", cty.ObjectVal(map[string]cty.Value{"value": cty.NumberFloatVal(0.5)}))
	through := f.add(t, "test.through", cty.NilVal)
	sink := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, src, through)
	f.connect(t, through, sink)
	require.NoError(t, f.c.SetName(f.ctx, through, "Level"))
	f.kinds.all()[1].StateBlob = []byte("knob=3")

	saved, err := f.c.Document(f.ctx)
	require.NoError(t, err)

	g := newFixture(t)
	g.add(t, "test.source", cty.NilVal)
	require.NoError(t, g.c.SetRoot(g.ctx, saved))
	g.c.Poll(g.ctx)

	assert.Equal(t, f.c.Connections(), g.c.Connections())
	assert.Equal(t, f.c.Order(), g.c.Order())
	out := g.render(testConfig.BufferSize)
	assert.Equal(t, float32(0.5), out[0][0])

	loaded, err := g.c.Document(g.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Level", loaded.Nodes[1].Name)
	assert.Equal(t, []byte("knob=3"), loaded.Nodes[1].State)

	want, err := document.Digest(saved)
	require.NoError(t, err)
	got, err := document.Digest(loaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// the node of the replaced graph is released
	assert.Equal(t, 1, g.kinds.all()[0].Releases())
}

func TestController_SetNodeState(t *testing.T) {
	f := newFixture(t)
	src := f.add(t, "test.source", cty.NilVal)
	f.drain()
	proc := f.kinds.all()[0]

	var suspended bool
	proc.OnSetState = func() { suspended = f.eng.Suspended() }

	require.NoError(t, f.c.SetNodeState(f.ctx, src, []byte("knob=7")))
	assert.True(t, suspended, "state is restored while rendering is suspended")
	assert.False(t, f.eng.Suspended())
	assert.Equal(t, []byte("knob=7"), proc.StateBlob)

	evs := f.drainEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, events.NodeStateChanged, evs[0].Kind)
	assert.Equal(t, src, evs[0].Node)

	d, err := f.c.Document(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("knob=7"), d.Nodes[0].State)

	err = f.c.SetNodeState(f.ctx, src, []byte("corrupt"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "corrupt state")
	assert.False(t, f.eng.Suspended(), "rendering resumes after a failed restore")
	assert.Equal(t, []byte("knob=7"), proc.StateBlob)
	assert.Empty(t, f.drain())

	assert.ErrorIs(t, f.c.SetNodeState(f.ctx, 42, []byte("x")), ErrNodeNotFound)

	out := f.render(testConfig.BufferSize)
	assert.Len(t, out, 2)
}

func TestController_SetRootFailureKeepsActiveGraph(t *testing.T) {
	f := newFixture(t)
	src := f.add(t, "test.source", cty.NilVal)
	sink := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, src, sink)
	before, err := f.c.Document(f.ctx)
	require.NoError(t, err)
	f.drain()

	valid := func() *document.Document {
		d := document.New("next")
		d.AddNode(document.Node{ID: 1, Type: "test.source", Name: "a", Enabled: true})
		d.AddNode(document.Node{ID: 2, Type: "test.sink", Name: "b", Enabled: true})
		d.AddArc(document.Arc{SourceNode: 1, DestNode: 2})
		return d
	}

	tests := []struct {
		name   string
		mutate func(d *document.Document)
		want   error
	}{
		{"root type", func(d *document.Document) { d.Type = "patch" }, ErrRootTypeMismatch},
		{"unknown kind", func(d *document.Document) { d.Nodes[0].Type = "test.missing" }, ErrInvalidGraphDocument},
		{"dangling arc", func(d *document.Document) { d.Arcs[0].DestNode = 9 }, ErrInvalidGraphDocument},
		{"corrupt state", func(d *document.Document) { d.Nodes[1].State = []byte("corrupt") }, ErrInvalidGraphDocument},
		{"cycle", func(d *document.Document) {
			d.AddNode(document.Node{ID: 3, Type: "test.through", Enabled: true})
			d.AddNode(document.Node{ID: 4, Type: "test.through", Enabled: true})
			d.AddArc(document.Arc{SourceNode: 3, SourcePort: 1, DestNode: 4})
			d.AddArc(document.Arc{SourceNode: 4, SourcePort: 1, DestNode: 3})
		}, ErrInvalidGraphDocument},
		{"port layout", func(d *document.Document) {
			var b port.Builder
			d.Nodes[0].Ports = b.Add(port.MIDI, port.Output, 0, "x", "X").List()
		}, ErrInvalidGraphDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			assert.ErrorIs(t, f.c.SetRoot(f.ctx, d), tt.want)

			after, err := f.c.Document(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Empty(t, f.drain())
		})
	}

	out := f.render(testConfig.BufferSize)
	assert.Equal(t, float32(1), out[0][0])
}

func TestController_ReconfigureResizesAndReprepares(t *testing.T) {
	f := newFixture(t)
	in := f.add(t, "test.io", cty.NilVal)
	sink := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, in, sink)
	right, err := f.c.ConnectChannels(f.ctx, port.Audio, in, 1, sink, 1)
	require.NoError(t, err)
	f.drain()

	out := f.render(testConfig.BufferSize)
	assert.Equal(t, float32(0.5), out[1][0])

	mono := testConfig
	mono.InputChannels = 1
	mono.BufferSize = 32
	require.NoError(t, f.c.Reconfigure(f.ctx, mono))

	assert.NotContains(t, f.c.Connections(), right)
	assert.Len(t, f.c.Connections(), 1)
	assert.Equal(t, 32, f.eng.Current().BlockSize())
	for _, info := range f.c.Nodes() {
		assert.Equal(t, node.Prepared.String(), info.Status)
	}
	assert.Contains(t, f.drain(), events.DeviceChanged)

	out = f.render(32)
	assert.Equal(t, float32(0.5), out[0][31])
	assert.Equal(t, float32(0), out[1][0])

	d, err := f.c.Document(f.ctx)
	require.NoError(t, err)
	assert.Len(t, d.Nodes[0].Ports, 1)
	assert.Len(t, d.Arcs, 1)
	assert.False(t, f.eng.Suspended())
}

func TestController_PrepareFailureRendersSilence(t *testing.T) {
	f := newFixture(t)
	broken := f.add(t, "test.broken", cty.NilVal)
	sink := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, broken, sink)

	evs := f.drainEvents()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.NodeFault, evs[0].Kind)
	assert.Equal(t, broken, evs[0].Node)

	out := f.render(testConfig.BufferSize)
	assert.Equal(t, float32(0), out[0][0])

	cfg := testConfig
	cfg.BufferSize = 64
	err := f.c.Reconfigure(f.ctx, cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no resources")
	assert.Contains(t, f.drain(), events.ReconfigureFailed)
	assert.False(t, f.eng.Suspended())
}

func TestController_PollReportsObservability(t *testing.T) {
	f := newFixture(t)
	src := f.add(t, "test.source", cty.NilVal)
	sink := f.add(t, "test.sink", cty.NilVal)
	f.connect(t, src, sink)
	f.drain()

	f.kinds.all()[0].PanicOnNextRender()
	f.render(testConfig.BufferSize)
	f.eng.ReportOverrun(2*time.Millisecond, time.Millisecond)
	f.c.Poll(f.ctx)

	evs := f.drainEvents()
	byKind := map[events.Kind]events.Event{}
	for _, e := range evs {
		byKind[e.Kind] = e
	}
	assert.Equal(t, src, byKind[events.NodeFault].Node)
	assert.Equal(t, uint64(1), byKind[events.DeadlineMissed].Count)
	assert.Equal(t, time.Millisecond, byKind[events.DeadlineMissed].Overrun)
	assert.Equal(t, src, byKind[events.NodeStateChanged].Node)

	// nothing new to report
	f.c.Poll(f.ctx)
	assert.Empty(t, f.drain())

	// device changes are picked up by polling
	cfg := testConfig
	cfg.SampleRate = 96000
	require.NoError(t, f.dev.Set(cfg))
	f.c.Poll(f.ctx)
	assert.Equal(t, cfg, f.c.Config())
	assert.Contains(t, f.drain(), events.DeviceChanged)
	assert.False(t, f.kinds.all()[0].Violations() > 0)
}

func waitForBlocks(t *testing.T, blocks *atomic.Int64, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for blocks.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("render goroutine stalled at %d blocks, want %d", blocks.Load(), n)
		}
		runtime.Gosched()
	}
}

func TestController_PollPublishesNodeLogs(t *testing.T) {
	f := newFixture(t)
	src := f.add(t, "test.source", cty.NilVal)
	f.drain()
	proc := f.kinds.all()[0]

	proc.AppendLog("1: Start", "9: Stop")
	f.c.Poll(f.ctx)

	evs := f.drainEvents()
	require.Len(t, evs, 2)
	assert.Equal(t, events.NodeStateChanged, evs[0].Kind)
	assert.Equal(t, events.NodeLog, evs[1].Kind)
	assert.Equal(t, src, evs[1].Node)
	assert.Equal(t, []string{"1: Start", "9: Stop"}, evs[1].Log)

	// drained lines are not sent twice
	f.c.Poll(f.ctx)
	assert.Empty(t, f.drain())
}

func TestController_ConcurrentRendering(t *testing.T) {
	f := newFixture(t)
	sink := f.add(t, "test.sink", cty.NilVal)

	ctx, cancel := context.WithCancel(f.ctx)
	var blocks atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in := [][]float32{make([]float32, 16), make([]float32, 16)}
		out := [][]float32{make([]float32, 16), make([]float32, 16)}
		for ctx.Err() == nil {
			f.eng.Process(in, out, 16)
			blocks.Add(1)
		}
	}()

	waitForBlocks(t, &blocks, 1)

	for i := 0; i < 50; i++ {
		src := f.add(t, "test.source", cty.NilVal)
		through := f.add(t, "test.through", cty.NilVal)
		f.connect(t, src, through)
		f.connect(t, through, sink)
		if i%5 == 0 {
			cfg := testConfig
			cfg.BufferSize = 16 << (i % 2)
			require.NoError(t, f.c.Reconfigure(f.ctx, cfg))
		}
		if i%3 == 0 {
			require.NoError(t, f.c.RemoveNode(f.ctx, through))
		}
		f.c.Poll(f.ctx)
		waitForBlocks(t, &blocks, blocks.Load()+1)
	}
	f.c.Clear(f.ctx)

	cancel()
	wg.Wait()
	require.NoError(t, f.eng.Drain(context.Background()))
	assert.Positive(t, blocks.Load())

	for _, p := range f.kinds.all() {
		assert.Zero(t, p.Violations())
		assert.False(t, p.Prepared())
	}
}
