package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/graph"
	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/specialistvlad/audiogrid/internal/port"
	"github.com/specialistvlad/audiogrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = device.Config{SampleRate: 48000, BufferSize: 16, InputChannels: 1, OutputChannels: 1}

func channels(n, frames int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

func addPrepared(t *testing.T, g *graph.Graph, p *testutil.Proc) *node.Node {
	t.Helper()
	n := testutil.NewNode(p)
	g.AddNode(n)
	require.NoError(t, n.Prepare(testConfig.SampleRate, testConfig.BufferSize))
	return n
}

func connect(t *testing.T, g *graph.Graph, src, dst *node.Node) {
	t.Helper()
	_, err := g.ConnectChannels(src.ID(), 0, dst.ID(), 0, port.Audio)
	require.NoError(t, err)
}

func TestProcess_RendersPublishedPlan(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	a := addPrepared(t, g, testutil.NewSource(0.5))
	b := addPrepared(t, g, testutil.NewSource(0.25))
	through := addPrepared(t, g, testutil.NewPassThrough(1, 1))
	sink := addPrepared(t, g, testutil.NewSink(1))
	connect(t, g, a, through)
	connect(t, g, b, through)
	connect(t, g, through, sink)

	p := e.Publish(g)
	assert.Equal(t, uint64(2), p.Generation())
	assert.Equal(t, []uint32{1, 2, 3, 4}, p.Order())
	assert.Equal(t, 2, through.RenderIndex())

	in, out := channels(1, 40), channels(1, 40)
	e.Process(in, out, 40)

	for i, s := range out[0] {
		require.InDelta(t, 0.75, s, 1e-6, "frame %d", i)
	}
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Blocks)
	assert.Equal(t, 4, stats.Nodes)
}

func TestProcess_DisconnectedChainRendersSilence(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	a := addPrepared(t, g, testutil.NewSource(0.5))
	b := addPrepared(t, g, testutil.NewPassThrough(1, 1))
	c := addPrepared(t, g, testutil.NewPassThrough(1, 1))
	sink := addPrepared(t, g, testutil.NewSink(1))
	ab, err := g.ConnectChannels(a.ID(), 0, b.ID(), 0, port.Audio)
	require.NoError(t, err)
	connect(t, g, b, c)
	connect(t, g, c, sink)
	e.Publish(g)

	in, out := channels(1, 16), channels(1, 16)
	e.Process(in, out, 16)
	assert.InDelta(t, 0.5, c.AudioOutput(0)[0], 1e-6)

	require.NoError(t, g.Disconnect(ab))
	assert.Equal(t, []uint32{1, 2, 3, 4}, e.Publish(g).Order())

	e.Process(in, out, 16)
	for i := range 16 {
		require.Zero(t, c.AudioOutput(0)[i], "frame %d", i)
		require.Zero(t, out[0][i], "frame %d", i)
	}
	assert.InDelta(t, 0.5, a.AudioOutput(0)[0], 1e-6, "the source keeps rendering")
}

func TestProcess_NoAllocations(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	src := addPrepared(t, g, testutil.NewSource(1))
	sink := addPrepared(t, g, testutil.NewSink(1))
	connect(t, g, src, sink)
	e.Publish(g)

	in, out := channels(1, 16), channels(1, 16)
	allocs := testing.AllocsPerRun(50, func() { e.Process(in, out, 16) })
	assert.Zero(t, allocs)
}

func TestCompile_SkipsUnpreparedNodes(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	src := addPrepared(t, g, testutil.NewSource(1))
	fresh := testutil.NewNode(testutil.NewSink(1))
	g.AddNode(fresh)
	connect(t, g, src, fresh)

	p := e.Publish(g)
	assert.True(t, p.Contains(src.ID()))
	assert.False(t, p.Contains(fresh.ID()))
	assert.Equal(t, -1, fresh.RenderIndex())

	in, out := channels(1, 16), channels(1, 16)
	e.Process(in, out, 16)
	assert.Equal(t, float32(0), out[0][0])
}

func TestSuspend_OutputsSilence(t *testing.T) {
	ctx := context.Background()
	e := New(testConfig)
	g := graph.New()
	src := addPrepared(t, g, testutil.NewSource(1))
	sink := addPrepared(t, g, testutil.NewSink(1))
	connect(t, g, src, sink)
	e.Publish(g)

	assert.ErrorIs(t, e.Configure(testConfig), ErrNotSuspended)

	require.NoError(t, e.Suspend(ctx))
	assert.True(t, e.Suspended())
	in, out := channels(1, 16), channels(1, 16)
	out[0][3] = 9
	e.Process(in, out, 16)
	assert.Equal(t, make([]float32, 16), out[0])
	assert.Equal(t, uint64(1), e.Stats().SilentBlocks)

	require.NoError(t, e.Configure(testConfig))
	e.Resume()
	e.Process(in, out, 16)
	assert.Equal(t, float32(1), out[0][3])
}

func TestSuspend_WaitsForInFlightRender(t *testing.T) {
	e := New(testConfig)
	e.active.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Suspend(ctx), context.DeadlineExceeded)
	assert.False(t, e.Suspended(), "a failed suspend does not leave the engine parked")

	done := make(chan error, 1)
	go func() { done <- e.Suspend(context.Background()) }()
	time.Sleep(5 * time.Millisecond)
	e.active.Add(-1)
	require.NoError(t, <-done)
}

func TestRetire_WaitsForQuiescence(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	e.Publish(g)

	// Simulate a render that loaded the previous plan and is still running.
	e.active.Add(1)
	e.observed.Store(1)

	var reclaimed atomic.Bool
	e.Publish(g)
	e.Retire(func() { reclaimed.Store(true) })

	assert.Zero(t, e.Collect())
	assert.Equal(t, 1, e.Stats().Retired)

	// The render picks up the new plan.
	e.observed.Store(e.Current().Generation())
	assert.Equal(t, 1, e.Collect())
	assert.True(t, reclaimed.Load())
	e.active.Add(-1)

	e.Retire(func() {})
	require.NoError(t, e.Drain(context.Background()))
}

func TestProcess_FaultIsolated(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	good := addPrepared(t, g, testutil.NewSource(0.5))
	badProc := testutil.NewSource(0.25)
	bad := addPrepared(t, g, badProc)
	sink := addPrepared(t, g, testutil.NewSink(1))
	connect(t, g, good, sink)
	connect(t, g, bad, sink)
	e.Publish(g)

	badProc.PanicOnNextRender()
	in, out := channels(1, 16), channels(1, 16)
	e.Process(in, out, 16)

	assert.True(t, bad.Faulted())
	assert.False(t, good.Faulted())
	assert.InDelta(t, 0.5, out[0][0], 1e-6)
	assert.Equal(t, uint64(1), e.Stats().Faults)

	e.Process(in, out, 16)
	assert.InDelta(t, 0.5, out[0][0], 1e-6, "faulted node stays silent")
}

// waitForBlocks yields until the render goroutine has completed at least n
// callbacks.
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

// TestPublish_ConcurrentRender renders continuously while the control side
// swaps plans and releases removed nodes. Every callback must see one whole
// plan, and no processor may be released while it renders.
func TestPublish_ConcurrentRender(t *testing.T) {
	e := New(testConfig)
	g := graph.New()
	base := addPrepared(t, g, testutil.NewSource(0.5))
	sink := addPrepared(t, g, testutil.NewSink(1))
	connect(t, g, base, sink)
	e.Publish(g)

	var (
		stop    atomic.Bool
		wg      sync.WaitGroup
		partial atomic.Int64
		blocks  atomic.Int64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		in, out := channels(1, 48), channels(1, 48)
		for !stop.Load() {
			e.Process(in, out, 48)
			first := out[0][0]
			if first != 0.5 && first != 0.75 {
				partial.Add(1)
			}
			for _, s := range out[0] {
				if s != first {
					partial.Add(1)
					break
				}
			}
			blocks.Add(1)
		}
	}()

	waitForBlocks(t, &blocks, 1)

	var procs []*testutil.Proc
	for i := 0; i < 300; i++ {
		p := testutil.NewSource(0.25)
		procs = append(procs, p)
		extra := addPrepared(t, g, p)
		connect(t, g, extra, sink)
		e.Publish(g)
		waitForBlocks(t, &blocks, blocks.Load()+1)

		_, _, err := g.RemoveNode(extra.ID())
		require.NoError(t, err)
		e.Publish(g)
		e.Retire(extra.Destroy)
		e.Collect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Drain(ctx))
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, partial.Load(), "a callback observed a partially built plan")
	assert.Positive(t, blocks.Load())
	for _, p := range procs {
		assert.Zero(t, p.Violations())
		assert.False(t, p.Prepared())
	}
}
