package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/audiogrid/internal/device"
	"github.com/specialistvlad/audiogrid/internal/graph"
)

// ErrNotSuspended is returned by operations that require the real-time
// goroutine to be parked.
var ErrNotSuspended = errors.New("engine is not suspended")

// Stats is a snapshot of the engine's counters.
type Stats struct {
	Generation   uint64 `json:"generation"`
	Nodes        int    `json:"nodes"`
	Blocks       uint64 `json:"blocks"`
	SilentBlocks uint64 `json:"silent_blocks"`
	Overruns     uint64 `json:"overruns"`
	Faults       uint64 `json:"faults"`
	Retired      int    `json:"retired"`
	// LastOverrun is how far the most recent late callback overshot.
	LastOverrun time.Duration `json:"last_overrun"`
}

type retired struct {
	generation uint64
	reclaim    func()
}

// Engine executes published plans on the real-time goroutine.
//
// Process is the only method the real-time goroutine calls. Every other
// method belongs to control goroutines and is serialized by the caller,
// except Stats and ReportOverrun which are safe from anywhere.
type Engine struct {
	plan      atomic.Pointer[Plan]
	active    atomic.Int32
	observed  atomic.Uint64
	suspended atomic.Bool

	blocks       atomic.Uint64
	silentBlocks atomic.Uint64
	overruns     atomic.Uint64
	faults       atomic.Uint64
	lastOverrun  atomic.Int64

	// Written only while suspended.
	cfg     device.Config
	viewsIn [][]float32
	viewOut [][]float32

	mu         sync.Mutex
	generation uint64
	retired    []retired
}

// New returns an engine configured for cfg with an empty plan published.
func New(cfg device.Config) *Engine {
	e := &Engine{}
	e.configure(cfg)
	e.generation = 1
	e.plan.Store(&Plan{generation: 1, blockSize: cfg.BufferSize})
	return e
}

func (e *Engine) configure(cfg device.Config) {
	e.cfg = cfg
	e.viewsIn = make([][]float32, cfg.InputChannels)
	e.viewOut = make([][]float32, cfg.OutputChannels)
}

// Config returns the device configuration the engine renders against.
func (e *Engine) Config() device.Config { return e.cfg }

// Process renders frames frames into out, reading device input from in. It
// never blocks and never allocates. Output is silence while the engine is
// suspended.
func (e *Engine) Process(in, out [][]float32, frames int) {
	e.active.Add(1)
	defer e.active.Add(-1)

	for _, ch := range out {
		clear(ch[:frames])
	}
	if e.suspended.Load() {
		e.silentBlocks.Add(1)
		return
	}
	p := e.plan.Load()
	e.observed.Store(p.generation)
	e.blocks.Add(1)
	if p.blockSize <= 0 || len(p.steps) == 0 {
		return
	}

	hostIn := e.viewsIn[:min(len(in), len(e.viewsIn))]
	hostOut := e.viewOut[:min(len(out), len(e.viewOut))]
	for off := 0; off < frames; off += p.blockSize {
		n := min(p.blockSize, frames-off)
		for i := range hostIn {
			hostIn[i] = in[i][off : off+n]
		}
		for i := range hostOut {
			hostOut[i] = out[i][off : off+n]
		}
		if f := p.render(n, hostIn, hostOut); f > 0 {
			e.faults.Add(uint64(f))
		}
	}
}

// Current returns the plan the real-time goroutine will use next.
func (e *Engine) Current() *Plan { return e.plan.Load() }

// Publish compiles g and makes it the current plan with a new generation.
// Objects removed from the graph before this call may be handed to Retire
// afterwards.
func (e *Engine) Publish(g *graph.Graph) *Plan {
	e.mu.Lock()
	e.generation++
	p := Compile(e.generation, g, e.cfg.BufferSize)
	e.mu.Unlock()
	e.plan.Store(p)
	return p
}

// Retire schedules reclaim to run once no in-flight render can still be
// using a plan older than the current one.
func (e *Engine) Retire(reclaim func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retired = append(e.retired, retired{generation: e.generation, reclaim: reclaim})
}

// Quiescent reports whether no render that started before generation gen
// was published is still running.
func (e *Engine) Quiescent(gen uint64) bool {
	return e.active.Load() == 0 || e.observed.Load() >= gen
}

// Collect runs every retired reclaimer that has become safe and returns how
// many ran.
func (e *Engine) Collect() int {
	e.mu.Lock()
	var ready []func()
	kept := e.retired[:0]
	for _, r := range e.retired {
		if e.Quiescent(r.generation) {
			ready = append(ready, r.reclaim)
		} else {
			kept = append(kept, r)
		}
	}
	clear(e.retired[len(kept):])
	e.retired = kept
	e.mu.Unlock()

	for _, fn := range ready {
		fn()
	}
	return len(ready)
}

// Drain collects until nothing is left or ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		e.Collect()
		e.mu.Lock()
		left := len(e.retired)
		e.mu.Unlock()
		if left == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("draining %d retired objects: %w", left, ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

// Suspend parks the real-time goroutine: once it returns, no render is in
// flight and every later Process call outputs silence until Resume.
func (e *Engine) Suspend(ctx context.Context) error {
	e.suspended.Store(true)
	for e.active.Load() != 0 {
		if err := ctx.Err(); err != nil {
			e.suspended.Store(false)
			return fmt.Errorf("waiting for render to finish: %w", err)
		}
		runtime.Gosched()
	}
	return nil
}

// Resume lets the real-time goroutine render again.
func (e *Engine) Resume() { e.suspended.Store(false) }

// Suspended reports whether rendering is parked.
func (e *Engine) Suspended() bool { return e.suspended.Load() }

// Configure changes the device configuration. The engine must be suspended.
func (e *Engine) Configure(cfg device.Config) error {
	if !e.suspended.Load() {
		return ErrNotSuspended
	}
	e.configure(cfg)
	return nil
}

// ReportOverrun records a missed render deadline.
func (e *Engine) ReportOverrun(elapsed, deadline time.Duration) {
	e.lastOverrun.Store(int64(elapsed - deadline))
	e.overruns.Add(1)
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	p := e.plan.Load()
	e.mu.Lock()
	pending := len(e.retired)
	e.mu.Unlock()
	return Stats{
		Generation:   p.generation,
		Nodes:        len(p.steps),
		Blocks:       e.blocks.Load(),
		SilentBlocks: e.silentBlocks.Load(),
		Overruns:     e.overruns.Load(),
		Faults:       e.faults.Load(),
		Retired:      pending,
		LastOverrun:  time.Duration(e.lastOverrun.Load()),
	}
}
