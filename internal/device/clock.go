package device

import (
	"context"
	"time"
)

// Callback is invoked once per buffer with hardware input and output
// channels. It must return before the next period elapses.
type Callback func(in, out [][]float32, frames int)

// OverrunFunc is told how long a callback that missed its deadline took.
type OverrunFunc func(elapsed, deadline time.Duration)

// Clock simulates a hardware-clocked audio callback: it calls the callback
// once every buffer period on a single goroutine and checks each call against
// the period deadline. Missed deadlines are reported, never enforced.
type Clock struct {
	cfg       Config
	callback  Callback
	onOverrun OverrunFunc
	in, out   [][]float32
}

// NewClock prepares a clock for cfg. Channel buffers are allocated here so
// that Run never allocates.
func NewClock(cfg Config, cb Callback, onOverrun OverrunFunc) *Clock {
	c := &Clock{cfg: cfg, callback: cb, onOverrun: onOverrun}
	c.in = allocChannels(cfg.InputChannels, cfg.BufferSize)
	c.out = allocChannels(cfg.OutputChannels, cfg.BufferSize)
	return c
}

func allocChannels(n, frames int) [][]float32 {
	ch := make([][]float32, n)
	for i := range ch {
		ch[i] = make([]float32, frames)
	}
	return ch
}

// Config returns the configuration the clock was built for.
func (c *Clock) Config() Config { return c.cfg }

// Period returns the duration of one buffer.
func (c *Clock) Period() time.Duration {
	return time.Duration(float64(time.Second) * float64(c.cfg.BufferSize) / c.cfg.SampleRate)
}

// Output returns the output channels written by the most recent callback.
// Only meaningful once Run has returned or from inside the callback.
func (c *Clock) Output() [][]float32 { return c.out }

// Tick runs a single callback synchronously and returns its duration.
func (c *Clock) Tick() time.Duration {
	start := time.Now()
	c.callback(c.in, c.out, c.cfg.BufferSize)
	elapsed := time.Since(start)
	if deadline := c.Period(); elapsed > deadline && c.onOverrun != nil {
		c.onOverrun(elapsed, deadline)
	}
	return elapsed
}

// Run ticks until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}
