// Package device describes the audio device configuration the engine renders
// against. The core only ever reads this configuration; opening hardware and
// driving playback belong to the device layer.
package device

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid device configuration")

// Config is the active device configuration.
type Config struct {
	SampleRate     float64 `yaml:"sample_rate"`
	BufferSize     int     `yaml:"buffer_size"`
	InputChannels  int     `yaml:"input_channels"`
	OutputChannels int     `yaml:"output_channels"`
}

// DefaultConfig mirrors a typical stereo interface.
func DefaultConfig() Config {
	return Config{SampleRate: 44100, BufferSize: 512, InputChannels: 2, OutputChannels: 2}
}

// Validate checks that the configuration can be rendered.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive, got %v", ErrInvalidConfig, c.SampleRate)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size must be positive, got %d", ErrInvalidConfig, c.BufferSize)
	case c.InputChannels < 0 || c.OutputChannels < 0:
		return fmt.Errorf("%w: channel counts must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%.0fHz/%d frames, %d in/%d out", c.SampleRate, c.BufferSize, c.InputChannels, c.OutputChannels)
}

// Device is the read-only device-layer contract consumed by the core.
type Device interface {
	Config() Config
}

// Static is a Device whose configuration is changed explicitly by its owner.
type Static struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStatic returns a Static device with the given configuration.
func NewStatic(cfg Config) *Static {
	return &Static{cfg: cfg}
}

// Config returns the current configuration.
func (s *Static) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration after validating it.
func (s *Static) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
