package fileplayer

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned for files that are not PCM or float WAV.
var ErrUnsupportedFormat = errors.New("unsupported audio file format")

const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// Clip is decoded audio held in memory.
type Clip struct {
	Path       string
	SampleRate float64
	// Channels holds one slice of samples per channel.
	Channels [][]float32
}

// Frames returns the length of the clip in sample frames.
func (c *Clip) Frames() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Seconds returns the length of the clip in seconds.
func (c *Clip) Seconds() float64 { return float64(c.Frames()) / c.SampleRate }

// LoadWAV reads and decodes a WAV file.
func LoadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// DecodeWAV decodes a RIFF WAVE stream holding 8, 16, 24 or 32 bit PCM or
// 32 bit float samples. Extensible files are read as PCM.
func DecodeWAV(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a RIFF WAVE file", ErrUnsupportedFormat)
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return nil, fmt.Errorf("%w: no channels or sample rate", ErrUnsupportedFormat)
	}

	var read func(v int) float32
	bits := int(d.BitDepth)
	switch {
	case d.WavAudioFormat == formatFloat && bits == 32:
		read = func(v int) float32 { return math.Float32frombits(uint32(v)) }
	case d.WavAudioFormat != formatPCM && d.WavAudioFormat != formatExtensible:
		return nil, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedFormat, d.WavAudioFormat, bits)
	case bits == 8:
		read = func(v int) float32 { return (float32(v) - 128) / 128 }
	case bits == 16 || bits == 24 || bits == 32:
		scale := float32(int64(1) << (bits - 1))
		read = func(v int) float32 { return float32(v) / scale }
	default:
		return nil, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedFormat, d.WavAudioFormat, bits)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	channels := int(d.NumChans)
	frames := len(buf.Data) / channels
	clip := &Clip{SampleRate: float64(d.SampleRate), Channels: make([][]float32, channels)}
	for ch := range clip.Channels {
		clip.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		frame := buf.Data[i*channels:]
		for ch := 0; ch < channels; ch++ {
			clip.Channels[ch][i] = read(frame[ch])
		}
	}
	return clip, nil
}
