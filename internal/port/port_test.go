package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	audioOut := Port{Type: Audio, Direction: Output}
	audioIn := Port{Type: Audio, Direction: Input}
	midiIn := Port{Type: MIDI, Direction: Input}

	assert.True(t, audioOut.Matches(audioIn))
	assert.True(t, audioIn.Matches(audioOut))
	assert.False(t, audioOut.Matches(midiIn), "different types never match")
	assert.False(t, audioIn.Matches(audioIn), "same direction never matches")
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		src     Port
		dst     Port
		wantErr error
	}{
		{"audio ok", Port{Type: Audio, Direction: Output}, Port{Type: Audio, Direction: Input}, nil},
		{"control ok", Port{Type: Control, Direction: Output}, Port{Type: Control, Direction: Input}, nil},
		{"type mismatch", Port{Type: Audio, Direction: Output}, Port{Type: MIDI, Direction: Input}, ErrTypeMismatch},
		{"reversed", Port{Type: Audio, Direction: Input}, Port{Type: Audio, Direction: Output}, ErrDirectionMismatch},
		{"two outputs", Port{Type: Audio, Direction: Output}, Port{Type: Audio, Direction: Output}, ErrDirectionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.src, tt.dst)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFanInLimit(t *testing.T) {
	var b Builder
	b.AddControlInput(0, 1, "gain", "Gain").
		Add(Audio, Input, 0, "in", "In")
	l := b.List()
	l[1].MaxFanIn = 3

	assert.Equal(t, 1, l[0].FanInLimit())
	assert.Equal(t, 0, l[1].FanInLimit(), "fan-in limits apply to control inputs only")
}

func TestListLayout(t *testing.T) {
	var b Builder
	b.Add(Audio, Input, 0, "in_1", "In 1").
		Add(Audio, Input, 1, "in_2", "In 2").
		Add(MIDI, Input, 0, "midi_in", "MIDI In").
		Add(Audio, Output, 0, "out_1", "Out 1").
		Add(Audio, Output, 1, "out_2", "Out 2")
	l := b.List()

	require.Len(t, l, 5)
	for i, p := range l {
		assert.Equal(t, i, p.Index)
	}
	assert.Equal(t, 2, l.Count(Audio, Input))
	assert.Equal(t, 1, l.Count(MIDI, Input))
	assert.Equal(t, 0, l.Count(Control, Output))

	ti, ok := l.TypedIndex(4)
	require.True(t, ok)
	assert.Equal(t, 1, ti)
	ti, ok = l.TypedIndex(2)
	require.True(t, ok)
	assert.Equal(t, 0, ti)
	_, ok = l.TypedIndex(9)
	assert.False(t, ok)

	p, ok := l.ByChannel(Audio, Output, 1)
	require.True(t, ok)
	assert.Equal(t, "out_2", p.Symbol)
	_, ok = l.ByChannel(Audio, Output, 7)
	assert.False(t, ok)

	owned := l.WithNode(42)
	assert.Equal(t, uint32(42), owned[3].Node)
	assert.Equal(t, uint32(0), l[3].Node, "WithNode must not modify the receiver")
	assert.True(t, owned.Equal(l))
}

func TestParseRoundTrip(t *testing.T) {
	for _, ty := range []Type{Audio, MIDI, Control} {
		got, err := ParseType(ty.String())
		require.NoError(t, err)
		assert.Equal(t, ty, got)
	}
	for _, d := range []Direction{Input, Output} {
		got, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseType("video")
	assert.Error(t, err)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
