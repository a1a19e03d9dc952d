package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames[T Timed](b *Buffer[T]) []int {
	out := make([]int, 0, b.Len())
	for _, e := range b.Events() {
		out = append(out, e.Time())
	}
	return out
}

func TestBuffer_AddKeepsFrameOrder(t *testing.T) {
	b := NewBuffer[MIDI](8)
	b.Add(NoteOn(10, 0, 60, 100))
	b.Add(NoteOn(2, 0, 62, 100))
	b.Add(NoteOff(10, 0, 64))
	b.Add(NoteOn(0, 0, 65, 100))

	assert.Equal(t, []int{0, 2, 10, 10}, frames(b))
	// Equal frames keep insertion order.
	assert.Equal(t, byte(60), b.At(2).Note())
	assert.Equal(t, byte(64), b.At(3).Note())
}

func TestBuffer_FixedCapacity(t *testing.T) {
	b := NewBuffer[Control](2)
	require.Equal(t, 2, b.Cap())

	assert.True(t, b.Add(Control{Frame: 1}))
	assert.True(t, b.Add(Control{Frame: 2}))
	assert.False(t, b.Add(Control{Frame: 3}), "a full buffer drops instead of growing")
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, b.Dropped())
	assert.Equal(t, 2, b.Cap())

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Dropped())
	assert.Equal(t, 2, b.Cap())
}

func TestBuffer_MergeIsTimestampOrderedUnion(t *testing.T) {
	a := NewBuffer[Control](8)
	a.Add(Control{Frame: 0, Value: 1})
	a.Add(Control{Frame: 8, Value: 2})

	c := NewBuffer[Control](8)
	c.Add(Control{Frame: 4, Value: 3})
	c.Add(Control{Frame: 8, Value: 4})

	dst := NewBuffer[Control](8)
	dst.MergeFrom(a)
	dst.MergeFrom(c)
	dst.MergeFrom(nil)

	assert.Equal(t, []int{0, 4, 8, 8}, frames(dst))
	assert.Equal(t, float32(2), dst.At(2).Value, "earlier stream wins ties")
	assert.Equal(t, float32(4), dst.At(3).Value)

	dst.CopyFrom(c)
	assert.Equal(t, []int{4, 8}, frames(dst))
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer[MIDI](0).Cap())
}

func TestMIDI_Classification(t *testing.T) {
	on := NoteOn(0, 1, 60, 90)
	assert.True(t, on.IsNoteOn())
	assert.False(t, on.IsNoteOff())
	assert.Equal(t, byte(0x91), on.Status())

	zeroVel := NoteOn(0, 0, 60, 0)
	assert.True(t, zeroVel.IsNoteOff())

	assert.True(t, Realtime(0, 0xFA).IsStart())
	assert.True(t, Realtime(0, 0xFB).IsContinue())
	assert.True(t, Realtime(0, 0xFC).IsStop())
	assert.False(t, on.IsStart())
}
