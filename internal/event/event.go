// Package event provides the timestamped MIDI and control event types that
// travel along MIDI and control ports, and the fixed-capacity buffers that
// carry them through the render loop.
//
// Buffers are allocated once, when a node is prepared, and are reused for
// every block afterwards. Nothing in this package allocates after
// construction, so it is safe to use on the real-time thread.
package event

// Timed is implemented by events that carry a frame offset within a block.
type Timed interface {
	Time() int
}

// MIDI is a short MIDI message scheduled at a frame offset within a block.
type MIDI struct {
	Frame int
	Data  [3]byte
	Size  uint8
}

// Time returns the frame offset of the message.
func (m MIDI) Time() int { return m.Frame }

// Status returns the status byte.
func (m MIDI) Status() byte { return m.Data[0] }

// IsNoteOn reports a note-on with non-zero velocity.
func (m MIDI) IsNoteOn() bool { return m.Data[0]&0xF0 == 0x90 && m.Data[2] > 0 }

// IsNoteOff reports a note-off, including note-on with zero velocity.
func (m MIDI) IsNoteOff() bool {
	return m.Data[0]&0xF0 == 0x80 || (m.Data[0]&0xF0 == 0x90 && m.Data[2] == 0)
}

// IsStart reports a MIDI real-time Start message.
func (m MIDI) IsStart() bool { return m.Size == 1 && m.Data[0] == 0xFA }

// IsContinue reports a MIDI real-time Continue message.
func (m MIDI) IsContinue() bool { return m.Size == 1 && m.Data[0] == 0xFB }

// IsStop reports a MIDI real-time Stop message.
func (m MIDI) IsStop() bool { return m.Size == 1 && m.Data[0] == 0xFC }

// Note returns the note number of a note message.
func (m MIDI) Note() byte { return m.Data[1] }

// Velocity returns the velocity of a note message.
func (m MIDI) Velocity() byte { return m.Data[2] }

// NoteOn builds a note-on message.
func NoteOn(frame int, channel, note, velocity byte) MIDI {
	return MIDI{Frame: frame, Data: [3]byte{0x90 | channel&0x0F, note & 0x7F, velocity & 0x7F}, Size: 3}
}

// NoteOff builds a note-off message.
func NoteOff(frame int, channel, note byte) MIDI {
	return MIDI{Frame: frame, Data: [3]byte{0x80 | channel&0x0F, note & 0x7F, 0}, Size: 3}
}

// Realtime builds a single-byte real-time message such as Start (0xFA).
func Realtime(frame int, status byte) MIDI {
	return MIDI{Frame: frame, Data: [3]byte{status}, Size: 1}
}

// Control is a parameter change scheduled at a frame offset within a block.
type Control struct {
	Frame int
	Param int
	Value float32
}

// Time returns the frame offset of the change.
func (c Control) Time() int { return c.Frame }
