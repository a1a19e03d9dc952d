// Package port defines the typed, directional connection points exposed by
// every node in the processing graph.
//
// A port carries exactly one kind of signal (audio, MIDI or control events) in
// exactly one direction. Two ports can be connected only when their types are
// equal and their directions are opposite; the graph layer adds the checks
// that need knowledge of the whole topology (duplicates, fan-in, cycles).
package port

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is returned when a source and destination port carry
	// different signal types.
	ErrTypeMismatch = errors.New("port type mismatch")
	// ErrDirectionMismatch is returned when a connection does not run from an
	// output to an input.
	ErrDirectionMismatch = errors.New("port direction mismatch")
)

// Type is the kind of signal a port carries.
type Type uint8

const (
	Audio Type = iota
	MIDI
	Control
)

func (t Type) String() string {
	switch t {
	case Audio:
		return "audio"
	case MIDI:
		return "midi"
	case Control:
		return "control"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType converts the textual form used in documents back into a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "audio":
		return Audio, nil
	case "midi":
		return MIDI, nil
	case "control":
		return Control, nil
	}
	return 0, fmt.Errorf("unknown port type %q", s)
}

// Direction is the flow of a port relative to its node.
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// ParseDirection converts "input" or "output" into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "input":
		return Input, nil
	case "output":
		return Output, nil
	}
	return 0, fmt.Errorf("unknown port direction %q", s)
}

// Port is a single connection point on a node.
type Port struct {
	// Node is the id of the owning node. It is zero until the node is
	// inserted into a graph.
	Node uint32
	// Index is the stable position of the port in its node's port list.
	Index     int
	Type      Type
	Direction Direction
	// Channel is the channel number for audio ports and the stream number
	// for MIDI and control ports.
	Channel int
	Symbol  string
	Name    string
	// MaxFanIn limits how many connections may terminate at a control input.
	// Zero means unlimited. It is ignored for other port types.
	MaxFanIn int
}

// IsInput reports whether the port receives signal.
func (p Port) IsInput() bool { return p.Direction == Input }

// IsOutput reports whether the port produces signal.
func (p Port) IsOutput() bool { return p.Direction == Output }

// Matches reports whether p and other can be connected to each other: the
// types are equal and the directions are opposite.
func (p Port) Matches(other Port) bool {
	return p.Type == other.Type && p.Direction != other.Direction
}

// FanInLimit returns the effective fan-in limit of the port.
func (p Port) FanInLimit() int {
	if p.Type != Control || p.Direction != Input {
		return 0
	}
	return p.MaxFanIn
}

func (p Port) String() string {
	return fmt.Sprintf("%d:%d(%s %s %d)", p.Node, p.Index, p.Type, p.Direction, p.Channel)
}

// Check validates that src may feed dst. It returns an error wrapping
// ErrDirectionMismatch or ErrTypeMismatch.
func Check(src, dst Port) error {
	if !src.IsOutput() || !dst.IsInput() {
		return fmt.Errorf("%w: %s -> %s", ErrDirectionMismatch, src, dst)
	}
	if src.Type != dst.Type {
		return fmt.Errorf("%w: %s -> %s", ErrTypeMismatch, src.Type, dst.Type)
	}
	return nil
}
