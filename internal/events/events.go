// Package events is the typed notification channel between the graph
// controller and its observers (editors, the remote bridge, logging).
//
// Publishing never blocks: a subscriber whose buffer is full misses the event
// and the drop is counted. Nothing here may be used from the real-time
// goroutine.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/audiogrid/internal/device"
)

// Kind identifies an event type.
type Kind string

const (
	DeviceChanged     Kind = "device_changed"
	TopologyChanged   Kind = "topology_changed"
	NodeStateChanged  Kind = "node_state_changed"
	DeadlineMissed    Kind = "deadline_missed"
	NodeFault         Kind = "node_fault"
	ReconfigureFailed Kind = "reconfigure_failed"
	NodeLog           Kind = "node_log"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
	// Generation is the plan generation current when the event was raised.
	Generation uint64 `json:"generation,omitempty"`
	// Node is set for node-scoped events.
	Node uint32 `json:"node,omitempty"`
	// Device is set for DeviceChanged and ReconfigureFailed.
	Device *device.Config `json:"device,omitempty"`
	// Count carries the number of missed deadlines or faults since the
	// previous event of the same kind.
	Count uint64 `json:"count,omitempty"`
	// Overrun is how late the most recent callback finished.
	Overrun time.Duration `json:"overrun,omitempty"`
	Err     string        `json:"error,omitempty"`
	// Log holds the lines drained from a node's log for NodeLog.
	Log []string `json:"log,omitempty"`
}

func (e Event) String() string {
	switch {
	case e.Node != 0:
		return fmt.Sprintf("%s(node=%d)", e.Kind, e.Node)
	case e.Err != "":
		return fmt.Sprintf("%s(%s)", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber that has room for it. A zero At is
// filled with the current time.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
