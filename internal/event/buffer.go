package event

// DefaultCapacity is the number of events a buffer holds when no explicit
// capacity is requested.
const DefaultCapacity = 512

// Buffer is a fixed-capacity, frame-ordered sequence of events. Its backing
// array is allocated by NewBuffer and never grows.
type Buffer[T Timed] struct {
	events  []T
	dropped int
}

// NewBuffer allocates a buffer able to hold capacity events.
func NewBuffer[T Timed](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{events: make([]T, 0, capacity)}
}

// Len returns the number of events in the buffer.
func (b *Buffer[T]) Len() int { return len(b.events) }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return cap(b.events) }

// At returns the i-th event.
func (b *Buffer[T]) At(i int) T { return b.events[i] }

// Events exposes the buffered events. The slice is only valid until the next
// mutation of the buffer.
func (b *Buffer[T]) Events() []T { return b.events }

// Dropped returns how many events were discarded because the buffer was full
// since the last Clear.
func (b *Buffer[T]) Dropped() int { return b.dropped }

// Clear empties the buffer, keeping its storage.
func (b *Buffer[T]) Clear() {
	b.events = b.events[:0]
	b.dropped = 0
}

// Add inserts e keeping frame order; events with equal frames keep their
// insertion order. It returns false and drops the event when full.
func (b *Buffer[T]) Add(e T) bool {
	if len(b.events) == cap(b.events) {
		b.dropped++
		return false
	}
	b.events = append(b.events, e)
	for i := len(b.events) - 1; i > 0 && b.events[i-1].Time() > b.events[i].Time(); i-- {
		b.events[i-1], b.events[i] = b.events[i], b.events[i-1]
	}
	return true
}

// MergeFrom adds every event of src to b, producing the frame-ordered union.
func (b *Buffer[T]) MergeFrom(src *Buffer[T]) {
	if src == nil {
		return
	}
	for _, e := range src.events {
		b.Add(e)
	}
}

// CopyFrom replaces the contents of b with those of src, truncating to b's
// capacity.
func (b *Buffer[T]) CopyFrom(src *Buffer[T]) {
	b.Clear()
	b.MergeFrom(src)
}
