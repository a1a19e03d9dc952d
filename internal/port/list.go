package port

// List is the ordered port layout of a node. The position of a port in the
// list is its Index.
type List []Port

// Builder assembles a List, assigning indexes and per-type channel numbers in
// declaration order.
type Builder struct {
	ports List
}

// Add appends a port and returns the builder for chaining.
func (b *Builder) Add(t Type, d Direction, channel int, symbol, name string) *Builder {
	b.ports = append(b.ports, Port{
		Index:     len(b.ports),
		Type:      t,
		Direction: d,
		Channel:   channel,
		Symbol:    symbol,
		Name:      name,
	})
	return b
}

// AddControlInput appends a control input limited to maxFanIn connections.
func (b *Builder) AddControlInput(channel, maxFanIn int, symbol, name string) *Builder {
	b.Add(Control, Input, channel, symbol, name)
	b.ports[len(b.ports)-1].MaxFanIn = maxFanIn
	return b
}

// List returns the assembled ports.
func (b *Builder) List() List {
	out := make(List, len(b.ports))
	copy(out, b.ports)
	return out
}

// Get returns the port at index.
func (l List) Get(index int) (Port, bool) {
	if index < 0 || index >= len(l) {
		return Port{}, false
	}
	return l[index], true
}

// Count returns the number of ports with the given type and direction.
func (l List) Count(t Type, d Direction) int {
	n := 0
	for _, p := range l {
		if p.Type == t && p.Direction == d {
			n++
		}
	}
	return n
}

// TypedIndex returns the position of the port at index among the ports that
// share its type and direction. Buffers are laid out by typed index.
func (l List) TypedIndex(index int) (int, bool) {
	p, ok := l.Get(index)
	if !ok {
		return 0, false
	}
	n := 0
	for _, q := range l[:index] {
		if q.Type == p.Type && q.Direction == p.Direction {
			n++
		}
	}
	return n, true
}

// ByChannel finds the port with the given type, direction and channel.
func (l List) ByChannel(t Type, d Direction, channel int) (Port, bool) {
	for _, p := range l {
		if p.Type == t && p.Direction == d && p.Channel == channel {
			return p, true
		}
	}
	return Port{}, false
}

// WithNode returns a copy of the list with every port's Node set to id.
func (l List) WithNode(id uint32) List {
	out := make(List, len(l))
	for i, p := range l {
		p.Node = id
		out[i] = p
	}
	return out
}

// Equal reports whether two layouts describe the same ports, ignoring the
// owning node id.
func (l List) Equal(other List) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		a, b := l[i], other[i]
		a.Node, b.Node = 0, 0
		if a != b {
			return false
		}
	}
	return true
}
