package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/audiogrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// ErrUnknownType is returned when a type identifier has no registered kind.
var ErrUnknownType = errors.New("unknown node type")

// Module is the interface that all node kind modules must implement to be
// registered.
type Module interface {
	Register(r *Registry)
}

// NodeType holds the compiled Go parts of a node kind.
type NodeType struct {
	// ID is the identifier stored in documents.
	ID string
	// Name is the human readable kind name.
	Name string
	// NewParams returns a pointer to a struct with `cty` tags holding the
	// default parameters. Nil means the kind takes no parameters.
	NewParams func() any
	// New builds a processor from decoded parameters, as returned by
	// NewParams and filled by DecodeParams.
	New func(params any) (node.Processor, error)
}

// Registry holds all registered node kinds for a single application
// instance.
type Registry struct {
	types map[string]*NodeType
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{types: make(map[string]*NodeType)}
}

// RegisterNodeType registers a node kind.
func (r *Registry) RegisterNodeType(t *NodeType) {
	if _, exists := r.types[t.ID]; exists {
		panic(fmt.Sprintf("node type with id '%s' already registered", t.ID))
	}
	r.types[t.ID] = t
}

// Lookup returns the kind registered under id.
func (r *Registry) Lookup(id string) (*NodeType, bool) {
	t, ok := r.types[id]
	return t, ok
}

// Types returns every registered identifier, sorted.
func (r *Registry) Types() []string {
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Create builds a node of kind id. params may be null or an object whose
// attributes override the kind's defaults. The node's Params hold the full
// parameter set the processor was built with.
func (r *Registry) Create(id string, params cty.Value) (*node.Node, error) {
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, id)
	}

	var decoded any
	effective := cty.EmptyObjectVal
	if t.NewParams != nil {
		decoded = t.NewParams()
		if err := DecodeParams(params, decoded); err != nil {
			return nil, fmt.Errorf("node type %q: %w", id, err)
		}
		v, err := EncodeParams(decoded)
		if err != nil {
			return nil, fmt.Errorf("node type %q: %w", id, err)
		}
		effective = v
	} else if params != cty.NilVal && !params.IsNull() && params.LengthInt() > 0 {
		return nil, fmt.Errorf("node type %q: %w", id, ErrUnexpectedParams)
	}

	proc, err := t.New(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to create node of type %q: %w", id, err)
	}
	return node.New(proc, effective), nil
}
