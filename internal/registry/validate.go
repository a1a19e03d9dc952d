package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
)

// ValidateRegistry performs a strict parity check between each kind's
// identifier, its default parameters and the processor it builds.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, id := range r.Types() {
		t := r.types[id]
		if t.New == nil {
			errs = append(errs, fmt.Sprintf("node type '%s': no factory", id))
			continue
		}

		var defaults any
		if t.NewParams != nil {
			defaults = t.NewParams()
			v, err := EncodeParams(defaults)
			if err != nil {
				errs = append(errs, fmt.Sprintf("node type '%s': parameters cannot be represented: %v", id, err))
				continue
			}
			if !v.Type().IsObjectType() {
				errs = append(errs, fmt.Sprintf("node type '%s': parameters must be a struct", id))
				continue
			}
		}

		proc, err := t.New(defaults)
		if err != nil {
			errs = append(errs, fmt.Sprintf("node type '%s': cannot be built with default parameters: %v", id, err))
			continue
		}
		desc := proc.Describe()
		if desc.Type != id {
			errs = append(errs, fmt.Sprintf("node type '%s': processor describes itself as '%s'", id, desc.Type))
		}
		for i, p := range desc.Ports {
			if p.Index != i {
				errs = append(errs, fmt.Sprintf("node type '%s': port %d has index %d", id, i, p.Index))
			}
		}
		if len(desc.Ports) == 0 {
			logger.Warn("Node type exposes no ports and cannot be connected.", "type", id)
		}
		logger.Debug("Node type validated.", "type", id, "ports", len(desc.Ports))
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
