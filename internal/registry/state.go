package registry

import (
	"errors"
	"fmt"

	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ErrInvalidState is returned when a state blob cannot be restored.
var ErrInvalidState = errors.New("invalid node state")

// MarshalState encodes a struct with `cty` tags as a JSON state blob.
func MarshalState(src any) ([]byte, error) {
	v, err := EncodeParams(src)
	if err != nil {
		return nil, err
	}
	return ctyjson.Marshal(v, v.Type())
}

// UnmarshalState overlays a blob produced by MarshalState onto dst. Fields
// missing from the blob keep their current value. An empty blob is a no-op.
func UnmarshalState(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	v, err := ctyjson.Unmarshal(data, ty)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := DecodeParams(v, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return nil
}
