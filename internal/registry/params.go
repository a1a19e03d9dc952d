package registry

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ErrUnexpectedParams is returned when parameters do not fit a kind's
// parameter struct.
var ErrUnexpectedParams = errors.New("unexpected node parameters")

// DecodeParams overlays the attributes of params onto target, a pointer to a
// struct with `cty` tags. Attributes missing from params keep the value
// already in target; unknown attributes are rejected.
func DecodeParams(params cty.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: target must be a pointer to a struct, got %T", ErrUnexpectedParams, target)
	}
	if params == cty.NilVal || params.IsNull() {
		return nil
	}
	ty := params.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("%w: expected an object, got %s", ErrUnexpectedParams, ty.FriendlyName())
	}
	if !params.IsWhollyKnown() {
		return fmt.Errorf("%w: parameters must be known values", ErrUnexpectedParams)
	}

	fields := taggedFields(rv.Elem().Type())
	var errs []string
	for it := params.ElementIterator(); it.Next(); {
		k, v := it.Element()
		name := k.AsString()
		idx, ok := fields[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("unsupported parameter %q", name))
			continue
		}
		field := rv.Elem().Field(idx)
		want, err := gocty.ImpliedType(field.Interface())
		if err != nil {
			errs = append(errs, fmt.Sprintf("parameter %q: %v", name, err))
			continue
		}
		conv, err := convert.Convert(v, want)
		if err != nil {
			errs = append(errs, fmt.Sprintf("parameter %q: %v", name, err))
			continue
		}
		if err := gocty.FromCtyValue(conv, field.Addr().Interface()); err != nil {
			errs = append(errs, fmt.Sprintf("parameter %q: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrUnexpectedParams, strings.Join(errs, "; "))
	}
	return nil
}

// EncodeParams converts a parameter struct (or a pointer to one) into a cty
// object.
func EncodeParams(src any) (cty.Value, error) {
	rv := reflect.ValueOf(src)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	ty, err := gocty.ImpliedType(rv.Interface())
	if err != nil {
		return cty.NilVal, fmt.Errorf("%w: %v", ErrUnexpectedParams, err)
	}
	v, err := gocty.ToCtyValue(rv.Interface(), ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%w: %v", ErrUnexpectedParams, err)
	}
	return v, nil
}

func taggedFields(t reflect.Type) map[string]int {
	out := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("cty"), ",")[0]
		if name != "" && name != "-" {
			out[name] = i
		}
	}
	return out
}
