package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound            = errors.New("node not found")
	ErrDuplicateNode           = errors.New("duplicate node id")
	ErrPortNotFound            = errors.New("port not found")
	ErrTypeMismatch            = errors.New("incompatible ports")
	ErrDuplicateConnection     = errors.New("connection already exists")
	ErrConnectionNotFound      = errors.New("connection not found")
	ErrFanInExceeded           = errors.New("fan-in limit exceeded")
	ErrWouldCreateIllegalCycle = errors.New("connection would create a cycle")
)

// Error wraps deterministic topology failures. Kind is one of the sentinel
// errors above so callers can use errors.Is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
