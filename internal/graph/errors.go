package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig is the parent of every declaration error; a pipeline that
	// fails with it never starts.
	ErrConfig       = errors.New("configuration error")
	ErrInvalidGraph = fmt.Errorf("%w: invalid job graph", ErrConfig)
	ErrCycle        = fmt.Errorf("%w: dependency cycle", ErrConfig)
)

// Error wraps a deterministic graph validation failure.
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

func invalidf(format string, args ...any) error {
	return &Error{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := ""
	if len(path) > 0 {
		msg = strings.Join(path, " -> ")
	}
	return &Error{Kind: ErrCycle, Msg: msg}
}
