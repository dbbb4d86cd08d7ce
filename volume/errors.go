package volume

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the access layer matches exactly one
// of them with errors.Is.
var (
	// ErrFormat reports an unrecognized container structure, datatype or
	// compression scheme.
	ErrFormat = errors.New("format error")
	// ErrShape reports a rank, axis order or size mismatch.
	ErrShape = errors.New("shape error")
	// ErrIndex reports a selection outside the declared shape.
	ErrIndex = errors.New("index error")
	// ErrClosed reports use of a released reader or buffer.
	ErrClosed = errors.New("closed")
	// ErrProcessing reports a failed per-block function during streaming.
	ErrProcessing = errors.New("processing error")
)

// Error carries the failing operation and the offending shape, index or
// path alongside its kind.
type Error struct {
	Kind  error
	Op    string
	Path  string
	Shape []int
	Index []int
	Msg   string
	Err   error
}

// Errorf returns an Error of the given kind for op.
func Errorf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath records the file involved.
func (e *Error) WithPath(p string) *Error {
	e.Path = p
	return e
}

// WithShape records the shape involved.
func (e *Error) WithShape(s []int) *Error {
	e.Shape = append([]int(nil), s...)
	return e
}

// WithIndex records the offending index.
func (e *Error) WithIndex(i []int) *Error {
	e.Index = append([]int(nil), i...)
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Shape != nil {
		fmt.Fprintf(&b, " (shape %v)", e.Shape)
	}
	if e.Index != nil {
		fmt.Fprintf(&b, " (index %v)", e.Index)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
