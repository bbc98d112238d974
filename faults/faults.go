package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error raised while configuring meshes and modules
type Kind int

const (
	OutOfMemory Kind = iota + 1
	OutOfGPUMemory
	IncorrectConfig
	MeshRect
	NotInitialized
	DeviceUnavailable
	UnknownModule
	DuplicateModule
	MismatchedDiscretization
)

var kindNames = map[Kind]string{
	OutOfMemory:              "out of memory",
	OutOfGPUMemory:           "out of GPU memory",
	IncorrectConfig:          "incorrect configuration",
	MeshRect:                 "incorrect mesh rectangle",
	NotInitialized:           "not initialized",
	DeviceUnavailable:        "device unavailable",
	UnknownModule:            "unknown module",
	DuplicateModule:          "duplicate module",
	MismatchedDiscretization: "mismatched discretization",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries the name of the component that raised it (Class) and an error code
type Error struct {
	Class string
	Kind  Kind
	Err   error
}

// New creates an *Error with a formatted detail message
func New(class string, kind Kind, format string, args ...interface{}) error {
	var err error
	if format != "" {
		err = fmt.Errorf(format, args...)
	}
	return &Error{Class: class, Kind: kind, Err: err}
}

// Wrap tags an existing error with a class and kind, nil stays nil
func Wrap(class string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Class, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// list accumulates errors from several setup steps; it is what Append builds
type list []error

func (l list) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (l list) Unwrap() []error { return l }

// Append composes two errors, either of which may be nil, keeping every entry.
// Typical use: err = faults.Append(err, module.Initialize())
func Append(a, b error) error {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	var out list
	if la, ok := a.(list); ok {
		out = append(out, la...)
	} else {
		out = append(out, a)
	}
	if lb, ok := b.(list); ok {
		out = append(out, lb...)
	} else {
		out = append(out, b)
	}
	return out
}

// Has reports whether err, or anything it wraps, is an *Error of the given kind
func Has(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == kind {
		return true
	}
	switch e := err.(type) {
	case list:
		for _, sub := range e {
			if Has(sub, kind) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return Has(e.Unwrap(), kind)
	}
	return false
}

// KindOf returns the kind of the first *Error found in err, or 0
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Count returns the number of composed errors held by err
func Count(err error) int {
	if err == nil {
		return 0
	}
	if l, ok := err.(list); ok {
		return len(l)
	}
	return 1
}
