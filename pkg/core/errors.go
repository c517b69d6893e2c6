package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the four failure classes the engine distinguishes.
// Every error returned across a package boundary wraps exactly one of
// these, so callers can classify with errors.Is without string matching.
var (
	// ErrInvalidArgument marks malformed input. The operation had no
	// effect and prior state is intact.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState marks an operation issued out of order, such as a
	// search before a build or a second build without a data reset.
	ErrInvalidState = errors.New("invalid state")

	// ErrCorruptData marks a snapshot whose magic, version or structure
	// does not match what the serializer wrote.
	ErrCorruptData = errors.New("corrupt data")

	// ErrResourceExhausted marks an allocation or storage limit failure
	// the engine detected before committing any change.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Code is the numeric error class carried across the procedural boundary.
type Code int32

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeInvalidState
	CodeCorruptData
	CodeResourceExhausted
	CodeInternal
)

// String returns the canonical name of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeInvalidState:
		return "invalid_state"
	case CodeCorruptData:
		return "corrupt_data"
	case CodeResourceExhausted:
		return "resource_exhausted"
	default:
		return "internal"
	}
}

// CodeOf classifies an error by its sentinel. Unrecognized errors map to
// CodeInternal; nil maps to CodeOK.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrCorruptData):
		return CodeCorruptData
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	default:
		return CodeInternal
	}
}

// DimensionError reports a vector whose length does not match the store.
// It wraps ErrInvalidArgument so it classifies like any other bad input.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrInvalidArgument }
