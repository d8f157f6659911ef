// Package gerr provides a mechanism to create or wrap errors with a kind
// that callers can dispatch on without string matching. API layers convert
// kinds into their own domain representation; the library's engines branch
// on them to decide what is fatal, what is retryable, and what simply means
// "not here".
package gerr

import (
	"errors"
	"fmt"
	"runtime"
)

// A Kind represents a class of error.
type Kind int

const (
	Other Kind = iota
	// Config indicates malformed configuration: an unknown URI scheme, a
	// store id that cannot be parsed, or an inconsistent registry setup.
	Config
	// Missing indicates no data: no descriptor for a dataset, or no rows
	// intersecting a requested range in any store.
	Missing
	// NotFound indicates an object-store key that does not exist. It is
	// distinct from Missing: a gather treats it as an empty partition.
	NotFound
	// Schema indicates a caller's input is incompatible with a dataset's
	// declared schema.
	Schema
	// Format indicates corruption: a broken file framing, a double
	// compression extension, or an unknown type tag in stored metadata.
	Format
	// Transient indicates a transport error that may succeed on retry.
	// It surfaces only once the retry budget is exhausted.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "configuration error"
	case Missing:
		return "no data"
	case NotFound:
		return "item does not exist"
	case Schema:
		return "schema mismatch"
	case Format:
		return "malformed data"
	case Transient:
		return "transient transport error"
	}
	return "other error"
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Kind == Other {
			return e.Err.Error()
		}
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Err == nil
}

// E generates an error from any mix of:
// - a Kind
// - an existing error
// - a string and optional formatting verbs, like fmt.Errorf (including
//   support for the %w verb)
// The string and format verbs must be last in the arguments, if present.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args to gerr.E")
	}
	e := &Error{}
	for i, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case error:
			e.Err = arg
		case string:
			e.Err = fmt.Errorf(arg, args[i+1:]...)
			return e
		default:
			_, file, line, _ := runtime.Caller(1)
			return fmt.Errorf("unknown type %T value %v in gerr.E call at %v:%v", arg, arg, file, line)
		}
	}
	return e
}

// IsKind reports whether any error in err's chain carries kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsNotFound(err error) bool { return IsKind(err, NotFound) }
func IsMissing(err error) bool  { return IsKind(err, Missing) }
func IsTransient(err error) bool {
	return IsKind(err, Transient)
}
