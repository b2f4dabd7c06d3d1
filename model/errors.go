package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error raised by the pipeline.
type ErrorKind uint8

const (
	// UsageError is a configuration or plan-time mistake: a missing fast
	// field, an unsupported sort, contradicting settings.
	UsageError ErrorKind = iota + 1
	// CorruptionError is an internal consistency violation, such as an
	// ordinal that is absent from its dictionary.
	CorruptionError
	// Exhausted means the source has no more candidates.
	Exhausted
)

func (k ErrorKind) String() string {
	switch k {
	case UsageError:
		return "usage error"
	case CorruptionError:
		return "corruption"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

var (
	// ErrUsage matches any error of kind UsageError via errors.Is.
	ErrUsage = &Error{Kind: UsageError}
	// ErrCorruption matches any error of kind CorruptionError via errors.Is.
	ErrCorruption = &Error{Kind: CorruptionError}
	// ErrExhausted matches any error of kind Exhausted via errors.Is.
	ErrExhausted = &Error{Kind: Exhausted}
)

// Error carries a kind, the failing operation and an optional cause.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels: an *Error with no Op, Msg or cause matches any
// error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Usagef returns a UsageError for op.
func Usagef(op, format string, args ...any) error {
	return &Error{Kind: UsageError, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Corruptf returns a CorruptionError for op.
func Corruptf(op, format string, args ...any) error {
	return &Error{Kind: CorruptionError, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and op to err. A nil err yields nil.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
