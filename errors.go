package searchexec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
)

// ErrorKind classifies every error returned by this module.
type ErrorKind = model.ErrorKind

const (
	UsageError      = model.UsageError
	CorruptionError = model.CorruptionError
	Exhausted       = model.Exhausted
)

var (
	// ErrUsage matches invalid arguments, plans and settings.
	ErrUsage = model.ErrUsage
	// ErrCorruption matches index data that violates its own invariants.
	ErrCorruption = model.ErrCorruption
	// ErrExhausted matches explicit exhaustion reports.
	ErrExhausted = model.ErrExhausted

	// ErrNilIndex is returned by New without an index.
	ErrNilIndex = errors.New("nil index")
)

// KindOf returns the kind of err, or 0 when err carries none.
func KindOf(err error) ErrorKind { return model.KindOf(err) }

// FieldError reports a failure reading one output column.
//
// The underlying error can be accessed via errors.Unwrap.
type FieldError struct {
	Field string
	cause error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.cause)
}

func (e *FieldError) Unwrap() error { return e.cause }

// translateError classifies collaborator errors that carry no kind.
func translateError(err error) error {
	if err == nil || KindOf(err) != 0 {
		return err
	}
	switch {
	case errors.Is(err, fastfield.ErrFieldNotFound):
		return model.Wrap(model.UsageError, "searchexec", err)
	case errors.Is(err, resource.ErrBucketLimitExceeded), errors.Is(err, resource.ErrMemoryLimitExceeded):
		return model.Wrap(model.UsageError, "searchexec", err)
	}
	return err
}
