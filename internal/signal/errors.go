package signal

import (
	"errors"
	"fmt"
	"time"
)

// Input errors are fatal: a run stops at the first one.
var (
	ErrOutOfOrder   = errors.New("bar out of order")
	ErrDuplicateBar = errors.New("duplicate bar timestamp")
	ErrMissingField = errors.New("missing or invalid bar field")
	ErrFutureSignal = errors.New("signal references a future bar")
	ErrBadSignal    = errors.New("malformed signal")
)

// InputError annotates an input sentinel with the offending instrument and timestamp.
type InputError struct {
	Kind       error
	Instrument string
	Ts         time.Time
	Detail     string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error [%s %s]: %v: %s", e.Instrument, e.Ts.UTC().Format(time.RFC3339), e.Kind, e.Detail)
}

func (e *InputError) Unwrap() error { return e.Kind }

func newInputError(kind error, b Bar, detail string) *InputError {
	return &InputError{Kind: kind, Instrument: b.Instrument, Ts: b.Ts, Detail: detail}
}

// NewInputError builds an InputError for callers outside this package.
func NewInputError(kind error, instrument string, ts time.Time, detail string) *InputError {
	return &InputError{Kind: kind, Instrument: instrument, Ts: ts, Detail: detail}
}
