package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Fatal input errors: corrupt or incomplete inputs, never retried
	ErrMalformedInput  = errors.New("malformed input")
	ErrMissingAttr     = fmt.Errorf("%w: required node attribute absent", ErrMalformedInput)
	ErrShapeMismatch   = fmt.Errorf("%w: inconsistent per-node array shapes", ErrMalformedInput)
	ErrMissingMetadata = fmt.Errorf("%w: required graph metadata absent", ErrMalformedInput)
	ErrEmptyGraph      = fmt.Errorf("%w: graph has no nodes", ErrMalformedInput)
	ErrShortHistory    = fmt.Errorf("%w: history too short for the calibration windows", ErrMalformedInput)

	// Trial-scoped errors: a bad draw, caught at the retry boundary
	ErrTrialInvalid    = errors.New("trial validation failed")
	ErrNonFiniteState  = fmt.Errorf("%w: non-finite value in assembled state", ErrTrialInvalid)
	ErrNegativeOutput  = fmt.Errorf("%w: negative values in output series", ErrTrialInvalid)
	ErrHistoryMismatch = fmt.Errorf("%w: simulated onset inconsistent with history", ErrTrialInvalid)

	// Configuration / wiring errors
	ErrWindowTooLong = errors.New("rolling window longer than available history")
	ErrUnknownParam  = errors.New("unknown parameter name")
	ErrQueueClosed   = errors.New("output queue closed")
)

// TrialError carries the seed and pipeline stage of a failed trial so the
// orchestrator can log and discard it without losing provenance.
type TrialError struct {
	Seed  uint64
	Stage string
	Err   error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial seed=%d stage=%s: %v", e.Seed, e.Stage, e.Err)
}

func (e *TrialError) Unwrap() error {
	return e.Err
}

// NewTrialError wraps err as a trial-scoped failure.
func NewTrialError(seed uint64, stage string, err error) *TrialError {
	return &TrialError{Seed: seed, Stage: stage, Err: err}
}

// Error checking helpers
func IsFatalInputError(err error) bool {
	return errors.Is(err, ErrMalformedInput)
}

func IsTrialError(err error) bool {
	var te *TrialError
	return errors.As(err, &te) || errors.Is(err, ErrTrialInvalid)
}
