package core

import (
	"errors"
	"fmt"
)

var (
	ErrMissingVersion      = errors.New("version must be explicitly provided")
	ErrInvalidVersion      = errors.New("invalid version")
	ErrInvalidRange        = errors.New("invalid version range")
	ErrInvalidFeatureState = errors.New("invalid feature state")
)

// InvalidRangeError reports a requirement that is neither an exact version
// nor a range expression.
type InvalidRangeError struct {
	Input string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: %q", e.Input)
}

func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// InvalidVersionError reports a current version that does not parse.
type InvalidVersionError struct {
	Input string
	Err   error
}

func (e *InvalidVersionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid version %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid version %q", e.Input)
}

func (e *InvalidVersionError) Is(target error) bool {
	return target == ErrInvalidVersion
}

func (e *InvalidVersionError) Unwrap() error {
	return e.Err
}

// InvalidFeatureStateError is returned when a feature resolves to a state
// that is neither a boolean nor a version range.
type InvalidFeatureStateError struct {
	Feature string
}

func (e *InvalidFeatureStateError) Error() string {
	return fmt.Sprintf("feature %q resolved to an invalid state", e.Feature)
}

func (e *InvalidFeatureStateError) Is(target error) bool {
	return target == ErrInvalidFeatureState
}
