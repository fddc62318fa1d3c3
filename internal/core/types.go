package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

type availabilityKind uint8

const (
	availabilityUnset availabilityKind = iota
	availabilityState
	availabilityRange
)

// Availability is either an explicit boolean state or a VersionRange that the
// current version must satisfy. The zero value is neither.
type Availability struct {
	kind  availabilityKind
	state bool
	rng   VersionRange
}

// Bool returns an Availability fixed to enabled.
func Bool(enabled bool) Availability {
	return Availability{kind: availabilityState, state: enabled}
}

// InRange returns an Availability that depends on the current version.
func InRange(r VersionRange) Availability {
	return Availability{kind: availabilityRange, rng: r}
}

// ParseRequirement converts a version or range expression into an
// Availability.
func ParseRequirement(requirement string) (Availability, error) {
	r, err := ParseRange(requirement)
	if err != nil {
		return Availability{}, err
	}
	return InRange(r), nil
}

// Bool returns the boolean state and whether a holds one.
func (a Availability) Bool() (bool, bool) {
	return a.state, a.kind == availabilityState
}

// Range returns the version range and whether a holds one.
func (a Availability) Range() (VersionRange, bool) {
	return a.rng, a.kind == availabilityRange
}

func (a Availability) IsZero() bool {
	return a.kind == availabilityUnset
}

func (a Availability) String() string {
	switch a.kind {
	case availabilityState:
		return strconv.FormatBool(a.state)
	case availabilityRange:
		return a.rng.String()
	default:
		return ""
	}
}

// MarshalJSON encodes a boolean state as a JSON boolean and a range as a
// JSON string.
func (a Availability) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case availabilityState:
		return json.Marshal(a.state)
	case availabilityRange:
		return json.Marshal(a.rng.String())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON boolean or a version/range string. Unlike
// source values, an invalid string is an error.
func (a *Availability) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch value := raw.(type) {
	case bool:
		*a = Bool(value)
	case string:
		parsed, err := ParseRequirement(value)
		if err != nil {
			return err
		}
		*a = parsed
	default:
		return fmt.Errorf("%w: requirement must be a boolean or a string, got %s", ErrInvalidRange, string(data))
	}
	return nil
}

// StateSource provides runtime overrides for feature state. FeatureState
// returns nil when the source has no opinion about name; otherwise it returns
// a bool, a string, or an Availability.
type StateSource interface {
	FeatureState(name string) any
}

// StateSourceFunc adapts a function to a StateSource.
type StateSourceFunc func(name string) any

func (f StateSourceFunc) FeatureState(name string) any {
	return f(name)
}

// Initializer is implemented by sources that must load state before the
// first evaluation.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Refresher is implemented by sources whose state can be reloaded on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Named is implemented by sources that want to be identified in feature
// dumps and logs.
type Named interface {
	SourceName() string
}
