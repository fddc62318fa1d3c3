package core

import "fmt"

// FeatureValue holds exactly one payload: the enabled one (type E) or the
// disabled one (type D). A payload may be absent when the caller supplied
// nothing for the branch taken.
type FeatureValue[E, D any] struct {
	enabled bool
	present bool
	payload any
}

// Select picks enabled or disabled depending on the feature verdict.
func Select[E, D any](f *Feature, enabled E, disabled D) FeatureValue[E, D] {
	if f.IsEnabled() {
		return FeatureValue[E, D]{enabled: true, present: true, payload: enabled}
	}
	return FeatureValue[E, D]{enabled: false, present: true, payload: disabled}
}

// SelectEnabled is Select without a disabled payload. When the feature is
// disabled the result carries no value.
func SelectEnabled[E any](f *Feature, enabled E) FeatureValue[E, E] {
	if f.IsEnabled() {
		return FeatureValue[E, E]{enabled: true, present: true, payload: enabled}
	}
	return FeatureValue[E, E]{enabled: false}
}

func (v FeatureValue[E, D]) IsEnabled() bool {
	return v.enabled
}

func (v FeatureValue[E, D]) IsDisabled() bool {
	return !v.enabled
}

// Value returns the held payload, or nil when it is absent.
func (v FeatureValue[E, D]) Value() any {
	if !v.present {
		return nil
	}
	return v.payload
}

// Enabled returns the enabled payload. ok is false on the disabled branch,
// when the payload is absent, or when an identity Map left a payload whose
// type is not E.
func (v FeatureValue[E, D]) Enabled() (E, bool) {
	if !v.enabled || !v.present {
		var zero E
		return zero, false
	}
	return assertPayload[E](v.payload)
}

// Disabled mirrors Enabled for the disabled branch.
func (v FeatureValue[E, D]) Disabled() (D, bool) {
	if v.enabled || !v.present {
		var zero D
		return zero, false
	}
	return assertPayload[D](v.payload)
}

func (v FeatureValue[E, D]) String() string {
	branch := "disabled"
	if v.enabled {
		branch = "enabled"
	}
	if !v.present {
		return branch + "(<absent>)"
	}
	return fmt.Sprintf("%s(%v)", branch, v.payload)
}

// MapOptions holds per-branch transforms for Map. A nil transform passes the
// payload through unchanged.
type MapOptions[E, D, NE, ND any] struct {
	Enabled  func(E) NE
	Disabled func(D) ND
}

// Map transforms the held payload with the transform for its branch. The
// transform for the other branch is never called, and an absent payload
// stays absent.
func Map[E, D, NE, ND any](v FeatureValue[E, D], opts MapOptions[E, D, NE, ND]) FeatureValue[NE, ND] {
	out := FeatureValue[NE, ND]{enabled: v.enabled, present: v.present}
	if !v.present {
		return out
	}

	switch {
	case v.enabled && opts.Enabled != nil:
		out.payload = opts.Enabled(mustPayload[E](v.payload))
	case !v.enabled && opts.Disabled != nil:
		out.payload = opts.Disabled(mustPayload[D](v.payload))
	default:
		out.payload = v.payload
	}
	return out
}

// MapEnabled transforms only the enabled payload.
func MapEnabled[E, D, NE any](v FeatureValue[E, D], fn func(E) NE) FeatureValue[NE, D] {
	return Map(v, MapOptions[E, D, NE, D]{Enabled: fn})
}

// MapDisabled transforms only the disabled payload.
func MapDisabled[E, D, ND any](v FeatureValue[E, D], fn func(D) ND) FeatureValue[E, ND] {
	return Map(v, MapOptions[E, D, E, ND]{Disabled: fn})
}

// Fold collapses v into a single result. Both transforms are required. An
// absent payload is passed as the zero value of its type.
func Fold[E, D, R any](v FeatureValue[E, D], enabled func(E) R, disabled func(D) R) R {
	if enabled == nil || disabled == nil {
		panic("core: Fold requires both enabled and disabled transforms")
	}

	if v.enabled {
		var payload E
		if v.present {
			payload = mustPayload[E](v.payload)
		}
		return enabled(payload)
	}

	var payload D
	if v.present {
		payload = mustPayload[D](v.payload)
	}
	return disabled(payload)
}

// Execute runs exactly one of the two functions depending on the verdict.
func Execute[R any](f *Feature, enabled func() R, disabled func() R) R {
	if f.IsEnabled() {
		return enabled()
	}
	return disabled()
}

// When runs callback only if the feature is enabled. ok reports whether it
// ran.
func When[T any](f *Feature, callback func() T) (result T, ok bool) {
	if !f.IsEnabled() {
		return result, false
	}
	return callback(), true
}

func assertPayload[T any](payload any) (T, bool) {
	if payload == nil {
		var zero T
		return zero, true
	}
	value, ok := payload.(T)
	return value, ok
}

func mustPayload[T any](payload any) T {
	value, ok := assertPayload[T](payload)
	if !ok {
		var zero T
		panic(fmt.Sprintf("core: feature value payload is %T, transform expects %T", payload, zero))
	}
	return value
}
