package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// atLeastPattern matches a single ">=" comparator so that ">=1.0.0" and
// "1.0.0" produce the same VersionRange.
var atLeastPattern = regexp.MustCompile(`^>=\s*(\S+)$`)

// VersionRange is an immutable predicate over semantic versions.
//
// A range built from an exact version ("1.2.0") is satisfied by every version
// with equal or higher precedence. Any other range expression follows the
// comparator grammar: wildcards, caret, tilde, hyphen ranges and "||".
type VersionRange struct {
	min        *semver.Version
	constraint *semver.Constraints
	text       string
}

// ParseRange builds a VersionRange from an exact version or a range
// expression. It returns an *InvalidRangeError when input is neither.
func ParseRange(input string) (VersionRange, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return VersionRange{}, &InvalidRangeError{Input: input}
	}

	if version, err := parseExactVersion(trimmed); err == nil {
		return atLeast(version), nil
	}

	if match := atLeastPattern.FindStringSubmatch(trimmed); match != nil {
		if version, err := parseExactVersion(match[1]); err == nil {
			return atLeast(version), nil
		}
	}

	constraint, err := semver.NewConstraint(trimmed)
	if err != nil {
		return VersionRange{}, &InvalidRangeError{Input: input}
	}

	return VersionRange{
		constraint: constraint,
		text:       strings.Join(strings.Fields(trimmed), " "),
	}, nil
}

// MustParseRange is like ParseRange but panics on invalid input.
func MustParseRange(input string) VersionRange {
	r, err := ParseRange(input)
	if err != nil {
		panic(err)
	}
	return r
}

func atLeast(version *semver.Version) VersionRange {
	return VersionRange{
		min:  version,
		text: ">=" + version.String(),
	}
}

// Test reports whether version satisfies the range. Versions that do not
// parse never satisfy it.
func (r VersionRange) Test(version string) bool {
	parsed, err := parseExactVersion(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	return r.TestVersion(parsed)
}

// TestVersion is Test for an already parsed version.
func (r VersionRange) TestVersion(version *semver.Version) bool {
	if version == nil {
		return false
	}

	switch {
	case r.min != nil:
		return version.Compare(r.min) >= 0
	case r.constraint != nil:
		return r.constraint.Check(version)
	default:
		return false
	}
}

// IsZero reports whether r is the zero VersionRange, which matches nothing.
func (r VersionRange) IsZero() bool {
	return r.min == nil && r.constraint == nil
}

// Equal reports whether both ranges have the same canonical form.
func (r VersionRange) Equal(other VersionRange) bool {
	return r.text == other.text
}

func (r VersionRange) String() string {
	return r.text
}

// MarshalText implements encoding.TextMarshaler.
func (r VersionRange) MarshalText() ([]byte, error) {
	return []byte(r.text), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *VersionRange) UnmarshalText(text []byte) error {
	parsed, err := ParseRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsExactVersion reports whether s is a strict semantic version, optionally
// prefixed with "v". Partial and bare numeric versions are rejected.
func IsExactVersion(s string) bool {
	_, err := parseExactVersion(strings.TrimSpace(s))
	return err == nil
}

// ParseVersion parses a strict semantic version.
func ParseVersion(s string) (*semver.Version, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, ErrMissingVersion
	}

	version, err := parseExactVersion(trimmed)
	if err != nil {
		return nil, &InvalidVersionError{Input: s, Err: err}
	}
	return version, nil
}

// CompareVersions returns -1, 0 or 1 depending on the precedence of a
// relative to b.
func CompareVersions(a, b string) (int, error) {
	left, err := ParseVersion(a)
	if err != nil {
		return 0, fmt.Errorf("compare versions: %w", err)
	}
	right, err := ParseVersion(b)
	if err != nil {
		return 0, fmt.Errorf("compare versions: %w", err)
	}
	return left.Compare(right), nil
}

func parseExactVersion(s string) (*semver.Version, error) {
	return semver.StrictNewVersion(strings.TrimPrefix(s, "v"))
}
