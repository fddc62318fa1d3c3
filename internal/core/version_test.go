package core

import (
	"errors"
	"testing"
)

func TestParseRangeTest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		version string
		want    bool
	}{
		{name: "exact version matches itself", input: "1.2.0", version: "1.2.0", want: true},
		{name: "exact version matches higher patch", input: "1.2.0", version: "1.2.1", want: true},
		{name: "exact version matches higher major", input: "1.2.0", version: "2.0.0", want: true},
		{name: "exact version rejects lower minor", input: "1.2.0", version: "1.1.9", want: false},
		{name: "exact version rejects its pre-release", input: "1.0.0", version: "1.0.0-beta", want: false},
		{name: "pre-release minimum accepts release", input: "1.0.0-beta", version: "1.0.0", want: true},
		{name: "pre-release minimum accepts later pre-release", input: "1.0.0-beta.2", version: "1.0.0-beta.11", want: true},
		{name: "pre-release minimum rejects earlier pre-release", input: "1.0.0-beta", version: "1.0.0-alpha.9", want: false},
		{name: "build metadata is ignored", input: "1.0.0+build.5", version: "1.0.0", want: true},
		{name: "explicit at least", input: ">=1.0.0", version: "1.0.0", want: true},
		{name: "explicit at least with space", input: ">= 1.0.0", version: "0.9.0", want: false},
		{name: "v prefix", input: "v1.2.0", version: "1.2.0", want: true},
		{name: "caret in range", input: "^1.2.0", version: "1.9.0", want: true},
		{name: "caret excludes next major", input: "^1.2.0", version: "2.0.0", want: false},
		{name: "tilde in range", input: "~1.2.0", version: "1.2.5", want: true},
		{name: "tilde excludes next minor", input: "~1.2.0", version: "1.3.0", want: false},
		{name: "wildcard", input: "1.x", version: "1.5.0", want: true},
		{name: "wildcard excludes other major", input: "1.x", version: "2.0.0", want: false},
		{name: "hyphen range", input: "1.0.0 - 2.0.0", version: "1.5.0", want: true},
		{name: "hyphen range upper bound", input: "1.0.0 - 2.0.0", version: "2.1.0", want: false},
		{name: "or ranges left", input: "<1.0.0 || >=2.0.0", version: "0.5.0", want: true},
		{name: "or ranges gap", input: "<1.0.0 || >=2.0.0", version: "1.5.0", want: false},
		{name: "or ranges right", input: "<1.0.0 || >=2.0.0", version: "2.0.0", want: true},
		{name: "unparsable version never matches", input: "1.0.0", version: "garbage", want: false},
		{name: "empty version never matches", input: "1.0.0", version: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.input)
			if err != nil {
				t.Fatalf("ParseRange(%q) error = %v", tt.input, err)
			}
			if got := r.Test(tt.version); got != tt.want {
				t.Fatalf("ParseRange(%q).Test(%q) = %v, want %v", tt.input, tt.version, got, tt.want)
			}
		})
	}
}

func TestParseRangeInvalid(t *testing.T) {
	for _, input := range []string{"", "   ", "not-a-range", "abc"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseRange(input)
			if err == nil {
				t.Fatalf("ParseRange(%q) error = nil, want error", input)
			}
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("ParseRange(%q) error = %v, want ErrInvalidRange", input, err)
			}

			var rangeErr *InvalidRangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("ParseRange(%q) error type = %T, want *InvalidRangeError", input, err)
			}
			if rangeErr.Input != input {
				t.Fatalf("InvalidRangeError.Input = %q, want %q", rangeErr.Input, input)
			}
		})
	}
}

func TestExactVersionFormatsAsAtLeast(t *testing.T) {
	exact := MustParseRange("1.0.0")
	explicit := MustParseRange(">=1.0.0")

	if exact.String() != ">=1.0.0" {
		t.Fatalf("String() = %q, want %q", exact.String(), ">=1.0.0")
	}
	if !exact.Equal(explicit) {
		t.Fatalf("%q and %q should be equal", exact, explicit)
	}

	text, err := exact.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var decoded VersionRange
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if !decoded.Equal(exact) {
		t.Fatalf("decoded range = %q, want %q", decoded, exact)
	}
}

func TestZeroRangeMatchesNothing(t *testing.T) {
	var r VersionRange
	if !r.IsZero() {
		t.Fatal("zero VersionRange should report IsZero")
	}
	if r.Test("1.0.0") {
		t.Fatal("zero VersionRange should not match")
	}
}

func TestMustParseRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustParseRange should panic on invalid input")
		}
	}()
	MustParseRange("nope")
}

func TestIsExactVersion(t *testing.T) {
	tests := map[string]bool{
		"1.2.3":            true,
		"v1.2.3":           true,
		"1.0.0-rc.1+build": true,
		"123":              false,
		"1.2":              false,
		"01.2.3":           false,
		"^1.2.3":           false,
		"":                 false,
	}
	for input, want := range tests {
		if got := IsExactVersion(input); got != want {
			t.Errorf("IsExactVersion(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	if _, err := ParseVersion(" "); !errors.Is(err, ErrMissingVersion) {
		t.Fatalf("ParseVersion(blank) error = %v, want ErrMissingVersion", err)
	}

	_, err := ParseVersion("1.x")
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("ParseVersion(1.x) error = %v, want ErrInvalidVersion", err)
	}
	var versionErr *InvalidVersionError
	if !errors.As(err, &versionErr) || versionErr.Input != "1.x" {
		t.Fatalf("ParseVersion(1.x) error = %#v, want InvalidVersionError for 1.x", err)
	}

	v, err := ParseVersion("2.3.4-beta.1")
	if err != nil {
		t.Fatalf("ParseVersion() error = %v", err)
	}
	if v.String() != "2.3.4-beta.1" {
		t.Fatalf("ParseVersion().String() = %q", v.String())
	}
}

func TestCompareVersionsPrecedence(t *testing.T) {
	ordered := []string{
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta",
		"1.0.0-beta.2",
		"1.0.0-beta.11",
		"1.0.0-rc.1",
		"1.0.0",
		"1.0.1",
		"1.1.0",
		"2.0.0",
	}

	for i := 0; i < len(ordered)-1; i++ {
		lower, higher := ordered[i], ordered[i+1]
		got, err := CompareVersions(lower, higher)
		if err != nil {
			t.Fatalf("CompareVersions(%q, %q) error = %v", lower, higher, err)
		}
		if got != -1 {
			t.Fatalf("CompareVersions(%q, %q) = %d, want -1", lower, higher, got)
		}
		got, _ = CompareVersions(higher, lower)
		if got != 1 {
			t.Fatalf("CompareVersions(%q, %q) = %d, want 1", higher, lower, got)
		}
	}

	if got, _ := CompareVersions("1.0.0+a", "1.0.0+b"); got != 0 {
		t.Fatalf("build metadata should not affect precedence, got %d", got)
	}
	if _, err := CompareVersions("1.0.0", ""); !errors.Is(err, ErrMissingVersion) {
		t.Fatalf("CompareVersions with blank version error = %v, want ErrMissingVersion", err)
	}
}
