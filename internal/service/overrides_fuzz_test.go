package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/matt-riley/semflagz/internal/core"
)

func FuzzNormalizeOverrideValue(f *testing.F) {
	f.Add("true")
	f.Add(" false ")
	f.Add("1.2.3")
	f.Add("v2.0.0-rc.1")
	f.Add("^1.0.0")
	f.Add("")

	f.Fuzz(func(t *testing.T, raw string) {
		value, err := normalizeOverrideValue(raw)
		if err != nil {
			if !errors.Is(err, ErrInvalidOverride) {
				t.Fatalf("normalizeOverrideValue(%q) error = %v, want ErrInvalidOverride-wrapped error", raw, err)
			}
			return
		}

		if value != strings.TrimSpace(raw) {
			t.Fatalf("normalizeOverrideValue(%q) = %q, want trimmed input", raw, value)
		}
		if _, ok := core.ParseSourceValue(value); !ok {
			t.Fatalf("normalized value %q carries no opinion", value)
		}
	})
}
