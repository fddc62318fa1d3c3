package sources

import (
	"os"
	"strings"
	"unicode"
)

// DefaultEnvPrefix is prepended to the normalized feature name.
const DefaultEnvPrefix = "FEATURE_"

// EnvSource reads overrides from the process environment. The feature
// "new-ui" is looked up as FEATURE_NEW_UI.
type EnvSource struct {
	prefix string
}

func NewEnvSource(prefix string) *EnvSource {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvSource{prefix: prefix}
}

func (s *EnvSource) FeatureState(name string) any {
	value, ok := os.LookupEnv(s.Key(name))
	if !ok {
		return nil
	}
	return strings.TrimSpace(value)
}

func (s *EnvSource) SourceName() string {
	return "env"
}

// Key returns the environment variable consulted for name.
func (s *EnvSource) Key(name string) string {
	var b strings.Builder
	b.WriteString(s.prefix)
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
