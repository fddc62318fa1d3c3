// Package manifest loads and validates features files and binds their
// entries to a core.Registry.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a features file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Manifest is the root of a features file.
type Manifest struct {
	Schema   string  `json:"$schema,omitempty" yaml:"$schema,omitempty"`
	Features []Entry `json:"features" yaml:"features" validate:"unique=Name,dive"`
}

// Entry declares one feature.
type Entry struct {
	Name             string   `json:"name" yaml:"name" validate:"required,featurename"`
	Description      string   `json:"description" yaml:"description"`
	VersionRange     string   `json:"versionRange" yaml:"versionRange" validate:"required,semverrange"`
	EnabledByDefault bool     `json:"enabledByDefault,omitempty" yaml:"enabledByDefault,omitempty"`
	Tags             []string `json:"tags,omitempty" yaml:"tags,omitempty" validate:"omitempty,dive,required"`
	Deprecated       bool     `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
	Owners           []string `json:"owners,omitempty" yaml:"owners,omitempty" validate:"omitempty,dive,required"`
	CreatedAt        string   `json:"createdAt,omitempty" yaml:"createdAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	ExpiresAt        string   `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// FormatFromPath picks the format from the file extension. Anything that is
// not .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads, decodes and validates the features file at path.
func Load(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := Decode(f, FormatFromPath(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return m, nil
}

// Decode reads a manifest and validates it. Unknown fields are rejected.
func Decode(r io.Reader, format Format) (Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return Manifest{}, fmt.Errorf("decode json manifest: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("decode yaml manifest: %w", err)
		}
	default:
		return Manifest{}, fmt.Errorf("unsupported manifest format %q", format)
	}

	if err := Validate(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Encode writes m in the given format.
func Encode(w io.Writer, m Manifest, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported manifest format %q", format)
	}
}
