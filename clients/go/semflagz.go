// Package semflagz provides client interfaces and domain types for the
// semflagz feature toggle service.
//
// Use the sub-packages to create transport-specific clients:
//
//	import semflagzhttp "github.com/matt-riley/semflagz/clients/go/http"
//	import semflagzgrpc "github.com/matt-riley/semflagz/clients/go/grpc"
package semflagz

import (
	"context"
	"time"
)

// Evaluator resolves features against an application version.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error)
	EvaluateManifest(ctx context.Context, version string, overrides map[string]string) (EvaluateResult, error)
}

// OverrideManager covers CRUD operations on stored overrides.
type OverrideManager interface {
	SetOverride(ctx context.Context, override Override) (Override, error)
	GetOverride(ctx context.Context, name string) (Override, error)
	ListOverrides(ctx context.Context) ([]Override, error)
	DeleteOverride(ctx context.Context, name string) error
}

// Streamer delivers override change events.
// The returned channel is closed when ctx is cancelled or the connection drops.
type Streamer interface {
	Stream(ctx context.Context, lastEventID int64) (<-chan OverrideEvent, error)
}

// FeatureRequest names one feature to evaluate. Requirement is a bool for a
// fixed state or a string holding a version ("1.2.0") or range (">=1.0.0 <2").
type FeatureRequest struct {
	Name        string `json:"name"`
	Requirement any    `json:"requirement"`
}

// EvaluateRequest is a batch of features evaluated against one version. An
// empty Version means the server's APP_VERSION. Overrides take precedence
// over everything the server knows.
type EvaluateRequest struct {
	Version   string
	Features  []FeatureRequest
	Overrides map[string]string
}

// FeatureVerdict is the outcome for a single feature. Description, Tags and
// Deprecated are only set for manifest evaluations.
type FeatureVerdict struct {
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	Requirement any      `json:"requirement"`
	DecidedBy   string   `json:"decided_by"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`
}

type EvaluateResult struct {
	Version  string           `json:"version"`
	Features []FeatureVerdict `json:"features"`
}

// Enabled reports the verdict for name, and whether name was evaluated.
func (r EvaluateResult) Enabled(name string) (enabled, ok bool) {
	for _, feature := range r.Features {
		if feature.Name == name {
			return feature.Enabled, true
		}
	}
	return false, false
}

// Override is a stored runtime override. Value is "true", "false" or an
// exact version.
type Override struct {
	Name        string    `json:"name"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OverrideEvent is a real-time notification of an override change.
type OverrideEvent struct {
	Type     string // "update" | "delete" | "error"
	Name     string
	Override *Override // nil on error
	EventID  int64
	Error    string // set on "error"
}
