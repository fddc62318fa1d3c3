package server

import (
	"context"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/repository"
	"github.com/matt-riley/semflagz/internal/service"
)

type Service interface {
	SetOverride(ctx context.Context, override repository.Override) (repository.Override, error)
	GetOverride(ctx context.Context, name string) (repository.Override, error)
	ListOverrides(ctx context.Context) ([]repository.Override, error)
	DeleteOverride(ctx context.Context, name string) error
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.OverrideEvent, error)
	Evaluate(ctx context.Context, req service.EvaluateRequest) (service.EvaluateResult, error)
	EvaluateManifest(ctx context.Context, version string, requestSources []core.StateSource) (service.ManifestResult, error)
}

var _ Service = (*service.Service)(nil)
