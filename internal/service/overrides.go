package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/repository"
)

// SetOverride stores value as the override for name. The value must be one
// the evaluator understands: "true", "false" or an exact version.
func (s *Service) SetOverride(ctx context.Context, override repository.Override) (repository.Override, error) {
	override.Name = strings.TrimSpace(override.Name)
	if override.Name == "" {
		return repository.Override{}, ErrFeatureNameRequired
	}
	value, err := normalizeOverrideValue(override.Value)
	if err != nil {
		return repository.Override{}, err
	}
	override.Value = value

	saved, err := s.repo.UpsertOverride(ctx, override)
	if err != nil {
		return repository.Override{}, fmt.Errorf("upsert override: %w", err)
	}

	s.setCachedOverride(saved)
	s.recordOverrideWrite("upsert")
	s.publishOverrideEventBestEffort(ctx, EventTypeUpdated, saved)

	return saved, nil
}

func (s *Service) GetOverride(ctx context.Context, name string) (repository.Override, error) {
	if strings.TrimSpace(name) == "" {
		return repository.Override{}, ErrFeatureNameRequired
	}

	if override, ok := s.getCachedOverride(name); ok {
		return override, nil
	}

	override, err := s.repo.GetOverride(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Override{}, ErrOverrideNotFound
		}
		return repository.Override{}, fmt.Errorf("get override: %w", err)
	}

	s.setCachedOverride(override)
	return override, nil
}

// ListOverrides returns the cached overrides sorted by name.
func (s *Service) ListOverrides(_ context.Context) ([]repository.Override, error) {
	s.mu.RLock()
	overrides := make([]repository.Override, 0, len(s.cache))
	for _, override := range s.cache {
		overrides = append(overrides, override)
	}
	s.mu.RUnlock()

	sort.Slice(overrides, func(i, j int) bool {
		return overrides[i].Name < overrides[j].Name
	})

	return overrides, nil
}

func (s *Service) DeleteOverride(ctx context.Context, name string) error {
	existing, err := s.GetOverride(ctx, name)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteOverride(ctx, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedOverride(name)
			return ErrOverrideNotFound
		}
		return fmt.Errorf("delete override: %w", err)
	}

	s.deleteCachedOverride(name)
	s.recordOverrideWrite("delete")
	s.publishOverrideEventBestEffort(ctx, EventTypeDeleted, existing)

	return nil
}

func (s *Service) ListEventsSince(ctx context.Context, eventID int64) ([]repository.OverrideEvent, error) {
	events, err := s.repo.ListEventsSince(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}

	return events, nil
}

// normalizeOverrideValue rejects values the evaluator would silently ignore,
// so a stored override always carries an opinion.
func normalizeOverrideValue(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if _, ok := core.ParseSourceValue(value); !ok {
		return "", fmt.Errorf("%w: %q is not true, false or an exact version", ErrInvalidOverride, raw)
	}
	return value, nil
}

func (s *Service) recordOverrideWrite(operation string) {
	if s.onOverrideWrite != nil {
		s.onOverrideWrite(operation)
	}
}

func (s *Service) publishOverrideEventBestEffort(ctx context.Context, eventType string, override repository.Override) {
	// Mutations have already committed before events are published.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := s.publishOverrideEvent(publishCtx, eventType, override); err != nil {
		s.logger.Warn("publish override event", "feature", override.Name, "event_type", eventType, "error", err)
	}
}

func (s *Service) publishOverrideEvent(ctx context.Context, eventType string, override repository.Override) error {
	payload, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("marshal %s event payload: %w", eventType, err)
	}

	_, err = s.repo.PublishOverrideEvent(ctx, repository.OverrideEvent{
		Name:      override.Name,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	return nil
}
