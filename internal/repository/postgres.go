// Package repository provides PostgreSQL-backed persistence for feature
// overrides, override events and API keys. It also handles LISTEN/NOTIFY
// based cache invalidation so every server instance sees override changes
// without polling.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel = "override_events"
	maxEventBatchSize    = 1000
)

// Override is a stored runtime override for one feature. Value holds the raw
// source value ("true", "false" or an exact version).
type Override struct {
	Name        string    `json:"name"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OverrideEvent is a change record in the override_events table.
type OverrideEvent struct {
	EventID   int64           `json:"event_id"`
	Name      string          `json:"name"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PostgresRepository implements override, event and API key persistence on
// a pgxpool connection pool.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// "override_events" notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] that
// notifies on the given channel.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

// UpsertOverride inserts or replaces the override for o.Name.
func (r *PostgresRepository) UpsertOverride(ctx context.Context, o Override) (Override, error) {
	var saved Override
	err := r.pool.QueryRow(ctx, `
		INSERT INTO feature_overrides (name, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value,
		    description = EXCLUDED.description,
		    updated_at = NOW()
		RETURNING name, value, description, created_at, updated_at
	`, o.Name, o.Value, o.Description).Scan(
		&saved.Name,
		&saved.Value,
		&saved.Description,
		&saved.CreatedAt,
		&saved.UpdatedAt,
	)
	if err != nil {
		return Override{}, fmt.Errorf("upsert override: %w", err)
	}

	return saved, nil
}

// GetOverride returns pgx.ErrNoRows (wrapped) when name has no override.
func (r *PostgresRepository) GetOverride(ctx context.Context, name string) (Override, error) {
	var o Override
	err := r.pool.QueryRow(ctx, `
		SELECT name, value, description, created_at, updated_at
		FROM feature_overrides
		WHERE name = $1
	`, name).Scan(
		&o.Name,
		&o.Value,
		&o.Description,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Override{}, fmt.Errorf("get override: %w", err)
	}

	return o, nil
}

// ListOverrides returns every override ordered by name.
func (r *PostgresRepository) ListOverrides(ctx context.Context) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, value, description, created_at, updated_at
		FROM feature_overrides
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]Override, 0)
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.Name, &o.Value, &o.Description, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides = append(overrides, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list overrides rows: %w", err)
	}

	return overrides, nil
}

// DeleteOverride returns pgx.ErrNoRows (wrapped) when name has no override.
func (r *PostgresRepository) DeleteOverride(ctx context.Context, name string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM feature_overrides WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return deleteOverrideNoRows(commandTag)
}

// ListEventsSince returns up to 1000 events with IDs greater than eventID.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, eventID int64) ([]OverrideEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, name, event_type, payload, created_at
		FROM override_events
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT $2
	`, eventID, maxEventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	events := make([]OverrideEvent, 0)
	for rows.Next() {
		var event OverrideEvent
		if err := rows.Scan(
			&event.EventID,
			&event.Name,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}

	return events, nil
}

// PublishOverrideEvent inserts an event and sends a NOTIFY on the configured
// channel within a single transaction.
func (r *PostgresRepository) PublishOverrideEvent(ctx context.Context, event OverrideEvent) (OverrideEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return OverrideEvent{}, fmt.Errorf("begin publish event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created OverrideEvent
	if err := tx.QueryRow(ctx, `
		INSERT INTO override_events (name, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING event_id, name, event_type, payload, created_at
	`,
		event.Name,
		event.EventType,
		ensureJSON(event.Payload, "{}"),
	).Scan(
		&created.EventID,
		&created.Name,
		&created.EventType,
		&created.Payload,
		&created.CreatedAt,
	); err != nil {
		return OverrideEvent{}, fmt.Errorf("insert override event: %w", err)
	}

	notifyPayload, err := marshalNotifyPayload(created)
	if err != nil {
		return OverrideEvent{}, fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, notifyPayload); err != nil {
		return OverrideEvent{}, fmt.Errorf("notify override event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return OverrideEvent{}, fmt.Errorf("commit publish event tx: %w", err)
	}

	return created, nil
}

// SubscribeOverrideInvalidation returns a channel that receives a signal
// whenever an override event notification arrives. The listener reconnects
// after connection loss; the channel is closed when ctx is done.
func (r *PostgresRepository) SubscribeOverrideInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	// A reconnect may have missed notifications.
	select {
	case invalidations <- struct{}{}:
	default:
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for override event notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func deleteOverrideNoRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("delete override: %w", pgx.ErrNoRows)
	}
	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}
	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}
	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func marshalNotifyPayload(event OverrideEvent) (string, error) {
	serialized, err := json.Marshal(struct {
		Name      string `json:"name"`
		EventType string `json:"event_type"`
	}{
		Name:      event.Name,
		EventType: event.EventType,
	})
	if err != nil {
		return "", err
	}
	return string(serialized), nil
}
