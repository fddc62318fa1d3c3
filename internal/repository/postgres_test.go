package repository

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNormalizeNotifyChannel(t *testing.T) {
	t.Run("defaults when empty", func(t *testing.T) {
		if got := normalizeNotifyChannel(""); got != defaultNotifyChannel {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, defaultNotifyChannel)
		}
	})

	t.Run("trims non-empty values", func(t *testing.T) {
		if got := normalizeNotifyChannel("  staging_overrides  "); got != "staging_overrides" {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, "staging_overrides")
		}
	})
}

func TestEnsureJSON(t *testing.T) {
	if got := string(ensureJSON(nil, "{}")); got != "{}" {
		t.Fatalf("ensureJSON(nil) = %q, want %q", got, "{}")
	}
	if got := string(ensureJSON(json.RawMessage(`{"value":"true"}`), "{}")); got != `{"value":"true"}` {
		t.Fatalf("ensureJSON(non-empty) = %q", got)
	}
}

func TestMarshalNotifyPayload(t *testing.T) {
	payload, err := marshalNotifyPayload(OverrideEvent{
		EventID:   7,
		Name:      "newUI",
		EventType: "updated",
		Payload:   json.RawMessage(`{"value":"1.2.0"}`),
	})
	if err != nil {
		t.Fatalf("marshalNotifyPayload() error = %v", err)
	}

	var message struct {
		Name      string          `json:"name"`
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		t.Fatalf("unmarshal notify payload: %v", err)
	}
	if message.Name != "newUI" || message.EventType != "updated" {
		t.Fatalf("unexpected notify payload envelope: %+v", message)
	}
	if message.Payload != nil {
		t.Fatal("notify payload should not carry the event body")
	}
}

func TestListenStatement(t *testing.T) {
	if got := listenStatement("override_events"); got != `LISTEN "override_events"` {
		t.Fatalf("listenStatement() = %q, want %q", got, `LISTEN "override_events"`)
	}
}

func TestDeleteOverrideNoRows(t *testing.T) {
	if err := deleteOverrideNoRows(pgconn.NewCommandTag("DELETE 1")); err != nil {
		t.Fatalf("deleteOverrideNoRows(delete 1) error = %v, want nil", err)
	}
	if err := deleteOverrideNoRows(pgconn.NewCommandTag("DELETE 0")); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("deleteOverrideNoRows(delete 0) error = %v, want %v", err, pgx.ErrNoRows)
	}
}

func TestGenerateRandomHex(t *testing.T) {
	a, err := generateRandomHex(16)
	if err != nil {
		t.Fatalf("generateRandomHex() error = %v", err)
	}
	b, _ := generateRandomHex(16)
	if len(a) != 32 {
		t.Fatalf("len = %d, want 32", len(a))
	}
	if a == b {
		t.Fatal("two generated values should differ")
	}
}
