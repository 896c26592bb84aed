package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"OpenMCP-Intent/internal/config"
	apperrors "OpenMCP-Intent/internal/errors"
)

func TestMemoryPublisher(t *testing.T) {
	pub := NewMemoryPublisher(1)
	ctx := context.Background()
	event := Event{ID: "e1", Wallet: "0xaa", Utterance: "check my balance", Steps: []StepEvent{{Endpoint: "wallet.balance.get", Status: "ok"}}}
	if err := pub.Publish(ctx, event); err != nil {
		t.Fatalf("发布事件失败: %v", err)
	}
	if err := pub.Publish(ctx, event); apperrors.CodeOf(err) != apperrors.CodeQueueFailure {
		t.Fatalf("full buffer must fail fast with a queue error, got %v", err)
	}
	got := <-pub.Events()
	if got.ID != "e1" || got.Steps[0].Endpoint != "wallet.balance.get" {
		t.Fatalf("unexpected event %+v", got)
	}
	_ = pub.Close()
	if err := pub.Publish(ctx, event); apperrors.CodeOf(err) != apperrors.CodeQueueFailure {
		t.Fatalf("closed publisher must reject events, got %v", err)
	}
}

func TestEventEncoding(t *testing.T) {
	event := Event{
		ID:         "e1",
		Wallet:     "0xaa",
		Utterance:  "pay bob 150",
		Steps:      []StepEvent{{Endpoint: "payments.send", Status: "failed", Code: "CONSENT_REQUIRED"}},
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := event.Encode()
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	for _, key := range []string{"id", "wallet", "utterance", "steps", "occurred_at"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing field %s in %s", key, payload)
		}
	}
	if !strings.Contains(string(payload), `"code":"CONSENT_REQUIRED"`) {
		t.Fatalf("step code missing: %s", payload)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	if pub, err := New(config.EventsConfig{}); err != nil {
		t.Fatalf("default driver: %v", err)
	} else if _, ok := pub.(*MemoryPublisher); !ok {
		t.Fatalf("expected memory publisher, got %T", pub)
	}
	if pub, _ := New(config.EventsConfig{Driver: "none"}); pub == nil {
		t.Fatal("expected nop publisher")
	}
	if _, err := New(config.EventsConfig{Driver: "kafka"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := New(config.EventsConfig{Driver: "redis"}); err == nil {
		t.Fatal("redis without address must fail")
	}
}
