package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"OpenMCP-Intent/internal/config"
	xerrors "OpenMCP-Intent/internal/errors"
)

type failingNotifier struct{}

func (failingNotifier) Channel() Channel                     { return "broken" }
func (failingNotifier) Notify(context.Context, Event) error { return errors.New("down") }

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := FromConfig(config.AlertingConfig{WebhookURL: srv.URL})
	if !reflect.DeepEqual(d.Channels(), []Channel{ChannelLog, ChannelWebhook}) {
		t.Fatalf("unexpected channels: %v", d.Channels())
	}
	event := EventFromError(xerrors.New(xerrors.CodeStorageFailure, "db gone", xerrors.WithMetadata("table", "notes")), "0xabc", "notes.create")
	if err := d.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.Code != xerrors.CodeStorageFailure || got.Wallet != "0xabc" || got.Metadata["table"] != "notes" {
		t.Fatalf("unexpected webhook payload: %+v", got)
	}
}

func TestWebhookNotifierReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, srv.Client()).Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestFanoutJoinsErrorsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logNotifier := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	d := NewFanout(logNotifier, failingNotifier{}, nil)
	err := d.Notify(context.Background(), Event{Code: xerrors.CodeExecutorFailure, Message: "boom"})
	if err == nil || !strings.Contains(err.Error(), "channel broken") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !strings.Contains(buf.String(), `"code":"EXECUTOR_FAILURE"`) {
		t.Fatalf("log notifier did not write: %s", buf.String())
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher must be a no-op")
	}
}
