package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
)

func invalid(call executor.Call, names ...string) error {
	return &apperrors.ValidationError{Endpoint: call.Endpoint.Key, Invalid: names}
}

func (h *handlers) knowledgeTopic(_ context.Context, call executor.Call) (executor.Result, error) {
	if err := required(call, "topic"); err != nil {
		return executor.Result{}, err
	}
	if h.deps.Knowledge == nil {
		return executor.Result{}, apperrors.New(apperrors.CodeInitializationFailure, "knowledge provider is not configured")
	}
	topic := strings.TrimSpace(call.Text("topic"))
	snippets := h.deps.Knowledge.Query(topic)
	if len(snippets) == 0 {
		return executor.Result{
			Message: fmt.Sprintf("I don't have anything on %s yet", topic),
			Data:    map[string]any{"topic": topic},
		}, nil
	}
	return executor.Result{
		Message: snippets[0].Content,
		Data:    map[string]any{"topic": topic, "snippets": snippets},
	}, nil
}

func (h *handlers) wikipediaSummary(ctx context.Context, call executor.Call) (executor.Result, error) {
	if err := required(call, "query"); err != nil {
		return executor.Result{}, err
	}
	if h.deps.Content == nil {
		return executor.Result{}, apperrors.New(apperrors.CodeInitializationFailure, "content fetcher is not configured")
	}
	summary, err := h.deps.Content.Summary(ctx, call.Text("query"))
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{
		Message: summary.Extract,
		Data:    map[string]any{"title": summary.Title, "url": summary.URL},
	}, nil
}

func (h *handlers) timeNow(_ context.Context, call executor.Call) (executor.Result, error) {
	now := h.deps.Clock()
	zone := strings.TrimSpace(call.Text("timezone"))
	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return executor.Result{}, invalid(call, "timezone")
		}
		now = now.In(loc)
	}
	text := fmt.Sprintf("It is %s on %s", now.Format("15:04"), now.Format("Monday, January 2"))
	if zone != "" {
		text += " in " + zone
	}
	return executor.Result{
		Message: text,
		Data:    map[string]any{"time": now.Format(time.RFC3339), "timezone": now.Location().String()},
	}, nil
}

func (h *handlers) sessionInfo(_ context.Context, call executor.Call) (executor.Result, error) {
	sess := call.Session
	grants := append([]string(nil), sess.Grants...)
	sort.Strings(grants)
	remaining := sess.ExpiresAt.Sub(h.deps.Clock()).Round(time.Minute)
	return executor.Result{
		Message: fmt.Sprintf("You are signed in as %s with %s, expiring in %s",
			sess.Wallet, plural(len(grants), "scope"), remaining),
		Data: map[string]any{
			"wallet":     sess.Wallet,
			"roles":      sess.Roles,
			"grants":     grants,
			"connected":  sess.Connected,
			"expires_at": sess.ExpiresAt,
		},
	}, nil
}

func (h *handlers) catalogReload(ctx context.Context, _ executor.Call) (executor.Result, error) {
	if h.deps.Reload == nil {
		return executor.Result{}, apperrors.New(apperrors.CodeInitializationFailure, "catalog reload is not available")
	}
	count, err := h.deps.Reload(ctx)
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{
		Message: fmt.Sprintf("Catalog reloaded with %s", plural(count, "endpoint")),
		Data:    map[string]any{"endpoints": count},
	}, nil
}
