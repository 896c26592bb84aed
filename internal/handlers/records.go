package handlers

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/storage"
)

const titleRunes = 40

func (h *handlers) messageSend(ctx context.Context, call executor.Call) (executor.Result, error) {
	if err := required(call, "recipient"); err != nil {
		return executor.Result{}, err
	}
	store, err := h.store()
	if err != nil {
		return executor.Result{}, err
	}
	msg := storage.Message{
		ID:        h.deps.NewID(),
		Wallet:    call.Session.Wallet,
		Recipient: strings.TrimSpace(call.Text("recipient")),
		Body:      strings.TrimSpace(call.Text("body")),
		CreatedAt: h.deps.Clock().UTC(),
	}
	if err := store.SaveMessage(ctx, msg); err != nil {
		return executor.Result{}, err
	}
	text := fmt.Sprintf("Message sent to %s", msg.Recipient)
	if msg.Body == "" {
		// 没有正文时只发送一条空消息提醒。
		text = fmt.Sprintf("Sent %s an empty message. Say what it should say next time", msg.Recipient)
	}
	return executor.Result{
		Message: text,
		Data:    map[string]any{"message": msg},
	}, nil
}

func (h *handlers) messageList(ctx context.Context, call executor.Call) (executor.Result, error) {
	store, err := h.store()
	if err != nil {
		return executor.Result{}, err
	}
	msgs, err := store.ListMessages(ctx, call.Session.Wallet, call.Int("limit", storage.DefaultListLimit))
	if err != nil {
		return executor.Result{}, err
	}
	text := fmt.Sprintf("You have %s", plural(len(msgs), "message"))
	if len(msgs) > 0 {
		text += fmt.Sprintf(". The latest went to %s: %q", msgs[0].Recipient, msgs[0].Body)
	}
	return executor.Result{Message: text, Data: map[string]any{"messages": msgs}}, nil
}

func (h *handlers) noteCreate(ctx context.Context, call executor.Call) (executor.Result, error) {
	title := strings.TrimSpace(call.Text("title"))
	body := strings.TrimSpace(call.Text("body"))
	if title == "" && body == "" {
		return executor.Result{}, required(call, "body")
	}
	if title == "" {
		title = deriveTitle(body)
	}
	store, err := h.store()
	if err != nil {
		return executor.Result{}, err
	}
	note := storage.Note{
		ID:        h.deps.NewID(),
		Wallet:    call.Session.Wallet,
		Title:     title,
		Body:      body,
		Tags:      stringList(call.Args["tags"]),
		CreatedAt: h.deps.Clock().UTC(),
	}
	if err := store.SaveNote(ctx, note); err != nil {
		return executor.Result{}, err
	}
	return executor.Result{
		Message: fmt.Sprintf("Saved note %q", note.Title),
		Data:    map[string]any{"note": note},
	}, nil
}

func (h *handlers) noteList(ctx context.Context, call executor.Call) (executor.Result, error) {
	store, err := h.store()
	if err != nil {
		return executor.Result{}, err
	}
	notes, err := store.ListNotes(ctx, call.Session.Wallet, call.Int("limit", storage.DefaultListLimit))
	if err != nil {
		return executor.Result{}, err
	}
	text := fmt.Sprintf("You have %s", plural(len(notes), "note"))
	if len(notes) > 0 {
		text += fmt.Sprintf(". The latest is %q", notes[0].Title)
	}
	return executor.Result{Message: text, Data: map[string]any{"notes": notes}}, nil
}

func (h *handlers) ledgerList(ctx context.Context, call executor.Call) (executor.Result, error) {
	store, err := h.store()
	if err != nil {
		return executor.Result{}, err
	}
	entries, err := store.ListLedger(ctx, call.Session.Wallet, call.Int("limit", storage.DefaultListLimit))
	if err != nil {
		return executor.Result{}, err
	}
	pending := 0
	for _, e := range entries {
		if e.Status == storage.LedgerPending {
			pending++
		}
	}
	return executor.Result{
		Message: fmt.Sprintf("You have %d ledger entries, %d pending anchoring", len(entries), pending),
		Data:    map[string]any{"entries": entries, "pending": pending},
	}, nil
}

func deriveTitle(body string) string {
	runes := []rune(body)
	if len(runes) <= titleRunes {
		return body
	}
	return strings.TrimSpace(string(runes[:titleRunes])) + "…"
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(list) == "" {
			return nil
		}
		return []string{strings.TrimSpace(list)}
	}
	return nil
}
