package llm

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
)

// Narration 是可播报的结果。
type Narration struct {
	Text string `json:"text"`
	SSML string `json:"ssml"`
}

// Narrator 把结果消息转换为可播报内容。
type Narrator interface {
	Narrate(ctx context.Context, message string) (Narration, error)
}

// PlainNarrator 原样播报消息。
type PlainNarrator struct{}

// Narrate 实现 Narrator。
func (PlainNarrator) Narrate(_ context.Context, message string) (Narration, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		return Narration{}, errors.New("没有可播报的内容")
	}
	return Narration{Text: text, SSML: toSSML(text)}, nil
}

// ModelNarrator 请大模型把消息改写为口语化的一两句话。
type ModelNarrator struct {
	client Client
}

// NewModelNarrator 创建基于大模型的播报器。
func NewModelNarrator(client Client) *ModelNarrator {
	return &ModelNarrator{client: client}
}

// Narrate 实现 Narrator。
func (n *ModelNarrator) Narrate(ctx context.Context, message string) (Narration, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Narration{}, errors.New("没有可播报的内容")
	}
	if n.client == nil {
		return PlainNarrator{}.Narrate(ctx, message)
	}
	reply, err := n.client.Complete(ctx, narrationPrompt+message)
	if err != nil {
		return Narration{}, fmt.Errorf("生成播报失败: %w", err)
	}
	reply = strings.Trim(strings.TrimSpace(reply), `"`)
	if reply == "" {
		return Narration{}, errors.New("大模型返回了空播报")
	}
	return Narration{Text: reply, SSML: toSSML(reply)}, nil
}

// NarratorFor 在 client 可用时返回 ModelNarrator，否则返回 PlainNarrator。
func NarratorFor(client Client) Narrator {
	if client == nil {
		return PlainNarrator{}
	}
	return NewModelNarrator(client)
}

const narrationPrompt = "Rewrite the following assistant result as one or two short sentences suitable for text-to-speech. " +
	"Keep every number and name exactly as written. Reply with the sentence only.\n\nResult: "

func toSSML(text string) string {
	return "<speak>" + html.EscapeString(text) + "</speak>"
}
