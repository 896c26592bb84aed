// Package openai 通过 Chat Completions API 提供文本补全。
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
)

// Config 描述调用 OpenAI 所需的信息。
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	SystemPrompt string
}

// Client 通过 HTTP 调用 OpenAI。
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	temperature  float64
	systemPrompt string
	httpClient   *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	system := strings.TrimSpace(cfg.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		model:        model,
		temperature:  cfg.Temperature,
		systemPrompt: system,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Complete 发送单轮对话并返回首个候选的文本。
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeTimeout, err, "请求 OpenAI 失败", apperrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return "", apperrors.New(apperrors.CodeExecutorFailure,
			fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			apperrors.WithRetryable(retryable),
			apperrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", apperrors.New(apperrors.CodeExecutorFailure, "OpenAI 响应中没有有效的 choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", apperrors.New(apperrors.CodeExecutorFailure, "OpenAI 响应内容为空")
	}
	return content, nil
}

const defaultSystemPrompt = "You are the planning assistant of a wallet-bound command service. " +
	"Follow the user's instructions exactly and answer as briefly as possible."
