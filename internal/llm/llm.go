package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"OpenMCP-Intent/internal/config"
	"OpenMCP-Intent/internal/llm/openai"
)

// Client 是统一的文本补全接口。
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New 根据配置创建补全客户端。provider 为 none 或未配置 API Key 时返回 nil。
func New(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "openai":
		key := strings.TrimSpace(cfg.OpenAI.APIKey)
		if key == "" && cfg.OpenAI.APIKeyEnv != "" {
			key = strings.TrimSpace(os.Getenv(cfg.OpenAI.APIKeyEnv))
		}
		if key == "" {
			return nil, nil
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:      key,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("不支持的大模型提供方: %s", cfg.Provider)
	}
}
