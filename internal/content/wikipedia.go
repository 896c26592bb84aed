// Package content 抓取外部内容（目前为维基百科摘要），结果按 TTL 缓存。
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"OpenMCP-Intent/internal/cache"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/pkg/logger"
)

// Summary 是一篇条目的摘要。
type Summary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URL     string `json:"url,omitempty"`
}

// Fetcher 查询条目摘要。
type Fetcher interface {
	Summary(ctx context.Context, query string) (Summary, error)
}

// WikipediaFetcher 调用维基百科 REST 摘要接口。
type WikipediaFetcher struct {
	baseURL string
	client  *http.Client
	cache   cache.Cache
	ttl     time.Duration
	log     *slog.Logger
}

// Option 配置 WikipediaFetcher。
type Option func(*WikipediaFetcher)

// WithHTTPClient 替换 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(f *WikipediaFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithCache 为摘要启用缓存。
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(f *WikipediaFetcher) {
		f.cache = c
		f.ttl = ttl
	}
}

// NewWikipediaFetcher 创建抓取器，baseURL 形如 https://en.wikipedia.org/api/rest_v1。
func NewWikipediaFetcher(baseURL string, opts ...Option) *WikipediaFetcher {
	f := &WikipediaFetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.Named("content"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type summaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summary 返回 query 对应条目的摘要。
func (f *WikipediaFetcher) Summary(ctx context.Context, query string) (Summary, error) {
	title := Title(query)
	if title == "" {
		return Summary{}, apperrors.New(apperrors.CodeInvalidArgument, "查询内容不能为空")
	}
	key := "wiki:" + strings.ToLower(title)
	if f.cache != nil {
		if raw, ok, err := f.cache.Get(ctx, key); err == nil && ok {
			var cached Summary
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		} else if err != nil {
			f.log.Warn("读取摘要缓存失败", "key", key, "error", err)
		}
	}

	endpoint := fmt.Sprintf("%s/page/summary/%s", f.baseURL, url.PathEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("构造摘要请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return Summary{}, apperrors.Wrap(apperrors.CodeTimeout, err, "请求维基百科失败", apperrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Summary{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("没有找到 %q 的条目", title))
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Summary{}, fmt.Errorf("维基百科返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Summary{}, fmt.Errorf("解析摘要失败: %w", err)
	}
	summary := Summary{Title: payload.Title, Extract: strings.TrimSpace(payload.Extract), URL: payload.ContentURLs.Desktop.Page}
	if summary.Extract == "" {
		return Summary{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("%q 没有摘要", title))
	}

	if f.cache != nil {
		if raw, err := json.Marshal(summary); err == nil {
			if err := f.cache.Set(ctx, key, raw, f.ttl); err != nil {
				f.log.Warn("写入摘要缓存失败", "key", key, "error", err)
			}
		}
	}
	return summary, nil
}

// Title 将自由文本转换为条目标题：去掉冠词与问号，首字母大写，空格换成下划线。
func Title(query string) string {
	q := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), "?.!"))
	lower := strings.ToLower(q)
	for _, prefix := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, prefix) {
			q = q[len(prefix):]
			break
		}
	}
	q = strings.Join(strings.Fields(q), " ")
	if q == "" {
		return ""
	}
	q = strings.ToUpper(q[:1]) + q[1:]
	return strings.ReplaceAll(q, " ", "_")
}
