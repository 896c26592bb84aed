package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"OpenMCP-Intent/internal/cache"
)

// ManifestSource 提供外部能力组清单。
type ManifestSource interface {
	Manifests(ctx context.Context) ([]App, error)
}

// DirSource 从目录加载 YAML 清单，每个文件描述一个能力组。
type DirSource struct {
	Dir string
}

// Manifests 读取目录下全部 .yaml/.yml 文件，按文件名排序。
func (s DirSource) Manifests(_ context.Context) ([]App, error) {
	if strings.TrimSpace(s.Dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取清单目录失败: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	apps := make([]App, 0, len(names))
	for _, name := range names {
		app, err := LoadManifestFile(filepath.Join(s.Dir, name))
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// LoadManifestFile 解析单个 YAML 清单文件。
func LoadManifestFile(path string) (App, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return App{}, fmt.Errorf("读取清单失败: %w", err)
	}
	return ParseManifest(content)
}

// ParseManifest 解析 YAML 清单内容并做基本校验。
func ParseManifest(content []byte) (App, error) {
	var app App
	if err := yaml.Unmarshal(content, &app); err != nil {
		return App{}, fmt.Errorf("解析清单失败: %w", err)
	}
	if err := validateApp(app); err != nil {
		return App{}, err
	}
	return app, nil
}

func validateApp(app App) error {
	if strings.TrimSpace(app.ID) == "" {
		return errors.New("清单缺少 id")
	}
	seen := make(map[string]struct{}, len(app.Endpoints))
	for _, ep := range app.Endpoints {
		key := strings.TrimSpace(ep.Key)
		if key == "" {
			return fmt.Errorf("能力组 %s 存在缺少 key 的 endpoint", app.ID)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("能力组 %s 中 endpoint %s 重复", app.ID, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// RegistrySource 从远程注册表拉取 JSON 格式的能力组数组，结果按 TTL 缓存。
type RegistrySource struct {
	url    string
	client *http.Client
	cache  cache.Cache
	ttl    time.Duration
}

// RegistryOption 配置远程注册表来源。
type RegistryOption func(*RegistrySource)

// WithHTTPClient 替换 HTTP 客户端。
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(s *RegistrySource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithRegistryCache 设置拉取结果缓存及其有效期。
func WithRegistryCache(c cache.Cache, ttl time.Duration) RegistryOption {
	return func(s *RegistrySource) {
		s.cache = c
		s.ttl = ttl
	}
}

// NewRegistrySource 创建远程注册表来源。
func NewRegistrySource(url string, opts ...RegistryOption) *RegistrySource {
	s := &RegistrySource{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manifests 拉取注册表；缓存命中时不发起请求。
func (s *RegistrySource) Manifests(ctx context.Context) ([]App, error) {
	if s == nil || s.url == "" {
		return nil, nil
	}
	cacheKey := "registry:" + s.url
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			var apps []App
			if err := json.Unmarshal(raw, &apps); err == nil {
				return apps, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("构造注册表请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求注册表失败: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("读取注册表响应失败: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("注册表返回状态码 %d", resp.StatusCode)
	}

	var apps []App
	if err := json.Unmarshal(raw, &apps); err != nil {
		return nil, fmt.Errorf("解析注册表响应失败: %w", err)
	}
	for _, app := range apps {
		if err := validateApp(app); err != nil {
			return nil, err
		}
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, raw, s.ttl)
	}
	return apps, nil
}

// MultiSource 按顺序合并多个来源。
type MultiSource []ManifestSource

// Manifests 依次收集每个来源的清单，后出现的来源优先级更高。
func (m MultiSource) Manifests(ctx context.Context) ([]App, error) {
	var out []App
	for _, src := range m {
		if src == nil {
			continue
		}
		apps, err := src.Manifests(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, apps...)
	}
	return out, nil
}
