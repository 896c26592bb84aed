package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "OPENMCP_CONFIG"

// DefaultConfigPath 是未设置环境变量时使用的配置文件路径。
const DefaultConfigPath = "configs/intentd.json"

// Config 描述了意图编排服务在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Session    SessionConfig    `json:"session"`
	Governance GovernanceConfig `json:"governance"`
	Catalog    CatalogConfig    `json:"catalog"`
	Storage    StorageConfig    `json:"storage"`
	Cache      CacheConfig      `json:"cache"`
	Events     EventsConfig     `json:"events"`
	Web3       Web3Config       `json:"web3"`
	LLM        LLMConfig        `json:"llm"`
	Vault      VaultConfig      `json:"vault"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Content    ContentConfig    `json:"content"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘位置与滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SessionConfig 描述会话生命周期与可授权范围。
type SessionConfig struct {
	TTLSeconds        int      `json:"ttl_seconds"`
	AutoConsentScopes []string `json:"auto_consent_scopes"`
	ConsentableScopes []string `json:"consentable_scopes"`
}

// TTL 返回会话有效期。
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// GovernanceConfig 描述人工审核规则。
type GovernanceConfig struct {
	HighRiskScopes         []string `json:"high_risk_scopes"`
	PaymentEndpoint        string   `json:"payment_endpoint"`
	PaymentReviewThreshold *float64 `json:"payment_review_threshold"`
}

// Threshold 返回支付审核阈值，0 表示关闭金额规则。
func (g GovernanceConfig) Threshold() float64 {
	if g.PaymentReviewThreshold == nil {
		return 0
	}
	return *g.PaymentReviewThreshold
}

// CatalogConfig 描述能力目录的外部清单来源。
type CatalogConfig struct {
	ManifestDir          string `json:"manifest_dir"`
	RegistryURL          string `json:"registry_url"`
	RegistryCacheSeconds int    `json:"registry_cache_seconds"`
}

// StorageConfig 描述存储型 handler 使用的后端。
type StorageConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
	Queue    string `json:"queue"`
}

// CacheConfig 描述查询缓存的实现方式。
type CacheConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// EventsConfig 描述流程执行事件的投递方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// LLMConfig 用于配置推理辅助编排与播报所使用的大模型。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// VaultConfig 指定主密钥所在的环境变量。
type VaultConfig struct {
	MasterSecretEnv string `json:"master_secret_env"`
}

// KnowledgeConfig 描述静态知识库。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// ContentConfig 描述外部内容抓取。
type ContentConfig struct {
	WikipediaBaseURL string `json:"wikipedia_base_url"`
	CacheSeconds     int    `json:"cache_seconds"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

// AlertingConfig 描述告警通知。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// LoadFromEnv 读取 OPENMCP_CONFIG 指定的配置；未设置且默认文件不存在时返回纯默认配置。
func LoadFromEnv() (*Config, error) {
	path, explicit := os.LookupEnv(EnvConfigPath)
	path = strings.TrimSpace(path)
	if !explicit || path == "" {
		if _, err := os.Stat(DefaultConfigPath); errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		path = DefaultConfigPath
	}
	return Load(path)
}

// Default 返回所有字段均为默认值的配置。
func Default() *Config {
	cfg := &Config{}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg.applyDefaults(wd)
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.DSN == "" {
			return errors.New("storage.driver 为 mysql 时必须提供 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的缓存驱动: %s", c.Cache.Driver)
	}
	switch c.Events.Driver {
	case "memory", "redis", "rabbitmq", "none":
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}
	if c.Governance.Threshold() < 0 {
		return errors.New("governance.payment_review_threshold 不能为负数")
	}
	if c.Session.TTLSeconds <= 0 {
		return errors.New("session.ttl_seconds 必须大于 0")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Session.TTLSeconds == 0 {
		c.Session.TTLSeconds = int((24 * time.Hour).Seconds())
	}
	if len(c.Session.AutoConsentScopes) == 0 {
		c.Session.AutoConsentScopes = []string{"profile", "knowledge", "search"}
	}
	if len(c.Session.ConsentableScopes) == 0 {
		c.Session.ConsentableScopes = []string{"wallet", "payments", "messages", "notes", "ledger", "music", "news", "admin"}
	}
	c.Session.ConsentableScopes = mergeUnique(c.Session.ConsentableScopes, c.Session.AutoConsentScopes)

	if len(c.Governance.HighRiskScopes) == 0 {
		c.Governance.HighRiskScopes = []string{"payments"}
	}
	if c.Governance.PaymentEndpoint == "" {
		c.Governance.PaymentEndpoint = "payments.send"
	}
	if c.Governance.PaymentReviewThreshold == nil {
		threshold := 100.0
		c.Governance.PaymentReviewThreshold = &threshold
	}

	if c.Catalog.ManifestDir != "" && !filepath.IsAbs(c.Catalog.ManifestDir) {
		c.Catalog.ManifestDir = filepath.Join(baseDir, c.Catalog.ManifestDir)
	}
	if c.Catalog.RegistryCacheSeconds == 0 {
		c.Catalog.RegistryCacheSeconds = 300
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 10
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = 300
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "openmcp:cache:"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.Queue == "" {
		c.Events.Redis.Queue = "openmcp:flow-events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "openmcp.flow-events"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds == 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}

	if c.Vault.MasterSecretEnv == "" {
		c.Vault.MasterSecretEnv = "OPENMCP_VAULT_SECRET"
	}

	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults == 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Content.WikipediaBaseURL == "" {
		c.Content.WikipediaBaseURL = "https://en.wikipedia.org/api/rest_v1"
	}
	if c.Content.CacheSeconds == 0 {
		c.Content.CacheSeconds = 600
	}
	if c.Content.TimeoutSeconds == 0 {
		c.Content.TimeoutSeconds = 10
	}
}

func mergeUnique(base []string, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, item := range list {
			item = strings.ToLower(strings.TrimSpace(item))
			if item == "" {
				continue
			}
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
