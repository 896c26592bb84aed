package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"OpenMCP-Intent/internal/cache"
	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/config"
	"OpenMCP-Intent/internal/content"
	"OpenMCP-Intent/internal/events"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/handlers"
	"OpenMCP-Intent/internal/knowledge"
	"OpenMCP-Intent/internal/llm"
	"OpenMCP-Intent/internal/observability/alerting"
	"OpenMCP-Intent/internal/observability/metrics"
	"OpenMCP-Intent/internal/review"
	"OpenMCP-Intent/internal/semantic"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/internal/storage"
	"OpenMCP-Intent/internal/storage/mysql"
	"OpenMCP-Intent/internal/vault"
	"OpenMCP-Intent/internal/web3/provider"
	"OpenMCP-Intent/pkg/logger"
)

// FromConfig 按配置装配全部组件。构建失败时已创建的资源会被关闭。
func FromConfig(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置为空")
	}
	log := logger.Named("wire")
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	queryCache, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc, ok := queryCache.(*cache.RedisCache); ok {
		closers = append(closers, rc.Close)
	}

	catalogOpts := []catalog.Option{catalog.WithEnricher(semantic.NewGenerator())}
	if src := manifestSource(cfg.Catalog, queryCache); src != nil {
		catalogOpts = append(catalogOpts, catalog.WithManifestSource(src))
	}
	cat := catalog.New(catalogOpts...)

	sessions := session.NewManager(cat, session.Config{
		TTL:               cfg.Session.TTL(),
		AutoConsentScopes: cfg.Session.AutoConsentScopes,
		ConsentableScopes: cfg.Session.ConsentableScopes,
	})
	gate := governance.NewGate(governance.Config{
		HighRiskScopes:   cfg.Governance.HighRiskScopes,
		PaymentEndpoint:  cfg.Governance.PaymentEndpoint,
		PaymentThreshold: cfg.Governance.Threshold(),
	})

	var (
		store       storage.Store
		reviews     review.Store
		credentials vault.Store
	)
	switch cfg.Storage.Driver {
	case "mysql":
		db, dbErr := mysql.New(ctx, mysql.ConfigFrom(cfg.Storage))
		if dbErr != nil {
			return nil, dbErr
		}
		closers = append(closers, db.Close)
		store, reviews, credentials = db, db.ReviewStore(), db
	default:
		mem := storage.NewMemoryStore()
		closers = append(closers, mem.Close)
		store, reviews, credentials = mem, review.NewMemoryStore(), vault.NewMemoryStore()
	}

	var sealer *vault.Sealer
	if secret := strings.TrimSpace(os.Getenv(cfg.Vault.MasterSecretEnv)); secret != "" {
		sealer, err = vault.NewSealer(secret)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("未设置凭据主密钥，凭据保存将不可用", "env", cfg.Vault.MasterSecretEnv)
	}
	credentialVault := vault.New(sealer, credentials)

	deps := handlers.Deps{
		Store:   store,
		Vault:   credentialVault,
		Content: content.NewWikipediaFetcher(cfg.Content.WikipediaBaseURL,
			content.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Content.TimeoutSeconds) * time.Second}),
			content.WithCache(queryCache, time.Duration(cfg.Content.CacheSeconds)*time.Second)),
		Reload: ReloadCatalog(cat),
	}
	if cfg.Web3.RPCURL != "" || cfg.Web3.ChainConfig != "" {
		chains, chainErr := provider.NewRegistry(ctx, cfg.Web3)
		if chainErr != nil {
			return nil, chainErr
		}
		closers = append(closers, func() error { chains.Close(); return nil })
		deps.Chains = chains
	} else {
		log.Warn("未配置链 RPC，钱包类 endpoint 将返回执行错误")
	}
	if cfg.Knowledge.Source != "" {
		kb, kbErr := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if kbErr != nil {
			return nil, kbErr
		}
		deps.Knowledge = kb
	} else {
		deps.Knowledge = knowledge.NewStaticProvider(knowledge.DefaultSnippets(), cfg.Knowledge.MaxResults)
	}

	reasoner, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	publisher, err := events.New(cfg.Events)
	if err != nil {
		return nil, err
	}

	svc, err = New(Components{
		Catalog:   cat,
		Sessions:  sessions,
		Gate:      gate,
		Tables:    handlers.Tables(deps),
		Reviews:   reviews,
		Vault:     credentialVault,
		Publisher: publisher,
		Alerts:    alerting.FromConfig(cfg.Alerting),
		Metrics:   metrics.Default(),
		Reasoner:  reasoner,
		Narrator:  llm.NarratorFor(reasoner),
		Closers:   closers,
	})
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}
	log.Info("编排服务已装配",
		"storage", cfg.Storage.Driver,
		"cache", cfg.Cache.Driver,
		"events", cfg.Events.Driver,
		"llm", cfg.LLM.Provider,
		"chain", deps.Chains != nil,
	)
	return svc, nil
}

func buildCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return cache.NewMemoryCache(), nil
	}
}

func manifestSource(cfg config.CatalogConfig, c cache.Cache) catalog.ManifestSource {
	var sources catalog.MultiSource
	if cfg.ManifestDir != "" {
		sources = append(sources, catalog.DirSource{Dir: cfg.ManifestDir})
	}
	if cfg.RegistryURL != "" {
		sources = append(sources, catalog.NewRegistrySource(cfg.RegistryURL,
			catalog.WithRegistryCache(c, time.Duration(cfg.RegistryCacheSeconds)*time.Second)))
	}
	switch len(sources) {
	case 0:
		return nil
	case 1:
		return sources[0]
	}
	return sources
}
