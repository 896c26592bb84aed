package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OpenMCP-Intent/internal/api"
	"OpenMCP-Intent/internal/config"
	"OpenMCP-Intent/internal/orchestrator"
	"OpenMCP-Intent/pkg/logger"
)

// main 是意图编排守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("intentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := orchestrator.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.L().Warn("关闭资源时出现错误", "error", err)
		}
	}()
	if err := svc.Build(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, svc, api.WithTimeouts(
		time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second,
		time.Duration(cfg.Server.WriteTimeoutSeconds)*time.Second,
	))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
