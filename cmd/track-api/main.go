package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/api/trackapi"
	"github.com/BearBump/ParcelSync/internal/cache/rediscache"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/providers"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/services/coordinator"
	"github.com/joho/godotenv"
)

func main() {
	// .env необязателен
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.API.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = cfg.API.SwaggerPath
	}

	rc := rediscache.New(cfg.Redis.Addr())
	if cfg.Tracking.RelationTTLHours > 0 {
		rc = rc.WithRelationTTL(time.Duration(cfg.Tracking.RelationTTLHours) * time.Hour)
	}
	defer func() { _ = rc.Close() }()

	m := metrics.New()
	ps := providers.Build(cfg.Tracking, providers.Deps{
		RelationCache: rc,
		RateLimiter:   rediscache.NewRateLimiter(cfg.Redis.Addr()),
	})
	slog.Info("tracking providers", "providers", providers.Names(ps))

	coord := coordinator.New(ps...).WithConcurrency(cfg.Tracking.MaxConcurrency).WithMetrics(m)
	api := trackapi.New(coord).WithTimeout(time.Duration(cfg.Tracking.BatchTimeoutSeconds) * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runTrackAPI(ctx, trackAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: swaggerPath,
		ready:       rc.Ping,
		metrics:     m,
	}, api); err != nil && err != context.Canceled {
		panic(err)
	}
}
