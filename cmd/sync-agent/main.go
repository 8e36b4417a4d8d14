package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ParcelSync/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	// устройство можно переопределить без правки конфига
	if v := os.Getenv("DEVICE_ID"); v != "" {
		cfg.Sync.DeviceID = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunSyncAgent(ctx, cfg, defaultSyncFactories()); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
