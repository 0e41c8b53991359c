package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"skin_tracker/internal/alert"
	"skin_tracker/internal/bootstrap"
	"skin_tracker/internal/infrastructure/health"
	"skin_tracker/internal/infrastructure/metrics"
	"skin_tracker/internal/marketapi"
	"skin_tracker/internal/matcher"
	"skin_tracker/internal/router"
	"skin_tracker/internal/stream"
	"skin_tracker/internal/telegram"
	"skin_tracker/internal/tracker"
	"skin_tracker/pkg/concurrency"
	"skin_tracker/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/tracker.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tracker version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	cfg := app.Cfg
	logger := app.Logger

	logger.Info("Starting skin tracker",
		"version", version,
		"stream_url", cfg.Stream.URL,
		"channel", cfg.Stream.Channel,
	)
	logger.Debug("Loaded configuration", "config", cfg.String())
	for _, pair := range cfg.OverlappingFloatRanges() {
		logger.Warn("Float ranges overlap, first match wins",
			"first", cfg.Filters.FloatRanges[pair[0]],
			"second", cfg.Filters.FloatRanges[pair[1]])
	}

	// Telemetry
	if err := telemetry.InitMetrics(); err != nil {
		logger.Warn("Failed to initialize metrics exporter", "error", err)
	} else {
		logger.Info("Metrics exporter initialized")
	}

	// Operational alerts
	alerts := alert.NewAlertManager(logger)
	if cfg.Alerts.TelegramEnabled {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Alerts.SlackWebhookURL != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL))
	}

	// Marketplace API client: token source and purchaser
	api := marketapi.NewClient(marketapi.Config{
		BaseURL:      cfg.API.BaseURL,
		TokenURL:     cfg.Stream.TokenURL,
		APIKey:       cfg.API.Key,
		SteamPartner: cfg.API.SteamPartner,
		SteamToken:   cfg.API.SteamToken,
		Timeout:      time.Duration(cfg.API.TimeoutSec) * time.Second,
	}, logger)

	// Chat front-end
	bot := telegram.NewBot(cfg.Telegram, cfg.API, api, logger)

	// Worker pools
	notifyPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "notify",
		MaxWorkers:  cfg.Concurrency.NotifyPoolSize,
		MaxCapacity: cfg.Concurrency.NotifyPoolBuffer,
	}, logger)
	purchasePool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "purchase",
		MaxWorkers:  cfg.Concurrency.PurchasePoolSize,
		MaxCapacity: cfg.Concurrency.PurchasePoolBuffer,
	}, logger)
	defer notifyPool.Stop()
	defer purchasePool.Stop()

	// Event pipeline
	trk := tracker.New(tracker.Config{
		DuplicateCheckWindow: time.Duration(cfg.Cache.DuplicateCheckWindowSec) * time.Second,
		ItemTTL:              time.Duration(cfg.Cache.ItemTTLSec) * time.Second,
		TrackedItemTTL:       time.Duration(cfg.Cache.TrackedItemTTLSec) * time.Second,
	}, logger)

	rtr := router.New(cfg.Filters, cfg.AutoBuy, router.Deps{
		Matcher:      matcher.New(cfg.Filters),
		Tracker:      trk,
		Notifier:     bot,
		Purchaser:    api,
		Alerts:       alerts,
		Logger:       logger,
		NotifyPool:   notifyPool,
		PurchasePool: purchasePool,
	})

	conn := stream.NewConnection(
		stream.ConfigFrom(cfg.Stream, cfg.Cache),
		api, rtr, trk, alerts, logger,
	)

	// Health and metrics endpoints
	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("stream", conn.Healthy)

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, healthMgr, logger)
		metricsSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Stop(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	if err := app.Run(conn, bot); err != nil {
		os.Exit(1)
	}
}
