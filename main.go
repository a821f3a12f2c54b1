package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegisgate/filter"
	"aegisgate/gateway"
	"aegisgate/logger"
	"aegisgate/manager"
	"aegisgate/notifier"
	"aegisgate/proxy"
	"aegisgate/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := "config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting AegisGate", "listen_port", cfg.ListenPort, "metrics_port", cfg.MetricsPort)

	// Block list: local with Redis upgrade
	var blocks store.Storer = store.NewLocalStore()
	if cfg.RedisAddr != "" {
		rs := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rs.Ping(ctx)
		cancel()
		if err != nil {
			logger.Warn("Redis unreachable, using in-memory block list", "addr", cfg.RedisAddr, "err", err)
		} else {
			blocks = rs
			logger.Info("Distributed block list initialized (Redis)", "addr", cfg.RedisAddr)
		}
	} else {
		logger.Info("In-memory block list initialized")
	}

	geo := filter.NewGeoIPFilter(cfg.GeoIPDBPath, cfg.BlockedCountries)
	defer geo.Close()

	var notifiers []notifier.Notifier
	if cfg.Alerts.Telegram.Enabled {
		if tg := notifier.NewTelegram(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID); tg != nil {
			notifiers = append(notifiers, tg)
		} else {
			logger.Warn("Telegram alerts enabled but bot_token or chat_id missing")
		}
	}
	if wh := notifier.NewWebhook(cfg.Alerts.WebhookURL); wh != nil {
		notifiers = append(notifiers, wh)
	}
	alerts := notifier.NewAttackAlerter(cfg.Alerts.Cooldown.Duration, notifiers...)
	logger.Info("Attack alerts configured", "channels", len(notifiers))

	registry := gateway.NewRegistry(cfg.WindowSeconds, proxy.Options{
		Timeout:            cfg.UpstreamTimeout.Duration,
		InsecureSkipVerify: cfg.UpstreamInsecureSkipVerify,
	})
	if cfg.UpstreamInsecureSkipVerify {
		logger.Warn("Upstream TLS verification disabled")
	}

	gw := gateway.New(gateway.Config{
		WindowSeconds:    cfg.WindowSeconds,
		BaseRateLimitRPS: cfg.BaseRateLimitRPS,
		BaseBurst:        cfg.BaseBurst,
		BlockTTL:         cfg.BlockTTL.Duration,
		TrustIdleTTL:     cfg.TrustIdleTTL.Duration,
	}, registry, blocks, geo, alerts)

	for _, t := range cfg.Targets {
		if _, err := gw.Register(t.ID, t.URL, t.Label); err != nil {
			logger.Error("Failed to register seed target", "target", t.ID, "err", err)
		}
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Mount(gateway.Prefix, gw.Routes())
	manager.NewManagementAPI(gw, blocks).Mount(router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw.StartJanitor(ctx, cfg.JanitorInterval.Duration)

	// Metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		logger.Info("Metrics engine active", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:           router,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout.Duration + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("Gateway active", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Gateway server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("AegisGate stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown incomplete", "err", err)
	}
	metricsSrv.Shutdown(shutdownCtx)
	alerts.Wait()

	logger.Info("All servers stopped gracefully")
}
