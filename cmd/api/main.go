package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "fleet-dashboard/internal/api"
	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/ratelimit"
	"fleet-dashboard/internal/roster"
	"fleet-dashboard/internal/store"
	"fleet-dashboard/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger("fleet-api", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	holder := roster.NewHolder(roster.Base(cfg.PrimaryAgentID, cfg.PrimaryAgentAliases, cfg.QAAgentID)...)
	if cfg.RosterFile != "" {
		if err := holder.Reload(cfg.RosterFile); err != nil {
			logger.Warn("roster file not loaded, using built-in agents", "path", cfg.RosterFile, "error", err)
		}
		if err := holder.Watch(ctx, cfg.RosterFile, logger); err != nil {
			logger.Warn("roster watch disabled", "path", cfg.RosterFile, "error", err)
		}
	}

	var limiter api.Limiter
	if cfg.RedisAddr != "" && cfg.RateLimitCapacity > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(cfg, st, limiter, holder, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
