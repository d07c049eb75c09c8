package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-dashboard/internal/automation"
	"fleet-dashboard/internal/blob"
	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/lifecycle"
	"fleet-dashboard/internal/notes"
	"fleet-dashboard/internal/notify"
	"fleet-dashboard/internal/office"
	"fleet-dashboard/internal/roster"
	"fleet-dashboard/internal/sessions"
	"fleet-dashboard/internal/store"
	"fleet-dashboard/internal/telemetry"
	workerproc "fleet-dashboard/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger("fleet-worker", cfg.LogLevel)

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

	bucket, err := blob.FromConfig(ctx, cfg)
	if err != nil {
		logger.Error("init blob storage", "error", err)
		os.Exit(1)
	}

	notifiers := notify.Fanout{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		notifiers = append(notifiers, notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.NotifyRedisChannel != "" && cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		notifiers = append(notifiers, notify.NewRedis(rdb, cfg.NotifyRedisChannel))
	}

	consumer := automation.NewConsumer(automation.Options{
		Repo: st,
		Atomic: func(ctx context.Context, fn func(automation.Repo) error) error {
			return st.WithTx(ctx, func(tx *store.Store) error { return fn(tx) })
		},
		Classifier: lifecycle.NewMarkerClassifier(cfg.RejectionMarkers...),
		Directory:  holder,
		QAAgentID:  cfg.QAAgentID,
		Journal:    notes.NewJournal(bucket, "memory", time.Local),
		Notifier:   notifiers,
		Logger:     logger,
	})
	defer consumer.Drain()

	reconciler := office.NewReconciler(office.Options{
		Store:        st,
		Source:       sessions.NewClient(cfg.SessionsURL, cfg.SessionsActiveWindow, cfg.TickTimeout/2),
		Directory:    holder,
		Logger:       logger,
		FetchTimeout: cfg.TickTimeout / 2,
	})

	processor := workerproc.NewProcessor(workerproc.Options{
		Logger:      logger,
		TickTimeout: cfg.TickTimeout,
	})
	processor.RegisterTick("qa-review", cfg.ConsumerInterval, consumer.Tick)
	processor.RegisterTick("office-reconcile", cfg.ReconcileInterval, reconciler.Tick)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	defer metricsServer.Close()

	logger.Info("worker started",
		"qa_agent", cfg.QAAgentID,
		"consumer_interval", cfg.ConsumerInterval,
		"reconcile_interval", cfg.ReconcileInterval,
		"notifiers", len(notifiers),
	)
	if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
	}
	logger.Info("worker stopping, waiting for side effects")
}
