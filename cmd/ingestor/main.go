package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"step_ingestor/internal/api"
	"step_ingestor/internal/config"
	"step_ingestor/internal/publisher"
	"step_ingestor/internal/scheduler"
	"step_ingestor/internal/secret"
	"step_ingestor/internal/service"
	"step_ingestor/internal/source/polar"
	"step_ingestor/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sync of all users and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if err := run(cfg, *once, logger); err != nil {
		logger.Error("ingestor stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool, logger *slog.Logger) error {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	box, err := secret.NewBox(cfg.Security.TokenKey)
	if err != nil {
		return err
	}
	sessionBox, err := secret.NewBox(cfg.Security.SessionKey)
	if err != nil {
		return err
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
			AppID:      "step_ingestor",
		}, logger)
		if err != nil {
			return err
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	activityStore := postgres.NewActivityStore(db)
	userStore := postgres.NewUserStore(db)
	txManager := postgres.NewTransactionManager(db)

	polarSource := polar.New(polar.Config{
		BaseURL:           cfg.Polar.BaseURL,
		Timeout:           cfg.Polar.Timeout,
		RequestsPerSecond: cfg.Polar.RequestsPerSecond,
		Burst:             cfg.Polar.Burst,
		MaxAttempts:       cfg.Polar.Retry.MaxAttempts,
		InitialBackoff:    cfg.Polar.Retry.InitialBackoff,
		MaxBackoff:        cfg.Polar.Retry.MaxBackoff,
	}, logger)

	syncService := service.NewSyncService(
		polarSource,
		activityStore,
		userStore,
		txManager,
		pub,
		box,
		logger,
		cfg.Sync,
	)
	userService := service.NewUserService(polarSource, userStore, txManager, box, logger)
	sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, cfg.Sync.RunTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		logger.Info("running single sync", "source", polarSource.Name())
		sched.RunOnce(ctx)
		return nil
	}

	handler := api.NewAPI(
		logger,
		activityStore,
		syncService,
		userService,
		api.NewOAuthConfig(cfg.Polar),
		api.NewSessions(sessionBox, cfg.HTTP.SessionTTL),
	)

	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting step ingestor",
		"source", polarSource.Name(),
		"address", cfg.HTTP.Address,
		"interval", cfg.Sync.Interval,
		"full_horizon_days", cfg.Sync.HorizonDays(),
		"time_zone", cfg.Sync.TimeZone,
		"max_window_days", cfg.Sync.MaxWindowDays,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
