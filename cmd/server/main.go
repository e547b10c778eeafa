package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/api"
	"github.com/tolkhub/jobwatch/internal/api/handler"
	"github.com/tolkhub/jobwatch/internal/app"
	"github.com/tolkhub/jobwatch/internal/notify"
	"github.com/tolkhub/jobwatch/internal/observability"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
	"github.com/tolkhub/jobwatch/internal/pkg/cron"
	"github.com/tolkhub/jobwatch/internal/pkg/logging"
	"github.com/tolkhub/jobwatch/internal/pkg/pubsub"
	"github.com/tolkhub/jobwatch/internal/pkg/ws"
	"github.com/tolkhub/jobwatch/internal/reconciler"
	"github.com/tolkhub/jobwatch/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// .env 可选
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	b, err := app.OpenBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	logger.Info("backend ready", "driver", cfg.Backend.Driver)

	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	c, err := app.NewCache(cfg, rdb)
	if err != nil {
		return err
	}

	// 有 Redis 时通知经 pub/sub 广播，每个实例转发给自己的连接
	hub := ws.NewHub()
	notifier := notify.Multi{notify.NewLogNotifier(logger)}
	if rdb != nil {
		notifier = append(notifier, notify.NewRedisNotifier(pubsub.NewPublisher(rdb, cfg.Notify.Channel)))
		go func() {
			if err := notify.Relay(ctx, pubsub.NewSubscriber(rdb, cfg.Notify.Channel), hub, nil); err != nil && ctx.Err() == nil {
				logger.Error("notification relay stopped", "error", err)
			}
		}()
	} else {
		notifier = append(notifier, notify.NewHubNotifier(hub))
	}

	r := reconciler.New(c, b, notifier,
		reconciler.WithMetrics(metrics),
		reconciler.WithLogger(logger))
	jobService := service.NewJobCommandService(b, c, r, metrics)
	watchService := service.NewWatchService(b, c, r, cfg.Poller, clock.Real(), metrics)
	hub.OnOffline(func(userID string) {
		watchService.CloseUser(userID)
	})

	janitor := cron.NewService(watchService, cfg.Poller.SweepInterval, cfg.Poller.SessionIdleTimeout)
	janitor.Start()
	defer janitor.Stop()

	router := api.NewRouter(
		handler.NewJobHandler(jobService),
		handler.NewWatchHandler(watchService),
		handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins),
		handler.NewHealthHandler(watchService, hub),
		metrics,
		metricsHandler,
		cfg,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	janitor.Stop()
	watchService.Shutdown()
	hub.CloseAll()
	logger.Info("server shutdown complete")
	return nil
}
