// taskworker runs the poll loop and admin HTTP API against a MongoDB
// task collection. Run: go run ./cmd/taskworker
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nullcrew/taskforge/config"
	"github.com/nullcrew/taskforge/internal/health"
	ctxlog "github.com/nullcrew/taskforge/internal/log"
	"github.com/nullcrew/taskforge/internal/metrics"
	"github.com/nullcrew/taskforge/internal/notify"
	httptransport "github.com/nullcrew/taskforge/internal/transport/http"
	"github.com/nullcrew/taskforge/internal/transport/http/handler"
	"github.com/nullcrew/taskforge/task"
	"github.com/nullcrew/taskforge/task/mongostore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		stop()
		log.Fatalf("mongo: %v", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Error("mongo disconnect", "error", err)
		}
	}()

	coll := client.Database(cfg.MongoDB).Collection("tasks")
	if err := mongostore.EnsureIndexes(ctx, coll); err != nil {
		stop()
		log.Fatalf("mongo indexes: %v", err)
	}

	logger.Info("mongo connected", "database", cfg.MongoDB)

	store := mongostore.New(coll)
	registry := task.NewRegistry().RegisterTree(handlerTree())

	notifier := notify.NewOperatorNotifier(
		notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger),
		"oncall@taskforge.local",
		logger,
	)
	scheduler := task.NewScheduler(store, registry, task.WithNotifier(notifier))

	metrics.Register()
	checker := health.NewChecker(client, logger, prometheus.DefaultRegisterer)

	poller := scheduler.Poller(logger)
	cancelPolling := poller.StartPolling(ctx, task.StartPollingOptions{
		Interval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		PollOptions: task.PollOptions{
			Parallel:   cfg.Parallel,
			WorkerName: workerName(),
		},
	})

	taskHandler := handler.NewTaskHandler(scheduler, store, nil, logger)
	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(taskHandler, []byte(cfg.JWTSecret), logger),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("admin server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("admin server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	cancelPolling()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("taskworker shut down")
}

// workerName identifies this process in Task.WorkerName. Falls back to
// a fixed name if the hostname can't be read.
func workerName() string {
	h, err := os.Hostname()
	if err != nil {
		return "taskworker"
	}
	return h
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
