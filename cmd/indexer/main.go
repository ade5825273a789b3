// The indexer service consumes listen events from Kafka and writes each one
// into the current time-bucketed event index.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/listenlab/artistrank/internal/events"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/elastic"
	"github.com/listenlab/artistrank/pkg/health"
	"github.com/listenlab/artistrank/pkg/kafka"
	"github.com/listenlab/artistrank/pkg/logger"
	"github.com/listenlab/artistrank/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("indexer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	store, err := elastic.New(cfg.Elastic)
	if err != nil {
		log.Error("connecting to document store", "error", err)
		os.Exit(1)
	}

	indexer := events.NewIndexer(store, cfg.Buckets, m)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ListenEvents, indexer.Handler())

	checker := health.NewChecker()
	checker.Register("elastic", func(ctx context.Context) health.ComponentHealth {
		if err := store.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	probeServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("probe server listening", "addr", probeServer.Addr)
		if err := probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("probe server error", "error", err)
		}
	}()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error("consumer stopped with error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := probeServer.Shutdown(shutdownCtx); err != nil {
		log.Error("probe server shutdown error", "error", err)
	}
	if metricsShutdown != nil {
		if err := metricsShutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown error", "error", err)
		}
	}
	slog.Info("indexer service stopped")
}
