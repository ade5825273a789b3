// The ingestion service accepts listen events over HTTP and publishes them
// to the listen-events Kafka topic.
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

	"github.com/listenlab/artistrank/internal/ingestion"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/health"
	"github.com/listenlab/artistrank/pkg/kafka"
	"github.com/listenlab/artistrank/pkg/logger"
	"github.com/listenlab/artistrank/pkg/metrics"
	"github.com/listenlab/artistrank/pkg/middleware"
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
	log := logger.WithComponent("ingestion")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ListenEvents)
	defer producer.Close()

	service := ingestion.NewService(producer, m)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		// the writer connects lazily; there is no ping short of producing
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	ingestion.NewHandler(service).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var handler http.Handler = mux
	handler = middleware.Timeout(cfg.Server.WriteTimeout)(handler)
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("ingestion service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	if metricsShutdown != nil {
		if err := metricsShutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown error", "error", err)
		}
	}
	slog.Info("ingestion service stopped")
}
