// The aggregator service runs the periodic rollup cycle: it folds closed
// listen-event buckets into the catalog rankings, the daily history bucket,
// and user profiles, recording an audit snapshot of each cycle in Postgres.
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

	"github.com/listenlab/artistrank/internal/rollup"
	"github.com/listenlab/artistrank/internal/search"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/elastic"
	"github.com/listenlab/artistrank/pkg/health"
	"github.com/listenlab/artistrank/pkg/logger"
	"github.com/listenlab/artistrank/pkg/metrics"
	"github.com/listenlab/artistrank/pkg/postgres"
	"github.com/listenlab/artistrank/pkg/redis"
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
	log := logger.WithComponent("aggregator")

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

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		log.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	snapshots, err := rollup.NewPostgresSnapshotStore(ctx, pg)
	if err != nil {
		log.Error("preparing snapshot store", "error", err)
		os.Exit(1)
	}

	// Each cycle rewrites rankings, so cached search results are flushed
	// alongside the audit snapshot. Without Redis the cycles still run and
	// cached results simply age out on their TTL.
	var invalidator rollup.SnapshotSink
	if cache, err := redis.NewClient(cfg.Redis); err != nil {
		log.Warn("redis unavailable, cached search results will expire on TTL only", "error", err)
	} else {
		defer cache.Close()
		invalidator = search.NewCacheInvalidator(cache)
	}

	aggregator := rollup.NewAggregator(store, cfg.Buckets, cfg.Rollup, m)
	scheduler := rollup.NewScheduler(aggregator, rollup.Sinks(snapshots, invalidator), cfg.Rollup.Interval, m)

	checker := health.NewChecker()
	checker.Register("elastic", func(ctx context.Context) health.ComponentHealth {
		if err := store.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.DB.PingContext(ctx); err != nil {
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

	log.Info("aggregator starting", "interval", cfg.Rollup.Interval)
	scheduler.Run(ctx)

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
	slog.Info("aggregator service stopped")
}
