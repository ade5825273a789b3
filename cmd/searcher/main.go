// The searcher service answers relevance-ranked artist lookups, with Redis
// result caching and optional popularity and personalisation boosts.
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

	"github.com/listenlab/artistrank/internal/search"
	"github.com/listenlab/artistrank/pkg/config"
	"github.com/listenlab/artistrank/pkg/elastic"
	"github.com/listenlab/artistrank/pkg/health"
	"github.com/listenlab/artistrank/pkg/logger"
	"github.com/listenlab/artistrank/pkg/metrics"
	"github.com/listenlab/artistrank/pkg/middleware"
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
	log := logger.WithComponent("searcher")

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

	checker := health.NewChecker()
	checker.Register("elastic", func(ctx context.Context) health.ComponentHealth {
		if err := store.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	// The cache is an optimisation; a missing Redis degrades to live
	// searches instead of refusing to start.
	var cache *search.ResultCache
	if rc, err := redis.NewClient(cfg.Redis); err != nil {
		log.Warn("redis unavailable, serving uncached", "error", err)
	} else {
		defer rc.Close()
		cache = search.NewResultCache(rc, cfg.Redis.CacheTTL, m)
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := rc.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	service := search.NewService(store, cache, cfg.Buckets, cfg.Search, m)

	mux := http.NewServeMux()
	search.NewHandler(service).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var handler http.Handler = mux
	handler = middleware.Timeout(cfg.Server.WriteTimeout)(handler)
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("searcher service listening", "addr", server.Addr)
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
	slog.Info("searcher service stopped")
}
