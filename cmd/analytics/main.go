// Command analytics runs the search analytics service.
//
// It consumes search events and rebuild reports from Kafka, aggregates them
// per locale in memory, snapshots the aggregate to SQL periodically, and
// serves it at GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/foodsearch/foodsearch/internal/analytics"
	"github.com/foodsearch/foodsearch/internal/analytics/aggregator"
	"github.com/foodsearch/foodsearch/pkg/config"
	"github.com/foodsearch/foodsearch/pkg/health"
	"github.com/foodsearch/foodsearch/pkg/kafka"
	"github.com/foodsearch/foodsearch/pkg/logger"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/foodsearch/foodsearch/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		ms, err := metrics.ListenPort(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer ms.Shutdown(context.Background())
	}

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	store, closeStore, err := aggregator.Open(ctx, cfg)
	if err != nil {
		slog.Warn("analytics snapshots disabled", "error", err)
	} else {
		defer closeStore()
		if last, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("reading last analytics snapshot", "error", err)
		} else if last != nil {
			slog.Info("previous analytics snapshot found", "since", last.Since, "total_searches", last.TotalSearches)
		}
		saved := store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		defer func() { <-saved }()
	}

	if cfg.Kafka.Enabled {
		consumers := []*kafka.Consumer{
			kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, agg.HandleSearchEvents()),
			kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RebuildStatus, agg.HandleRebuildEvents()),
		}
		for _, c := range consumers {
			go func() {
				if err := c.Run(ctx); err != nil {
					slog.Error("analytics consumer stopped", "error", err)
				}
			}()
			defer c.Close()
		}
		slog.Info("analytics consumers started",
			"search_topic", cfg.Kafka.Topics.AnalyticsEvents,
			"rebuild_topic", cfg.Kafka.Topics.RebuildStatus,
		)
	} else {
		slog.Warn("kafka disabled, no analytics events will arrive")
	}

	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		if !cfg.Kafka.Enabled {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "kafka disabled"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumers active"}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(agg).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.CORS(cfg.Server.CORSOrigins, 86400)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		stop()
	}
	slog.Info("analytics service stopped")
}
