// Command searcher runs the food search service: it warms the per-locale
// indexes, serves the search and rebuild API, and rebuilds indexes when
// food data or locale definitions change.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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
	"strings"
	"syscall"
	"time"

	"github.com/foodsearch/foodsearch/internal/analytics"
	"github.com/foodsearch/foodsearch/internal/bootstrap"
	"github.com/foodsearch/foodsearch/internal/jobs"
	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/internal/rebuild"
	"github.com/foodsearch/foodsearch/internal/search"
	"github.com/foodsearch/foodsearch/internal/searcher/cache"
	"github.com/foodsearch/foodsearch/internal/searcher/handler"
	"github.com/foodsearch/foodsearch/pkg/config"
	"github.com/foodsearch/foodsearch/pkg/health"
	"github.com/foodsearch/foodsearch/pkg/kafka"
	"github.com/foodsearch/foodsearch/pkg/logger"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/foodsearch/foodsearch/pkg/middleware"
	"github.com/foodsearch/foodsearch/pkg/ratelimit"
	pkgredis "github.com/foodsearch/foodsearch/pkg/redis"
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
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		ms, err := metrics.ListenPort(cfg.Metrics.Port)
		if err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer ms.Shutdown(context.Background())
	}

	src, closeSource, err := bootstrap.Source(cfg, m)
	if err != nil {
		return err
	}
	defer closeSource()

	var reporter rebuild.Reporter = jobs.NewLogReporter()
	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		statusProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RebuildStatus)
		defer statusProducer.Close()
		reporter = jobs.Multi{reporter, jobs.NewKafkaReporter(statusProducer)}

		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		collector = analytics.NewCollector(analyticsProducer, analytics.CollectorConfig{
			BufferSize:    cfg.Analytics.BufferSize,
			BatchSize:     cfg.Analytics.BatchSize,
			FlushInterval: cfg.Analytics.FlushInterval,
		}, m)
		collector.Start()
		// runs after the HTTP server has drained
		defer collector.Close()
	}

	ix, err := bootstrap.NewIndexing(ctx, cfg, src, reporter, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(cfg.Server.ShutdownTimeout); err != nil {
			slog.Warn("rebuild workers did not stop cleanly", "error", err)
		}
	}()
	coord := ix.Coordinator
	coord.Start(ctx)

	if cfg.Index.WarmOnStart {
		start := time.Now()
		if err := coord.Warm(ctx); err != nil {
			// stale or missing locales keep retrying in the background;
			// readiness reports them
			slog.Error("warm-up incomplete", "error", err)
		}
		slog.Info("warm-up finished", "locales", ix.Locales, "duration", time.Since(start), "ready", coord.Ready())
	} else {
		coord.RequestAll()
	}
	coord.StartPeriodic(ctx, cfg.Rebuild.PeriodicInterval)

	if cfg.Index.WatchLocales {
		go func() {
			err := locale.Watch(ctx, cfg.Index.LocalesFile, locale.DefaultDebounce, func() {
				slog.Info("locale definitions changed, rebuilding all locales")
				coord.RequestAll()
			})
			if err != nil {
				slog.Error("locale watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Kafka.Enabled {
		trigger := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.FoodDataChanged, jobs.TriggerHandler(coord))
		go func() {
			if err := trigger.Run(ctx); err != nil {
				slog.Error("rebuild trigger consumer stopped", "error", err)
			}
		}()
		defer trigger.Close()
	}

	checker := health.NewChecker()
	checker.Register("indexes", func(context.Context) health.ComponentHealth {
		var missing, stale []string
		for _, st := range coord.Statuses() {
			switch {
			case st.Version == 0:
				missing = append(missing, st.Locale)
			case st.State == rebuild.StateStale:
				stale = append(stale, st.Locale)
			}
		}
		switch {
		case len(missing) > 0:
			return health.ComponentHealth{Status: health.StatusDown, Message: "no index: " + strings.Join(missing, ",")}
		case len(stale) > 0:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "stale: " + strings.Join(stale, ",")}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	opts := search.Options{Metrics: m, Timeout: cfg.Search.Timeout}
	if collector != nil {
		opts.Tracker = collector
	}
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			opts.Cache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.PingCheck(redisClient, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	w := cfg.Search.Weights
	mt := matcher.New(coord, matcher.Config{
		Weights: matcher.Weights{
			Exact:         w.Exact,
			Synonym:       w.Synonym,
			Phonetic:      w.Phonetic,
			LengthPenalty: w.LengthPenalty,
		},
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
	})
	svc := search.New(mt, coord, opts)
	h := handler.New(svc)

	api := http.NewServeMux()
	h.Register(api)
	admin := middleware.RateLimit(ratelimit.New(cfg.Server.AdminRateLimit, time.Minute))

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/", api)
	mux.Handle("POST /api/v1/", admin(api))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
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

	slog.Info("search service listening", "addr", server.Addr, "locales", ix.Locales)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
