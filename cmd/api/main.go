package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/cache"
	"classroll/internal/config"
	"classroll/internal/events"
	"classroll/internal/handler"
	"classroll/internal/httpmiddleware"
	"classroll/internal/logging"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, pool, logger); err != nil {
			return err
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable, snapshot reads fall through to the database", zap.String("addr", cfg.RedisAddr))
	}

	collectors := metrics.New(prometheus.DefaultRegisterer)

	snapshots := cache.New(redisClient.Client, "classroll:", cfg.CacheTTL, logger.Named("cache"))
	snapshots.OnLookup(collectors.CacheLookup)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		q = mem
		// no separate worker in this mode
		consumer := events.NewConsumer(mem, snapshots, logger.Named("consumer"))
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("in-process consumer stopped", zap.Error(err))
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}
	publisher := events.NewPublisher(q, snapshots, logger.Named("events"))

	repo := attendance.NewRepository(pool)
	svc := attendance.NewService(repo, logger.Named("attendance"),
		attendance.WithLocation(loc),
		attendance.WithCache(snapshots),
		attendance.WithNotifier(publisher),
		attendance.WithObserver(collectors),
	)

	r := newRouter(cfg, logger, svc, collectors, pool, redisClient)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func newRouter(cfg config.App, logger *zap.Logger, svc handler.Service, collectors *metrics.Collectors, pool *pgxpool.Pool, redisClient *store.Redis) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.AccessLog(logger.Named("http"), "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics(collectors.HTTPDuration))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins...))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		dbHealthy := pool.Ping(ctx) == nil
		redisHealthy := redisClient.Healthy(ctx)
		status := http.StatusOK
		// the cache is optional; only the database gates readiness
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "db": dbHealthy, "redis": redisHealthy})
	})

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	v1 := r.Group("/v1",
		auth.InstructorAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		limiter.GinMiddleware(),
	)
	handler.New(svc, logger.Named("handler"), collectors).Register(v1)

	return r
}
