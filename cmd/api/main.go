package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"bulk-import-pipeline/internal/api"
	"bulk-import-pipeline/internal/config"
	"bulk-import-pipeline/internal/health"
	"bulk-import-pipeline/internal/objectstore"
	"bulk-import-pipeline/internal/queue"
	"bulk-import-pipeline/internal/ratelimit"
	"bulk-import-pipeline/internal/store"
	"bulk-import-pipeline/internal/validate"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	files, err := objectstore.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init object store: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.New(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	monitor := health.NewMonitor(cfg.HealthInterval, cfg.HealthHistory,
		health.PingCheck("database", st, true),
		health.PingCheck("dispatch", q, true),
		health.PingCheck("object_store", files, false),
		health.QueueDepthCheck(q, cfg.QueueDepthWarn),
		health.MemoryCheck(cfg.MemoryLimitMB),
	)
	monitor.Start()
	defer monitor.Stop()

	engine := validate.New(st, validate.AllowAll{})
	server := api.New(cfg, st, q, files, engine, limiter, monitor)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("import api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
