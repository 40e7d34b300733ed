package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/pkg/distlock"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/sync/cache"
	"github.com/ignite/sparkpost-monitor/internal/sync/dispatcher"
	"github.com/ignite/sparkpost-monitor/internal/sync/gitsource"
	"github.com/ignite/sparkpost-monitor/internal/sync/notify"
	"github.com/ignite/sparkpost-monitor/internal/sync/queue"
	"github.com/ignite/sparkpost-monitor/internal/sync/schema"
	"github.com/ignite/sparkpost-monitor/internal/sync/threader"
)

func main() {
	logger.Info("starting sync worker")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("connect database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("ping database failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := schema.EnsureGlobalSchema(pingCtx, db); err != nil {
		logger.Error("ensure global schema failed", "error", err)
		os.Exit(1)
	}

	git := gitsource.New(cfg.Mirror.BasePath)
	q := queue.New(db)

	cacheCfg := dispatcher.CacheConfig{BasePath: cfg.Cache.BasePath}
	if cfg.Cache.S3Enabled() {
		s3Client, err := newS3Client(cfg.Cache.S3Region)
		if err != nil {
			logger.Error("configure s3 cache mirror failed", "error", err)
			os.Exit(1)
		}
		cacheCfg.Mirror = cache.NewS3Mirror(s3Client, cfg.Cache.S3Bucket, cfg.Cache.S3Prefix)
		logger.Info("cache s3 mirror enabled", "bucket", cfg.Cache.S3Bucket, "prefix", cfg.Cache.S3Prefix)
	}

	opts := threader.Options{SubjectFallbackEnabled: cfg.Threading.SubjectFallbackEnabled}

	redisClient := newOptionalRedisClient()

	d := dispatcher.New(db, q, git, cacheCfg, cfg.Queue, opts)
	if redisClient != nil {
		d = d.WithNotifier(notify.NewRedisPublisher(redisClient, cfg.Notify.ChannelOrDefault()))
		logger.Info("downstream change notifications enabled", "channel", cfg.Notify.ChannelOrDefault())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitorLock := distlock.NewLock(redisClient, db, "sync:queue:janitor", 30*time.Second)
	janitor := queue.NewJanitor(q, janitorLock)
	go janitor.RunLoop(ctx, time.Minute)
	logger.Info("janitor started")

	go d.RunLoop(ctx, 5*time.Second)
	logger.Info("dispatcher started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down sync worker")
	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("sync worker stopped")
}

// newOptionalRedisClient returns a redis client when REDIS_URL is set, or
// nil so distlock.NewLock falls back to its Postgres advisory-lock path.
func newOptionalRedisClient() *redis.Client {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Error("parse REDIS_URL failed, falling back to advisory lock", "error", err)
		return nil
	}
	return redis.NewClient(opts)
}

func newS3Client(region string) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}
