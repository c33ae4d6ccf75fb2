package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/catalog-importer/internal/config"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/queue"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	webhooksvc "github.com/ignite/catalog-importer/internal/service/webhook"
	"github.com/ignite/catalog-importer/internal/worker"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Info("starting catalog-importer worker",
		"environment", cfg.Environment, "worker_count", cfg.Broker.WorkerCount)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := openRedis(cfg.Redis.URL)
	if err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	broker, err := openRedis(cfg.Broker.URL)
	if err != nil {
		logger.Error("broker connection failed", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	jobs := postgres.NewJobRepo(db)
	products := postgres.NewProductRepo(db)
	webhooks := postgres.NewWebhookRepo(db)
	store := progress.NewStore(rdb)
	producer := queue.NewProducer(broker)
	events := webhooksvc.NewService(webhooks, producer)

	consumer := queue.NewConsumer(broker, cfg.Broker.WorkerCount)
	consumer.Register(queue.TaskImport, worker.NewIngestWorker(jobs, products, store, events).Handle)
	consumer.Register(queue.TaskBulkDelete, worker.NewBulkDeleteWorker(jobs, products, store, events).Handle)
	consumer.Register(queue.TaskWebhookDeliver, worker.NewWebhookWorker(webhooks).Handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go queue.NewReaper(broker).Run(ctx)

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down workers")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("workers did not drain in time")
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	var pingErr error
	for attempt := 1; attempt <= 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pingErr = client.Ping(ctx).Err()
		cancel()
		if pingErr == nil {
			return client, nil
		}
		logger.Warn("redis not ready, retrying", "attempt", attempt, "error", pingErr)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	client.Close()
	return nil, pingErr
}
