package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/catalog-importer/internal/api"
	"github.com/ignite/catalog-importer/internal/config"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/queue"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	"github.com/ignite/catalog-importer/internal/service/importer"
	webhooksvc "github.com/ignite/catalog-importer/internal/service/webhook"
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
	logger.Info("starting catalog-importer api", "environment", cfg.Environment)

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
	imports := importer.NewService(jobs, producer)
	events := webhooksvc.NewService(webhooks, producer)

	handlers := api.NewHandlers(cfg, imports, products, webhooks, events, store, db, rdb, broker)
	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", addr, "api_prefix", cfg.Server.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
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

// openRedis connects with startup retry so the service survives the broker
// coming up after it.
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
