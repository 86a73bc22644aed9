// main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roadside-dispatch/cmd"
	"roadside-dispatch/internal/data/migrations"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/gateway"
	"roadside-dispatch/internal/webhook"
	"roadside-dispatch/internal/wire"
	"roadside-dispatch/pkg/database"
	"roadside-dispatch/pkg/lock"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/ratelimit"
	"roadside-dispatch/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockExpiry = 10 * time.Second

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Apply schema migrations
	if config.Database.RunMigrations {
		if err := database.RunMigrations(config.Database, migrations.FS, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Initialize all repositories
	repos := repository.NewRepository(db, logger)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Locks and rate limit counters live in redis when configured
	var (
		locker    lock.Locker
		rateStore ratelimit.Store
	)
	if config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		logger.Info("Redis connected", zap.String("addr", config.Redis.Addr))

		locker = lock.NewRedisLocker(client, lockExpiry)
		rateStore = ratelimit.NewRedisStore(client, config.App.Name+":ratelimit:")
	} else {
		memory := ratelimit.NewMemoryStore(logger)
		go memory.Start(ctx, time.Minute)

		locker = lock.NewLocalLocker()
		rateStore = memory
	}

	// Webhook delivery queue
	wmLogger := webhook.NewWatermillLogger(logger)
	var queue *webhook.Queue
	if config.EventBus.AMQPURL != "" {
		queue, err = webhook.NewAMQPQueue(config.EventBus.AMQPURL, wmLogger)
		if err != nil {
			logger.Fatal("Failed to connect to message broker", zap.Error(err))
		}
	} else {
		queue = webhook.NewInProcessQueue(wmLogger)
	}
	defer queue.Close()

	dispatcher := webhook.NewDispatcher(repos.Integration, queue.Publisher, config.Webhook, m, logger)
	go func() {
		if err := dispatcher.Run(ctx, queue.Subscriber); err != nil {
			logger.Error("Webhook dispatcher stopped", zap.Error(err))
		}
	}()

	// Wire all dependencies
	app := wire.Wiring(repos, config, wire.Infra{
		Emitter:   dispatcher,
		Gateway:   gateway.New(config.Gateway, logger),
		Locker:    locker,
		RateStore: rateStore,
		Metrics:   m,
		Gatherer:  reg,
	}, logger)

	// Start server
	logger.Info("Starting HTTP server", zap.String("port", config.App.Port))

	if err := cmd.APIServer(ctx, app.Router, config.App.Port, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
