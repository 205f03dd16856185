package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/shulepay/shulepay/internal/config"
	"github.com/shulepay/shulepay/internal/repository"
	"github.com/shulepay/shulepay/internal/server"
	"github.com/shulepay/shulepay/internal/service"
	"github.com/shulepay/shulepay/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Starting ShulePay Billing Service...")

	ctx := context.Background()

	// Initialize OpenTelemetry (for Grafana Cloud)
	otelProvider, err := telemetry.Initialize(ctx, cfg.OTEL)
	if err != nil {
		log.Printf("Warning: Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		otelProvider.Shutdown(shutdownCtx)
	}()

	// Connect to MongoDB with OpenTelemetry instrumentation
	ctxMongo, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoOpts := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.OTEL.Enabled {
		mongoOpts.SetMonitor(otelmongo.NewMonitor())
	}

	mongoClient, err := mongo.Connect(ctxMongo, mongoOpts)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	if err := mongoClient.Ping(ctxMongo, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	log.Println("✓ MongoDB connected")

	mongoDB := mongoClient.Database(cfg.MongoDB.Database)

	// The unique indexes are what make invoice issuing and revenue booking
	// idempotent; the service must not run without them.
	if err := repository.EnsureIndexes(ctxMongo, mongoDB); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	log.Println("✓ MongoDB indexes ensured")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("✓ Redis connected")

	// Push notifications
	notifier := service.NewNotifier(ctx, cfg.Firebase.CredentialsFile)

	// Build the app
	app, err := server.NewApp(server.AppDependencies{
		Config:      cfg,
		MongoDB:     mongoDB,
		RedisClient: redisClient,
		Notifier:    notifier,
	})
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	// Start the recurring billing scheduler
	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	app.Scheduler.Start(schedulerCtx)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down gracefully...")
		stopScheduler()
		app.Fiber.Shutdown()
	}()

	// Start server
	log.Printf("🚀 Server starting on port %s", cfg.Server.Port)
	if err := app.Fiber.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
