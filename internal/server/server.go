package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shulepay/shulepay/internal/config"
	"github.com/shulepay/shulepay/internal/domain"
	"github.com/shulepay/shulepay/internal/handler"
	"github.com/shulepay/shulepay/internal/middleware"
	"github.com/shulepay/shulepay/internal/repository"
	"github.com/shulepay/shulepay/internal/service"
	"github.com/shulepay/shulepay/internal/telemetry"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client
	Notifier    domain.Notifier
	Provider    service.CheckoutProvider
	FileRepo    domain.FileRepository
}

// App bundles the Fiber app with the background scheduler so the caller can
// start and stop both.
type App struct {
	Fiber     *fiber.App
	Scheduler *service.BillingScheduler
}

// NewApp creates and configures the application with the given dependencies.
// Fails when proof storage cannot be initialized rather than serving with a
// nil file repository.
func NewApp(deps AppDependencies) (*App, error) {
	// Initialize repositories
	invoiceRepo := repository.NewMongoInvoiceRepository(deps.MongoDB)
	txnRepo := repository.NewMongoTransactionRepository(deps.MongoDB)
	revenueRepo := repository.NewMongoRevenueRepository(deps.MongoDB)
	subscriberRepo := repository.NewMongoSubscriberRepository(deps.MongoDB)
	purchaseRepo := repository.NewMongoPurchaseRepository(deps.MongoDB)
	cacheRepo := repository.NewRedisCacheRepository(deps.RedisClient)

	fileRepo := deps.FileRepo
	if fileRepo == nil {
		var err error
		fileRepo, err = repository.NewSeaweedS3Repository(context.Background(), deps.Config.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize proof storage: %w", err)
		}
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = &service.LogNotifier{}
	}

	provider := deps.Provider
	if provider == nil {
		provider = service.NewCheckoutProvider(deps.Config.Gateway)
	}

	// Initialize services
	billingService := service.NewBillingService(
		invoiceRepo,
		subscriberRepo,
		cacheRepo,
		notifier,
		domain.SchoolScopedReviewPolicy{},
	)
	revenueService := service.NewRevenueService(revenueRepo)
	proofService := service.NewProofService(invoiceRepo, fileRepo, cacheRepo, notifier)
	paymentService := service.NewPaymentService(
		txnRepo,
		purchaseRepo,
		provider,
		billingService,
		revenueService,
		notifier,
	)
	scheduler := service.NewBillingScheduler(subscriberRepo, billingService, cacheRepo, deps.Config.Billing)

	// Initialize handlers
	invoiceHandler := handler.NewInvoiceHandler(billingService, proofService)
	billingHandler := handler.NewBillingHandler(billingService, scheduler)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	webhookHandler := handler.NewWebhookHandler(paymentService)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "ShulePay Billing API",
		BodyLimit:    8 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	if deps.Config.OTEL.Enabled {
		app.Use(telemetry.FiberMiddleware())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "shulepay-billing",
		})
	})

	// API v1 routes
	v1 := app.Group("/v1")

	// Public pricing table
	v1.Get("/billing/tiers", billingHandler.Tiers)

	// Gateway webhook (public, HMAC-authenticated)
	v1.Post("/payments/webhook/tumapay", webhookHandler.TumaPayWebhook)

	// ===========================================
	// STUDENT API - /v1/me/*
	// ===========================================
	me := v1.Group("/me")
	me.Use(middleware.VerifyShulePayToken(deps.Config.JWT.Secret))
	me.Use(middleware.IdempotencyMiddleware(deps.RedisClient, 24*time.Hour))

	meInvoices := me.Group("/invoices")
	meInvoices.Get("/", invoiceHandler.ListMine)
	meInvoices.Get("/:id", invoiceHandler.Get)
	meInvoices.Post("/:id/proof", invoiceHandler.SubmitProof)

	mePayments := me.Group("/payments")
	mePayments.Post("/", paymentHandler.Initiate)
	mePayments.Get("/:id", paymentHandler.GetTransaction)

	// ===========================================
	// ADMIN API - /v1/admin/* (admin or headmaster)
	// ===========================================
	admin := v1.Group("/admin")
	admin.Use(middleware.VerifyShulePayToken(deps.Config.JWT.Secret))
	admin.Use(middleware.AuthorizeRole(domain.RoleAdmin, domain.RoleHeadmaster))
	admin.Use(middleware.IdempotencyMiddleware(deps.RedisClient, 24*time.Hour))

	admin.Post("/subscribers", billingHandler.RegisterSubscriber)
	admin.Get("/invoices/:id", invoiceHandler.Get)
	admin.Post("/invoices/:id/review", invoiceHandler.ReviewProof)
	admin.Post("/invoices/:id/cancel", invoiceHandler.Cancel)
	admin.Post("/billing/run", middleware.AuthorizeRole(domain.RoleAdmin), billingHandler.RunBilling)

	return &App{Fiber: app, Scheduler: scheduler}, nil
}

// customErrorHandler keeps unexpected errors in the standard envelope
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	log.Printf("[Server] unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}
