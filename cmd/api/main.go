package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gnafhan/cv-evaluator-workflow/internal/config"
	"github.com/gnafhan/cv-evaluator-workflow/internal/handlers"
	"github.com/gnafhan/cv-evaluator-workflow/internal/logger"
	"github.com/gnafhan/cv-evaluator-workflow/internal/repositories"
	"github.com/gnafhan/cv-evaluator-workflow/internal/services"
	"github.com/gnafhan/cv-evaluator-workflow/internal/telemetry"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	db, err := config.InitDatabase(cfg)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	zlog.Info("database connected")

	docRepo := repositories.NewDocumentRepository(db)
	evalRepo := repositories.NewEvaluationRepository(db)

	storageService := services.NewStorageService(cfg.Storage.UploadPath)
	if err := storageService.EnsureUploadDir(); err != nil {
		zlog.Fatal("failed to create upload directory", zap.Error(err))
	}

	pdfParser := services.NewPDFParserService()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	ctx := context.Background()

	generationClient, err := services.NewGenerationClient(ctx, cfg, zlog, metrics)
	if err != nil {
		zlog.Fatal("failed to initialize generation client", zap.Error(err))
	}

	retrievalClient, err := services.NewRetrievalClient(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize retrieval client", zap.Error(err))
	}
	if err := retrievalClient.InitCollection(ctx); err != nil {
		zlog.Fatal("failed to initialize vector collection", zap.Error(err))
	}
	zlog.Info("retrieval client initialized", zap.String("collection", cfg.Qdrant.Collection))

	safetyScreener, err := services.NewSafetyScreener(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize safety screener", zap.Error(err))
	}

	injectionDetector, err := services.NewInjectionDetector(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize injection detector", zap.Error(err))
	}

	evaluatorService := services.NewEvaluatorService(
		evalRepo,
		docRepo,
		generationClient,
		retrievalClient,
		safetyScreener,
		injectionDetector,
		pdfParser,
		zlog,
		metrics,
	)

	worker := services.NewWorker(
		evalRepo,
		evaluatorService,
		cfg.Worker.Concurrency,
		cfg.Worker.JobTimeout,
		zlog,
		metrics,
	)
	worker.Start(ctx)
	zlog.Info("worker pool started", zap.Int("concurrency", cfg.Worker.Concurrency))

	uploadHandler := handlers.NewUploadHandler(
		docRepo,
		storageService,
		cfg.Storage.MaxFileSize,
	)
	evaluateHandler := handlers.NewEvaluationHandler(
		evalRepo,
		docRepo,
		worker,
	)
	resultHandler := handlers.NewResultHandler(evalRepo)

	app := fiber.New(fiber.Config{
		AppName:      "AI CV Evaluation Workflow API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    int(cfg.Storage.MaxFileSize),
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now(),
		})
	})

	api.Post("/upload", uploadHandler.HandleUpload)
	api.Post("/evaluate", evaluateHandler.HandleEvaluate)
	api.Get("/result/:id", resultHandler.HandleGetResult)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down server")
		worker.Stop()
		if err := app.Shutdown(); err != nil {
			zlog.Error("server forced to shutdown", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	zlog.Info("server starting", zap.String("addr", addr))

	if err := app.Listen(addr); err != nil {
		zlog.Fatal("failed to start server", zap.Error(err))
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
