package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/alerting"
	"github.com/vortex-ai/feedback-engine/internal/api/handlers"
	"github.com/vortex-ai/feedback-engine/internal/audit"
	"github.com/vortex-ai/feedback-engine/internal/blob"
	"github.com/vortex-ai/feedback-engine/internal/ingestion"
	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/promotion"
	"github.com/vortex-ai/feedback-engine/internal/queue"
	"github.com/vortex-ai/feedback-engine/internal/scheduler"
	"github.com/vortex-ai/feedback-engine/internal/storage/sqlite"
	"github.com/vortex-ai/feedback-engine/internal/store"
	"github.com/vortex-ai/feedback-engine/internal/stream"
	"github.com/vortex-ai/feedback-engine/internal/training"
	"github.com/vortex-ai/feedback-engine/pkg/config"
	appLogger "github.com/vortex-ai/feedback-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Feedback Engine")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redisQueue, err := queue.NewRedisQueue(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create Redis queue", zap.Error(err))
	}
	defer redisQueue.Close()

	// Messages left in flight by a previous crash go back to pending.
	for _, name := range []string{cfg.Stream.FeedbackQueue, cfg.Stream.MetricsQueue} {
		requeued, err := redisQueue.Requeue(context.Background(), name)
		if err != nil {
			appLogger.Warn("Failed to requeue in-flight messages", zap.String("queue", name), zap.Error(err))
			continue
		}
		if requeued > 0 {
			appLogger.Info("Requeued in-flight messages", zap.String("queue", name), zap.Int64("count", requeued))
		}
	}

	redisStore, err := store.NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create Redis store", zap.Error(err))
	}
	defer redisStore.Close()

	blobStore, err := blob.NewFileStore(cfg.Blob.Root)
	if err != nil {
		appLogger.Fatal("Failed to create blob store", zap.Error(err))
	}

	hub := alerting.NewHub()
	notifiers := []alerting.Notifier{hub}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	alertDispatcher := alerting.NewDispatcher(notifiers...)

	ingestService := ingestion.NewService(redisQueue, cfg.Stream.FeedbackQueue, cfg.Stream.MetricsQueue)

	processor := stream.NewProcessor(redisQueue, redisStore, alertDispatcher, stream.Config{
		FeedbackQueue:         cfg.Stream.FeedbackQueue,
		MetricsQueue:          cfg.Stream.MetricsQueue,
		BatchSize:             cfg.Stream.BatchSize,
		ReceiveWait:           cfg.Stream.ReceiveWait,
		ErrorRateAlert:        cfg.Stream.ErrorRateAlert,
		SatisfactionDropAlert: cfg.Stream.SatisfactionDropAlert,
	})

	auditExecutor := audit.NewCommandExecutor(cfg.Audit.Command, cfg.Audit.Args, cfg.Audit.Timeout)
	auditRunner := audit.NewRunner(sqliteClient, auditExecutor, alertDispatcher, processor.SatisfactionScore, cfg.Audit)

	trainingDispatcher := training.NewHTTPDispatcher(cfg.Training.ExecutorURL, cfg.Training.DispatchTimeout)
	retrainer := training.NewRetrainer(redisStore, sqliteClient, blobStore, trainingDispatcher, cfg.Training)
	completions := training.NewCompletionHandler(sqliteClient, sqliteClient, cfg.Promotion.TrafficFraction)

	evaluator := promotion.NewEvaluator(sqliteClient, redisStore, cfg.Promotion)

	processor.OnFeedbackProcessed(func(ctx context.Context) {
		retrainer.MaybeTrigger(ctx)
	})

	sched := scheduler.New()
	sched.Register("feedback-stream", cfg.Stream.Interval, processor.RunFeedbackCycle)
	sched.Register("metrics-stream", cfg.Stream.Interval, processor.RunMetricsCycle)
	sched.Register("audit", cfg.Audit.Interval, func(ctx context.Context) error {
		_, err := auditRunner.RunAudit(ctx)
		if errors.Is(err, audit.ErrAuditInProgress) {
			return nil
		}
		return err
	})
	sched.Register("training", cfg.Training.Interval, func(ctx context.Context) error {
		retrainer.MaybeTrigger(ctx)
		return nil
	})
	sched.Register("promotion", cfg.Promotion.EvaluationInterval, func(ctx context.Context) error {
		_, err := evaluator.Evaluate(ctx)
		return err
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	ingestHandler := handlers.NewIngestHandler(ingestService)
	controlHandler := handlers.NewControlHandler(auditRunner, retrainer, completions, sqliteClient)
	statusHandler := handlers.NewStatusHandler(redisQueue, processor, auditRunner, sqliteClient, hub,
		[]string{cfg.Stream.FeedbackQueue, cfg.Stream.MetricsQueue})

	api := app.Group("/api/v1")

	api.Post("/feedback", ingestHandler.HandleFeedback)
	api.Post("/metrics", ingestHandler.HandleMetric)

	api.Get("/status", statusHandler.GetStatus)
	api.Get("/route", statusHandler.GetRoute)

	api.Post("/audit/run", controlHandler.TriggerAudit)
	api.Get("/audit/reports", controlHandler.GetAuditReports)

	api.Post("/training/run", controlHandler.TriggerTraining)
	api.Post("/training/complete", controlHandler.HandleTrainingCompletion)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/alerts", websocket.New(hub.HandleConnection))

	schedCtx, cancelSched := context.WithCancel(context.Background())
	sched.Start(schedCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down gracefully...")
	cancelSched()
	sched.Stop()
	app.Shutdown()
	appLogger.Info("Feedback Engine stopped")
}
