package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/api/handlers"
	"github.com/procx/backend/internal/dedup"
	"github.com/procx/backend/internal/detector"
	"github.com/procx/backend/internal/escalation"
	"github.com/procx/backend/internal/events"
	"github.com/procx/backend/internal/llm"
	"github.com/procx/backend/internal/metrics"
	"github.com/procx/backend/internal/pipeline"
	"github.com/procx/backend/internal/storage/sqlite"
	"github.com/procx/backend/pkg/config"
	appLogger "github.com/procx/backend/pkg/logger"
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

	appLogger.Info("Starting ProCX retention API server")

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

	dedupWindow := time.Duration(cfg.Pipeline.DedupWindowHours) * time.Hour
	var contacts dedup.ContactLog
	var redisLog *dedup.RedisLog
	if cfg.Redis.Enabled {
		redisLog, err = dedup.NewRedisLog(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, dedupWindow)
		if err != nil {
			appLogger.Warn("Redis unavailable, using in-memory contact log", zap.Error(err))
			contacts = dedup.NewMemoryLog(dedupWindow)
		} else {
			defer redisLog.Close()
			contacts = redisLog
		}
	} else {
		contacts = dedup.NewMemoryLog(dedupWindow)
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	staleAfter := time.Duration(cfg.Escalation.StaleDays) * 24 * time.Hour
	tracker, err := escalation.NewTracker(context.Background(), sqliteClient, staleAfter)
	if err != nil {
		appLogger.Fatal("Failed to initialize escalation tracker", zap.Error(err))
	}
	metrics.ActiveEscalations.Set(float64(len(tracker.ActiveSet())))

	autoClose := time.Duration(cfg.Escalation.AutoCloseDays) * 24 * time.Hour
	if closed, err := tracker.CleanOld(context.Background(), autoClose); err != nil {
		appLogger.Warn("Failed to auto-close stale escalations", zap.Error(err))
	} else if closed > 0 {
		appLogger.Info("Auto-closed stale escalations on startup", zap.Int("count", closed))
	}

	det := detector.New(sqliteClient)

	pipelineCfg := pipeline.Config{
		ChurnRiskThreshold:      cfg.Scoring.ChurnRiskThreshold,
		VIPChurnEscalation:      0.8,
		CriticalChurnEscalation: 0.85,
		UrgencyThreshold:        cfg.Scoring.UrgencyThreshold,
		ScanConcurrency:         cfg.Pipeline.ScanConcurrency,
		MaxInterventionsPerScan: cfg.Pipeline.MaxInterventionsPerScan,
		MinChurnRisk:            cfg.Scoring.MinChurnRisk,
		MinLifetimeValue:        cfg.Scoring.MinLifetimeValue,
		SamplePerSegment:        cfg.Scoring.SegmentSampleSize,
	}
	orchestrator := pipeline.NewOrchestrator(sqliteClient, det, tracker, contacts, llmClient, pipelineCfg)

	hub := events.NewHub()
	orchestrator.SetPublisher(hub)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	scanHandler := handlers.NewScanHandler(orchestrator)
	alertsHandler := handlers.NewAlertsHandler(det)
	escalationHandler := handlers.NewEscalationHandler(tracker)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/scan", scanHandler.HandleScan)
	api.Post("/customers/:id/process", scanHandler.HandleProcessCustomer)

	api.Get("/alerts", alertsHandler.GetAlerts)
	api.Get("/alerts/report", alertsHandler.GetMonitoringReport)
	api.Get("/alerts/inactive", alertsHandler.GetInactiveHighValue)

	api.Get("/escalations", escalationHandler.ListActive)
	api.Get("/escalations/stats", escalationHandler.GetStatistics)
	api.Get("/escalations/:customerId", escalationHandler.GetByCustomer)
	api.Patch("/escalations/:customerId", escalationHandler.UpdateStatus)
	api.Post("/escalations/:customerId/interactions", escalationHandler.LogInteraction)
	api.Get("/escalations/:customerId/history", escalationHandler.GetHistory)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/events", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

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

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
