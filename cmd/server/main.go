package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ssl-monitor/internal/api"
	"ssl-monitor/internal/config"
	"ssl-monitor/internal/database"
	"ssl-monitor/internal/logger"
	"ssl-monitor/internal/metrics"
	"ssl-monitor/internal/scheduler"
	"ssl-monitor/internal/services"
	"ssl-monitor/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	configPath := os.Getenv("SSLMON_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(&cfg.Log)
	log := logger.For("main")

	// Initialize database
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close(db)
	log.Info("Database initialized successfully")

	st := store.New(db)
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize services
	prober := services.NewTLSProber(cfg.Monitor.ProbeTimeout)
	mailer := services.NewMailer(&cfg.Mail)
	if !cfg.Mail.Enabled {
		log.Warn("Mail is disabled; reminders will be logged as failed until SMTP is configured")
	}

	pool := services.NewProbePool(prober, st, cfg.Monitor.ProbeConcurrency, m, logger.For("probe"))
	engine := services.NewNotificationEngine(st, mailer, cfg.Monitor.MailConcurrency, cfg.Monitor.FailedLogRetention, m, logger.For("notify"))
	monitorService := services.NewMonitorService(prober, st, pool, engine, m, logger.For("monitor"))

	// Initialize scheduler
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}
	sched := scheduler.NewScheduler(monitorService, st, scheduler.Options{
		DefaultSpec:  cfg.Monitor.DefaultCron,
		Location:     loc,
		SweepTimeout: cfg.Monitor.SweepTimeout,
		Metrics:      m,
		Logger:       logger.For("scheduler"),
	})
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Setup Gin
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	handler := api.NewHandler(st, monitorService, sched, mailer, prometheus.DefaultGatherer)
	api.SetupRoutes(r, handler)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
