package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/justsurfingit/career-tracker/internal/auth"
	"github.com/justsurfingit/career-tracker/internal/config"
	"github.com/justsurfingit/career-tracker/internal/database"
	"github.com/justsurfingit/career-tracker/internal/handlers"
	"github.com/justsurfingit/career-tracker/internal/logger"
	"github.com/justsurfingit/career-tracker/internal/metrics"
	"github.com/justsurfingit/career-tracker/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet.
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	jobService := services.NewJobService(db)

	if err := metrics.Register(prometheus.DefaultRegisterer, jobService, log); err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	var extractor handlers.Extractor
	llmService, err := services.NewLLMService(ctx, cfg.LLM)
	switch {
	case err == nil:
		extractor = llmService
		log.Info("llm enabled", zap.String("model", cfg.LLM.Model))
	case errors.Is(err, services.ErrLLMDisabled):
		log.Info("llm disabled, posting extraction and mailbox sync unavailable")
	default:
		log.Warn("llm unavailable", zap.Error(err))
	}

	if cfg.Gmail.Enabled && llmService != nil {
		gmailClient, err := auth.NewGmailService(ctx, cfg.Gmail, os.Stdin, os.Stdout)
		if err != nil {
			log.Warn("gmail sync disabled", zap.Error(err))
		} else {
			matcher := services.NewMatcherService(jobService)
			emailService := services.NewEmailService(db, llmService, gmailClient, matcher, jobService, cfg.Gmail, log)
			go emailService.Run(ctx)
		}
	}

	jobHandler := handlers.NewJobHandler(jobService, extractor, log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(log))
	r.Use(metrics.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept-Language"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
	}))

	jobHandler.RegisterRoutes(r.Group("/api"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.StaticFile("/", filepath.Join(cfg.Server.PublicDir, "index.html"))
	r.NoRoute(handlers.PublicFiles(cfg.Server.PublicDir))

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
