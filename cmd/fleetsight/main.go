package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analyzer"
	"github.com/fleetsight/fleetsight/internal/auth"
	"github.com/fleetsight/fleetsight/internal/core"
	"github.com/fleetsight/fleetsight/internal/ingest"
	"github.com/fleetsight/fleetsight/internal/observer"
	"github.com/fleetsight/fleetsight/internal/reporting"
	"github.com/fleetsight/fleetsight/internal/storage"
	"github.com/fleetsight/fleetsight/pkg/logger"
)

func main() {
	configPath := os.Getenv("FLEETSIGHT_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/fleetsight.yaml"
	}

	config, err := core.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Config load failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(config.App.LogLevel); err != nil {
		fmt.Printf("Logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fleet, err := loadFleet(config)
	if err != nil {
		logger.Fatal("Fleet snapshot load failed", zap.Error(err))
	}
	logger.Info("Fleet snapshot loaded", zap.Int("bots", len(fleet)))

	var model *analyzer.RiskModel
	if config.Data.ModelPath != "" {
		model, err = analyzer.LoadRiskModel(config.Data.ModelPath)
		if err != nil {
			logger.Warn("Risk model unavailable, running heuristic-only",
				zap.String("path", config.Data.ModelPath), zap.Error(err))
			model = nil
		} else {
			logger.Info("Risk model loaded",
				zap.Float64("kpi_accuracy", model.KPIAccuracy),
				zap.Float64("kpi_auc", model.KPIAUC))
		}
	}

	engine := analyzer.NewEngine(fleet, model, analyzer.Options{
		ContaminationAlerts:    config.Analyzer.ContaminationAlerts,
		ContaminationDashboard: config.Analyzer.ContaminationDashboard,
		RiskThreshold:          config.Analyzer.RiskThreshold,
		Seed:                   config.Analyzer.Seed,
	}, logger.Log)

	if config.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recoveryJSON(), ginLogger(), observer.RequestMetrics())

	router.GET("/health", healthHandler(config))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authService := auth.NewService(config.Auth.Username, config.Auth.Password, config.Auth.JWTSecret)
	router.POST("/api/auth", authHandler(authService))

	api := router.Group("/api")
	if config.Auth.Enabled {
		api.Use(authService.Middleware())
	}
	{
		api.GET("/overview", overviewHandler(engine))
		api.GET("/errors", errorsHandler(engine))
		api.GET("/performance", performanceHandler(engine))
		api.GET("/alerts", alertsHandler(engine))
		api.GET("/summary", summaryHandler(engine))
		api.GET("/analytics/dashboard", dashboardHandler(engine))
		api.GET("/analysis/:bot_id", analysisHandler(engine))
	}

	srv := &http.Server{
		Addr:           config.Server.Addr,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
}

func loadFleet(config *core.Config) (storage.Fleet, error) {
	switch config.Data.Source {
	case "postgres":
		db, err := storage.NewPostgresClient(config.GetDatabaseURL(), logger.Log)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Health(ctx); err != nil {
			return nil, fmt.Errorf("database health check failed: %w", err)
		}
		return db.LoadFleet(ctx)
	default:
		return ingest.LoadCSV(config.Data.CSVPath, logger.Log)
	}
}

func healthHandler(config *core.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   config.App.Version,
		})
	}
}

func authHandler(service *auth.Service) gin.HandlerFunc {
	type credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	return func(c *gin.Context) {
		var creds credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		token, err := service.Login(creds.Username, creds.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func overviewHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := storage.FilterOptions{
			BotType:  c.Query("bot_type"),
			Status:   c.Query("status"),
			Priority: c.Query("priority"),
			Owner:    c.Query("owner"),
		}
		if start, err := time.Parse("2006-01-02", c.Query("start_date")); err == nil {
			opts.StartDate = start
		}
		if end, err := time.Parse("2006-01-02", c.Query("end_date")); err == nil {
			// include the whole end day
			opts.EndDate = end.Add(24*time.Hour - time.Second)
		}

		c.JSON(http.StatusOK, reporting.BuildOverview(engine.Fleet().Filter(opts)))
	}
}

func errorsHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reporting.BuildErrors(engine.Fleet(), c.Query("user")))
	}
}

func performanceHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reporting.BuildPerformance(engine.Fleet()))
	}
}

func alertsHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alerts": engine.Alerts()})
	}
}

func summaryHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := engine.Summary(c.Query("user"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary})
	}
}

func dashboardHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		agg := reporting.BuildDashboardAggregates(engine.Fleet())
		risk := engine.DashboardRisk()

		c.JSON(http.StatusOK, gin.H{
			"total_runs":          agg.TotalRuns,
			"success_rate":        agg.SuccessRate,
			"avg_execution_time":  agg.AvgExecutionTime,
			"total_errors":        agg.TotalErrors,
			"users":               agg.Users,
			"userBots":            agg.UserBots,
			"status_distribution": agg.StatusDistribution,
			"daily_trends":        agg.DailyTrends,
			"risk_analysis":       risk.RiskAnalysis,
			"anomalies":           risk.Anomalies,
			"owner_insights":      agg.OwnerInsights,
			"ml_metrics":          risk.KPIs,
		})
	}
}

func analysisHandler(engine *analyzer.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		analysis, err := engine.Analysis(c.Param("bot_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, analysis)
	}
}

// respondError maps engine errors onto the API's error envelope:
// lookup failures are 404 with their message, everything else a
// generic 500.
func respondError(c *gin.Context, err error) {
	var notFound *analyzer.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Msg})
		return
	}
	logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// recoveryJSON converts panics into the JSON error envelope instead of
// an empty 500.
func recoveryJSON() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Handler panic", zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	})
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
