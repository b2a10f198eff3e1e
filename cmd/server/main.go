// Package main runs the escape-room assessment backend with WebSocket
// monitoring and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/itfiesta/escape-backend/config"
	"github.com/itfiesta/escape-backend/internal/admin"
	"github.com/itfiesta/escape-backend/internal/auth"
	"github.com/itfiesta/escape-backend/internal/middleware"
	"github.com/itfiesta/escape-backend/internal/monitor"
	"github.com/itfiesta/escape-backend/internal/presence"
	"github.com/itfiesta/escape-backend/internal/proctor"
	"github.com/itfiesta/escape-backend/internal/questions"
	"github.com/itfiesta/escape-backend/internal/teams"
	"github.com/itfiesta/escape-backend/pkg/database"
	"github.com/itfiesta/escape-backend/pkg/redis"
	"github.com/itfiesta/escape-backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	clock := clockwork.NewRealClock()
	jwtService := auth.NewJWTService(cfg.Admin.JWTSecret, cfg.Admin.ExpireHours)
	hub := monitor.NewHub(logger)

	// Auth (config-backed admin account)
	authHandler := auth.NewHandler(cfg.Admin, jwtService, logger)

	// Teams + presence + proctoring core
	teamRepo := teams.NewRepository(pool)
	heartbeats := presence.NewStore(rdb.Client, cfg.Proctor.HeartbeatTTL)
	proctorSvc := proctor.NewService(teamRepo, heartbeats, clock, cfg.Proctor, hub, logger)
	proctorHandler := proctor.NewHandler(proctorSvc, logger)

	// Questions
	questionRepo := questions.NewRepository(pool)
	questionHandler := questions.NewHandler(questionRepo, cfg.Proctor.MaxLevel, logger)

	// Admin dashboard
	adminHandler := admin.NewHandler(teamRepo, clock, hub, logger)

	jwtValidate := func(token string) (subject, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.Username, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Game endpoints (public; teams authenticate by team_id)
	escape := router.Group("/api/escape")
	{
		escape.POST("/start", proctorHandler.Start)
		escape.POST("/heartbeat", proctorHandler.Heartbeat)
		escape.POST("/tab-switch", proctorHandler.TabSwitch)
		escape.POST("/submit", proctorHandler.Submit)
		escape.POST("/timeout-advance", proctorHandler.TimeoutAdvance)
		escape.GET("/level/:level/start", proctorHandler.LevelStart)
		escape.GET("/questions/:level", questionHandler.ByLevel)
		escape.GET("/leaderboard", proctorHandler.Leaderboard)
		escape.GET("/team/:teamId", proctorHandler.TeamInfo)
		escape.POST("/levels/:level/submit", proctorHandler.SubmitFinal)
	}

	// Admin (JWT required)
	router.POST("/api/admin/login", authHandler.Login)
	adminAPI := router.Group("/api/admin")
	adminAPI.Use(middleware.JWT(jwtService), middleware.RequireRole("admin"))
	{
		adminAPI.GET("/teams", adminHandler.ListTeams)
		adminAPI.GET("/teams/:teamId/violations", adminHandler.ListViolations)
		adminAPI.PATCH("/teams/:teamId/score", adminHandler.SetScore)
		adminAPI.PATCH("/teams/:teamId/penalty", adminHandler.AddPenalty)
		adminAPI.PATCH("/teams/:teamId/status", adminHandler.SetStatus)
		adminAPI.PATCH("/teams/:teamId/batch", adminHandler.SetBatch)
		adminAPI.PATCH("/start-batch", adminHandler.StartBatch)
		adminAPI.PATCH("/end-batch", adminHandler.EndBatch)
	}

	// WebSocket monitor feed (token in query; no Authorization header)
	router.GET("/ws/monitor", monitor.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
