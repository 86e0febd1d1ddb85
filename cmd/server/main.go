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
	"github.com/redis/go-redis/v9"

	"github.com/archboard-io/archboard/api"
	"github.com/archboard-io/archboard/auth"
	"github.com/archboard-io/archboard/internal/config"
	"github.com/archboard-io/archboard/internal/slogging"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.Dir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.Console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Close()
	}()

	db, err := api.OpenPostgres(cfg.Database.Postgres.DSN())
	if err != nil {
		logger.Error("database initialization failed: %v", err)
		os.Exit(1)
	}
	store := api.NewGormDiagramStore(db)

	var redisClient *redis.Client
	if cfg.Database.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Database.Redis.Addr(),
			Password: cfg.Database.Redis.Password,
			DB:       cfg.Database.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unavailable, snapshot caching disabled: %v", err)
			redisClient = nil
		}
		cancel()
	}

	authService := auth.NewService(cfg.Auth.JWT.Secret,
		time.Duration(cfg.Auth.JWT.ExpirationSeconds)*time.Second)

	hub := api.NewWebSocketHub()
	gate := api.NewPermissionGate(store)
	limiter := api.NewMessageRateLimiter(nil)
	snapshots := api.NewSnapshotCache(redisClient, cfg.WebSocket.SnapshotCacheTTL)
	saver := api.NewDiagramSaver(store, snapshots, cfg.WebSocket.SaveDelay)

	manager := api.NewConnectionManager(api.ConnectionManagerConfig{
		Hub:            hub,
		Auth:           authService,
		Store:          store,
		Gate:           gate,
		Limiter:        limiter,
		Saver:          saver,
		Snapshots:      snapshots,
		SendBufferSize: cfg.WebSocket.SendBufferSize,
	})

	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/diagrams/:id", manager.HandleWS)
	r.GET("/api/diagrams/:id/collaborators", manager.GetDiagramCollaborators)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed: %v", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	saver.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error: %v", err)
	}
	logger.Info("server stopped")
}
