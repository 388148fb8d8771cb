package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ojtrack/internal/attendance"
	"ojtrack/internal/auth"
	"ojtrack/internal/config"
	"ojtrack/internal/geoclient"
	"ojtrack/internal/handler"
	"ojtrack/internal/logger"
	"ojtrack/internal/photostore"
	"ojtrack/internal/profile"
	"ojtrack/internal/queue"
	"ojtrack/internal/store"
	"ojtrack/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	zl, err := logger.New(cfg, "api")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db.Client, zl); err != nil {
			return err
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	offset, err := attendance.ParseOffset(cfg.UTCOffset)
	if err != nil {
		return err
	}
	clock := attendance.NewDayClock(offset)
	cache := attendance.NewRedisReportCache(redisClient.Client, cfg.ReportCacheTTL)

	geo := geoclient.New(cfg.GeocoderURL, cfg.GeocoderSkip)
	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, newPhotoStore(cfg, zl), clock, attendance.Options{
		Geocoder: geo,
		Cache:    cache,
		Logger:   zl,
	})
	admin := attendance.NewAdminService(repo, zl)
	profiles := profile.NewService(profile.NewRepository(db.Client), zl)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(64)
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		// no separate worker process in this mode
		go worker.New(cache, zl).Run(ctx, msgs)
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "ojtrack:attendance")
	}

	signer := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	h := handler.New(svc, admin, profiles, signer, q, handler.Options{
		DevTokens:       !cfg.Production(),
		MaxPhotoBytes:   int64(cfg.MaxPhotoBytes),
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
		Health: map[string]handler.HealthCheck{
			"db":       db.Healthy,
			"redis":    redisClient.Healthy,
			"geocoder": handler.ErrorCheck(geo.Health),
		},
	}, zl)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting server", zap.String("addr", srv.Addr), zap.String("utc_offset", cfg.UTCOffset))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced shutdown", zap.Error(err))
	}
	zl.Info("server exited")
	return nil
}

func newPhotoStore(cfg config.App, zl *zap.Logger) attendance.PhotoStore {
	if cfg.StorageBackend == "cloudinary" && cfg.CloudinaryConfigured() {
		zl.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
		return photostore.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	if cfg.Production() {
		zl.Fatal("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}
	zl.Warn("using in-memory photo store; photos are lost on restart")
	return photostore.NewMemory(cfg.PhotoBaseURL)
}
