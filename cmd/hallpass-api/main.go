package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hallpass-api/api/swagger"
	"github.com/noah-isme/hallpass-api/internal/handler"
	"github.com/noah-isme/hallpass-api/internal/realtime"
	"github.com/noah-isme/hallpass-api/internal/repository"
	"github.com/noah-isme/hallpass-api/internal/service"
	"github.com/noah-isme/hallpass-api/pkg/cache"
	"github.com/noah-isme/hallpass-api/pkg/config"
	"github.com/noah-isme/hallpass-api/pkg/database"
	"github.com/noah-isme/hallpass-api/pkg/logger"
)

// @title Hall Pass API
// @version 1.0.0
// @description Hall-pass admission, live hall monitoring and emergency accountability.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logr); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	location := cfg.Passes.TimeLocation()
	metricsSvc := service.NewMetricsService()

	passRepo := repository.NewPassRepository(db, cfg.Passes.LockTimeout)
	constraintRepo := repository.NewConstraintRepository(db)
	emergencyRepo := repository.NewEmergencyRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Constraints.CacheTTL, logr, redisClient != nil)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	registry := service.NewConstraintRegistry(constraintRepo, cacheSvc, metricsSvc, logr, service.ConstraintRegistryConfig{
		RefreshInterval: cfg.Constraints.RefreshInterval,
		CacheTTL:        cfg.Constraints.CacheTTL,
		Location:        location,
	})
	if _, err := registry.Refresh(ctx); err != nil {
		logr.Warn("initial constraint snapshot unavailable", zap.Error(err))
	}

	hub := realtime.NewHub(cfg.Broadcast.SubscriberBuffer, metricsSvc, logr)
	var relay *realtime.RedisRelay
	if redisClient != nil {
		relay = realtime.NewRedisRelay(redisClient, cfg.Broadcast.Channel, logr)
		if err := relay.Start(ctx, func(event realtime.Event) { hub.Dispatch(event) }); err != nil {
			return fmt.Errorf("start realtime relay: %w", err)
		}
		defer relay.Stop()
	}

	broadcasterParams := realtime.BroadcasterParams{
		Hub:       hub,
		Guardians: studentRepo,
		Alerts:    emergencyRepo,
		Metrics:   metricsSvc,
		Logger:    logr,
		Config: realtime.BroadcasterConfig{
			BufferSize: cfg.Broadcast.QueueBuffer,
			MaxRetries: cfg.Broadcast.RelayRetries,
			RetryDelay: cfg.Broadcast.RelayRetryDelay,
		},
	}
	if relay != nil {
		broadcasterParams.Relay = relay
	}
	broadcaster := realtime.NewBroadcaster(broadcasterParams)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	passSvc := service.NewPassService(service.PassServiceParams{
		Store:       passRepo,
		Constraints: registry,
		Students:    studentRepo,
		Events:      broadcaster,
		Validator:   validator.New(),
		Metrics:     metricsSvc,
		Logger:      logr,
		Config: service.PassServiceConfig{
			DailyLimit:       cfg.Passes.DailyLimit,
			DefaultTimeLimit: cfg.Passes.DefaultTimeLimit,
			MaxTimeLimit:     cfg.Passes.MaxTimeLimit,
			MaxRetries:       cfg.Passes.MaxRetries,
			RetryBackoff:     cfg.Passes.RetryBackoff,
			Location:         location,
		},
	})
	accountabilitySvc := service.NewAccountabilityService(emergencyRepo, studentRepo, passRepo, registry, nil, nil, logr)

	if cfg.Overtime.Enabled {
		monitor := service.NewOvertimeMonitor(passRepo, broadcaster, metricsSvc, logr, cfg.Overtime.Interval)
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	router := newRouter(cfg, logr, routerDeps{
		metrics:   metricsSvc,
		tokens:    tokenSvc,
		passes:    handler.NewPassHandler(passSvc),
		locations: handler.NewLocationHandler(passSvc),
		emergency: handler.NewEmergencyHandler(accountabilitySvc),
		realtime:  handler.NewRealtimeHandler(hub, cfg.CORS.AllowedOrigins, realtime.ConnConfig{}, logr),
		health:    handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
			"database": db.PingContext,
			"redis":    cacheRepo.Ping,
		}),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
