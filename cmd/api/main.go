package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v78"

	"github.com/tutorstack/tutorstack-api/internal/handler"
	"github.com/tutorstack/tutorstack-api/internal/middleware"
	"github.com/tutorstack/tutorstack-api/internal/repository"
	"github.com/tutorstack/tutorstack-api/internal/service"
	"github.com/tutorstack/tutorstack-api/pkg/cache"
	"github.com/tutorstack/tutorstack-api/pkg/config"
	"github.com/tutorstack/tutorstack-api/pkg/database"
	"github.com/tutorstack/tutorstack-api/pkg/jobs"
	"github.com/tutorstack/tutorstack-api/pkg/logger"
	corsmiddleware "github.com/tutorstack/tutorstack-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tutorstack/tutorstack-api/pkg/middleware/requestid"
)

const inviteSweepJobType = "invite_sweep"

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	inviteRepo := repository.NewInviteRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	instructorSvc := service.NewInstructorService(instructorRepo, userRepo, validate, logr)

	var courseCache *repository.CacheRepository
	if cacheRepo != nil {
		courseCache = cacheRepo
	}
	courseSvc := service.NewCourseService(courseRepo, instructorSvc, courseCache, service.CourseCacheConfig{
		Enabled: cfg.Cache.Enabled && courseCache != nil,
		TTL:     cfg.Cache.TTL,
	}, validate, logr)

	inviteSvc := service.NewInviteService(inviteRepo, userRepo, instructorRepo, validate, logr, service.InviteConfig{
		TTL:     cfg.Invites.TTL,
		BaseURL: cfg.Invites.BaseURL,
	})
	billingSvc := service.NewBillingService(subscriptionRepo, userRepo, validate, logr, service.BillingConfig{
		SecretKey:     cfg.Billing.SecretKey,
		WebhookSecret: cfg.Billing.WebhookSecret,
		SuccessURL:    cfg.Billing.SuccessURL,
		CancelURL:     cfg.Billing.CancelURL,
		PortalReturn:  cfg.Billing.PortalReturn,
	})
	exportSvc := service.NewExportService(courseSvc, logr)

	queue := jobs.NewQueue("background", func(ctx context.Context, job jobs.Job) error {
		switch job.Type {
		case inviteSweepJobType:
			err := inviteSvc.SweepExpired(ctx)
			metricsSvc.RecordJobRun(job.Type, err)
			return err
		case handler.WebhookJobType:
			event, ok := job.Payload.(stripe.Event)
			if !ok {
				return fmt.Errorf("unexpected webhook payload type %T", job.Payload)
			}
			err := billingSvc.HandleEvent(ctx, event)
			metricsSvc.RecordWebhookEvent(string(event.Type), err)
			return err
		default:
			return fmt.Errorf("unknown job type %s", job.Type)
		}
	}, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: cfg.Billing.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()
	queue.RunPeriodic(inviteSweepJobType, cfg.Invites.SweepInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	handlers := handler.Handlers{
		Auth:       handler.NewAuthHandler(authSvc),
		Users:      handler.NewUserHandler(userSvc),
		Instructor: handler.NewInstructorHandler(instructorSvc),
		Courses:    handler.NewCourseHandler(courseSvc),
		Invites:    handler.NewInviteHandler(inviteSvc),
		Billing:    handler.NewBillingHandler(billingSvc, queue),
		Exports:    handler.NewExportHandler(exportSvc),
		Metrics:    handler.NewMetricsHandler(metricsSvc),
	}
	handler.RegisterRoutes(r, cfg.APIPrefix, handlers, authSvc, userRepo, handler.RouterConfig{
		BillingEnabled: cfg.Billing.Enabled,
		ExportsEnabled: cfg.Exports.Enabled,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
