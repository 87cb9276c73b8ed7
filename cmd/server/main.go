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

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"member-registry/internal/config"
	apphttp "member-registry/internal/http"
	"member-registry/internal/notify"
	"member-registry/internal/repository/sqlite"
	"member-registry/internal/service"
	"member-registry/internal/storage"
	"member-registry/internal/telemetry"
	"member-registry/internal/token"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.New(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		logger.Fatalf("setup telemetry: %v", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Fatalf("migrate database: %v", err)
	}

	userRepo := sqlite.NewUserRepository(db)
	notificationRepo := sqlite.NewNotificationRepository(db)
	auditRepo := sqlite.NewAuditRepository(db)

	awsConfig, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Fatalf("load aws config: %v", err)
	}

	storageSvc := buildStorage(awsConfig, cfg, logger)

	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup mail queue: %v", err)
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Workers: cfg.Queue.Workers,
		Logger:  logger,
	}, buildMailer(awsConfig, cfg, logger), queue)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("start dispatcher: %v", err)
	}

	composer := notify.NewComposer(notify.Site{Name: cfg.Site.Name, Email: cfg.Site.Email})
	tokens := token.NewIssuer(cfg.Auth.JWTSecret, cfg.TokenTTL(), cfg.ResetTTL())

	activity := service.NewActivityService(notificationRepo, auditRepo, logger)
	referrals := service.NewReferralService(service.ReferralConfig{
		AutoActivate: cfg.Referral.AutoActivate,
		Logger:       logger,
		Tracer:       tp.Tracer(),
	}, userRepo, activity, dispatcher, composer)
	users := service.NewUserService(service.UserConfig{
		AdminEmails: cfg.Auth.AdminEmails,
		Logger:      logger,
	}, userRepo, activity, storageSvc, tokens, dispatcher, composer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		CORSOrigins: cfg.CORS.Origins,
		RateLimiter: apphttp.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateWindow(), cfg.RateLimit.Burst),
		Logger:      logger,
	}, referrals, users, activity, tokens)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	dispatcher.Shutdown()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("telemetry shutdown: %v", err)
	}

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	return awscfg.LoadDefaultConfig(ctx, loadOpts...)
}

func buildStorage(awsConfig aws.Config, cfg config.Config, logger *logrus.Logger) storage.Service {
	if cfg.Storage.Bucket == "" {
		logger.Warn("storage bucket not set; image uploads are disabled")
		return nil
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.Storage.PublicURL
	if publicURL == "" && cfg.Storage.Endpoint != "" {
		publicURL = cfg.Storage.Endpoint + "/" + cfg.Storage.Bucket
	}
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, storage.Options{
		Bucket:        cfg.Storage.Bucket,
		KeyPrefix:     cfg.Storage.KeyPrefix,
		Region:        cfg.Storage.Region,
		PublicBaseURL: publicURL,
	})
}

func buildMailer(awsConfig aws.Config, cfg config.Config, logger *logrus.Logger) notify.Mailer {
	if cfg.Mail.Driver != "ses" {
		logger.Info("mail driver is log; emails are written to the log")
		return notify.NewLogMailer(logger)
	}
	return notify.NewSESMailer(sesv2.NewFromConfig(awsConfig, func(o *sesv2.Options) {
		if cfg.Mail.Region != "" {
			o.Region = cfg.Mail.Region
		}
	}))
}

func buildQueue(ctx context.Context, cfg config.Config, logger *logrus.Logger) (notify.Queue, error) {
	if cfg.Queue.RedisAddr == "" {
		return notify.NewMemoryQueue(256), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Queue.RedisAddr, err)
	}

	hostname, _ := os.Hostname()
	logger.Infof("using redis stream %s at %s", cfg.Queue.Stream, cfg.Queue.RedisAddr)
	return notify.NewRedisQueue(rdb, notify.RedisQueueConfig{
		Stream:   cfg.Queue.Stream,
		Consumer: hostname,
		Logger:   logger,
	}), nil
}
