package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"keyed-auth/internal/config"
	"keyed-auth/internal/db"
	"keyed-auth/internal/email"
	"keyed-auth/internal/jobs"
	"keyed-auth/internal/repository"
	"keyed-auth/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.RedisAddr == "" {
		logger.Fatal("worker requires REDIS_ADDR")
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	var sender email.Sender = email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		smtpSender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			sender = smtpSender
		}
	}

	store := repository.NewPgCredentialStore(pool)
	tokenSvc := service.NewTokenService(
		cfg.JWTIssuer,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
	)
	authSvc := service.NewAuthService(logger, store, tokenSvc, nil, sender, nil)

	emailJob := jobs.NewEmailJob(sender, logger)
	purgeJob := jobs.NewPurgeJob(authSvc, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeVerificationEmail, Handler: emailJob.HandleVerification},
			{Type: jobs.TaskTypePasswordResetEmail, Handler: emailJob.HandlePasswordReset},
			{Type: jobs.TaskTypePurgeExpired, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Cronspec: cfg.PurgeCron, Task: jobs.NewPurgeExpiredTask(), Options: []asynq.Option{asynq.MaxRetry(1), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Fatal("init worker", zap.Error(err))
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker run", zap.Error(err))
	}
}
