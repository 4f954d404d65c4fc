package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"keyed-auth/internal/config"
	"keyed-auth/internal/db"
	"keyed-auth/internal/email"
	apihttp "keyed-auth/internal/http"
	"keyed-auth/internal/jobs"
	"keyed-auth/internal/repository"
	"keyed-auth/internal/service"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
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

	if cfg.MigrationsOnStart {
		migrator, err := db.NewMigrator(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("migrator init", zap.Error(err))
		}
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal("migrations", zap.Error(err))
		}
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	store := repository.NewPgCredentialStore(pool)

	var (
		emailSender email.Sender = email.NewDisabledSender("email sender not configured")
		principals  service.PrincipalCache
		redisClient *redis.Client
	)
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			principals = service.NewRedisPrincipalCache(redisClient, time.Duration(cfg.PrincipalCacheTTLSeconds)*time.Second)

			// Con redis disponible los emails salen por la cola del worker.
			queue := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer queue.Close()
			emailSender = jobs.NewQueueSender(queue)
		}
		cancel()
	}
	if principals == nil {
		principals = service.NewMemoryPrincipalCache(time.Duration(cfg.PrincipalCacheTTLSeconds) * time.Second)
	}

	tokenSvc := service.NewTokenService(
		cfg.JWTIssuer,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
	)
	hasher := service.NewBcryptHasher(cfg.BcryptCost, cfg.HashWorkers)
	authSvc := service.NewAuthService(logger, store, tokenSvc, hasher, emailSender, principals)

	authHandler := apihttp.NewAuthHandler(logger, authSvc)
	userHandler := apihttp.NewUserHandler(logger, authSvc)
	healthHandler := apihttp.NewHealthHandler(logger, pool)
	router := apihttp.NewRouter(logger, authHandler, userHandler, healthHandler, authSvc, apihttp.RouterOptions{
		SSLRedirect: cfg.SSLRedirect,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
