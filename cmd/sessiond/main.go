package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ferchox920/sessiond/internal/config"
	"github.com/ferchox920/sessiond/internal/db"
	apihttp "github.com/ferchox920/sessiond/internal/http"
	"github.com/ferchox920/sessiond/internal/repository"
	"github.com/ferchox920/sessiond/internal/service"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	ctxDB, cancelDB := context.WithTimeout(ctx, 5*time.Second)
	if err := db.Ping(ctxDB, pool); err != nil {
		cancelDB()
		logger.Fatal("db ping", zap.Error(err))
	}
	cancelDB()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := redisClient.Ping(ctxPing).Err(); err != nil {
		cancel()
		logger.Fatal("redis connect", zap.Error(err))
	}
	cancel()

	userRepo := repository.NewPgUserRepository(pool)
	sessionRepo := repository.NewPgSessionRepository(pool)

	tokenSvc := service.NewTokenService(cfg.JWTSecret, time.Duration(cfg.JWTTTLMinutes)*time.Minute)
	cache := service.NewSessionCache(redisClient)
	manager := service.NewSessionManager(logger, cache, sessionRepo, userRepo, tokenSvc, cfg.SessionTTL())
	reconciler := service.NewSessionReconciler(logger, cache, sessionRepo)
	userSvc := service.NewUserService(logger, userRepo)
	limiter := service.NewRedisLoginRateLimiter(
		redisClient,
		time.Duration(cfg.LoginWindowMinutes)*time.Minute,
		cfg.LoginMaxAttempts,
	)

	go reconciler.Run(ctx, cfg.CleanupInterval())

	sessionHandler := apihttp.NewSessionHandler(logger, userSvc, manager, tokenSvc, limiter)
	router := apihttp.NewRouter(logger, sessionHandler, manager)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
