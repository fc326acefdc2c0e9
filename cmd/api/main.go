package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-establishment-auth/internal/config"
	"github.com/go-establishment-auth/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-establishment-auth/internal/infrastructure/jwt"
	redisinfra "github.com/go-establishment-auth/internal/infrastructure/redis"
	"github.com/go-establishment-auth/internal/infrastructure/smtp"
	"github.com/go-establishment-auth/internal/infrastructure/sns"
	"github.com/go-establishment-auth/internal/pkg/secret"
	transporthttp "github.com/go-establishment-auth/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("jwt provider: %v", err)
	}

	cipher, err := secret.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("secret cipher: %v", err)
	}

	// Redis is optional; without it failed 2FA attempts are not throttled.
	redisClient, err := redisinfra.NewClient(context.Background(), cfg)
	if err != nil {
		log.Printf("WARN: redis not available, 2FA attempt limiter disabled: %v", err)
		redisClient = nil
	} else if redisClient == nil {
		log.Println("REDIS_ADDR not set, 2FA attempt limiter disabled")
	}

	// SNS SMS sender (optional; SMS codes are refused without it).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	deps := &transporthttp.Deps{
		UserRepo:         dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		RefreshTokenRepo: dynamo.NewRefreshTokenRepo(dynamoClient, cfg.DynamoTables.RefreshTokens),
		Mailer:           smtp.NewMailer(cfg),
		SMSSender:        smsSender,
		JWTProvider:      jwtProvider,
		Cipher:           cipher,
		Redis:            redisClient,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Println("Server stopped")
}
