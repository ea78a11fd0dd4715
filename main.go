package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkrasov/fieldmark/api"
	"github.com/dkrasov/fieldmark/cache/redis"
	"github.com/dkrasov/fieldmark/mq/sqsmq"
	"github.com/dkrasov/fieldmark/store/dynamo"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

const (
	defaultDynamoDBTable     = "Fieldmark"
	defaultPhotoDeletedQueue = "FieldmarkPhotoDeletedQueue"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	devMode := os.Getenv("DEV_MODE") == "true"

	tableName := envOr("DYNAMODB_TABLE", defaultDynamoDBTable)
	fieldmarkStore, err := dynamo.NewDynamoFieldmarkStore(ctx, devMode, os.Getenv("DYNAMODB_ENDPOINT"), tableName)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	queueName := envOr("SQS_PHOTO_DELETED_QUEUE", defaultPhotoDeletedQueue)
	photoDeletedQueue, err := sqsmq.NewSQSMessageQueue(ctx, devMode, os.Getenv("SQS_ENDPOINT"), queueName)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	fieldmarkCache, err := redis.NewRedisFieldmarkCache(ctx, devMode, os.Getenv("REDIS_ENDPOINT"))
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	redirectURL := os.Getenv("OAUTH_REDIRECT_URL")

	var oauthConfigs = map[string]*oauth2.Config{
		"github": {
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  redirectURL,
		},
		"google": {
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  redirectURL,
		},
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(os.Getenv("JWT_SECRET"))
	if err != nil {
		log.Fatalf("Failed to decode base64 jwtSecret: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// No renderer is wired here; export requests fail until a rendering
	// engine is attached, everything else works without one.
	fieldmarkApi, err := api.NewFieldmarkAPI(fieldmarkStore, photoDeletedQueue, fieldmarkCache, oauthConfigs, jwtSecret, nil, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create fieldmark api: %v", err)
	}

	mux := http.NewServeMux()
	fieldmarkApi.RegisterRoutes(mux, os.Getenv("ALLOWED_ORIGIN"))

	hostPort := envOr("HOST_PORT", "8080")
	log.Printf("Starting server on host port: %s\n", hostPort)
	log.Fatal(http.ListenAndServe(":"+hostPort, mux))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
