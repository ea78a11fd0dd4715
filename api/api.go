package api

import (
	"context"
	"log"
	"net/http"

	"github.com/dkrasov/fieldmark/api/rest"
	"github.com/dkrasov/fieldmark/api/ws"
	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/editor"
	"github.com/dkrasov/fieldmark/mq"
	"github.com/dkrasov/fieldmark/service"
	"github.com/dkrasov/fieldmark/store"
	"github.com/dkrasov/fieldmark/worker"
	"golang.org/x/oauth2"
)

const (
	counterBatcherTickMs = 60000
	lockReaperTickMs     = 15000
)

type FieldmarkAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewFieldmarkAPI(
	fieldmarkStore store.FieldmarkStore,
	photoDeletedQueue mq.MessageQueue,
	fieldmarkCache cache.FieldmarkCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	renderer editor.Renderer,
	shutdownCtx context.Context,
) (*FieldmarkAPI, error) {
	wsHub := ws.NewHub(fieldmarkCache)
	err := wsHub.InitSubscriptions(shutdownCtx)
	if err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return &FieldmarkAPI{}, err
	}
	go wsHub.Run()

	counterBatcher := worker.NewCounterBatcher(fieldmarkStore, counterBatcherTickMs)
	go counterBatcher.Run(shutdownCtx)

	mqConsumer := worker.NewMQConsumer(photoDeletedQueue, fieldmarkStore, fieldmarkCache)
	go mqConsumer.Run(shutdownCtx)

	lockReaper := worker.NewLockReaper(fieldmarkCache, lockReaperTickMs)
	go lockReaper.Run(shutdownCtx)

	svc, err := service.NewService(
		fieldmarkStore,
		fieldmarkCache,
		photoDeletedQueue,
		counterBatcher,
		oauthConfigs,
		jwtSecret,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &FieldmarkAPI{}, err
	}

	restHandler := rest.NewHandler(svc)
	wsHandler := ws.NewHandler(svc, wsHub, renderer)

	return &FieldmarkAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (fieldmarkAPI *FieldmarkAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/login", fieldmarkAPI.restHandler.HandleLogin)
	mux.HandleFunc("/me", fieldmarkAPI.restHandler.HandleMe)

	mux.HandleFunc("GET /photos/{photoId}/annotation", fieldmarkAPI.restHandler.HandleGetAnnotation)
	mux.HandleFunc("GET /photos/{photoId}/annotation/history", fieldmarkAPI.restHandler.HandleGetAnnotationHistory)
	mux.HandleFunc("GET /photos/{photoId}/annotation/versions/{version}", fieldmarkAPI.restHandler.HandleGetAnnotationVersion)
	mux.HandleFunc("DELETE /photos/{photoId}", fieldmarkAPI.restHandler.HandleDeletePhoto)

	wsUpgrader := fieldmarkAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		fieldmarkAPI.wsHandler.ServeWS(wsUpgrader, w, r, fieldmarkAPI.shutdownCtx)
	})
}
