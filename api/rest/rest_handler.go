package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/service"
	"github.com/dkrasov/fieldmark/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type loginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Provider, req.Code)
	if err != nil {
		log.Printf("Login failed: %v", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	resp := loginResponse{
		Username: user.Username,
		Id:       user.Id,
		Provider: user.Provider,
		Token:    token,
	}
	h.sendResponse(w, resp)
}

type getUserResponse struct {
	Username  string `json:"username"`
	Id        string `json:"id"`
	Provider  string `json:"provider"`
	SaveCount int    `json:"saveCount"`
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	token := h.getTokenFromAuthHeader(r)
	switch r.Method {
	case http.MethodGet:
		h.handleGetUser(w, r, token)

	case http.MethodDelete:
		h.handleDeleteUser(w, r, token)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request, token string) {
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// The redis counter is ahead of the batched dynamo row while the user
	// is actively saving; prefer it when present.
	saveCount := user.SaveCount
	if live, err := h.Service.Cache.GetUserSaveCount(r.Context(), user.Id); err == nil && live >= 0 {
		saveCount = live
	}

	resp := getUserResponse{
		Username:  user.Username,
		Id:        user.Id,
		Provider:  user.Provider,
		SaveCount: saveCount,
	}
	h.sendResponse(w, resp)
}

type deleteUserResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request, token string) {
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.Service.DeleteUser(r.Context(), user); err != nil {
		http.Error(w, "failed to delete user", http.StatusInternalServerError)
		return
	}

	resp := deleteUserResponse{
		Success: true,
	}
	h.sendResponse(w, resp)
}

// HandleGetAnnotation serves the current version for a photo. A photo
// that was never annotated returns 404; downloading does not require an
// edit lock.
func (h *Handler) HandleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.AuthenticateToken(r.Context(), h.getTokenFromAuthHeader(r)); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	photoId := r.PathValue("photoId")
	rec, err := h.Service.LoadCurrentAnnotation(r.Context(), photoId)
	if err != nil {
		log.Printf("Load annotation for photo %s failed: %v", photoId, err)
		http.Error(w, "failed to load annotation", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "no annotation for photo", http.StatusNotFound)
		return
	}

	h.sendResponse(w, annotationToWire(*rec))
}

// HandleGetAnnotationVersion serves one historical version by number.
func (h *Handler) HandleGetAnnotationVersion(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.AuthenticateToken(r.Context(), h.getTokenFromAuthHeader(r)); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	photoId := r.PathValue("photoId")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}

	rec, err := h.Service.GetAnnotationVersion(r.Context(), photoId, version)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			http.Error(w, "version not found", http.StatusNotFound)
			return
		}
		log.Printf("Load annotation version %d for photo %s failed: %v", version, photoId, err)
		http.Error(w, "failed to load annotation version", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, annotationToWire(rec))
}

type historyResponse struct {
	PhotoId  string            `json:"photoId"`
	Versions []annotationEntry `json:"versions"`
}

func (h *Handler) HandleGetAnnotationHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.AuthenticateToken(r.Context(), h.getTokenFromAuthHeader(r)); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	photoId := r.PathValue("photoId")
	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	history, err := h.Service.GetAnnotationHistory(r.Context(), photoId, limit)
	if err != nil {
		log.Printf("Load annotation history for photo %s failed: %v", photoId, err)
		http.Error(w, "failed to load annotation history", http.StatusInternalServerError)
		return
	}

	resp := historyResponse{PhotoId: photoId, Versions: make([]annotationEntry, 0, len(history))}
	for _, rec := range history {
		entry := annotationToWire(rec)
		entry.Document = nil // history listings are summaries, not payloads
		resp.Versions = append(resp.Versions, entry)
	}
	h.sendResponse(w, resp)
}

type deletePhotoResponse struct {
	Success bool `json:"success"`
}

// HandleDeletePhoto enqueues the deletion; the MQ consumer soft-deletes
// version rows out of band.
func (h *Handler) HandleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	user, err := h.Service.AuthenticateToken(r.Context(), h.getTokenFromAuthHeader(r))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	photoId := r.PathValue("photoId")
	if err := h.Service.RequestPhotoDeletion(r.Context(), photoId, user); err != nil {
		log.Printf("Photo deletion request for %s failed: %v", photoId, err)
		http.Error(w, "failed to request photo deletion", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, deletePhotoResponse{Success: true})
}

type annotationEntry struct {
	Id              string                     `json:"id"`
	PhotoId         string                     `json:"photoId"`
	Version         int                        `json:"version"`
	Document        *models.AnnotationDocument `json:"document,omitempty"`
	CreatedBy       string                     `json:"createdBy"`
	CreatedAt       int64                      `json:"createdAt"`
	ObjectCount     int                        `json:"objectCount"`
	HasArrows       bool                       `json:"hasArrows"`
	HasText         bool                       `json:"hasText"`
	HasShapes       bool                       `json:"hasShapes"`
	HasMeasurements bool                       `json:"hasMeasurements"`
	IsCurrent       bool                       `json:"isCurrent"`
}

func annotationToWire(rec models.MediaAnnotation) annotationEntry {
	doc := rec.Document
	return annotationEntry{
		Id:              rec.Id,
		PhotoId:         rec.JobMediaId,
		Version:         rec.Version,
		Document:        &doc,
		CreatedBy:       rec.CreatedBy,
		CreatedAt:       rec.CreatedAt.Unix(),
		ObjectCount:     rec.ObjectCount,
		HasArrows:       rec.HasArrows,
		HasText:         rec.HasText,
		HasShapes:       rec.HasShapes,
		HasMeasurements: rec.HasMeasurements,
		IsCurrent:       rec.IsCurrent,
	}
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
