// Package api exposes the upload session manager over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"fileflow-backend/internal/chunkstore"
	"fileflow-backend/internal/config"
	"fileflow-backend/internal/domain"
	"fileflow-backend/internal/store"
	"fileflow-backend/internal/upload"
)

// Handler wires HTTP routes to the upload service.
type Handler struct {
	cfg *config.Config
	svc *upload.Service
}

// NewHandler creates a Handler instance.
func NewHandler(cfg *config.Config, svc *upload.Service) *Handler {
	return &Handler{cfg: cfg, svc: svc}
}

// Router returns a configured chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-User-Id", "X-Chunk-Index", "X-Chunk-Digest"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Route("/uploads", func(r chi.Router) {
		r.Post("/init", h.withAuth(h.handleInit))
		r.Get("/", h.withAuth(h.handleList))
		r.Post("/{uploadID}/chunks", h.withAuth(h.handleChunk))
		r.Get("/{uploadID}", h.withAuth(h.handleStatus))
		r.Post("/{uploadID}/pause", h.withAuth(h.handlePause))
		r.Post("/{uploadID}/resume", h.withAuth(h.handleResume))
		r.Post("/{uploadID}/complete", h.withAuth(h.handleComplete))
		r.Delete("/{uploadID}", h.withAuth(h.handleCancel))
	})
	r.Route("/files", func(r chi.Router) {
		r.Get("/", h.withAuth(h.handleListFiles))
		r.Get("/{fileID}/download", h.withAuth(h.handleDownload))
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	var req domain.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	res, err := h.svc.Init(r.Context(), user, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	uploadID, ok := parseUploadID(w, r)
	if !ok {
		return
	}

	chunkIdxStr := r.Header.Get("X-Chunk-Index")
	if chunkIdxStr == "" {
		writeError(w, http.StatusBadRequest, "missing X-Chunk-Index header")
		return
	}
	chunkIdx, err := strconv.Atoi(chunkIdxStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}

	chunkDigest := r.Header.Get("X-Chunk-Digest")
	result, err := h.svc.UploadChunk(r.Context(), uploadID, chunkIdx, chunkDigest, r.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	uploadID, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.GetStatus(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	uploadID, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Pause(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	uploadID, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Resume(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	uploadID, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Complete(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	uploadID, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), uploadID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	var filter *domain.SessionStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.SessionStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter = &status
	}
	views, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": views})
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	files, err := h.svc.ListFiles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	f, rc, err := h.svc.OpenFile(r.Context(), fileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(f.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.OriginalName}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func parseUploadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	uploadID, err := uuid.Parse(chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload id")
		return uuid.Nil, false
	}
	return uploadID, true
}

type authedHandler func(http.ResponseWriter, *http.Request, uuid.UUID)

func (h *Handler) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" || apiKey != h.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		userIDHeader := r.Header.Get("X-User-Id")
		if userIDHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing user id")
			return
		}
		userID, err := uuid.Parse(userIDHeader)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user id")
			return
		}
		next(w, r, userID)
	}
}

// writeServiceError maps the service error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var missing *upload.MissingChunksError
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "missing chunks",
			"missingChunks": missing.Missing,
		})
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrFileNotFound),
		errors.Is(err, chunkstore.ErrChunkMissing):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, upload.ErrInvalidState),
		errors.Is(err, chunkstore.ErrChunkConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, upload.ErrChunkOutOfRange),
		errors.Is(err, upload.ErrInvalidArgument),
		errors.Is(err, chunkstore.ErrDigestMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
