package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/verdantlab/plantid-api/internal/care"
	"github.com/verdantlab/plantid-api/internal/classify"
	"github.com/verdantlab/plantid-api/internal/identify"
	"github.com/verdantlab/plantid-api/internal/imageproc"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

type Handler struct {
	service       *identify.Service
	store         *care.Store
	log           *zap.Logger
	maxUploadSize int64
	defaultTopK   int
}

func NewHandler(service *identify.Service, store *care.Store, maxUploadSize int64, defaultTopK int, log *zap.Logger) *Handler {
	return &Handler{
		service:       service,
		store:         store,
		log:           log,
		maxUploadSize: maxUploadSize,
		defaultTopK:   defaultTopK,
	}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)

	api := r.PathPrefix("/api/plants").Subrouter()
	api.HandleFunc("/identify", h.Identify).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/care/search", h.SearchCare).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/care/reload", h.ReloadCare).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/care/{name}", h.GetCare).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/list", h.ListPlants).Methods(http.MethodGet, http.MethodOptions)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type identifyResponse struct {
	Success     bool             `json:"success"`
	RequestID   string           `json:"request_id"`
	Predictions []identify.Match `json:"predictions"`
	Message     string           `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.sendError(w, "invalid_request", "failed to parse upload form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.sendError(w, "invalid_request", "no image file provided, use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != "" && !allowedExtensions[ext] {
		h.sendError(w, "invalid_image", "unsupported file type, upload JPG, PNG, or WebP", http.StatusBadRequest)
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, "invalid_request", "failed to read uploaded file", http.StatusBadRequest)
		return
	}

	topK := h.defaultTopK
	if v := r.FormValue("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k <= 0 {
			h.sendError(w, "invalid_request", "top_k must be a positive integer", http.StatusBadRequest)
			return
		}
		topK = k
	}

	matches, err := h.service.Identify(raw, topK)
	if err != nil {
		h.log.Error("identification failed",
			zap.String("request_id", requestID),
			zap.String("filename", header.Filename),
			zap.Error(err))
		switch {
		case errors.Is(err, imageproc.ErrInvalidImage):
			h.sendError(w, "invalid_image", err.Error(), http.StatusBadRequest)
		case errors.Is(err, classify.ErrModelNotLoaded):
			h.sendError(w, "model_not_loaded", "no model weights are loaded", http.StatusServiceUnavailable)
		default:
			h.sendError(w, "internal_error", "failed to process image", http.StatusInternalServerError)
		}
		return
	}

	h.log.Info("plant identified",
		zap.String("request_id", requestID),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
		zap.Int("matches", len(matches)))

	writeJSON(w, http.StatusOK, identifyResponse{
		Success:     true,
		RequestID:   requestID,
		Predictions: matches,
		Message:     "Found " + strconv.Itoa(len(matches)) + " possible matches",
	})
}

func (h *Handler) GetCare(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	record, err := h.store.Get(name)
	if err != nil {
		if errors.Is(err, care.ErrNotFound) {
			h.sendError(w, "not_found", "care data not found for plant: "+name, http.StatusNotFound)
			return
		}
		h.sendError(w, "internal_error", "failed to retrieve care data", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"plant":   record,
	})
}

func (h *Handler) SearchCare(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	results, err := h.store.Search(query)
	if err != nil {
		if errors.Is(err, care.ErrEmptyQuery) {
			h.sendError(w, "invalid_request", "search term is required", http.StatusBadRequest)
			return
		}
		h.sendError(w, "internal_error", "failed to search plants", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
		"count":   len(results),
	})
}

func (h *Handler) ListPlants(w http.ResponseWriter, r *http.Request) {
	plants := h.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"plants":  plants,
		"count":   len(plants),
	})
}

func (h *Handler) ReloadCare(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Load(); err != nil {
		h.log.Error("care data reload failed", zap.Error(err))
		h.sendError(w, "internal_error", "failed to reload care data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   h.store.Len(),
	})
}

func (h *Handler) sendError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
