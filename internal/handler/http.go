package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/level-leaderboard/internal/domain"
	"github.com/level-leaderboard/internal/service"
	"github.com/level-leaderboard/internal/websocket"
)

// maxBodyBytes bounds the size of a complete_level payload
const maxBodyBytes = 1 << 20

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service *service.LeaderboardService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil, which disables /ws.
func NewHandler(service *service.LeaderboardService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

type leaderboardResponse struct {
	Leaderboard []domain.Player `json:"leaderboard"`
}

type playerResponse struct {
	Player *domain.Player `json:"player"`
}

type completeLevelResponse struct {
	Success bool                  `json:"success"`
	Player  *domain.PlayerSummary `json:"player"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	// Leaderboard entry point, dispatched by method and action
	r.HandleFunc("/", h.Dispatch)
	r.HandleFunc("/leaderboard", h.Dispatch)

	return r
}

// corsMiddleware adds CORS headers and answers pre-flight requests on any path
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through slog
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeError maps an error to its status code and writes it
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case domain.IsNotFoundError(err):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrMethodNotAllowed):
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrDatabaseNotConfigured):
		h.logger.Error("database not configured", "path", r.URL.Path)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: domain.ErrInternalError.Error()})
	}
}

// Dispatch routes a request by method and action
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if !h.service.Configured() {
		h.writeError(w, r, domain.ErrDatabaseNotConfigured)
		return
	}

	switch r.Method {
	case http.MethodGet:
		action := domain.ActionLeaderboard
		if values, ok := r.URL.Query()["action"]; ok {
			action = values[0]
		}

		switch action {
		case domain.ActionLeaderboard:
			h.GetLeaderboard(w, r)
		case domain.ActionPlayer:
			h.GetPlayer(w, r)
		default:
			h.writeError(w, r, domain.ErrMethodNotAllowed)
		}

	case http.MethodPost:
		req, err := decodeCompletion(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		switch req.Action {
		case domain.ActionCompleteLevel:
			h.CompleteLevel(w, r, req)
		default:
			h.writeError(w, r, domain.ErrMethodNotAllowed)
		}

	default:
		h.writeError(w, r, domain.ErrMethodNotAllowed)
	}
}

// decodeCompletion reads a POST body; an empty body decodes as an empty request.
// A body that is not JSON is a client error (400) rather than a server fault.
func decodeCompletion(body io.Reader) (domain.CompleteLevelRequest, error) {
	var req domain.CompleteLevelRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, domain.ErrInvalidRequest
	}
	return req, nil
}

// GetLeaderboard returns the top players
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	players, err := h.service.Leaderboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, leaderboardResponse{Leaderboard: players})
}

// GetPlayer returns a single player by nickname
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.service.Player(r.Context(), r.URL.Query().Get("nickname"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, playerResponse{Player: player})
}

// CompleteLevel records a level completion
func (h *Handler) CompleteLevel(w http.ResponseWriter, r *http.Request, req domain.CompleteLevelRequest) {
	player, err := h.service.CompleteLevel(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, completeLevelResponse{Success: true, Player: player})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the database can be reached
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
