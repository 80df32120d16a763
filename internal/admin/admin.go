// Package admin serves operator endpoints for inspecting and pruning the
// response cache.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/auth"
	"github.com/HanTheDev/devops-agent-gateway/internal/models"
	"github.com/HanTheDev/devops-agent-gateway/internal/respond"
	"github.com/gorilla/mux"
)

type CacheAdmin interface {
	Stats() models.CacheStats
	Evict(ctx context.Context, question string) error
}

// ClientCounter is implemented by limiters that track clients in process.
type ClientCounter interface {
	Clients() int
}

type AdminHandler struct {
	cache   CacheAdmin
	clients ClientCounter
	logger  *slog.Logger
}

// NewAdminHandler returns a handler; clients may be nil when the limiter
// keeps no local state.
func NewAdminHandler(cache CacheAdmin, clients ClientCounter, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		cache:   cache,
		clients: clients,
		logger:  logger.With(slog.String("component", "admin")),
	}
}

// RegisterRoutes mounts the operator routes under /admin, wrapped by auth.
func (h *AdminHandler) RegisterRoutes(router *mux.Router, auth mux.MiddlewareFunc) {
	sub := router.PathPrefix("/admin").Subrouter()
	sub.Use(auth)
	sub.HandleFunc("/cache/stats", h.GetCacheStats).Methods("GET")
	sub.HandleFunc("/cache", h.EvictCacheEntry).Methods("DELETE")
}

type statsResponse struct {
	Cache          models.CacheStats `json:"cache"`
	TrackedClients *int              `json:"tracked_clients,omitempty"`
}

func (h *AdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Cache: h.cache.Stats()}
	if h.clients != nil {
		n := h.clients.Clients()
		resp.TrackedClients = &n
	}
	respond.JSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) EvictCacheEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		respond.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.cache.Evict(ctx, req.Message); err != nil {
		h.logger.ErrorContext(r.Context(), "cache eviction failed", slog.Any("error", err))
		respond.Error(w, http.StatusInternalServerError, "Failed to evict cache entry")
		return
	}

	operator := ""
	if claims, ok := auth.GetOperatorFromContext(r.Context()); ok {
		operator = claims.Subject
	}
	h.logger.InfoContext(r.Context(), "cache entry evicted", slog.String("operator", operator))

	respond.JSON(w, http.StatusOK, map[string]string{"status": "evicted"})
}
