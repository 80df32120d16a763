// Package api serves the chat and history HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/conversation"
	"github.com/HanTheDev/devops-agent-gateway/internal/models"
	"github.com/HanTheDev/devops-agent-gateway/internal/respond"
	"github.com/gorilla/mux"
)

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 64 << 10

// Chatter answers chat requests.
type Chatter interface {
	Chat(ctx context.Context, req conversation.Request) (conversation.Reply, error)
}

// HistoryReader serves the history endpoints.
type HistoryReader interface {
	List(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	Clear(ctx context.Context, userID string) error
}

type Handler struct {
	chat         Chatter
	history      HistoryReader
	storeTimeout time.Duration
	logger       *slog.Logger
}

func NewHandler(chat Chatter, history HistoryReader, storeTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Handler{
		chat:         chat,
		history:      history,
		storeTimeout: storeTimeout,
		logger:       logger.With(slog.String("component", "api")),
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/chat", h.Chat).Methods("POST")
	router.HandleFunc("/api/chat", h.ChatInfo).Methods("GET")
	router.HandleFunc("/api/history/{user_id}", h.ListHistory).Methods("GET")
	router.HandleFunc("/api/history/{user_id}", h.ClearHistory).Methods("DELETE")
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	clientID := ClientIP(r)
	reply, err := h.chat.Chat(r.Context(), conversation.Request{
		ClientID: clientID,
		UserID:   strings.TrimSpace(req.UserID),
		Message:  req.Message,
	})
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}

	cacheStatus := "MISS"
	if reply.Cached {
		cacheStatus = "HIT"
	}
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.Header().Set("Cache-Control", "no-cache")
	respond.JSON(w, http.StatusOK, models.ChatResponse{Response: reply.Text})

	h.logger.InfoContext(r.Context(), "chat request completed",
		slog.String("client_id", clientID),
		slog.String("cache", cacheStatus),
		slog.Int("response_chars", len(reply.Text)),
		slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()),
	)
}

func (h *Handler) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrThrottled):
		respond.Error(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait.")
	case errors.Is(err, conversation.ErrEmptyMessage):
		respond.Error(w, http.StatusBadRequest, "Message must not be empty")
	case errors.Is(err, conversation.ErrConfiguration):
		h.logger.ErrorContext(r.Context(), "model credential missing")
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
	default:
		// The cause was logged by the service; it may contain credentials.
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ChatInfo answers GET /api/chat, which only exists to explain usage.
func (h *Handler) ChatInfo(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{
		"error":   "This endpoint only accepts POST requests",
		"message": "Please send a POST request with a JSON body containing 'message' field",
	})
}

// ClientIP identifies the caller for rate limiting: the first
// X-Forwarded-For hop when present, otherwise the remote address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
