package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/HanTheDev/devops-agent-gateway/internal/models"
	"github.com/HanTheDev/devops-agent-gateway/internal/respond"
	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
	defer cancel()

	conversations, err := h.history.List(ctx, userID, limit)
	if err != nil {
		// History is best-effort: show an empty log rather than an error.
		h.logger.WarnContext(r.Context(), "history read failed",
			slog.String("user_id", userID), slog.Any("error", err))
		conversations = []models.Conversation{}
	}

	respond.JSON(w, http.StatusOK, models.HistoryResponse{
		UserID:        userID,
		Conversations: conversations,
		Count:         len(conversations),
	})
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
	defer cancel()

	if err := h.history.Clear(ctx, userID); err != nil {
		h.logger.ErrorContext(r.Context(), "history clear failed",
			slog.String("user_id", userID), slog.Any("error", err))
		respond.Error(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}

	respond.JSON(w, http.StatusOK, map[string]string{"status": "cleared", "user_id": userID})
}
