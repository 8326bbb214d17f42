package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/lexrag/internal/api"
	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/go-chi/chi/v5"
)

type ConversationReader interface {
	ListTurns(ctx context.Context, input service.ListTurnsInput) (*service.ListTurnsOutput, error)
}

type ConversationHandler struct {
	conversations ConversationReader
}

func NewConversationHandler(conversations ConversationReader) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.Error(w, http.StatusBadRequest, domain.ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	out, err := h.conversations.ListTurns(r.Context(), service.ListTurnsInput{
		ConversationID: chi.URLParam(r, "conversationID"),
		UserID:         q.Get("user_id"),
		Cursor:         q.Get("cursor"),
		Limit:          limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, out)
}
