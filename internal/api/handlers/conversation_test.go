package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConversationReader struct {
	mock.Mock
}

func (m *MockConversationReader) ListTurns(ctx context.Context, input service.ListTurnsInput) (*service.ListTurnsOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListTurnsOutput), args.Error(1)
}

func conversationRouter(h *ConversationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/conversations/{conversationID}/turns", h.ListTurns)
	return r
}

func TestConversationHandler_ListTurns(t *testing.T) {
	reader := new(MockConversationReader)
	h := NewConversationHandler(reader)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reader.On("ListTurns", mock.Anything, service.ListTurnsInput{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Cursor:         "abc",
		Limit:          10,
	}).Return(&service.ListTurnsOutput{
		Items: []*domain.ConversationTurn{
			{ID: "t1", ConversationID: "conv-1", UserID: "user-1", Role: domain.RoleUser, Content: "Is notice required?", Timestamp: ts},
		},
		Cursor:  "next",
		HasMore: true,
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/conv-1/turns?user_id=user-1&cursor=abc&limit=10", nil)
	conversationRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data service.ListTurnsOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "Is notice required?", resp.Data.Items[0].Content)
	assert.Equal(t, "next", resp.Data.Cursor)
	assert.True(t, resp.Data.HasMore)
	reader.AssertExpectations(t)
}

func TestConversationHandler_ListTurnsErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		err      error
		wantCode int
	}{
		{"bad limit", "?user_id=u&limit=ten", nil, http.StatusBadRequest},
		{"missing user", "", domain.ErrMissingUser, http.StatusBadRequest},
		{"not found", "?user_id=u", domain.ErrConversationNotFound, http.StatusNotFound},
		{"invalid cursor", "?user_id=u&cursor=%25", service.ErrInvalidCursor, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := new(MockConversationReader)
			if tt.err != nil {
				reader.On("ListTurns", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			h := NewConversationHandler(reader)

			rec := httptest.NewRecorder()
			conversationRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/conv-1/turns"+tt.query, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.err == nil {
				reader.AssertNotCalled(t, "ListTurns", mock.Anything, mock.Anything)
			}
		})
	}
}
