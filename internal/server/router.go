package server

import (
	"net/http"

	"github.com/cloo-solutions/lexrag/internal/api/handlers"
	"github.com/cloo-solutions/lexrag/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes int64 = 1 << 20

type RouterConfig struct {
	Logger              *zap.Logger
	AnswerHandler       *handlers.AnswerHandler
	HealthHandler       *handlers.HealthHandler
	ConversationHandler *handlers.ConversationHandler
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Get)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/answer", func(r chi.Router) {
		r.Post("/", cfg.AnswerHandler.Stream)
		r.Get("/ws", cfg.AnswerHandler.WebSocket)
	})

	r.Get("/conversations/{conversationID}/turns", cfg.ConversationHandler.ListTurns)

	return r
}
