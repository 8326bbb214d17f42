package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cloo-solutions/lexrag/internal/api"
	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsReadLimit    = 1 << 20
	wsOutBuffer    = 64
)

// AnswerStreamer is the answer pipeline as seen by the transport.
type AnswerStreamer interface {
	Validate(req service.AnswerRequest) error
	Answer(ctx context.Context, req service.AnswerRequest) <-chan domain.Event
}

type AnswerHandler struct {
	answers  AnswerStreamer
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewAnswerHandler(answers AnswerStreamer, logger *zap.Logger) *AnswerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerHandler{
		answers: answers,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
}

type AnswerRequestBody struct {
	Query          string                  `json:"query"`
	ConversationID string                  `json:"conversation_id"`
	UserID         string                  `json:"user_id"`
	Provider       string                  `json:"provider,omitempty"`
	Category       string                  `json:"category,omitempty"`
	History        []domain.HistoryMessage `json:"history,omitempty"`
}

func (b AnswerRequestBody) toRequest() service.AnswerRequest {
	return service.AnswerRequest{
		Query:          b.Query,
		History:        b.History,
		ConversationID: b.ConversationID,
		UserID:         b.UserID,
		Provider:       b.Provider,
		Filters:        service.IndexFilters{Category: b.Category},
	}
}

// Stream answers one question as server-sent events. Each event is written as
// "event: <type>" followed by its JSON encoding. Disconnecting the client
// cancels the pipeline.
func (h *AnswerHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var body AnswerRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Error(w, http.StatusBadRequest, domain.ErrCodeValidation, "invalid request body")
		return
	}

	req := body.toRequest()
	if err := h.answers.Validate(req); err != nil {
		api.HandleError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for ev := range h.answers.Answer(r.Context(), req) {
		if err := writeSSE(w, ev); err != nil {
			h.logger.Debug("sse write failed", zap.Error(err))
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Debug("sse flush failed", zap.Error(err))
		}
	}
}

func writeSSE(w http.ResponseWriter, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

// Message types a websocket client may send.
const (
	wsAsk  = "ask"
	wsStop = "stop"
)

type wsClientMessage struct {
	Type string `json:"type"`
	AnswerRequestBody
}

// wsSession serialises answers on one websocket connection. At most one
// answer runs at a time and "stop" cancels it.
type wsSession struct {
	ctx    context.Context
	out    chan any
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *wsSession) send(msg any) bool {
	select {
	case s.out <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// start launches an answer unless one is already running.
func (s *wsSession) start(events func(ctx context.Context) <-chan domain.Event) bool {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
			cancel()
		}()
		// Keep draining after the connection is gone so the pipeline can
		// finish its bookkeeping.
		for ev := range events(ctx) {
			s.send(ev)
		}
	}()
	return true
}

func (s *wsSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// WebSocket answers questions over a long-lived connection. Clients send
// {"type":"ask", ...request} and receive the same events as the SSE stream;
// {"type":"stop"} cancels the answer in flight.
func (h *AnswerHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := &wsSession{ctx: ctx, out: make(chan any, wsOutBuffer)}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, cancel, conn, session.out)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) {
					session.send(domain.ErrorEvent(domain.NewDomainError(domain.ErrCodeValidation, "invalid message")))
					continue
				}
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		switch msg.Type {
		case wsStop:
			session.stop()
		case wsAsk:
			req := msg.toRequest()
			if err := h.answers.Validate(req); err != nil {
				session.send(domain.ErrorEvent(err))
				continue
			}
			started := session.start(func(ctx context.Context) <-chan domain.Event {
				return h.answers.Answer(ctx, req)
			})
			if !started {
				session.send(domain.ErrorEvent(domain.NewDomainError(domain.ErrCodeValidation, "an answer is already in progress")))
			}
		default:
			session.send(domain.ErrorEvent(domain.NewDomainError(domain.ErrCodeValidation, "unknown message type")))
		}
	}

	cancel()
	session.wg.Wait()
	<-writerDone
}

func (h *AnswerHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan any) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				cancel()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				cancel()
				return
			}
		}
	}
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the serving host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
