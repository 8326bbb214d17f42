//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/lexrag/internal/api/handlers"
	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/jobs"
	"github.com/cloo-solutions/lexrag/internal/observability"
	"github.com/cloo-solutions/lexrag/internal/openai"
	"github.com/cloo-solutions/lexrag/internal/repository"
	"github.com/cloo-solutions/lexrag/internal/server"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/cloo-solutions/lexrag/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
)

const (
	embeddingDimensions = 1536
	modelAnswer         = "Under the Rent Control Act [1], a landlord must give the tenant written notice before eviction."
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T         *testing.T
	Ctx       context.Context
	Pool      *pgxpool.Pool
	ServerURL string
	Indexer   *service.IndexService
}

// SetupE2EEnv starts Postgres, a fake model server and the answer API.
// Everything is torn down with t.Cleanup.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	pool := testutil.NewMigratedDatabase(ctx, t, "../../migrations")

	model := &fakeModel{}
	modelSrv := httptest.NewServer(model)
	t.Cleanup(modelSrv.Close)
	baseURL := modelSrv.URL + "/v1"

	embedder := openai.NewClientWithConfig(openai.Config{
		APIKey:              "test",
		BaseURL:             baseURL,
		EmbeddingDimensions: embeddingDimensions,
		Attempts:            1,
	})
	chat := openai.NewChatClient(openai.ChatConfig{Name: "openai", APIKey: "test", BaseURL: baseURL})
	providers := service.NewProviderRegistry("openai", chat)

	chunks := repository.NewChunkRepository(pool)
	turns := repository.NewTurnRepository(pool)

	runner := jobs.NewRunner(jobs.DefaultRunnerConfig(), logger, nil)
	runner.Start(context.Background())
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = runner.Stop(stopCtx)
	})

	cache := service.NewSemanticCache(embedder, service.SemanticCacheConfig{}, logger)
	answers := service.NewAnswerService(service.AnswerDeps{
		Cache:      cache,
		Query:      service.NewQueryUnderstanding(chat, service.QueryUnderstandingConfig{Logger: logger}),
		Retriever:  service.NewHybridRetriever(chunks, embedder, service.RetrieverConfig{}, logger),
		Memory:     service.NewMemoryManager(turns, embedder, chat, service.DefaultMemoryConfig(), logger),
		Providers:  providers,
		AnswerLogs: repository.NewAnswerLogRepository(pool),
		Background: runner,
		Tokens:     service.NewTokenCounter(logger),
		Metrics:    observability.NewMetrics("lexrag_e2e"),
		Logger:     logger,
	}, service.DefaultAnswerConfig())

	router := server.NewRouter(server.RouterConfig{
		Logger:              logger,
		AnswerHandler:       handlers.NewAnswerHandler(answers, logger),
		HealthHandler:       handlers.NewHealthHandler(service.NewHealthService(chunks, true, providers)),
		ConversationHandler: handlers.NewConversationHandler(service.NewConversationService(turns)),
	})

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	serverURL := startServer(t, router, port)

	return &E2ETestEnv{
		T:         t,
		Ctx:       ctx,
		Pool:      pool,
		ServerURL: serverURL,
		Indexer:   service.NewIndexService(embedder, chunks, service.WithChunkTx(repository.NewTxRunner(pool)), service.WithIndexLogger(logger)),
	}
}

// SeedCorpus indexes one tenancy statute and one contract statute.
func (e *E2ETestEnv) SeedCorpus() {
	docs := []service.IndexDocument{
		{
			ID:       "rca-s4",
			Content:  "A landlord who intends to evict a tenant must serve written notice on the tenant not less than thirty days before the date of eviction.",
			Metadata: domain.ChunkMetadata{Title: "Rent Control Act", Citation: "s. 4", Category: "tenancy"},
		},
		{
			ID:       "ica-s73",
			Content:  "When a contract has been broken, the party who suffers by such breach is entitled to receive compensation for any loss or damage caused.",
			Metadata: domain.ChunkMetadata{Title: "Indian Contract Act", Citation: "s. 73", Category: "contract"},
		},
	}
	for _, doc := range docs {
		if _, err := e.Indexer.Put(e.Ctx, doc); err != nil {
			e.T.Fatalf("failed to index %s: %v", doc.ID, err)
		}
	}
}

func (e *E2ETestEnv) WebSocketURL(path string) string {
	return "ws" + strings.TrimPrefix(e.ServerURL, "http") + path
}

// fakeModel serves the embeddings and chat completion endpoints of an
// OpenAI-compatible API. Embeddings put all weight on one axis chosen by
// topic so similarity is predictable.
type fakeModel struct{}

func (m *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		m.embeddings(w, r)
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		m.chat(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *fakeModel) embeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := make([]map[string]any, 0, len(req.Input))
	for i, text := range req.Input {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": topicVector(text),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  "text-embedding-ada-002",
		"data":   data,
	})
}

func (m *fakeModel) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stream bool `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": `["tenant eviction written notice"]`},
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	words := strings.SplitAfter(modelAnswer, " ")
	for _, word := range words {
		chunk, _ := json.Marshal(map[string]any{
			"object":  "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": word}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func topicVector(text string) []float32 {
	v := make([]float32, embeddingDimensions)
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "tenant") || strings.Contains(lower, "evict") || strings.Contains(lower, "landlord"):
		v[0] = 1
	case strings.Contains(lower, "contract") || strings.Contains(lower, "breach"):
		v[1] = 1
	default:
		v[2] = float32(math.Sqrt(0.5))
		v[3] = float32(math.Sqrt(0.5))
	}
	return v
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func startServer(t *testing.T, handler http.Handler, port int) string {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return serverURL
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}
