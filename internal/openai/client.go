package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloo-solutions/lexrag/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEmbeddingModel      = openai.AdaEmbeddingV2
	DefaultEmbeddingDimensions = 1536

	defaultEmbeddingAttempts = 3
	embeddingRetryDelay      = 200 * time.Millisecond
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbeddingError reports a failed embedding call. It matches
// domain.ErrEmbeddingUnavailable under errors.Is.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("failed to create embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() []error {
	return []error{domain.ErrEmbeddingUnavailable, e.Err}
}

// EmbeddingAPI is the single-input embedding endpoint.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingAdapter calls an OpenAI-compatible /embeddings endpoint.
type EmbeddingAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewEmbeddingAdapter(apiKey, baseURL string, model openai.EmbeddingModel) *EmbeddingAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &EmbeddingAdapter{client: newAPIClient(apiKey, baseURL), model: model}
}

func newAPIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (a *EmbeddingAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	// Attempts bounds calls per embedding, retrying rate limits and 5xx.
	Attempts uint
}

// Client produces fixed-dimension query and document embeddings.
type Client struct {
	api        EmbeddingAPI
	dimensions int
	attempts   uint
	delay      time.Duration
}

func NewClientWithConfig(cfg Config) *Client {
	return newClient(NewEmbeddingAdapter(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel), cfg.EmbeddingDimensions, cfg.Attempts)
}

func newClient(api EmbeddingAPI, dimensions int, attempts uint) *Client {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	if attempts == 0 {
		attempts = defaultEmbeddingAttempts
	}
	return &Client{api: api, dimensions: dimensions, attempts: attempts, delay: embeddingRetryDelay}
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding embeds text, retrying transient upstream failures.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	var embedding []float32
	err := retry.Do(
		func() error {
			var err error
			embedding, err = c.api.CreateEmbeddings(ctx, text)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	if len(embedding) != c.dimensions {
		return nil, &EmbeddingError{Err: fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(embedding))}
	}
	return embedding, nil
}

// isTransient reports rate limits, upstream 5xx and dropped connections.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
