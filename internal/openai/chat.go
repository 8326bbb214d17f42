package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloo-solutions/lexrag/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultChatModel is used when no model is configured.
const DefaultChatModel = openai.GPT4oMini

// GenerationError reports a failed chat completion. Timeouts match
// domain.ErrGenerationTimeout, everything else domain.ErrGenerationUnavailable.
type GenerationError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("generation via %s timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("generation via %s failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	if e.Timeout {
		return []error{domain.ErrGenerationTimeout, e.Err}
	}
	return []error{domain.ErrGenerationUnavailable, e.Err}
}

// ChatAPI is the subset of the chat completion API the generator needs.
type ChatAPI interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error)
	Stream(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string) error) error
}

// ChatAdapter implements ChatAPI on top of go-openai.
type ChatAdapter struct {
	client *openai.Client
}

func NewChatAdapter(apiKey, baseURL string) *ChatAdapter {
	return &ChatAdapter{client: newAPIClient(apiKey, baseURL)}
}

func (a *ChatAdapter) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *ChatAdapter) Stream(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string) error) error {
	req.Stream = true
	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return err
		}
	}
}

// ChatClient is a named generation provider.
type ChatClient struct {
	api   ChatAPI
	name  string
	model string
}

type ChatConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

func NewChatClient(cfg ChatConfig) *ChatClient {
	return newChatClient(NewChatAdapter(cfg.APIKey, cfg.BaseURL), cfg.Name, cfg.Model)
}

func newChatClient(api ChatAPI, name, model string) *ChatClient {
	if model == "" {
		model = DefaultChatModel
	}
	if name == "" {
		name = "openai"
	}
	return &ChatClient{api: api, name: name, model: model}
}

// Name returns the provider name used to select this client.
func (c *ChatClient) Name() string {
	return c.name
}

// Generate returns a full completion for req.
func (c *ChatClient) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	text, err := c.api.Complete(ctx, c.buildRequest(req))
	if err != nil {
		return "", c.wrap(ctx, err)
	}
	return text, nil
}

// GenerateStream streams the completion for req through onDelta and returns
// everything received, which is partial when an error is returned.
func (c *ChatClient) GenerateStream(ctx context.Context, req domain.GenerationRequest, onDelta func(string) error) (string, error) {
	var received []byte
	err := c.api.Stream(ctx, c.buildRequest(req), func(delta string) error {
		received = append(received, delta...)
		return onDelta(delta)
	})
	if err != nil {
		return string(received), c.wrap(ctx, err)
	}
	return string(received), nil
}

func (c *ChatClient) buildRequest(req domain.GenerationRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (c *ChatClient) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("generation via %s cancelled: %w", c.name, err)
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &GenerationError{Provider: c.name, Timeout: timeout, Err: err}
}
