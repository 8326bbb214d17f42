package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/lexrag/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChatAPI struct {
	mock.Mock
}

func (m *MockChatAPI) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockChatAPI) Stream(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string) error) error {
	args := m.Called(ctx, req, onDelta)
	if deltas, ok := args.Get(0).([]string); ok {
		for _, d := range deltas {
			if err := onDelta(d); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

func testRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "You are a legal research assistant."},
			{Role: "user", Content: "Explain mens rea."},
		},
		MaxTokens:   256,
		Temperature: 0.2,
	}
}

func TestChatClient_Generate(t *testing.T) {
	api := new(MockChatAPI)
	client := newChatClient(api, "openai", "gpt-4o-mini")

	api.On("Complete", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Model == "gpt-4o-mini" && len(req.Messages) == 2 && req.Messages[1].Content == "Explain mens rea." && req.MaxTokens == 256
	})).Return("Mens rea is the guilty mind.", nil)

	text, err := client.Generate(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "Mens rea is the guilty mind.", text)
	api.AssertExpectations(t)
}

func TestChatClient_Generate_ErrorIsUpstream(t *testing.T) {
	api := new(MockChatAPI)
	client := newChatClient(api, "local", "")

	api.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	_, err := client.Generate(context.Background(), testRequest())

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, "local", genErr.Provider)
	assert.False(t, genErr.Timeout)
	assert.True(t, errors.Is(err, domain.ErrGenerationUnavailable))
}

func TestChatClient_Generate_DeadlineIsTimeout(t *testing.T) {
	api := new(MockChatAPI)
	client := newChatClient(api, "openai", "")

	api.On("Complete", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded)

	_, err := client.Generate(context.Background(), testRequest())

	assert.True(t, errors.Is(err, domain.ErrGenerationTimeout))
	assert.Contains(t, err.Error(), "timed out")
}

func TestChatClient_GenerateStream_CollectsDeltas(t *testing.T) {
	api := new(MockChatAPI)
	client := newChatClient(api, "openai", "")

	api.On("Stream", mock.Anything, mock.Anything, mock.Anything).Return([]string{"Res ", "judicata ", "bars relitigation."}, nil)

	var seen []string
	text, err := client.GenerateStream(context.Background(), testRequest(), func(d string) error {
		seen = append(seen, d)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "Res judicata bars relitigation.", text)
	assert.Equal(t, []string{"Res ", "judicata ", "bars relitigation."}, seen)
}

func TestChatClient_GenerateStream_CancelKeepsPartial(t *testing.T) {
	api := new(MockChatAPI)
	client := newChatClient(api, "openai", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api.On("Stream", mock.Anything, mock.Anything, mock.Anything).Return([]string{"partial "}, context.Canceled)

	text, err := client.GenerateStream(ctx, testRequest(), func(string) error { return nil })

	assert.Equal(t, "partial ", text)
	assert.True(t, errors.Is(err, context.Canceled))
	var genErr *GenerationError
	assert.False(t, errors.As(err, &genErr))
}

func TestNewChatClient_Defaults(t *testing.T) {
	client := NewChatClient(ChatConfig{APIKey: "k"})

	assert.Equal(t, "openai", client.Name())
	assert.Equal(t, DefaultChatModel, client.model)
}
