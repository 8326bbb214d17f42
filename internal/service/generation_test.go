package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingGenerator sends a delta every interval until its context ends.
type tickingGenerator struct {
	interval time.Duration
}

func (g *tickingGenerator) Name() string { return "ticking" }

func (g *tickingGenerator) Generate(context.Context, domain.GenerationRequest) (string, error) {
	return "", errors.New("not used")
}

func (g *tickingGenerator) GenerateStream(ctx context.Context, _ domain.GenerationRequest, onDelta func(string) error) (string, error) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	received := ""
	for {
		select {
		case <-ctx.Done():
			return received, ctx.Err()
		case <-ticker.C:
			received += "."
			if err := onDelta("."); err != nil {
				return received, err
			}
		}
	}
}

func TestProviderRegistry_Resolve(t *testing.T) {
	openaiGen := &fakeGenerator{name: "openai"}
	localGen := &fakeGenerator{name: "local"}
	r := NewProviderRegistry("local", openaiGen, localGen, nil)

	got, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, localGen, got)

	got, err = r.Resolve("openai")
	require.NoError(t, err)
	assert.Same(t, openaiGen, got)

	_, err = r.Resolve("anthropic")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	assert.True(t, domain.IsUserVisible(err))

	assert.Equal(t, []string{"local", "openai"}, r.Names())
	assert.Equal(t, "local", r.DefaultName())
}

func TestProviderRegistry_DefaultFallsBackToFirst(t *testing.T) {
	first := &fakeGenerator{name: "openai"}
	r := NewProviderRegistry("missing", first, &fakeGenerator{name: "local"})

	assert.Same(t, first, r.Default())

	empty := NewProviderRegistry("openai")
	assert.Nil(t, empty.Default())
	_, err := empty.Resolve("")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestStreamWithWatchdog_Success(t *testing.T) {
	gen := &fakeGenerator{name: "openai", deltas: []string{"Hello", ", world"}}
	var seen []string

	text, err := StreamWithWatchdog(context.Background(), gen, domain.GenerationRequest{}, time.Second, time.Second, func(d string) error {
		seen = append(seen, d)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, []string{"Hello", ", world"}, seen)
}

func TestStreamWithWatchdog_IdleAbortsStream(t *testing.T) {
	gen := &fakeGenerator{name: "openai", deltas: []string{"partial"}, block: true}

	text, err := StreamWithWatchdog(context.Background(), gen, domain.GenerationRequest{}, 5*time.Second, 30*time.Millisecond, func(string) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamIdle)
	assert.NotErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.Equal(t, "partial", text)
}

func TestStreamWithWatchdog_TotalTimeout(t *testing.T) {
	gen := &tickingGenerator{interval: 5 * time.Millisecond}

	text, err := StreamWithWatchdog(context.Background(), gen, domain.GenerationRequest{}, 60*time.Millisecond, time.Second, func(string) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.NotEmpty(t, text)
}

func TestStreamWithWatchdog_CallerCancel(t *testing.T) {
	gen := &fakeGenerator{name: "openai", deltas: []string{"first"}, block: true}
	ctx, cancel := context.WithCancel(context.Background())

	text, err := StreamWithWatchdog(ctx, gen, domain.GenerationRequest{}, 5*time.Second, 5*time.Second, func(string) error {
		cancel()
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrStreamIdle)
	assert.Equal(t, "first", text)
}

func TestStreamWithWatchdog_ProviderError(t *testing.T) {
	providerErr := domain.Upstream(domain.ErrGenerationUnavailable, errors.New("503"))
	gen := &fakeGenerator{name: "openai", err: providerErr}

	_, err := StreamWithWatchdog(context.Background(), gen, domain.GenerationRequest{}, time.Second, time.Second, func(string) error {
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
}
