package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthService_Check(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })
	providers := NewProviderRegistry("openai", &fakeGenerator{name: "openai"})

	tests := []struct {
		name       string
		index      Pinger
		embedding  bool
		providers  *ProviderRegistry
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all ok",
			index:      healthy,
			embedding:  true,
			providers:  providers,
			wantStatus: HealthOK,
			wantChecks: map[string]string{"embedding": CheckOK, "generation": CheckOK, "vector_index": CheckOK},
		},
		{
			name:       "embedding missing degrades",
			index:      healthy,
			providers:  providers,
			wantStatus: HealthDegraded,
			wantChecks: map[string]string{"embedding": CheckNotConfigured, "generation": CheckOK, "vector_index": CheckOK},
		},
		{
			name:       "no providers degrades",
			index:      healthy,
			embedding:  true,
			providers:  NewProviderRegistry(""),
			wantStatus: HealthDegraded,
			wantChecks: map[string]string{"embedding": CheckOK, "generation": CheckNotConfigured, "vector_index": CheckOK},
		},
		{
			name:       "index down is unavailable",
			index:      down,
			embedding:  true,
			providers:  providers,
			wantStatus: HealthUnavailable,
			wantChecks: map[string]string{"embedding": CheckOK, "generation": CheckOK, "vector_index": CheckError},
		},
		{
			name:       "no index is unavailable",
			embedding:  true,
			providers:  providers,
			wantStatus: HealthUnavailable,
			wantChecks: map[string]string{"embedding": CheckOK, "generation": CheckOK, "vector_index": CheckNotConfigured},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewHealthService(tt.index, tt.embedding, tt.providers).Check(context.Background())

			assert.Equal(t, tt.wantStatus, report.Status)
			for name, want := range tt.wantChecks {
				assert.Equal(t, want, report.Checks[name].Status, name)
			}
		})
	}
}

func TestHealthService_PingHasDeadline(t *testing.T) {
	var hadDeadline bool
	index := pingFunc(func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})

	NewHealthService(index, true, nil).Check(context.Background())

	assert.True(t, hadDeadline)
}
