package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
)

// ErrStreamIdle is the cancel cause used when a stream stops producing data.
var ErrStreamIdle = domain.NewDomainError(domain.ErrCodeTimeout, "generation stream stalled")

// Generator is a named text-generation provider.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
	// GenerateStream returns the text received so far alongside any error.
	GenerateStream(ctx context.Context, req domain.GenerationRequest, onDelta func(string) error) (string, error)
}

// ProviderRegistry resolves generation providers by name.
type ProviderRegistry struct {
	providers   map[string]Generator
	defaultName string
}

// NewProviderRegistry registers gens under their names. When defaultName is
// not among them the first generator becomes the default.
func NewProviderRegistry(defaultName string, gens ...Generator) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]Generator, len(gens))}
	for _, g := range gens {
		if g == nil {
			continue
		}
		if r.defaultName == "" {
			r.defaultName = g.Name()
		}
		r.providers[g.Name()] = g
	}
	if _, ok := r.providers[defaultName]; ok {
		r.defaultName = defaultName
	}
	return r
}

// Resolve returns the named provider, or the default for an empty name.
func (r *ProviderRegistry) Resolve(name string) (Generator, error) {
	if name == "" {
		name = r.defaultName
	}
	g, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainErrorWithCause(domain.ErrUnknownProvider.Code, domain.ErrUnknownProvider.Message,
			fmt.Errorf("provider %q", name))
	}
	return g, nil
}

// Default returns the default provider, or nil when none is registered.
func (r *ProviderRegistry) Default() Generator {
	return r.providers[r.defaultName]
}

// DefaultName returns the name of the default provider.
func (r *ProviderRegistry) DefaultName() string {
	return r.defaultName
}

// Names returns the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamWithWatchdog streams from gen under a total timeout and an idle
// watchdog. A timeout reports domain.ErrGenerationTimeout, a stall reports
// ErrStreamIdle, and a caller cancel reports the caller's context error.
// The partial text is returned in every case.
func StreamWithWatchdog(ctx context.Context, gen Generator, req domain.GenerationRequest, total, idle time.Duration, onDelta func(string) error) (string, error) {
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if total > 0 {
		var stop context.CancelFunc
		streamCtx, stop = context.WithTimeoutCause(streamCtx, total, domain.ErrGenerationTimeout)
		defer stop()
	}

	var watchdog *time.Timer
	if idle > 0 {
		watchdog = time.AfterFunc(idle, func() { cancel(ErrStreamIdle) })
		defer watchdog.Stop()
	}

	text, err := gen.GenerateStream(streamCtx, req, func(delta string) error {
		if watchdog != nil {
			watchdog.Reset(idle)
		}
		return onDelta(delta)
	})
	if err == nil {
		return text, nil
	}

	if ctx.Err() != nil {
		return text, fmt.Errorf("generation stopped: %w", ctx.Err())
	}
	cause := context.Cause(streamCtx)
	switch {
	case errors.Is(cause, ErrStreamIdle):
		return text, domain.Upstream(ErrStreamIdle, err)
	case errors.Is(cause, domain.ErrGenerationTimeout):
		return text, domain.Upstream(domain.ErrGenerationTimeout, err)
	}
	return text, err
}
