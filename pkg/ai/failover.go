package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// FailoverConfig tunes the per-provider circuit breakers.
type FailoverConfig struct {
	// MaxFailures is the number of consecutive failures that opens a breaker.
	MaxFailures uint32
	// OpenTimeout is how long an open breaker rejects calls before probing.
	OpenTimeout time.Duration
	// OnFailure is called for every provider failure, including open breakers.
	OnFailure func(provider string, err error)
}

// FailoverProvider tries providers in order. A provider that fails before
// emitting any text is skipped in favour of the next one; once text has
// reached the caller the error is returned as is.
type FailoverProvider struct {
	providers []Provider
	breakers  []*gobreaker.CircuitBreaker
	onFailure func(string, error)
}

var _ Provider = (*FailoverProvider)(nil)

// callerError marks errors caused by the caller, either its DeltaFunc or its
// expired context. They say nothing about provider health.
type callerError struct{ err error }

func (e *callerError) Error() string { return e.err.Error() }
func (e *callerError) Unwrap() error { return e.err }

// NewFailoverProvider wraps providers, primary first.
func NewFailoverProvider(cfg FailoverConfig, providers ...Provider) (*FailoverProvider, error) {
	var live []Provider
	for _, p := range providers {
		if p != nil {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return nil, errors.New("at least one provider required")
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	f := &FailoverProvider{providers: live, onFailure: cfg.OnFailure}
	for _, p := range live {
		f.breakers = append(f.breakers, gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("provider circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: func(err error) bool {
				var ce *callerError
				return err == nil || errors.As(err, &ce)
			},
		}))
	}
	return f, nil
}

// Name lists the wrapped providers in order.
func (f *FailoverProvider) Name() string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ">")
}

// Stream implements ChatStreamer. The reply names the provider that answered.
func (f *FailoverProvider) Stream(ctx context.Context, req StreamRequest, onDelta DeltaFunc) (Reply, error) {
	var lastErr error
	for i, p := range f.providers {
		emitted := false
		forward := func(delta string) error {
			emitted = true
			if onDelta == nil {
				return nil
			}
			if err := onDelta(delta); err != nil {
				return &callerError{err: err}
			}
			return nil
		}
		res, err := f.breakers[i].Execute(func() (interface{}, error) {
			reply, err := p.Stream(ctx, req, forward)
			return reply, callerCause(ctx, err)
		})
		if err == nil {
			reply, _ := res.(Reply)
			if reply.Provider == "" {
				reply.Provider = p.Name()
			}
			return reply, nil
		}
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		var ce *callerError
		if errors.As(err, &ce) {
			return Reply{}, ce.err
		}
		f.report(p.Name(), err)
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
		if emitted {
			return Reply{}, lastErr
		}
	}
	return Reply{}, fmt.Errorf("all providers failed: %w", lastErr)
}

// GenerateText implements TextGenerator.
func (f *FailoverProvider) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for i, p := range f.providers {
		res, err := f.breakers[i].Execute(func() (interface{}, error) {
			text, err := p.GenerateText(ctx, systemPrompt, userPrompt)
			return text, callerCause(ctx, err)
		})
		if err == nil {
			text, _ := res.(string)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.report(p.Name(), err)
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}

// callerCause keeps a slow or abandoned caller from tripping the breaker.
func callerCause(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		var ce *callerError
		if !errors.As(err, &ce) {
			return &callerError{err: err}
		}
	}
	return err
}

func (f *FailoverProvider) report(provider string, err error) {
	if f.onFailure != nil {
		f.onFailure(provider, err)
	}
}
