package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MikeSquared-Agency/catalogqa/internal/anthropic"
	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/metrics"
)

type Config struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	TotalBudget     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryAfter is suggested to callers once attempts are exhausted, unless
	// the provider sent its own hint.
	RetryAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		AttemptTimeout:  30 * time.Second,
		TotalBudget:     90 * time.Second,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		RetryAfter:      60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = d.TotalBudget
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = d.RetryAfter
	}
	return c
}

// Gateway is the single entry point for model calls. With no provider it
// falls back to the keyword-rule Mock.
type Gateway struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

func New(p Provider, cfg Config, logger *slog.Logger) *Gateway {
	mock := p == nil
	if mock {
		p = Mock{}
	}
	logger = logger.With("provider", p.Name())
	if mock {
		logger.Warn("no model credential configured, using mock responses")
	}
	return &Gateway{provider: p, cfg: cfg.withDefaults(), logger: logger}
}

func (g *Gateway) Provider() string { return g.provider.Name() }

func (g *Gateway) Mock() bool {
	_, ok := g.provider.(Mock)
	return ok
}

// Complete sends prompt to the provider, retrying transient failures with
// exponential backoff. Backoff waits end early when ctx is cancelled. Once
// attempts or budget run out the error is ServiceUnavailable.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	name := g.provider.Name()
	start := time.Now()
	defer func() {
		metrics.ModelLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if g.Mock() {
		metrics.ModelCalls.WithLabelValues(name, "mock").Inc()
		return g.provider.Complete(ctx, prompt)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialInterval
	b.MaxInterval = g.cfg.MaxInterval

	attempt := 0
	var lastErr error
	op := func() (string, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()

		out, err := g.provider.Complete(actx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		class, retryable := classify(err)
		if ctx.Err() != nil {
			class, retryable = "canceled", false
		}
		metrics.ModelAttemptFailures.WithLabelValues(name, class).Inc()
		g.logger.Warn("model call failed",
			"attempt", attempt,
			"max_attempts", g.cfg.MaxAttempts,
			"class", class,
			"error", err,
		)
		if !retryable {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(g.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(g.cfg.TotalBudget),
	)
	if err == nil {
		metrics.ModelCalls.WithLabelValues(name, "success").Inc()
		if attempt > 1 {
			g.logger.Info("model call recovered", "attempts", attempt)
		}
		return out, nil
	}

	metrics.ModelCalls.WithLabelValues(name, "error").Inc()
	if lastErr == nil {
		lastErr = err
	}
	g.logger.Error("model call gave up", "attempts", attempt, "error", lastErr)
	return "", apperr.ServiceUnavailable(name, g.retryAfter(lastErr), lastErr)
}

func (g *Gateway) retryAfter(err error) time.Duration {
	var se *anthropic.StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	return g.cfg.RetryAfter
}
