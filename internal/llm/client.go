package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
	"github.com/p-blackswan/artifact-agent/internal/retry"
)

// ClientConfig holds the retry and fallback policy for the pipeline client.
type ClientConfig struct {
	Model         string
	FallbackModel string
	MaxRetries    int
	RetryDelay    time.Duration
	RetryBackoff  float64
	MaxRetryDelay time.Duration
	CallTimeout   time.Duration
}

// DefaultClientConfig returns the policy used when no config is wired.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		RetryBackoff:  2.0,
		MaxRetryDelay: 30 * time.Second,
		CallTimeout:   120 * time.Second,
	}
}

// Client wraps a Provider with retry, model fallback, and per-call timeout.
// The client is stateless between calls and safe for concurrent use.
type Client struct {
	provider Provider
	cfg      ClientConfig
	logger   zerolog.Logger

	calls     atomic.Int64
	fallbacks atomic.Int64
}

// NewClient creates the retrying client around a provider.
func NewClient(provider Provider, cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultClientConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultClientConfig().RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultClientConfig().MaxRetryDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultClientConfig().CallTimeout
	}
	if cfg.Model == "" {
		cfg.Model = provider.ModelID()
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With().Str("component", "llm_client").Logger(),
	}
}

// Complete runs a completion with retries. On quota/overload signals the
// remaining attempts use the fallback model. Terminal failures are mapped
// to the pipeline error taxonomy.
func (c *Client) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	model := c.cfg.Model
	var resp *CompletionResponse

	rcfg := retry.Config{
		MaxAttempts: c.cfg.MaxRetries,
		BaseDelay:   c.cfg.RetryDelay,
		Backoff:     c.cfg.RetryBackoff,
		MaxDelay:    c.cfg.MaxRetryDelay,
		Jitter:      true,
	}

	err := retry.Do(ctx, rcfg, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		c.calls.Add(1)
		r, callErr := c.provider.Complete(callCtx, CompletionRequest{
			SystemPrompt: systemPrompt,
			Prompt:       prompt,
			Model:        model,
		})
		if callErr != nil {
			if perrors.IsOverloaded(callErr) && c.cfg.FallbackModel != "" && model != c.cfg.FallbackModel {
				c.fallbacks.Add(1)
				c.logger.Warn().
					Str("from", model).
					Str("to", c.cfg.FallbackModel).
					Msg("provider overloaded, switching to fallback model")
				model = c.cfg.FallbackModel
			}
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, perrors.ErrLLMTimeout) || errors.Is(err, context.DeadlineExceeded):
			return "", fmt.Errorf("llm call: %w", perrors.ErrLLMTimeout)
		case errors.Is(err, context.Canceled):
			return "", fmt.Errorf("llm call: %w", perrors.ErrCancelled)
		case perrors.IsRetryable(err):
			// Out of attempts on a transient failure.
			return "", fmt.Errorf("llm retries exhausted: %w", perrors.ErrLLMFatal)
		default:
			return "", fmt.Errorf("llm call: %w", perrors.ErrLLMFatal)
		}
	}
	return resp.Text, nil
}

// Calls returns the total provider calls made (including retries).
func (c *Client) Calls() int64 { return c.calls.Load() }

// Fallbacks returns the number of model-fallback switches.
func (c *Client) Fallbacks() int64 { return c.fallbacks.Load() }
