// Package embed wraps the raw embedding provider with bounded retry,
// client-side rate limiting, input truncation, and best-effort token
// usage accounting.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

// EmbeddingError reports a provider failure after retries were
// exhausted, or a fatal provider error that was not retried.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// UsageRecorder persists token usage. Failures are logged and
// swallowed; they never fail the embedding call.
type UsageRecorder interface {
	RecordTokenUsage(ctx context.Context, usage *models.TokenUsage) error
}

// Config tunes the retry/backoff behavior.
type Config struct {
	Retries   int           // attempts before giving up (default 5)
	BaseDelay time.Duration // backoff base (default 1s)
	MaxChars  int           // deterministic input cap (default 8191)
	RateLimit float64       // provider calls per second, 0 disables
}

type Client struct {
	provider core.EmbeddingProvider
	usage    UsageRecorder
	limiter  *rate.Limiter
	cfg      Config
	logger   logging.Logger

	// sleep is swappable so tests can observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(provider core.EmbeddingProvider, usage UsageRecorder, cfg Config, logger logging.Logger) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 8191
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		provider: provider,
		usage:    usage,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.With("component", "embed"),
		sleep:    sleepCtx,
	}
}

// Embed fetches an embedding with exponential backoff plus linear
// jitter, retrying only rate-limit, connection, and timeout errors.
// On success prompt-token usage is recorded against the organization
// and user, best-effort.
func (c *Client) Embed(ctx context.Context, text, orgID, userID string) ([]float32, error) {
	text = truncate(text, c.cfg.MaxChars)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &EmbeddingError{Attempts: attempt, Err: err}
			}
		}

		res, err := c.provider.EmbedText(ctx, text)
		if err == nil {
			c.recordUsage(ctx, res, orgID, userID)
			return res.Vector, nil
		}
		lastErr = err

		if !isRetryable(err) {
			c.logger.Error("fatal embedding error", "error", err)
			return nil, &EmbeddingError{Attempts: attempt, Err: err}
		}
		if attempt == c.cfg.Retries {
			c.logger.Error("giving up on embedding", "attempts", attempt, "error", err)
			break
		}

		delay := backoffDelay(c.cfg.BaseDelay, attempt)
		c.logger.Warn("retrying embedding", "attempt", attempt, "retries", c.cfg.Retries, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &EmbeddingError{Attempts: attempt, Err: err}
		}
	}
	return nil, &EmbeddingError{Attempts: c.cfg.Retries, Err: lastErr}
}

// backoffDelay is base * 2^(attempt-1) plus 0.2s * attempt jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	exp := base << (attempt - 1)
	jitter := time.Duration(float64(attempt) * 0.2 * float64(time.Second))
	return exp + jitter
}

func (c *Client) recordUsage(ctx context.Context, res *core.EmbedResult, orgID, userID string) {
	if c.usage == nil {
		return
	}
	u := &models.TokenUsage{
		OrganizationID:    orgID,
		UserID:            userID,
		TotalPromptTokens: int64(res.PromptTokens),
		TotalCost:         Cost(res.Model, res.PromptTokens, 0),
	}
	if err := c.usage.RecordTokenUsage(ctx, u); err != nil {
		c.logger.Warn("failed to record token usage", "error", err)
	}
}

// isRetryable reports whether the provider error belongs to the
// rate-limit, connection, or timeout classes. Anything else is fatal.
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code == 503
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// truncate caps the input at max runes, deterministically.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
