// Package ai wraps the external classification call with a per-call
// deadline, bounded retries and error classification.
package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
)

// RawResult is model output before validation.
type RawResult string

// Provider performs one model call.
type Provider interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Client classifies complaints through a Provider.
type Client struct {
	provider       Provider
	timeout        time.Duration
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	logger         *zap.Logger
}

// NewClient builds a client from the AI section of the configuration.
func NewClient(provider Provider, cfg config.AIConfig, logger *zap.Logger) *Client {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		provider:       provider,
		timeout:        cfg.Timeout,
		maxAttempts:    attempts,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
		logger:         logger.Named("ai"),
	}
}

// Classify asks the model to triage complaint. Each attempt gets its own
// deadline. Timeouts, rate limits and network errors are retried with
// exponential backoff until the attempt budget is spent; provider errors are
// returned at once. Garbled output is returned as a RawResult, never as an error.
func (c *Client) Classify(ctx context.Context, complaint string) (RawResult, error) {
	var (
		result  RawResult
		attempt int
		lastErr *Error
	)

	operation := func() error {
		attempt++
		out, err := c.call(ctx, complaint)
		if err == nil {
			result = RawResult(out)
			return nil
		}
		lastErr = err
		if !err.Retryable() || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("ai call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, c.backOff(ctx), notify); err != nil {
		if lastErr == nil {
			lastErr = &Error{Kind: KindTimeout, Err: err}
		}
		lastErr.Attempts = attempt
		return "", lastErr
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, complaint string) (string, *Error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type reply struct {
		out string
		err error
	}
	// Providers that ignore ctx must not hold the worker past its deadline.
	// Such a call keeps this goroutine alive until the provider returns; the
	// buffered send never blocks, so it exits then and reports the reply.
	done := make(chan reply, 1)
	go func() {
		out, err := c.provider.Generate(callCtx, systemPrompt, userPrompt(complaint))
		if callCtx.Err() != nil {
			c.logger.Debug("provider replied after deadline, reply discarded", zap.Error(err))
		}
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", classify(callCtx, r.err)
		}
		return r.out, nil
	case <-callCtx.Done():
		err := callCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &Error{Kind: KindTimeout, Err: err}
		}
		return "", &Error{Kind: KindNetworkError, Err: err}
	}
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.backoffInitial > 0 {
		b.InitialInterval = c.backoffInitial
	}
	if c.backoffMax > 0 {
		b.MaxInterval = c.backoffMax
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}
