// Package llmchain models the two-provider fallback chain used to turn
// an enrichment prompt into a completion: a primary provider, and a
// fallback tried on any primary failure.
package llmchain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	primaryTimeout  = 120 * time.Second
	fallbackTimeout = 180 * time.Second
	maxOutputTokens = 8192
	temperature     = 0.7
)

// Completion is the result of a successful chat completion call.
type Completion struct {
	Text       string
	Usage      UsageMetadata
	ProviderID string
}

// UsageMetadata mirrors whatever token accounting a provider reports.
type UsageMetadata struct {
	PromptTokens     int
	CompletionTokens int
}

// RateLimited is returned by a Provider when the backend reports a 429.
// Distinguishing it from a generic ProviderError lets callers log
// differently without changing the fallback behavior.
type RateLimited struct {
	Provider string
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("llmchain: provider %q rate limited", e.Provider)
}

// ProviderError wraps the final, unrecoverable failure after both the
// primary and fallback providers have been exhausted.
type ProviderError struct {
	Primary  error
	Fallback error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llmchain: primary failed (%v), fallback failed (%v)", e.Primary, e.Fallback)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// Request is the chat completion request shared by both providers.
type Request struct {
	Prompt string
}

// Provider is a chat completion backend. Implementations are expected
// to honor ctx cancellation and to return *RateLimited for HTTP 429.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req Request, opts CallOptions) (*Completion, error)
}

// CallOptions carries the temperature/token-ceiling parameters fixed
// per provider tier.
type CallOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Chain selects between a primary and fallback Provider.
type Chain struct {
	Primary  Provider
	Fallback Provider
}

// Complete tries Primary first if configured; on any failure it logs
// and tries Fallback; on fallback failure it returns *ProviderError.
func (c *Chain) Complete(ctx context.Context, req Request) (*Completion, error) {
	var primaryErr error

	if c.Primary != nil {
		primaryCtx, cancel := context.WithTimeout(ctx, primaryTimeout)
		completion, err := c.Primary.Complete(primaryCtx, req, CallOptions{
			Temperature: temperature,
			MaxTokens:   maxOutputTokens,
			Timeout:     primaryTimeout,
		})
		cancel()
		if err == nil {
			return completion, nil
		}
		primaryErr = err
		var rl *RateLimited
		if errors.As(err, &rl) {
			log.Printf("llmchain: primary %s rate limited, falling back", c.Primary.ID())
		} else {
			log.Printf("llmchain: primary %s failed: %v, falling back", c.Primary.ID(), err)
		}
	} else {
		primaryErr = errors.New("llmchain: no primary provider configured")
	}

	if c.Fallback == nil {
		return nil, &ProviderError{Primary: primaryErr, Fallback: errors.New("llmchain: no fallback provider configured")}
	}

	fallbackCtx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()
	completion, err := c.Fallback.Complete(fallbackCtx, req, CallOptions{
		Temperature: temperature,
		MaxTokens:   maxOutputTokens,
		Timeout:     fallbackTimeout,
	})
	if err != nil {
		return nil, &ProviderError{Primary: primaryErr, Fallback: err}
	}
	return completion, nil
}
