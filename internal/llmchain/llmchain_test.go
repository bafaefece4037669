package llmchain

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	id       string
	err      error
	result   *Completion
	callCount int
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Complete(ctx context.Context, req Request, opts CallOptions) (*Completion, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestChainUsesPrimaryOnSuccess(t *testing.T) {
	primary := &fakeProvider{id: "primary", result: &Completion{Text: "ok", ProviderID: "primary"}}
	fallback := &fakeProvider{id: "fallback"}
	c := &Chain{Primary: primary, Fallback: fallback}

	got, err := c.Complete(t.Context(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.ProviderID != "primary" {
		t.Fatalf("expected primary result, got %+v", got)
	}
	if fallback.callCount != 0 {
		t.Fatal("expected fallback not to be called on primary success")
	}
}

func TestChainFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{id: "primary", err: errors.New("boom")}
	fallback := &fakeProvider{id: "fallback", result: &Completion{Text: "ok", ProviderID: "fallback"}}
	c := &Chain{Primary: primary, Fallback: fallback}

	got, err := c.Complete(t.Context(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.ProviderID != "fallback" {
		t.Fatalf("expected fallback result, got %+v", got)
	}
}

func TestChainFallsBackOnRateLimit(t *testing.T) {
	primary := &fakeProvider{id: "primary", err: &RateLimited{Provider: "primary"}}
	fallback := &fakeProvider{id: "fallback", result: &Completion{Text: "ok", ProviderID: "fallback"}}
	c := &Chain{Primary: primary, Fallback: fallback}

	got, err := c.Complete(t.Context(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.ProviderID != "fallback" {
		t.Fatalf("expected fallback result after rate limit, got %+v", got)
	}
}

func TestChainBothFailReturnsProviderError(t *testing.T) {
	primary := &fakeProvider{id: "primary", err: errors.New("primary down")}
	fallback := &fakeProvider{id: "fallback", err: errors.New("fallback down")}
	c := &Chain{Primary: primary, Fallback: fallback}

	_, err := c.Complete(t.Context(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
}

func TestChainNoPrimaryConfiguredTriesFallback(t *testing.T) {
	fallback := &fakeProvider{id: "fallback", result: &Completion{Text: "ok", ProviderID: "fallback"}}
	c := &Chain{Fallback: fallback}

	got, err := c.Complete(t.Context(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.ProviderID != "fallback" {
		t.Fatalf("expected fallback result, got %+v", got)
	}
}
