package resilience

import (
	"context"

	"github.com/MrWong99/meetgraph/pkg/provider/llm"
)

var _ llm.Provider = (*GuardedProvider)(nil)

// GuardedProvider implements [llm.Provider] by routing every completion
// through a [Breaker]. While the breaker is open, Complete returns
// [ErrCircuitOpen] without contacting the backend, so an unreachable
// extraction service costs one fast failure per session instead of a full
// timeout.
type GuardedProvider struct {
	inner   llm.Provider
	breaker *Breaker
}

// Guard wraps p. cfg.Name defaults to p.Name().
func Guard(p llm.Provider, cfg Config) *GuardedProvider {
	if cfg.Name == "" {
		cfg.Name = p.Name()
	}
	return &GuardedProvider{inner: p, breaker: NewBreaker(cfg)}
}

// Complete implements llm.Provider.
func (g *GuardedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Do(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Name implements llm.Provider.
func (g *GuardedProvider) Name() string { return g.inner.Name() }

// State reports the breaker state.
func (g *GuardedProvider) State() State { return g.breaker.State() }
