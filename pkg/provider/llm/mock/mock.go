// Package mock provides a test double for the llm.Provider interface.
//
// A Provider answers from Script first, one step per call, then falls back
// to CompleteResponse and CompleteErr. Every request is recorded.
//
//	p := &mock.Provider{
//	    Script: []mock.Step{{Err: errBackend}, {Content: `{"tasks":[]}`}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetgraph/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Step is one scripted reply. A non-nil Err wins over Content.
type Step struct {
	Content string
	Err     error
}

// Provider is a scriptable llm.Provider.
type Provider struct {
	// Script is consumed front to back, one step per Complete call.
	Script []Step

	// CompleteResponse and CompleteErr answer once Script is exhausted.
	// Both nil yields (nil, nil).
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// BlockUntilDone makes Complete wait for ctx and return ctx.Err().
	BlockUntilDone bool

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	mu    sync.Mutex
	next  int
	calls []CompleteCall
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	var step *Step
	if p.next < len(p.Script) {
		step = &p.Script[p.next]
		p.next++
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	block := p.BlockUntilDone
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step != nil {
		if step.Err != nil {
			return nil, step.Err
		}
		return &llm.CompletionResponse{Content: step.Content}, nil
	}
	return resp, err
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// LastRequest returns the most recent request and whether there was one.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.calls[len(p.calls)-1].Req, true
}

var _ llm.Provider = (*Provider)(nil)
