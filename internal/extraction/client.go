// Package extraction sends meeting transcripts to a generative-extraction
// backend and maps the structured reply to typed candidate facts.
//
// The [Client] never fails: an unconfigured, unreachable or misbehaving
// backend yields an empty [Result] with [Result.Warning] set, so that the
// rest of the pipeline (speaker resolution, manual curation) stays usable.
// Requests carry an explicit timeout and are never retried.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/pkg/provider/llm"
)

// Defaults applied by [New].
const (
	DefaultTimeout        = 90 * time.Second
	DefaultMaxPromptChars = 60000
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 4096
)

// WarningNotConfigured is the [Result.Warning] of a client without a backend.
const WarningNotConfigured = "extraction backend not configured"

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout bounds each backend call. Values <= 0 are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxPromptChars sets the hard cap, in runes, applied to the assembled
// prompt. Values <= 0 are ignored.
func WithMaxPromptChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the completion length. Values <= 0 are ignored.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMetrics records request, error and fact counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithIDFunc replaces [NewFactID]. Intended for tests.
func WithIDFunc(fn func() FactID) Option {
	return func(c *Client) { c.newID = fn }
}

// Client is safe for concurrent use.
type Client struct {
	provider    llm.Provider
	timeout     time.Duration
	maxChars    int
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
	newID       func() FactID
}

// New returns a Client backed by provider. A nil provider yields a client
// whose [Client.IsConfigured] reports false.
func New(provider llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider:    provider,
		timeout:     DefaultTimeout,
		maxChars:    DefaultMaxPromptChars,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		newID:       NewFactID,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsConfigured reports whether a backend is available. Callers check it
// before invoking [Client.Extract] to tell "not configured" apart from a
// backend failure.
func (c *Client) IsConfigured() bool { return c != nil && c.provider != nil }

// Provider returns the backend name, or "" when not configured.
func (c *Client) Provider() string {
	if !c.IsConfigured() {
		return ""
	}
	return c.provider.Name()
}

// Extract runs one extraction call. It never returns an error: every
// failure degrades to an empty result with a warning.
func (c *Client) Extract(ctx context.Context, req Request) Result {
	start := time.Now()
	if !c.IsConfigured() {
		return Result{Warning: WarningNotConfigured}
	}

	ctx, span := observe.StartSpan(ctx, "extraction.extract")
	res, err := c.extract(ctx, req)
	observe.EndSpan(span, err)

	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	if c.metrics != nil {
		c.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		observe.Logger(ctx).Warn("extraction degraded to empty result",
			"provider", c.provider.Name(),
			"err", err,
		)
		return Result{Warning: err.Error(), ProcessingTimeMs: res.ProcessingTimeMs}
	}
	return res
}

func (c *Client) extract(ctx context.Context, req Request) (Result, error) {
	prompt, truncated := buildPrompt(req, c.maxChars)
	if truncated {
		observe.Logger(ctx).Info("extraction prompt truncated", "max_chars", c.maxChars)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := c.provider.Name()
	resp, err := c.provider.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSONObject:   true,
	})
	if err != nil {
		kind := "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		c.recordFailure(ctx, name, kind)
		return Result{}, fmt.Errorf("extraction: backend %s: %w", name, err)
	}
	if resp == nil {
		c.recordFailure(ctx, name, "empty")
		return Result{}, fmt.Errorf("extraction: backend %s returned no response", name)
	}

	res, err := ParseResponse(resp.Content, c.newID)
	if err != nil {
		c.recordFailure(ctx, name, "unparseable")
		return Result{}, err
	}
	if c.metrics != nil {
		c.metrics.RecordProviderRequest(ctx, name, "ok")
		for _, k := range Kinds {
			c.metrics.RecordFacts(ctx, string(k), res.Count(k))
		}
	}
	slog.Debug("extraction complete",
		"provider", name,
		"facts", len(res.Facts),
		"topics", len(res.Topics),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return res, nil
}

func (c *Client) recordFailure(ctx context.Context, provider, kind string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordProviderRequest(ctx, provider, "error")
	c.metrics.RecordProviderError(ctx, provider, kind)
}
