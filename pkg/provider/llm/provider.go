// Package llm defines the Provider interface for generative-extraction backends.
//
// A provider wraps a remote or local model API (an OpenAI-compatible endpoint,
// an Azure OpenAI deployment, or any vendor reachable through any-llm-go) and
// exposes a single blocking completion call. The extraction stage of the
// ingestion pipeline depends only on this interface, never on a vendor SDK.
//
// Implementors must be safe for concurrent use and must honour context
// cancellation. Implementors must not retry failed requests; a retry policy,
// if any, belongs to the caller.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the plain-text message body.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically the
	// user prompt.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction sent before
	// Messages as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero uses the provider
	// default.
	MaxTokens int

	// JSONObject asks the backend to constrain its reply to a single JSON
	// object. Providers that cannot enforce this ignore the flag; callers must
	// still validate the reply.
	JSONObject bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any generative backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the backend is unreachable, answers with a
	// non-success status, or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns a short identifier for metrics and logs, such as
	// "openai" or "anthropic".
	Name() string
}
