package llm

import "context"

// LLMClient defines the interface for completion API operations.
type LLMClient interface {
	// Validate reports a ConfigurationError when the client cannot send
	// requests. It never touches the network.
	Validate() error

	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each chunk received.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error)

	// ListModels retrieves the list of available models.
	ListModels(ctx context.Context) ([]Model, error)
}

// Ensure Client implements LLMClient interface.
var _ LLMClient = (*Client)(nil)
