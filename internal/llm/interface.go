package llm

import "context"

// CompletionClient is what analyzers program against, so a single client and
// a fallback chain are interchangeable.
type CompletionClient interface {
	// Complete sends a chat completion request with the given messages
	Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error)

	// CompleteWithRetry attempts completion with retries on transient failures
	CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error)

	// CompleteWithSystem is a convenience method for system + user prompts
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ParseJSONResponse extracts and parses JSON from model output
	ParseJSONResponse(content string, target interface{}) error

	// Model returns the default model identity for opinion records
	Model() string
}

// Ensure Client implements CompletionClient
var _ CompletionClient = (*Client)(nil)

// Ensure FallbackClient implements CompletionClient
var _ CompletionClient = (*FallbackClient)(nil)
