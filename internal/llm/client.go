package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to an OpenAI-compatible chat completion gateway. The gateway
// fronts whichever provider is configured, so the client never needs
// provider-specific request shapes.
type Client struct {
	endpoint     string
	apiKey       string
	model        string
	temperature  float64
	maxTokens    int
	retryBackoff time.Duration
	httpClient   *http.Client
}

// ClientConfig contains configuration for the model gateway client.
type ClientConfig struct {
	Endpoint     string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// NewClient creates a new gateway client.
func NewClient(config ClientConfig) *Client {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}

	return &Client{
		endpoint:     config.Endpoint,
		apiKey:       config.APIKey,
		model:        config.Model,
		temperature:  config.Temperature,
		maxTokens:    config.MaxTokens,
		retryBackoff: config.RetryBackoff,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Model returns the model identity recorded into opinions.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a chat completion request to the gateway.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	request := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Debug().
		Str("endpoint", c.endpoint).
		Str("model", c.model).
		Int("message_count", len(messages)).
		Msg("Sending completion request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		llmErr := &LLMError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			llmErr.Type = errResp.Error.Type
			llmErr.Message = errResp.Error.Message
		} else {
			llmErr.Message = string(body)
		}
		return nil, llmErr
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Completion request finished")

	return &chatResp, nil
}

// CompleteWithSystem sends a system message plus a user message and returns
// the first choice's content.
func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	resp, err := c.Complete(ctx, messages)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteWithRetry retries transient gateway failures with quadratic
// backoff. Permanent failures (auth, malformed request) abort immediately.
func (c *Client) CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * c.retryBackoff
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying completion request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.Complete(ctx, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var llmErr *LLMError
		if errors.As(err, &llmErr) && !llmErr.IsRetryable() {
			return nil, fmt.Errorf("completion request failed permanently: %w", err)
		}
	}

	return nil, fmt.Errorf("completion request failed after %d retries: %w", maxRetries, lastErr)
}

// ParseJSONResponse extracts and parses JSON from model output, tolerating
// markdown code fences around the payload.
func (c *Client) ParseJSONResponse(content string, target interface{}) error {
	content = extractJSONFromMarkdown(content)

	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return nil
}

// extractJSONFromMarkdown strips a ```json ... ``` (or bare ```) fence when
// the model wrapped its answer in one.
func extractJSONFromMarkdown(content string) string {
	start := -1

	if idx := strings.Index(content, "```json"); idx >= 0 {
		start = idx + len("```json")
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		start = idx + len("```")
	}

	if start >= 0 {
		if idx := strings.Index(content[start:], "```"); idx >= 0 {
			content = content[start : start+idx]
		}
	}

	return strings.TrimSpace(content)
}
