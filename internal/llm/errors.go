package llm

import (
	"fmt"
	"net/http"
)

// LLMError is a classified error from the model gateway. Status code and
// error type decide whether a retry or a provider swap is worth attempting.
type LLMError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *LLMError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm gateway error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm gateway error: %s", e.Message)
}

// IsRetryable reports whether the same provider may succeed on a retry.
// Auth and malformed-request failures never do; throttling and server-side
// failures usually do.
func (e *LLMError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	switch e.Type {
	case "rate_limit_error", "server_error", "overloaded_error", "timeout":
		return true
	}
	return false
}
