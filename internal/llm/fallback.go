package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// FallbackClient chains multiple gateway clients and fails over between them.
// A per-provider circuit tracker skips providers that keep failing so one
// degraded model does not slow every run down.
type FallbackClient struct {
	clients []*Client
	names   []string
	tracker *providerTracker
}

// FallbackConfig configures the fallback chain. Providers are tried in
// order: primary first, then each fallback.
type FallbackConfig struct {
	Primary     ClientConfig
	PrimaryName string

	Fallbacks     []ClientConfig
	FallbackNames []string

	Tracker TrackerConfig
}

// TrackerConfig configures the per-provider circuit tracker.
type TrackerConfig struct {
	// Consecutive failures that open a provider's circuit
	FailureThreshold int

	// Consecutive successes that close a half-open circuit
	SuccessThreshold int

	// How long an open circuit blocks before a probe is allowed
	Timeout time.Duration

	// Sliding window for the recent-failure count in status reports
	TimeWindow time.Duration
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		TimeWindow:       5 * time.Minute,
	}
}

// NewFallbackClient creates a client chain with automatic provider failover.
func NewFallbackClient(config FallbackConfig) *FallbackClient {
	clients := []*Client{NewClient(config.Primary)}
	names := []string{config.PrimaryName}
	if names[0] == "" {
		names[0] = "primary"
	}

	for i, fbConfig := range config.Fallbacks {
		clients = append(clients, NewClient(fbConfig))
		if i < len(config.FallbackNames) {
			names = append(names, config.FallbackNames[i])
		} else {
			names = append(names, fmt.Sprintf("fallback-%d", i+1))
		}
	}

	tracker := config.Tracker
	if tracker.FailureThreshold == 0 {
		tracker = DefaultTrackerConfig()
	}

	return &FallbackClient{
		clients: clients,
		names:   names,
		tracker: newProviderTracker(names, tracker),
	}
}

// Model returns the primary provider's model identity.
func (fc *FallbackClient) Model() string {
	return fc.clients[0].Model()
}

// Complete tries each provider in order until one succeeds.
func (fc *FallbackClient) Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	var lastErr error

	for i, client := range fc.clients {
		name := fc.names[i]

		if !fc.tracker.allow(i) {
			log.Warn().
				Str("provider", name).
				Msg("Provider circuit open, skipping")
			continue
		}

		start := time.Now()
		resp, err := client.Complete(ctx, messages)
		if err == nil {
			fc.tracker.success(i)
			if i > 0 {
				metrics.RecordLLMFallback(name)
			}

			log.Debug().
				Str("provider", name).
				Int("provider_index", i).
				Dur("duration", time.Since(start)).
				Msg("Completion succeeded")

			return resp, nil
		}

		fc.tracker.failure(i)
		lastErr = err

		log.Warn().
			Err(err).
			Str("provider", name).
			Int("provider_index", i).
			Dur("duration", time.Since(start)).
			Msg("Provider failed, trying next")

		// A dead context dooms every remaining provider too.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no provider available: all circuits open")
	}
	return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// CompleteWithRetry retries transient failures on each provider before
// moving to the next one.
func (fc *FallbackClient) CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error) {
	var lastErr error

	for i, client := range fc.clients {
		name := fc.names[i]

		if !fc.tracker.allow(i) {
			log.Warn().
				Str("provider", name).
				Msg("Provider circuit open, skipping")
			continue
		}

		resp, err := client.CompleteWithRetry(ctx, messages, maxRetries)
		if err == nil {
			fc.tracker.success(i)
			if i > 0 {
				metrics.RecordLLMFallback(name)
			}
			return resp, nil
		}

		fc.tracker.failure(i)
		lastErr = err

		log.Warn().
			Err(err).
			Str("provider", name).
			Int("max_retries", maxRetries).
			Msg("Provider exhausted retries, trying next")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no provider available: all circuits open")
	}
	return nil, fmt.Errorf("all providers failed after retries, last error: %w", lastErr)
}

// CompleteWithSystem sends a system plus user message through the chain and
// returns the first choice's content.
func (fc *FallbackClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	resp, err := fc.Complete(ctx, messages)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}

	return resp.Choices[0].Message.Content, nil
}

// ParseJSONResponse parses JSON from model output.
func (fc *FallbackClient) ParseJSONResponse(content string, target interface{}) error {
	return fc.clients[0].ParseJSONResponse(content, target)
}

// ProviderStatuses returns the circuit state of every provider in the chain.
func (fc *FallbackClient) ProviderStatuses() []ProviderStatus {
	return fc.tracker.snapshot()
}

// ResetProvider closes the circuit for one provider, typically after an
// operator has confirmed it recovered.
func (fc *FallbackClient) ResetProvider(index int) error {
	if index < 0 || index >= len(fc.clients) {
		return fmt.Errorf("invalid provider index: %d", index)
	}
	fc.tracker.reset(index)
	log.Info().
		Str("provider", fc.names[index]).
		Int("provider_index", index).
		Msg("Provider circuit reset")
	return nil
}

// CircuitState represents one provider's circuit state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Blocking requests
	CircuitHalfOpen CircuitState = "HALF_OPEN" // Probing recovery
)

// ProviderStatus is a point-in-time view of one provider's circuit.
type ProviderStatus struct {
	Provider             string
	State                CircuitState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	LastSuccess          time.Time
	OpenedAt             time.Time
	RecentFailures       int // failures inside the sliding window
}

// providerTracker tracks circuit state per provider. All transitions happen
// under one mutex so an OPEN -> HALF_OPEN probe is handed to exactly one
// caller.
type providerTracker struct {
	mu     sync.Mutex
	config TrackerConfig
	names  []string
	states []providerState
}

type providerState struct {
	state       CircuitState
	fails       int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time
	openedAt    time.Time
	failures    []time.Time
}

func newProviderTracker(names []string, config TrackerConfig) *providerTracker {
	states := make([]providerState, len(names))
	for i := range states {
		states[i].state = CircuitClosed
	}
	return &providerTracker{
		config: config,
		names:  names,
		states: states,
	}
}

// allow reports whether a request may go to the provider, transitioning an
// expired open circuit to half-open as a side effect.
func (t *providerTracker) allow(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return false
	}

	st := &t.states[index]
	if st.state == CircuitOpen {
		if time.Since(st.openedAt) < t.config.Timeout {
			return false
		}
		st.state = CircuitHalfOpen
		st.successes = 0
		log.Debug().
			Str("provider", t.names[index]).
			Msg("Provider circuit half-open, allowing probe")
	}
	return true
}

func (t *providerTracker) success(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return
	}

	st := &t.states[index]
	st.successes++
	st.fails = 0
	st.lastSuccess = time.Now()

	if st.state == CircuitHalfOpen && st.successes >= t.config.SuccessThreshold {
		st.state = CircuitClosed
		st.successes = 0
		log.Info().
			Str("provider", t.names[index]).
			Msg("Provider circuit closed after recovery")
	}
}

func (t *providerTracker) failure(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return
	}

	st := &t.states[index]
	now := time.Now()

	st.fails++
	st.successes = 0
	st.lastFailure = now
	st.failures = append(st.failures, now)

	// Drop failures that aged out of the window
	cutoff := now.Add(-t.config.TimeWindow)
	recent := st.failures[:0]
	for _, ts := range st.failures {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	st.failures = recent

	switch st.state {
	case CircuitClosed:
		if st.fails >= t.config.FailureThreshold {
			st.state = CircuitOpen
			st.openedAt = now
			log.Warn().
				Str("provider", t.names[index]).
				Int("consecutive_failures", st.fails).
				Msg("Provider circuit opened")
		}
	case CircuitHalfOpen:
		// Failed probe reopens immediately
		st.state = CircuitOpen
		st.openedAt = now
		log.Warn().
			Str("provider", t.names[index]).
			Msg("Provider circuit reopened after failed probe")
	}
}

func (t *providerTracker) reset(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return
	}

	t.states[index] = providerState{state: CircuitClosed}
}

func (t *providerTracker) snapshot() []ProviderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	statuses := make([]ProviderStatus, len(t.states))
	for i, st := range t.states {
		statuses[i] = ProviderStatus{
			Provider:             t.names[i],
			State:                st.state,
			ConsecutiveFailures:  st.fails,
			ConsecutiveSuccesses: st.successes,
			LastFailure:          st.lastFailure,
			LastSuccess:          st.lastSuccess,
			OpenedAt:             st.openedAt,
			RecentFailures:       len(st.failures),
		}
	}
	return statuses
}
