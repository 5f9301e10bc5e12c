package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	// Embed returns the embedding for one text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the embedding model identity for item records
	Model() string

	// Health probes the provider with a trivial request
	Health(ctx context.Context) error
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint
type HTTPEmbedder struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPEmbedder creates an embedder against an OpenAI-compatible API
func NewHTTPEmbedder(endpoint, apiKey, model string, dimensions int, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmbedder{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "embedder").Str("model", model).Logger(),
	}
}

// Model returns the embedding model identity
func (e *HTTPEmbedder) Model() string {
	return e.model
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed requests one embedding
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{Model: e.model, Input: text, Dimensions: e.dimensions}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embedding provider returned status %d: %s", resp.StatusCode, truncateBody(body))
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if parsed.Error != nil {
		err := fmt.Errorf("embedding provider error: %s", parsed.Error.Message)
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, err
	}
	if len(parsed.Data) == 0 {
		err := fmt.Errorf("embedding response contained no data")
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, err
	}

	vec := parsed.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		err := fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), e.dimensions)
		metrics.RecordEmbeddingRequest(e.model, err)
		return nil, err
	}

	metrics.RecordEmbeddingRequest(e.model, nil)
	return vec, nil
}

// Health sends a minimal embed request
func (e *HTTPEmbedder) Health(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// ResilientEmbedder wraps a primary and an optional fallback provider.
// Consecutive primary failures past the threshold swap traffic to the
// fallback; a health-check ticker re-tests the primary and swaps back
// once it recovers. This is a provider swap, not call failure, so it is
// a dedicated state machine rather than a circuit breaker.
type ResilientEmbedder struct {
	primary  Embedder
	fallback Embedder
	log      zerolog.Logger

	failureThreshold int

	mu           sync.Mutex
	failures     int
	usingFallback bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResilientEmbedder creates the composite. fallback may be nil, in
// which case failures surface directly.
func NewResilientEmbedder(primary, fallback Embedder, cfg config.EmbeddingConfig) *ResilientEmbedder {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}

	r := &ResilientEmbedder{
		primary:          primary,
		fallback:         fallback,
		failureThreshold: threshold,
		log:              log.With().Str("component", "resilient-embedder").Logger(),
		stopCh:           make(chan struct{}),
	}

	interval := time.Duration(cfg.HealthCheckIntervalMS) * time.Millisecond
	if fallback != nil && interval > 0 {
		r.wg.Add(1)
		go r.healthLoop(interval)
	}

	return r
}

// Model returns the identity of the provider currently serving traffic
func (r *ResilientEmbedder) Model() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usingFallback && r.fallback != nil {
		return r.fallback.Model()
	}
	return r.primary.Model()
}

// Embed routes to the active provider. A primary failure falls through
// to the fallback for this call and counts toward the swap threshold.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	r.mu.Lock()
	useFallback := r.usingFallback && r.fallback != nil
	r.mu.Unlock()

	if useFallback {
		return r.fallback.Embed(ctx, text)
	}

	vec, err := r.primary.Embed(ctx, text)
	if err == nil {
		r.recordPrimarySuccess()
		return vec, nil
	}

	r.recordPrimaryFailure(err)
	if r.fallback == nil {
		return nil, err
	}

	vec, fbErr := r.fallback.Embed(ctx, text)
	if fbErr != nil {
		return nil, fmt.Errorf("primary embedder failed (%v); fallback failed: %w", err, fbErr)
	}
	return vec, nil
}

// Health reports the health of the active provider
func (r *ResilientEmbedder) Health(ctx context.Context) error {
	r.mu.Lock()
	useFallback := r.usingFallback && r.fallback != nil
	r.mu.Unlock()

	if useFallback {
		return r.fallback.Health(ctx)
	}
	return r.primary.Health(ctx)
}

// UsingFallback reports whether traffic is currently on the fallback
func (r *ResilientEmbedder) UsingFallback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usingFallback
}

func (r *ResilientEmbedder) recordPrimarySuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

func (r *ResilientEmbedder) recordPrimaryFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	if r.failures >= r.failureThreshold && !r.usingFallback && r.fallback != nil {
		r.usingFallback = true
		r.log.Warn().
			Err(err).
			Int("consecutive_failures", r.failures).
			Str("fallback_model", r.fallback.Model()).
			Msg("Primary embedding provider swapped out")
	}
}

func (r *ResilientEmbedder) healthLoop(interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			swapped := r.usingFallback
			r.mu.Unlock()
			if !swapped {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := r.primary.Health(ctx)
			cancel()
			if err != nil {
				r.log.Debug().Err(err).Msg("Primary embedding provider still unhealthy")
				continue
			}

			r.mu.Lock()
			r.usingFallback = false
			r.failures = 0
			r.mu.Unlock()
			r.log.Info().
				Str("model", r.primary.Model()).
				Msg("Primary embedding provider recovered, swapping back")
		}
	}
}

// Close stops the health-check ticker
func (r *ResilientEmbedder) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
