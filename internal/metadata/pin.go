package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Pinner publishes a JSON body to content-addressed storage
type Pinner interface {
	Name() string
	Pin(ctx context.Context, name string, body []byte) (cid string, err error)
}

// PinResult is one provider's outcome within a multi-pin fan-out
type PinResult struct {
	Provider  string        `json:"provider"`
	OK        bool          `json:"ok"`
	CID       string        `json:"cid,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latencyMs"`
}

// PinataPinner pins through the Pinata HTTP API
type PinataPinner struct {
	baseURL string
	jwt     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewPinataPinner creates a Pinata-backed pinner
func NewPinataPinner(baseURL, jwt string, client *http.Client, breaker *gobreaker.CircuitBreaker) *PinataPinner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.pinata.cloud"
	}
	return &PinataPinner{baseURL: baseURL, jwt: jwt, client: client, breaker: breaker}
}

func (p *PinataPinner) Name() string { return "pinata" }

type pinataResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

func (p *PinataPinner) Pin(ctx context.Context, name string, body []byte) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"pinataMetadata": map[string]string{"name": name},
		"pinataContent":  json.RawMessage(body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal pinata payload: %w", err)
	}

	do := func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("failed to build pinata request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.jwt)

		resp, err := p.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("pinata request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", fmt.Errorf("pinata returned status %d: %s", resp.StatusCode, string(detail))
		}

		var out pinataResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode pinata response: %w", err)
		}
		return out.IpfsHash, nil
	}

	if p.breaker == nil {
		return do()
	}
	res, err := p.breaker.Execute(func() (interface{}, error) { return do() })
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// NodePinner pins through a self-hosted IPFS node's /api/v0/add
type NodePinner struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewNodePinner creates a node-backed pinner
func NewNodePinner(baseURL string, client *http.Client, breaker *gobreaker.CircuitBreaker) *NodePinner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &NodePinner{baseURL: baseURL, client: client, breaker: breaker}
}

func (p *NodePinner) Name() string { return "node" }

type nodeAddResponse struct {
	Hash string `json:"Hash"`
}

func (p *NodePinner) Pin(ctx context.Context, name string, body []byte) (string, error) {
	do := func() (string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", name+".json")
		if err != nil {
			return "", fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := part.Write(body); err != nil {
			return "", fmt.Errorf("failed to write multipart body: %w", err)
		}
		if err := mw.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize multipart body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v0/add?pin=true", &buf)
		if err != nil {
			return "", fmt.Errorf("failed to build node request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := p.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("node request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", fmt.Errorf("node returned status %d: %s", resp.StatusCode, string(detail))
		}

		var out nodeAddResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode node response: %w", err)
		}
		return out.Hash, nil
	}

	if p.breaker == nil {
		return do()
	}
	res, err := p.breaker.Execute(func() (interface{}, error) { return do() })
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// MultiPinner fans a body out to every provider in parallel and
// aggregates success when enough of them land.
type MultiPinner struct {
	providers  []Pinner
	minSuccess int
	log        zerolog.Logger
}

// NewMultiPinner creates a composite over the given providers
func NewMultiPinner(providers []Pinner, minSuccess int) *MultiPinner {
	if minSuccess <= 0 {
		minSuccess = 1
	}
	return &MultiPinner{
		providers:  providers,
		minSuccess: minSuccess,
		log:        log.With().Str("component", "multi-pinner").Logger(),
	}
}

// Pin fans out to every provider. The returned CID is the first
// successful provider's, in configuration order; all per-provider
// results are returned for auditing.
func (m *MultiPinner) Pin(ctx context.Context, name string, body []byte) (string, []PinResult, error) {
	if len(m.providers) == 0 {
		return "", nil, fmt.Errorf("no pin providers configured")
	}

	results := make([]PinResult, len(m.providers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range m.providers {
		g.Go(func() error {
			started := time.Now()
			cid, err := provider.Pin(gctx, name, body)
			latency := time.Since(started)
			metrics.RecordMetadataPin(provider.Name(), err == nil, float64(latency.Milliseconds()))

			result := PinResult{Provider: provider.Name(), Latency: latency}
			if err != nil {
				result.Error = err.Error()
				m.log.Warn().Err(err).Str("provider", provider.Name()).Msg("Pin failed")
			} else {
				result.OK = true
				result.CID = cid
			}
			mu.Lock()
			results[i] = result
			mu.Unlock()
			// Individual failures do not cancel the siblings.
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	cid := ""
	for _, r := range results {
		if r.OK {
			succeeded++
			if cid == "" {
				cid = r.CID
			}
		}
	}
	if succeeded < m.minSuccess {
		return "", results, fmt.Errorf("only %d of %d pins succeeded, need %d", succeeded, len(m.providers), m.minSuccess)
	}
	return cid, results, nil
}
