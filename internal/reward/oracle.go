package reward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Oracle verifies that a submitted action really happened
type Oracle interface {
	Name() string
	Verify(ctx context.Context, action Action) (Verification, error)
}

// MockOracle accepts or rejects everything; used in demo mode and tests
type MockOracle struct {
	Accept     bool
	Confidence float64
}

func (o *MockOracle) Name() string { return "mock" }

func (o *MockOracle) Verify(ctx context.Context, action Action) (Verification, error) {
	confidence := o.Confidence
	if confidence == 0 {
		confidence = 1
	}
	v := Verification{
		Verified:     o.Accept,
		Confidence:   confidence,
		EvidenceHash: action.EvidenceHash(),
	}
	metrics.RecordOracleVerification(o.Name(), v.Verified)
	return v, nil
}

// HTTPOracle defers verification to an external service
type HTTPOracle struct {
	url    string
	client *http.Client
}

// NewHTTPOracle creates an HTTP-backed oracle
func NewHTTPOracle(url string, client *http.Client) *HTTPOracle {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPOracle{url: url, client: client}
}

func (o *HTTPOracle) Name() string { return "http" }

type httpVerifyRequest struct {
	ActionID     string `json:"actionId"`
	UserID       string `json:"userId"`
	Kind         string `json:"kind"`
	EvidenceHash string `json:"evidenceHash"`
}

type httpVerifyResponse struct {
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

func (o *HTTPOracle) Verify(ctx context.Context, action Action) (Verification, error) {
	evidenceHash := action.EvidenceHash()
	payload, err := json.Marshal(httpVerifyRequest{
		ActionID:     action.ID,
		UserID:       action.UserID,
		Kind:         string(action.Kind),
		EvidenceHash: evidenceHash,
	})
	if err != nil {
		return Verification{}, fmt.Errorf("failed to marshal verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/verify", bytes.NewReader(payload))
	if err != nil {
		return Verification{}, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verification{}, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(detail))
	}

	var out httpVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verification{}, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	v := Verification{
		Verified:     out.Verified,
		Confidence:   out.Confidence,
		EvidenceHash: evidenceHash,
		Reason:       out.Reason,
	}
	metrics.RecordOracleVerification(o.Name(), v.Verified)
	return v, nil
}

// CompositeOracle routes actions to a per-kind oracle with a default
// fallback.
type CompositeOracle struct {
	byKind      map[ActionKind]Oracle
	defaultOrcl Oracle
}

// NewCompositeOracle creates a kind-routing oracle
func NewCompositeOracle(byKind map[ActionKind]Oracle, fallback Oracle) *CompositeOracle {
	return &CompositeOracle{byKind: byKind, defaultOrcl: fallback}
}

func (o *CompositeOracle) Name() string { return "composite" }

func (o *CompositeOracle) Verify(ctx context.Context, action Action) (Verification, error) {
	if oracle, ok := o.byKind[action.Kind]; ok {
		return oracle.Verify(ctx, action)
	}
	if o.defaultOrcl == nil {
		return Verification{}, fmt.Errorf("no oracle for action kind %s", action.Kind)
	}
	return o.defaultOrcl.Verify(ctx, action)
}
