package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Route names, in policy preference order
const (
	RoutePrivateRelay = "private_relay"
	RouteDeferred     = "deferred_execution"
	RoutePublicRPC    = "public_rpc"
)

// Route is one transport class for signed transactions
type Route interface {
	Name() string
	Health(ctx context.Context) error
	Submit(ctx context.Context, rawTx []byte) (common.Hash, error)
}

// TxSender is the chain surface the public route needs; the RPC client
// satisfies it.
type TxSender interface {
	SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error)
	Health(ctx context.Context) error
}

// relayResponse is the relay's submission acknowledgement
type relayResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

// PrivateRelayRoute submits through a private relay endpoint so the
// transaction never touches the public mempool.
type PrivateRelayRoute struct {
	url    string
	client *http.Client
}

// NewPrivateRelayRoute creates the private relay transport
func NewPrivateRelayRoute(url string, client *http.Client) *PrivateRelayRoute {
	if client == nil {
		client = http.DefaultClient
	}
	return &PrivateRelayRoute{url: url, client: client}
}

func (r *PrivateRelayRoute) Name() string { return RoutePrivateRelay }

func (r *PrivateRelayRoute) Health(ctx context.Context) error {
	if r.url == "" {
		return fmt.Errorf("private relay not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build relay health request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay health returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *PrivateRelayRoute) Submit(ctx context.Context, rawTx []byte) (common.Hash, error) {
	payload, err := json.Marshal(map[string]string{"rawTx": hexutil.Encode(rawTx)})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal relay submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/tx", bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build relay submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return common.Hash{}, fmt.Errorf("relay rejected submission with status %d: %s", resp.StatusCode, string(body))
	}

	var ack relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode relay response: %w", err)
	}
	if ack.Error != "" {
		return common.Hash{}, fmt.Errorf("relay error: %s", ack.Error)
	}
	return common.HexToHash(ack.TxHash), nil
}

// PublicRPCRoute broadcasts through the public mempool. The router only
// reaches for it under the public-value policy.
type PublicRPCRoute struct {
	sender TxSender
}

// NewPublicRPCRoute creates the public transport over an RPC client
func NewPublicRPCRoute(sender TxSender) *PublicRPCRoute {
	return &PublicRPCRoute{sender: sender}
}

func (r *PublicRPCRoute) Name() string { return RoutePublicRPC }

func (r *PublicRPCRoute) Health(ctx context.Context) error {
	return r.sender.Health(ctx)
}

func (r *PublicRPCRoute) Submit(ctx context.Context, rawTx []byte) (common.Hash, error) {
	return r.sender.SendRawTransaction(ctx, rawTx)
}

// deferredItem is one queued submission awaiting the executor
type deferredItem struct {
	rawTx         []byte
	correlationID string
	bundleID      string
}

// DeferredRoute queues submissions for a deferred executor service.
// Submit acknowledges with a zero hash; the executor broadcasts later.
// The whole queue drains when the kill switch flips.
type DeferredRoute struct {
	url    string
	client *http.Client
	log    zerolog.Logger

	mu    sync.Mutex
	queue []deferredItem
}

// NewDeferredRoute creates the deferred transport
func NewDeferredRoute(url string, client *http.Client) *DeferredRoute {
	if client == nil {
		client = http.DefaultClient
	}
	return &DeferredRoute{
		url:    url,
		client: client,
		log:    log.With().Str("component", "deferred-route").Logger(),
	}
}

func (r *DeferredRoute) Name() string { return RouteDeferred }

func (r *DeferredRoute) Health(ctx context.Context) error {
	if r.url == "" {
		return fmt.Errorf("deferred executor not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build executor health request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("deferred executor unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deferred executor health returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *DeferredRoute) Submit(ctx context.Context, rawTx []byte) (common.Hash, error) {
	payload, err := json.Marshal(map[string]string{"rawTx": hexutil.Encode(rawTx)})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal deferred submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/queue", bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build deferred submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("deferred submission failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return common.Hash{}, fmt.Errorf("deferred executor rejected submission with status %d: %s", resp.StatusCode, string(body))
	}

	r.mu.Lock()
	r.queue = append(r.queue, deferredItem{rawTx: rawTx})
	depth := len(r.queue)
	r.mu.Unlock()
	metrics.UpdateDeferredQueueDepth(depth)

	// Deferred transactions have no hash until the executor broadcasts.
	return common.Hash{}, nil
}

// QueueDepth returns the number of submissions awaiting execution
func (r *DeferredRoute) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Drain discards every queued submission. Called from the kill-switch
// hook; the dropped items are returned for auditing.
func (r *DeferredRoute) Drain(reason string) []deferredItem {
	r.mu.Lock()
	dropped := r.queue
	r.queue = nil
	r.mu.Unlock()

	metrics.UpdateDeferredQueueDepth(0)
	if len(dropped) > 0 {
		r.log.Warn().Int("dropped", len(dropped)).Str("reason", reason).Msg("Deferred queue drained")
	}
	return dropped
}
