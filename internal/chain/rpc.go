package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/resilience"
)

// RPCClient is a rate-limited EVM JSON-RPC client with retry and a
// circuit breaker in front of every call.
type RPCClient struct {
	httpClient *http.Client
	url        string
	chainID    int64
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retry      resilience.RetryConfig
	reqID      atomic.Uint64
}

// NewRPCClient creates an RPC client from chain configuration. The
// breaker may be nil, in which case calls pass through unguarded.
func NewRPCClient(cfg config.ChainConfig, breaker *gobreaker.CircuitBreaker) *RPCClient {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 300
	}
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}

	return &RPCClient{
		httpClient: &http.Client{Timeout: cfg.GetRequestTimeout()},
		url:        cfg.RPCURL,
		chainID:    cfg.ChainID,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		breaker:    breaker,
		retry:      retryCfg,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      uint64          `json:"id"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call performs one JSON-RPC method call, decoding the result into out.
// Transport failures and 5xx responses are retried with backoff; RPC
// errors (reverts included) are returned as-is.
func (c *RPCClient) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	err := resilience.WithRetry(ctx, c.retry, func() error {
		if c.breaker == nil {
			return c.doCall(ctx, method, params, out)
		}
		_, berr := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.doCall(ctx, method, params, out)
		})
		return berr
	})
	metrics.RecordChainRPCCall(method, float64(time.Since(start).Milliseconds()), err)
	return err
}

func (c *RPCClient) doCall(ctx context.Context, method string, params interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	log.Debug().Str("method", method).Msg("Making RPC call")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rpc request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.Result == nil {
		return fmt.Errorf("rpc response for %s has no result", method)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// BlockNumber returns the latest block height and records it as the
// observed chain head.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var out hexutil.Uint64
	if err := c.Call(ctx, "eth_blockNumber", nil, &out); err != nil {
		return 0, fmt.Errorf("failed to fetch block number: %w", err)
	}
	metrics.SetChainHead(uint64(out))
	return uint64(out), nil
}

// GasPrice returns the current gas price in wei
func (c *RPCClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := c.Call(ctx, "eth_gasPrice", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return (*big.Int)(&out), nil
}

// ChainID returns the chain id reported by the node
func (c *RPCClient) ChainID(ctx context.Context) (int64, error) {
	var out hexutil.Big
	if err := c.Call(ctx, "eth_chainId", nil, &out); err != nil {
		return 0, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	return (*big.Int)(&out).Int64(), nil
}

// GetBalance returns the native balance of an address in wei
func (c *RPCClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	var out hexutil.Big
	if err := c.Call(ctx, "eth_getBalance", []interface{}{address.Hex(), "latest"}, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return (*big.Int)(&out), nil
}

// GetTransactionCount returns the nonce for an address at the given tag
// ("latest" or "pending").
func (c *RPCClient) GetTransactionCount(ctx context.Context, address common.Address, blockTag string) (uint64, error) {
	var out hexutil.Uint64
	if err := c.Call(ctx, "eth_getTransactionCount", []interface{}{address.Hex(), blockTag}, &out); err != nil {
		return 0, fmt.Errorf("failed to fetch transaction count: %w", err)
	}
	return uint64(out), nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash
func (c *RPCClient) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	var out common.Hash
	if err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(rawTx)}, &out); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send raw transaction: %w", err)
	}
	return out, nil
}

// CallMsg describes an eth_call / eth_estimateGas invocation
type CallMsg struct {
	From     common.Address
	To       *common.Address
	Data     []byte
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
}

func (m CallMsg) toParams() map[string]interface{} {
	params := map[string]interface{}{}
	if m.From != (common.Address{}) {
		params["from"] = m.From.Hex()
	}
	if m.To != nil {
		params["to"] = m.To.Hex()
	}
	if len(m.Data) > 0 {
		params["data"] = hexutil.Encode(m.Data)
	}
	if m.Value != nil {
		params["value"] = hexutil.EncodeBig(m.Value)
	}
	if m.Gas > 0 {
		params["gas"] = hexutil.EncodeUint64(m.Gas)
	}
	if m.GasPrice != nil {
		params["gasPrice"] = hexutil.EncodeBig(m.GasPrice)
	}
	return params
}

// CallContract executes a read-only contract call at the given block tag
func (c *RPCClient) CallContract(ctx context.Context, msg CallMsg, blockTag string) ([]byte, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	var out hexutil.Bytes
	if err := c.Call(ctx, "eth_call", []interface{}{msg.toParams(), blockTag}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallContractWithOverrides executes eth_call with a state override set,
// allowing callers to fork current state (balances, nonces, storage)
// without touching the chain.
func (c *RPCClient) CallContractWithOverrides(ctx context.Context, msg CallMsg, blockTag string, overrides map[string]interface{}) ([]byte, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	var out hexutil.Bytes
	if err := c.Call(ctx, "eth_call", []interface{}{msg.toParams(), blockTag, overrides}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateGas estimates the gas needed for a call
func (c *RPCClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var out hexutil.Uint64
	if err := c.Call(ctx, "eth_estimateGas", []interface{}{msg.toParams()}, &out); err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return uint64(out), nil
}

// BlockHeader is the subset of block fields the agent needs
type BlockHeader struct {
	Number    uint64
	Timestamp time.Time
	BaseFee   *big.Int
}

type rpcBlock struct {
	Number        hexutil.Uint64 `json:"number"`
	Timestamp     hexutil.Uint64 `json:"timestamp"`
	BaseFeePerGas *hexutil.Big   `json:"baseFeePerGas"`
}

// HeaderByNumber fetches a block header by height
func (c *RPCClient) HeaderByNumber(ctx context.Context, number uint64) (*BlockHeader, error) {
	var out rpcBlock
	if err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(number), false}, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", number, err)
	}

	header := &BlockHeader{
		Number:    uint64(out.Number),
		Timestamp: time.Unix(int64(out.Timestamp), 0).UTC(),
	}
	if out.BaseFeePerGas != nil {
		header.BaseFee = (*big.Int)(out.BaseFeePerGas)
	}
	return header, nil
}

// RPCLog is one emitted event log
type RPCLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
}

// GetLogs fetches event logs for an address and topic set over a block range
func (c *RPCClient) GetLogs(ctx context.Context, address common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ([]RPCLog, error) {
	filter := map[string]interface{}{
		"address":   address.Hex(),
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   "latest",
	}
	if toBlock > 0 {
		filter["toBlock"] = hexutil.EncodeUint64(toBlock)
	}
	if len(topics) > 0 {
		encoded := make([][]string, len(topics))
		for i, alt := range topics {
			encoded[i] = make([]string, len(alt))
			for j, h := range alt {
				encoded[i][j] = h.Hex()
			}
		}
		filter["topics"] = encoded
	}

	var out []RPCLog
	if err := c.Call(ctx, "eth_getLogs", []interface{}{filter}, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return out, nil
}

// Health verifies the endpoint answers and reports the configured chain
func (c *RPCClient) Health(ctx context.Context) error {
	id, err := c.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("rpc health check failed: %w", err)
	}
	if c.chainID != 0 && id != c.chainID {
		return fmt.Errorf("rpc endpoint reports chain id %d, expected %d", id, c.chainID)
	}
	return nil
}
