package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/resilience"
)

// TokenData is the launchpad's view of a token. Optional numeric fields
// are pointers so absence is distinguishable from zero.
type TokenData struct {
	Address        string   `json:"address"`
	Name           string   `json:"name"`
	Symbol         string   `json:"symbol"`
	Decimals       uint8    `json:"decimals"`
	TotalSupply    string   `json:"total_supply"`
	CreatorAddress string   `json:"creator_address"`
	Description    string   `json:"description,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	WebsiteURL     string   `json:"website_url,omitempty"`
	TwitterURL     string   `json:"twitter_url,omitempty"`
	TelegramURL    string   `json:"telegram_url,omitempty"`
	CreatedAt      string   `json:"created_at"`
	MarketCap      *float64 `json:"market_cap,omitempty"`
	Volume24h      *float64 `json:"volume_24h,omitempty"`
	PriceUSD       *float64 `json:"price_usd,omitempty"`
	PriceMon       *float64 `json:"price_mon,omitempty"`
	HoldersCount   *uint64  `json:"holders_count,omitempty"`
	LiquidityMon   *float64 `json:"liquidity_mon,omitempty"`

	// Pool detail for tokens still on (or graduated off) the bonding curve
	PoolAddress   string `json:"pool_address,omitempty"`
	IsGraduated   bool   `json:"is_graduated,omitempty"`
	ReserveNative string `json:"reserve_native,omitempty"`
	ReserveToken  string `json:"reserve_token,omitempty"`
	VirtualNative string `json:"virtual_native,omitempty"`
	VirtualToken  string `json:"virtual_token,omitempty"`
}

// TradeRecord is one trade from the launchpad history feed
type TradeRecord struct {
	TxHash       string    `json:"tx_hash"`
	Trader       string    `json:"trader"`
	Direction    string    `json:"direction"` // buy | sell
	AmountNative string    `json:"amount_native"`
	AmountToken  string    `json:"amount_token"`
	Block        uint64    `json:"block"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradeQuote is the launchpad's quote for a prospective trade
type TradeQuote struct {
	Token        string  `json:"token"`
	Direction    string  `json:"direction"`
	AmountIn     string  `json:"amount_in"`
	AmountOut    string  `json:"amount_out"`
	MinAmountOut string  `json:"min_amount_out"`
	PriceImpact  float64 `json:"price_impact"`
	FeeBps       int     `json:"fee_bps"`
}

// PortfolioPosition is one holding in an account portfolio
type PortfolioPosition struct {
	Token       string   `json:"token"`
	Symbol      string   `json:"symbol"`
	Balance     string   `json:"balance"`
	ValueMon    *float64 `json:"value_mon,omitempty"`
	CostBasis   *float64 `json:"cost_basis,omitempty"`
	UnrealizedP *float64 `json:"unrealized_pnl,omitempty"`
}

// Portfolio is an account's launchpad holdings
type Portfolio struct {
	Account   string              `json:"account"`
	Positions []PortfolioPosition `json:"positions"`
	TotalMon  *float64            `json:"total_mon,omitempty"`
}

// LaunchRequest describes a token launch to prepare
type LaunchRequest struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	InitialBuy  string `json:"initial_buy,omitempty"`
}

// LaunchPrep is the prepared launch returned by the API
type LaunchPrep struct {
	LaunchID     string `json:"launch_id"`
	TokenAddress string `json:"token_address,omitempty"`
	Calldata     string `json:"calldata,omitempty"`
	Target       string `json:"target,omitempty"`
	ValueWei     string `json:"value_wei,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

// LaunchStatus reports the state of a prepared or submitted launch
type LaunchStatus struct {
	LaunchID     string `json:"launch_id"`
	Status       string `json:"status"` // prepared | pending | confirmed | failed | expired
	TokenAddress string `json:"token_address,omitempty"`
	TxHash       string `json:"tx_hash,omitempty"`
	Error        string `json:"error,omitempty"`
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// LaunchpadClient talks to the token-launchpad REST API. Every response
// arrives as a {data, error} envelope; 408/429/5xx are retried with
// backoff behind the launchpad circuit breaker.
type LaunchpadClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retry      resilience.RetryConfig
}

// NewLaunchpadClient creates a launchpad client from configuration.
// Returns an error when no base URL is configured.
func NewLaunchpadClient(cfg config.LaunchpadConfig, breaker *gobreaker.CircuitBreaker) (*LaunchpadClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("launchpad base URL is required")
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &LaunchpadClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 2),
		breaker:    breaker,
		retry:      resilience.DefaultRetryConfig(),
	}, nil
}

// do performs one API request and decodes the envelope payload into out.
// label keeps metric cardinality bounded; endpoint carries the query.
func (c *LaunchpadClient) do(ctx context.Context, method, label, endpoint string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	err := resilience.WithRetry(ctx, c.retry, func() error {
		if c.breaker == nil {
			return c.doRequest(ctx, method, endpoint, body, out)
		}
		_, berr := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.doRequest(ctx, method, endpoint, body, out)
		})
		return berr
	})
	metrics.RecordLaunchpadCall(label, float64(time.Since(start).Milliseconds()), err)
	return err
}

func (c *LaunchpadClient) doRequest(ctx context.Context, method, endpoint string, body, out interface{}) error {
	fullURL := c.baseURL + endpoint
	log.Debug().Str("url", fullURL).Msg("Fetching from launchpad")

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("launchpad transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("launchpad request failed with status 429: rate limit exceeded")
		}
		return fmt.Errorf("launchpad request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode launchpad response: %w", err)
	}

	if envelope.Data == nil || string(envelope.Data) == "null" {
		msg := envelope.Error
		if msg == "" {
			msg = "no data returned"
		}
		return fmt.Errorf("launchpad returned no data: %s", msg)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal launchpad data: %w", err)
		}
	}
	return nil
}

// Trending fetches the current trending tokens
func (c *LaunchpadClient) Trending(ctx context.Context, limit int) ([]TokenData, error) {
	var out []TokenData
	endpoint := fmt.Sprintf("/api/v1/market/trending?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, "market/trending", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewTokens fetches the most recently launched tokens
func (c *LaunchpadClient) NewTokens(ctx context.Context, limit int) ([]TokenData, error) {
	var out []TokenData
	endpoint := fmt.Sprintf("/api/v1/market/new?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, "market/new", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TokenByAddress fetches a token by its contract address
func (c *LaunchpadClient) TokenByAddress(ctx context.Context, address string) (*TokenData, error) {
	var out TokenData
	endpoint := "/api/v1/tokens/address/" + url.PathEscape(address)
	if err := c.do(ctx, http.MethodGet, "tokens/address", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchTokens searches tokens by name or symbol
func (c *LaunchpadClient) SearchTokens(ctx context.Context, query string, limit int) ([]TokenData, error) {
	var out []TokenData
	endpoint := fmt.Sprintf("/api/v1/tokens/search?q=%s&limit=%d", url.QueryEscape(query), limit)
	if err := c.do(ctx, http.MethodGet, "tokens/search", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TokenTrades fetches recent trades for a token, newest first
func (c *LaunchpadClient) TokenTrades(ctx context.Context, address string, limit int) ([]TradeRecord, error) {
	var out []TradeRecord
	endpoint := fmt.Sprintf("/api/v1/tokens/%s/trades?limit=%d", url.PathEscape(address), limit)
	if err := c.do(ctx, http.MethodGet, "tokens/trades", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Quote fetches a trade quote for a token
func (c *LaunchpadClient) Quote(ctx context.Context, token, direction, amountIn string) (*TradeQuote, error) {
	var out TradeQuote
	endpoint := fmt.Sprintf("/api/v1/trade/quote?token=%s&direction=%s&amount=%s",
		url.QueryEscape(token), url.QueryEscape(direction), url.QueryEscape(amountIn))
	if err := c.do(ctx, http.MethodGet, "trade/quote", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Portfolio fetches the launchpad holdings of an account
func (c *LaunchpadClient) Portfolio(ctx context.Context, account string) (*Portfolio, error) {
	var out Portfolio
	endpoint := "/api/v1/accounts/" + url.PathEscape(account) + "/portfolio"
	if err := c.do(ctx, http.MethodGet, "accounts/portfolio", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountHistory fetches an account's trade history, newest first
func (c *LaunchpadClient) AccountHistory(ctx context.Context, account string, limit int) ([]TradeRecord, error) {
	var out []TradeRecord
	endpoint := fmt.Sprintf("/api/v1/accounts/%s/history?limit=%d", url.PathEscape(account), limit)
	if err := c.do(ctx, http.MethodGet, "accounts/history", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrepareLaunch asks the launchpad to prepare a token launch
func (c *LaunchpadClient) PrepareLaunch(ctx context.Context, req LaunchRequest) (*LaunchPrep, error) {
	var out LaunchPrep
	if err := c.do(ctx, http.MethodPost, "launch/prepare", "/api/v1/launch/prepare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LaunchStatus fetches the status of a prepared launch
func (c *LaunchpadClient) LaunchStatus(ctx context.Context, launchID string) (*LaunchStatus, error) {
	var out LaunchStatus
	endpoint := "/api/v1/launch/" + url.PathEscape(launchID) + "/status"
	if err := c.do(ctx, http.MethodGet, "launch/status", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health verifies the API answers with a minimal trending query
func (c *LaunchpadClient) Health(ctx context.Context) error {
	if _, err := c.Trending(ctx, 1); err != nil {
		return fmt.Errorf("launchpad health check failed: %w", err)
	}
	return nil
}
