// On-chain data MCP server: exposes network state, pool liquidity, the
// bot radar, and trade quotes as tools over stdio. Stdout is reserved
// for the protocol; all logging goes to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/resilience"
)

const (
	serverName    = "onchain-data"
	serverVersion = "0.1.0"
)

type tokenArgs struct {
	Token string `json:"token" jsonschema:"token contract address"`
}

type quoteArgs struct {
	Token     string `json:"token" jsonschema:"token contract address"`
	Direction string `json:"direction" jsonschema:"trade direction: buy or sell"`
	AmountIn  string `json:"amountIn" jsonschema:"input amount in wei for buys or token base units for sells"`
}

type emptyArgs struct{}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
	logger := log.With().Str("server", serverName).Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	breakers := resilience.NewBreakerManager()
	rpc := chain.NewRPCClient(cfg.Chain, breakers.RPC())
	launchpad, err := chain.NewLaunchpadClient(cfg.Launchpad, breakers.Launchpad())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create launchpad client")
	}
	provider := chain.NewRPCProvider(rpc, launchpad, cfg.Chain)

	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_network_state",
		Description: "Current block height, gas price, and chain id",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in emptyArgs) (*mcp.CallToolResult, *chain.NetworkState, error) {
		defer observe("get_network_state")()
		state, err := provider.NetworkState(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("network state unavailable: %w", err)
		}
		return nil, state, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_pool_liquidity",
		Description: "Pool reserves and pricing for a token, including bonding-curve virtual reserves",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tokenArgs) (*mcp.CallToolResult, *chain.PoolLiquidity, error) {
		defer observe("get_pool_liquidity")()
		if in.Token == "" {
			return nil, nil, fmt.Errorf("token is required")
		}
		pool, err := provider.PoolLiquidity(ctx, in.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("pool liquidity unavailable: %w", err)
		}
		return nil, pool, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_bot_activity",
		Description: "Bot radar report over the token's recent trade window",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tokenArgs) (*mcp.CallToolResult, *chain.BotRadarReport, error) {
		defer observe("analyze_bot_activity")()
		if in.Token == "" {
			return nil, nil, fmt.Errorf("token is required")
		}
		report, err := provider.AnalyzeBotActivity(ctx, in.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("bot analysis unavailable: %w", err)
		}
		return nil, report, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "estimate_price_impact",
		Description: "Quote a trade against the curve, returning expected output and price impact",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in quoteArgs) (*mcp.CallToolResult, *chain.TradeQuote, error) {
		defer observe("estimate_price_impact")()
		if in.Token == "" || in.AmountIn == "" {
			return nil, nil, fmt.Errorf("token and amountIn are required")
		}
		direction := in.Direction
		if direction == "" {
			direction = "buy"
		}
		quote, err := launchpad.Quote(ctx, in.Token, direction, in.AmountIn)
		if err != nil {
			return nil, nil, fmt.Errorf("quote unavailable: %w", err)
		}
		return nil, quote, nil
	})

	logger.Info().Msg("Serving on stdio")
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Fatal().Err(err).Msg("MCP server terminated")
	}
}

// observe times one tool call for the Prometheus histogram
func observe(tool string) func() {
	start := time.Now()
	return func() {
		metrics.RecordMCPToolCall(tool, serverName, float64(time.Since(start).Milliseconds()))
	}
}
