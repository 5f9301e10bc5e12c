package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkState is a snapshot of chain-level conditions. Monetary values
// are decimal strings in native units; float fields are display mirrors.
type NetworkState struct {
	BlockNumber  uint64    `json:"blockNumber"`
	GasPriceWei  string    `json:"gasPriceWei"`
	GasPriceGwei float64   `json:"gasPriceGwei"`
	ChainID      int64     `json:"chainId"`
	Timestamp    time.Time `json:"timestamp"`
}

// PoolLiquidity describes the trading pool for a token. Bonding-curve
// pools carry virtual reserves that participate in pricing alongside the
// real ones.
type PoolLiquidity struct {
	Token         string    `json:"token"`
	Pool          string    `json:"pool,omitempty"`
	BondingCurve  bool      `json:"bondingCurve"`
	ReserveNative string    `json:"reserveNative"`
	ReserveToken  string    `json:"reserveToken"`
	VirtualNative string    `json:"virtualNative,omitempty"`
	VirtualToken  string    `json:"virtualToken,omitempty"`
	FeeBps        int       `json:"feeBps"`
	PriceNative   float64   `json:"priceNative,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// HolderAnalysis summarizes ownership concentration for a token
type HolderAnalysis struct {
	Token             string    `json:"token"`
	HolderCount       uint64    `json:"holderCount"`
	TotalSupply       string    `json:"totalSupply"`
	CreatorBalance    string    `json:"creatorBalance"`
	CreatorPct        float64   `json:"creatorPct"`
	PoolPct           float64   `json:"poolPct"`
	ConcentrationRisk string    `json:"concentrationRisk"` // low | medium | high
	Timestamp         time.Time `json:"timestamp"`
}

// Transaction is one observed trade or transfer of a token. ValueWei is
// the native-unit trade size when the source knows it; AmountToken is
// the token-unit size.
type Transaction struct {
	Hash        string    `json:"hash"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient,omitempty"`
	Direction   string    `json:"direction"` // buy | sell | transfer
	ValueWei    string    `json:"valueWei,omitempty"`
	AmountToken string    `json:"amountToken,omitempty"`
	Block       uint64    `json:"block"`
	Timestamp   time.Time `json:"timestamp"`
}

// Call is one multicall leg
type Call struct {
	Target       common.Address
	CallData     []byte
	AllowFailure bool
}

// CallResult is the outcome of one multicall leg
type CallResult struct {
	Success    bool
	ReturnData []byte
}

// Provider is the read-only on-chain data façade. All implementations
// must be safe for concurrent use.
type Provider interface {
	NetworkState(ctx context.Context) (*NetworkState, error)
	PoolLiquidity(ctx context.Context, token string) (*PoolLiquidity, error)
	HolderAnalysis(ctx context.Context, token string) (*HolderAnalysis, error)
	RecentTransactions(ctx context.Context, token string, n int) ([]Transaction, error)
	AnalyzeBotActivity(ctx context.Context, token string) (*BotRadarReport, error)
	Multicall(ctx context.Context, calls []Call) ([]CallResult, error)
}
