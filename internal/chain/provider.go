package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nadpilot/nadpilot/internal/config"
)

// transferTopic is keccak256("Transfer(address,address,uint256)")
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	logLookbackBlocks = 256
	radarSampleSize   = 200

	// Pool fee assumptions when the launchpad omits them: bonding-curve
	// pools charge 1%, graduated DEX pools 0.3%.
	bondingCurveFeeBps = 100
	dexFeeBps          = 30
)

// RPCProvider assembles network, pool, holder and transaction views from
// the RPC endpoint and the launchpad API. The launchpad client is
// optional; holder and pool queries need it, transaction queries fall
// back to event logs without it.
type RPCProvider struct {
	rpc       *RPCClient
	launchpad *LaunchpadClient
	multicall common.Address
	chainID   int64
	radar     RadarConfig
}

var _ Provider = (*RPCProvider)(nil)

// NewRPCProvider creates a provider over an RPC client and an optional
// launchpad client.
func NewRPCProvider(rpc *RPCClient, launchpad *LaunchpadClient, cfg config.ChainConfig) *RPCProvider {
	return &RPCProvider{
		rpc:       rpc,
		launchpad: launchpad,
		multicall: common.HexToAddress(cfg.MulticallAddress),
		chainID:   cfg.ChainID,
		radar:     DefaultRadarConfig(),
	}
}

// NetworkState fetches the chain head and gas price concurrently
func (p *RPCProvider) NetworkState(ctx context.Context) (*NetworkState, error) {
	var (
		blockNumber uint64
		gasPrice    *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := p.rpc.BlockNumber(gctx)
		if err != nil {
			return err
		}
		blockNumber = n
		return nil
	})
	g.Go(func() error {
		gp, err := p.rpc.GasPrice(gctx)
		if err != nil {
			return err
		}
		gasPrice = gp
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch network state: %w", err)
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	return &NetworkState{
		BlockNumber:  blockNumber,
		GasPriceWei:  gasPrice.String(),
		GasPriceGwei: gwei,
		ChainID:      p.chainID,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// PoolLiquidity fetches reserve data for a token's pool from the
// launchpad. Tokens still on the bonding curve report virtual reserves
// alongside the real ones.
func (p *RPCProvider) PoolLiquidity(ctx context.Context, token string) (*PoolLiquidity, error) {
	if p.launchpad == nil {
		return nil, fmt.Errorf("no launchpad configured, cannot fetch pool liquidity for %s", token)
	}

	data, err := p.launchpad.TokenByAddress(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool liquidity: %w", err)
	}

	pool := &PoolLiquidity{
		Token:         token,
		Pool:          data.PoolAddress,
		BondingCurve:  !data.IsGraduated,
		ReserveNative: data.ReserveNative,
		ReserveToken:  data.ReserveToken,
		VirtualNative: data.VirtualNative,
		VirtualToken:  data.VirtualToken,
		FeeBps:        dexFeeBps,
		Timestamp:     time.Now().UTC(),
	}
	if pool.BondingCurve {
		pool.FeeBps = bondingCurveFeeBps
	}
	if data.PriceMon != nil {
		pool.PriceNative = *data.PriceMon
	}

	// Older API versions only expose an aggregate liquidity figure.
	// Reconstruct approximate reserves from it so impact estimation
	// still works.
	if pool.ReserveNative == "" && data.LiquidityMon != nil && *data.LiquidityMon > 0 {
		pool.ReserveNative = nativeToWei(*data.LiquidityMon).String()
		if pool.ReserveToken == "" && data.PriceMon != nil && *data.PriceMon > 0 {
			tokens := *data.LiquidityMon / *data.PriceMon
			pool.ReserveToken = nativeToWei(tokens).String()
		}
	}

	if pool.ReserveNative == "" || pool.ReserveToken == "" {
		return nil, fmt.Errorf("launchpad returned no liquidity data for %s", token)
	}
	return pool, nil
}

// HolderAnalysis combines launchpad holder counts with on-chain balance
// reads batched through the multicall contract.
func (p *RPCProvider) HolderAnalysis(ctx context.Context, token string) (*HolderAnalysis, error) {
	if p.launchpad == nil {
		return nil, fmt.Errorf("no launchpad configured, cannot fetch holder analysis for %s", token)
	}

	data, err := p.launchpad.TokenByAddress(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token data: %w", err)
	}

	tokenAddr := common.HexToAddress(token)
	calls := []Call{
		{Target: tokenAddr, CallData: PackTotalSupply(), AllowFailure: true},
		{Target: tokenAddr, CallData: PackBalanceOf(common.HexToAddress(data.CreatorAddress)), AllowFailure: true},
	}
	poolIdx := -1
	if data.PoolAddress != "" {
		poolIdx = len(calls)
		calls = append(calls, Call{Target: tokenAddr, CallData: PackBalanceOf(common.HexToAddress(data.PoolAddress)), AllowFailure: true})
	}

	results, err := p.rpc.Multicall(ctx, p.multicall, calls)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balances: %w", err)
	}

	analysis := &HolderAnalysis{
		Token:          token,
		CreatorBalance: "0",
		Timestamp:      time.Now().UTC(),
	}
	if data.HoldersCount != nil {
		analysis.HolderCount = *data.HoldersCount
	}

	var totalSupply *big.Int
	if results[0].Success {
		totalSupply, _ = UnpackUint256(results[0].ReturnData)
	}
	if totalSupply == nil || totalSupply.Sign() == 0 {
		totalSupply, err = parseAmount(data.TotalSupply)
		if err != nil || totalSupply.Sign() == 0 {
			return nil, fmt.Errorf("cannot determine total supply for %s", token)
		}
	}
	analysis.TotalSupply = totalSupply.String()

	if results[1].Success {
		if bal, err := UnpackUint256(results[1].ReturnData); err == nil {
			analysis.CreatorBalance = bal.String()
			analysis.CreatorPct = pctOf(bal, totalSupply)
		}
	}
	if poolIdx >= 0 && results[poolIdx].Success {
		if bal, err := UnpackUint256(results[poolIdx].ReturnData); err == nil {
			analysis.PoolPct = pctOf(bal, totalSupply)
		}
	}

	analysis.ConcentrationRisk = gradeConcentration(analysis.CreatorPct, analysis.HolderCount)
	return analysis, nil
}

// gradeConcentration classifies ownership risk. An unknown holder count
// is treated as tiny.
func gradeConcentration(creatorPct float64, holders uint64) string {
	switch {
	case creatorPct >= 20 || holders < 10:
		return "high"
	case creatorPct >= 10 || holders < 50:
		return "medium"
	default:
		return "low"
	}
}

// RecentTransactions returns up to n recent trades for a token, newest
// first. The launchpad trade feed is primary; transfer event logs are
// the fallback.
func (p *RPCProvider) RecentTransactions(ctx context.Context, token string, n int) ([]Transaction, error) {
	if n <= 0 {
		n = 50
	}

	if p.launchpad != nil {
		trades, err := p.launchpad.TokenTrades(ctx, token, n)
		if err == nil {
			return tradesToTransactions(trades, n), nil
		}
		log.Warn().Err(err).Str("token", token).Msg("Launchpad trade feed unavailable, falling back to event logs")
	}

	return p.transactionsFromLogs(ctx, token, n)
}

func tradesToTransactions(trades []TradeRecord, n int) []Transaction {
	txs := make([]Transaction, 0, len(trades))
	for _, t := range trades {
		txs = append(txs, Transaction{
			Hash:        t.TxHash,
			Sender:      t.Trader,
			Direction:   t.Direction,
			ValueWei:    t.AmountNative,
			AmountToken: t.AmountToken,
			Block:       t.Block,
			Timestamp:   t.Timestamp,
		})
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
	if len(txs) > n {
		txs = txs[:n]
	}
	return txs
}

func (p *RPCProvider) transactionsFromLogs(ctx context.Context, token string, n int) ([]Transaction, error) {
	head, err := p.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain head: %w", err)
	}
	from := uint64(0)
	if head > logLookbackBlocks {
		from = head - logLookbackBlocks
	}

	logs, err := p.rpc.GetLogs(ctx, common.HexToAddress(token), [][]common.Hash{{transferTopic}}, from, head)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfer logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	blockTimes, err := p.resolveBlockTimes(ctx, logs)
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		amount := new(big.Int).SetBytes(l.Data)
		txs = append(txs, Transaction{
			Hash:      l.TxHash.Hex(),
			Sender:    common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			Recipient: common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
			// Raw transfer logs cannot tell buys from sells
			Direction:   "transfer",
			AmountToken: amount.String(),
			Block:       uint64(l.BlockNumber),
			Timestamp:   blockTimes[uint64(l.BlockNumber)],
		})
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].Block > txs[j].Block
	})
	if len(txs) > n {
		txs = txs[:n]
	}
	return txs, nil
}

// resolveBlockTimes fetches headers for the distinct blocks in a log set
func (p *RPCProvider) resolveBlockTimes(ctx context.Context, logs []RPCLog) (map[uint64]time.Time, error) {
	blockSet := map[uint64]struct{}{}
	for _, l := range logs {
		blockSet[uint64(l.BlockNumber)] = struct{}{}
	}

	blockTimes := make(map[uint64]time.Time, len(blockSet))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for number := range blockSet {
		number := number
		g.Go(func() error {
			header, err := p.rpc.HeaderByNumber(gctx, number)
			if err != nil {
				return err
			}
			mu.Lock()
			blockTimes[number] = header.Timestamp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve block timestamps: %w", err)
	}
	return blockTimes, nil
}

// AnalyzeBotActivity scans the recent transaction window for
// manipulation patterns.
func (p *RPCProvider) AnalyzeBotActivity(ctx context.Context, token string) (*BotRadarReport, error) {
	txs, err := p.RecentTransactions(ctx, token, radarSampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to gather transactions for bot radar: %w", err)
	}
	return ScanTransactions(token, txs, p.radar), nil
}

// Multicall batches read calls through the configured aggregator contract
func (p *RPCProvider) Multicall(ctx context.Context, calls []Call) ([]CallResult, error) {
	return p.rpc.Multicall(ctx, p.multicall, calls)
}

func pctOf(part, whole *big.Int) float64 {
	if whole.Sign() == 0 {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(part), new(big.Float).SetInt(whole))
	pct, _ := new(big.Float).Mul(ratio, big.NewFloat(100)).Float64()
	return pct
}

func nativeToWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18)).Int(nil)
	return wei
}
