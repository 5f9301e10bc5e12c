package bundle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// gasBufferPct is the safety margin applied on top of limit-based gas
// cost when computing the bundle's maximum cost.
const gasBufferPct = 15

// ContractCaller is the chain surface the simulator needs. The RPC
// client satisfies it.
type ContractCaller interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error)
	CallContractWithOverrides(ctx context.Context, msg chain.CallMsg, blockTag string, overrides map[string]interface{}) ([]byte, error)
}

// Simulator executes bundles against a state fork of the current block.
// No state ever reaches the chain.
type Simulator struct {
	caller ContractCaller
	now    func() time.Time
	log    zerolog.Logger
}

// NewSimulator creates a simulator over the given caller
func NewSimulator(caller ContractCaller) *Simulator {
	return &Simulator{
		caller: caller,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("component", "bundle-simulator").Logger(),
	}
}

// Simulate runs every step of the bundle in order against the current
// block's state. A revert anywhere marks the receipt failed and stops
// execution; prior step results are preserved.
func (s *Simulator) Simulate(ctx context.Context, b *AtomicBundle) (*SimulationReceipt, error) {
	started := time.Now()

	height, err := s.caller.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pin simulation block: %w", err)
	}
	gasPrice, err := s.caller.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price for simulation: %w", err)
	}

	receipt := &SimulationReceipt{
		ID:          uuid.New().String(),
		BundleID:    b.ID,
		BlockHeight: height,
		SimulatedAt: s.now(),
		Success:     true,
		MinOutHeld:  true,
	}

	blockTag := hexutil.EncodeUint64(height)
	overrides := s.forkOverrides(b)

	var worstSlippage float64
	for _, step := range b.Steps {
		result := s.runStep(ctx, step, blockTag, overrides)
		receipt.Steps = append(receipt.Steps, result)
		receipt.GasUsedTotal += result.GasUsed

		if !result.Success {
			receipt.Success = false
			receipt.FailedStep = step.Name
			receipt.FailReason = result.Revert
			break
		}
		if step.ExpectedOut != nil && step.ExpectedOut.Sign() > 0 && result.OutWei != nil {
			slip := slippagePct(step.ExpectedOut, result.OutWei)
			if slip > worstSlippage {
				worstSlippage = slip
			}
		}
		if step.MinOutWei != nil && result.OutWei != nil && result.OutWei.Cmp(step.MinOutWei) < 0 {
			receipt.MinOutHeld = false
		}
	}
	receipt.SlippagePct = worstSlippage
	receipt.MaxCostWei = maxCost(b, gasPrice)

	status := "success"
	if !receipt.Success {
		status = "reverted"
	}
	metrics.RecordSimulation(status, float64(time.Since(started).Milliseconds()))
	s.log.Debug().
		Str("bundle_id", b.ID).
		Uint64("block", height).
		Bool("success", receipt.Success).
		Float64("slippage_pct", receipt.SlippagePct).
		Msg("Bundle simulated")

	return receipt, nil
}

// forkOverrides seeds the state overlay: the executing account gets
// budget plus gas headroom so the fork never fails on balance alone.
func (s *Simulator) forkOverrides(b *AtomicBundle) map[string]interface{} {
	balance := new(big.Int)
	if b.BudgetWei != nil {
		balance.Set(b.BudgetWei)
	}
	// Headroom for gas on top of the budget.
	balance.Add(balance, new(big.Int).Mul(big.NewInt(int64(b.TotalGasLimit())), big.NewInt(1_000_000_000)))
	return map[string]interface{}{
		b.Account.Hex(): map[string]interface{}{
			"balance": hexutil.EncodeBig(balance),
		},
	}
}

func (s *Simulator) runStep(ctx context.Context, step Step, blockTag string, overrides map[string]interface{}) StepResult {
	result := StepResult{Name: step.Name}

	msg := chain.CallMsg{
		From:  step.From,
		To:    &step.To,
		Data:  step.Data,
		Value: step.ValueWei,
		Gas:   step.GasLimit,
	}

	gas, err := s.caller.EstimateGas(ctx, msg)
	if err == nil {
		result.GasUsed = gas
	} else {
		result.GasUsed = step.GasLimit
	}

	out, err := s.caller.CallContractWithOverrides(ctx, msg, blockTag, overrides)
	if err != nil {
		result.Revert = err.Error()
		return result
	}

	result.Success = true
	result.ReturnData = out
	if len(out) >= 32 {
		result.OutWei = new(big.Int).SetBytes(out[len(out)-32:])
	}
	return result
}

// maxCost is limit-based gas charging with the safety buffer, plus the
// bundle's value transfers.
func maxCost(b *AtomicBundle, gasPrice *big.Int) *big.Int {
	fee := gasPrice
	if b.MaxFeePerGasWei != nil {
		fee = b.MaxFeePerGasWei
	}
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(b.TotalGasLimit()), fee)
	gasCost.Mul(gasCost, big.NewInt(100+gasBufferPct))
	gasCost.Div(gasCost, big.NewInt(100))
	return gasCost.Add(gasCost, b.TotalValue())
}

func slippagePct(expected, actual *big.Int) float64 {
	if actual.Cmp(expected) >= 0 {
		return 0
	}
	shortfall := new(big.Int).Sub(expected, actual)
	ratio := new(big.Float).Quo(new(big.Float).SetInt(shortfall), new(big.Float).SetInt(expected))
	pct, _ := new(big.Float).Mul(ratio, big.NewFloat(100)).Float64()
	return pct
}
