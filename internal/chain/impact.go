package chain

import (
	"fmt"
	"math/big"
)

// TradeDirection identifies which side of the pool a trade enters
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// ImpactWarning grades the expected price impact of a trade
type ImpactWarning string

const (
	ImpactLow    ImpactWarning = "low"    // < 1%
	ImpactMedium ImpactWarning = "medium" // < 3%
	ImpactHigh   ImpactWarning = "high"   // < 5%
	ImpactSevere ImpactWarning = "severe" // >= 5%
)

// PriceImpactEstimate is the outcome of the impact computation. Amounts
// are integer strings in the smallest unit of the respective asset.
type PriceImpactEstimate struct {
	Token        string         `json:"token"`
	Direction    TradeDirection `json:"direction"`
	AmountIn     string         `json:"amountIn"`
	ExpectedOut  string         `json:"expectedOut"`
	MinOut       string         `json:"minOut"`
	ImpactPct    float64        `json:"impactPct"`
	Warning      ImpactWarning  `json:"warning"`
	BondingCurve bool           `json:"bondingCurve"`
}

var bpsDenominator = big.NewInt(10000)

// EstimatePriceImpact computes the expected output for a trade against
// the pool, the minimum acceptable output under the slippage tolerance,
// and a warning grade. Bonding-curve pools price against real plus
// virtual reserves with the same constant-product formula.
func EstimatePriceImpact(pool *PoolLiquidity, amountIn *big.Int, direction TradeDirection, slippageTolerancePct float64) (*PriceImpactEstimate, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool liquidity is required")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("trade amount must be positive")
	}
	if direction != DirectionBuy && direction != DirectionSell {
		return nil, fmt.Errorf("invalid trade direction %q", direction)
	}
	if slippageTolerancePct < 0 || slippageTolerancePct >= 100 {
		return nil, fmt.Errorf("slippage tolerance %.2f%% out of range", slippageTolerancePct)
	}
	if pool.FeeBps < 0 || pool.FeeBps >= 10000 {
		return nil, fmt.Errorf("pool fee %d bps out of range", pool.FeeBps)
	}

	reserveNative, err := parseAmount(pool.ReserveNative)
	if err != nil {
		return nil, fmt.Errorf("invalid native reserve: %w", err)
	}
	reserveToken, err := parseAmount(pool.ReserveToken)
	if err != nil {
		return nil, fmt.Errorf("invalid token reserve: %w", err)
	}

	if pool.BondingCurve {
		virtualNative, err := parseAmount(pool.VirtualNative)
		if err != nil {
			return nil, fmt.Errorf("invalid virtual native reserve: %w", err)
		}
		virtualToken, err := parseAmount(pool.VirtualToken)
		if err != nil {
			return nil, fmt.Errorf("invalid virtual token reserve: %w", err)
		}
		reserveNative = new(big.Int).Add(reserveNative, virtualNative)
		reserveToken = new(big.Int).Add(reserveToken, virtualToken)
	}

	// Buys spend native for tokens; sells spend tokens for native
	reserveIn, reserveOut := reserveNative, reserveToken
	if direction == DirectionSell {
		reserveIn, reserveOut = reserveToken, reserveNative
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("pool has no liquidity")
	}

	// amountInAfterFee = amountIn * (10000 - feeBps) / 10000
	feeFactor := big.NewInt(int64(10000 - pool.FeeBps))
	inAfterFee := new(big.Int).Mul(amountIn, feeFactor)
	inAfterFee.Div(inAfterFee, bpsDenominator)

	// out = reserveOut * inAfterFee / (reserveIn + inAfterFee)
	numerator := new(big.Int).Mul(reserveOut, inAfterFee)
	denominator := new(big.Int).Add(reserveIn, inAfterFee)
	expectedOut := new(big.Int).Div(numerator, denominator)

	// spotOut = amountIn * reserveOut / reserveIn (fee-free, zero impact)
	spotOut := new(big.Int).Mul(amountIn, reserveOut)
	spotOut.Div(spotOut, reserveIn)

	impactPct := 0.0
	if spotOut.Sign() > 0 {
		diff := new(big.Int).Sub(spotOut, expectedOut)
		ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(spotOut)).Float64()
		impactPct = ratio * 100
	}

	// minOut = expectedOut * (10000 - slippageBps) / 10000
	slippageBps := big.NewInt(int64(slippageTolerancePct * 100))
	minOut := new(big.Int).Mul(expectedOut, new(big.Int).Sub(bpsDenominator, slippageBps))
	minOut.Div(minOut, bpsDenominator)

	return &PriceImpactEstimate{
		Token:        pool.Token,
		Direction:    direction,
		AmountIn:     amountIn.String(),
		ExpectedOut:  expectedOut.String(),
		MinOut:       minOut.String(),
		ImpactPct:    impactPct,
		Warning:      gradeImpact(impactPct),
		BondingCurve: pool.BondingCurve,
	}, nil
}

func gradeImpact(pct float64) ImpactWarning {
	switch {
	case pct < 1:
		return ImpactLow
	case pct < 3:
		return ImpactMedium
	case pct < 5:
		return ImpactHigh
	default:
		return ImpactSevere
	}
}

// parseAmount parses a decimal integer string; empty means zero
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return v, nil
}
