package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dexPool(reserveNative, reserveToken string, feeBps int) *PoolLiquidity {
	return &PoolLiquidity{
		Token:         "0xToken",
		Pool:          "0xPool",
		ReserveNative: reserveNative,
		ReserveToken:  reserveToken,
		FeeBps:        feeBps,
	}
}

func TestEstimatePriceImpact_Buy(t *testing.T) {
	pool := dexPool("100000", "1000000", 0)

	est, err := EstimatePriceImpact(pool, big.NewInt(10000), DirectionBuy, 1.0)
	require.NoError(t, err)

	// out = 1000000 * 10000 / 110000 = 90909
	assert.Equal(t, "90909", est.ExpectedOut)
	// spot = 100000, impact = (100000-90909)/100000
	assert.InDelta(t, 9.091, est.ImpactPct, 0.001)
	assert.Equal(t, ImpactSevere, est.Warning)
	// minOut = 90909 * 9900 / 10000
	assert.Equal(t, "89999", est.MinOut)
	assert.False(t, est.BondingCurve)
}

func TestEstimatePriceImpact_Sell(t *testing.T) {
	pool := dexPool("100000", "1000000", 0)

	est, err := EstimatePriceImpact(pool, big.NewInt(100000), DirectionSell, 0)
	require.NoError(t, err)

	// out = 100000 * 100000 / 1100000 = 9090 native
	assert.Equal(t, "9090", est.ExpectedOut)
	assert.InDelta(t, 9.1, est.ImpactPct, 0.01)
	assert.Equal(t, ImpactSevere, est.Warning)
}

func TestEstimatePriceImpact_FeeReducesOutput(t *testing.T) {
	noFee, err := EstimatePriceImpact(dexPool("100000", "1000000", 0), big.NewInt(10000), DirectionBuy, 0)
	require.NoError(t, err)

	withFee, err := EstimatePriceImpact(dexPool("100000", "1000000", 300), big.NewInt(10000), DirectionBuy, 0)
	require.NoError(t, err)

	assert.Equal(t, "90909", noFee.ExpectedOut)
	assert.Equal(t, "88422", withFee.ExpectedOut)
	assert.Greater(t, withFee.ImpactPct, noFee.ImpactPct)
}

func TestEstimatePriceImpact_WarningGrades(t *testing.T) {
	tests := []struct {
		name     string
		amountIn int64
		warning  ImpactWarning
	}{
		{name: "small trade is low impact", amountIn: 500, warning: ImpactLow},
		{name: "moderate trade is medium impact", amountIn: 2000, warning: ImpactMedium},
		{name: "large trade is severe impact", amountIn: 10000, warning: ImpactSevere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := dexPool("100000", "1000000", 0)
			est, err := EstimatePriceImpact(pool, big.NewInt(tt.amountIn), DirectionBuy, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.warning, est.Warning)
		})
	}
}

func TestEstimatePriceImpact_BondingCurveUsesVirtualReserves(t *testing.T) {
	curve := &PoolLiquidity{
		Token:         "0xToken",
		BondingCurve:  true,
		ReserveNative: "1000",
		ReserveToken:  "1000000",
		VirtualNative: "99000",
		VirtualToken:  "0",
		FeeBps:        0,
	}

	est, err := EstimatePriceImpact(curve, big.NewInt(10000), DirectionBuy, 0)
	require.NoError(t, err)

	// Effective reserves 100000/1000000, same as the DEX buy case
	assert.Equal(t, "90909", est.ExpectedOut)
	assert.True(t, est.BondingCurve)

	// Without the virtual cushion the thin real reserve is obliterated
	thin, err := EstimatePriceImpact(dexPool("1000", "1000000", 0), big.NewInt(10000), DirectionBuy, 0)
	require.NoError(t, err)
	assert.InDelta(t, 90.9, thin.ImpactPct, 0.1)
	assert.Greater(t, thin.ImpactPct, est.ImpactPct)
}

func TestEstimatePriceImpact_Validation(t *testing.T) {
	pool := dexPool("100000", "1000000", 0)

	tests := []struct {
		name     string
		pool     *PoolLiquidity
		amountIn *big.Int
		dir      TradeDirection
		slippage float64
		wantErr  string
	}{
		{name: "nil pool", pool: nil, amountIn: big.NewInt(1), dir: DirectionBuy, wantErr: "pool liquidity is required"},
		{name: "zero amount", pool: pool, amountIn: big.NewInt(0), dir: DirectionBuy, wantErr: "must be positive"},
		{name: "negative amount", pool: pool, amountIn: big.NewInt(-5), dir: DirectionBuy, wantErr: "must be positive"},
		{name: "bad direction", pool: pool, amountIn: big.NewInt(1), dir: TradeDirection("hold"), wantErr: "invalid trade direction"},
		{name: "slippage too high", pool: pool, amountIn: big.NewInt(1), dir: DirectionBuy, slippage: 100, wantErr: "out of range"},
		{name: "bad fee", pool: dexPool("100", "100", 10000), amountIn: big.NewInt(1), dir: DirectionBuy, wantErr: "fee 10000 bps out of range"},
		{name: "empty pool", pool: dexPool("0", "0", 0), amountIn: big.NewInt(1), dir: DirectionBuy, wantErr: "no liquidity"},
		{name: "garbage reserve", pool: dexPool("12x3", "100", 0), amountIn: big.NewInt(1), dir: DirectionBuy, wantErr: "invalid native reserve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EstimatePriceImpact(tt.pool, tt.amountIn, tt.dir, tt.slippage)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	v, err = parseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	_, err = parseAmount("-1")
	assert.Error(t, err)

	_, err = parseAmount("0x10")
	assert.Error(t, err)
}
