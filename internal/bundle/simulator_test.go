package bundle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadpilot/nadpilot/internal/chain"
)

// fakeCaller replays canned results per step target
type fakeCaller struct {
	block    uint64
	gasPrice *big.Int
	results  map[common.Address][]byte
	reverts  map[common.Address]error
	calls    int
}

func (f *fakeCaller) BlockNumber(ctx context.Context) (uint64, error) { return f.block, nil }

func (f *fakeCaller) GasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeCaller) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	return 21_000, nil
}

func (f *fakeCaller) CallContractWithOverrides(ctx context.Context, msg chain.CallMsg, blockTag string, overrides map[string]interface{}) ([]byte, error) {
	f.calls++
	if err, ok := f.reverts[*msg.To]; ok {
		return nil, err
	}
	return f.results[*msg.To], nil
}

func outBytes(v int64) []byte {
	return new(big.Int).SetInt64(v).FillBytes(make([]byte, 32))
}

func TestSimulateCleanBundle(t *testing.T) {
	swapTarget := common.HexToAddress("0x0000000000000000000000000000000000000002")
	caller := &fakeCaller{
		block:    100,
		gasPrice: big.NewInt(10),
		results:  map[common.Address][]byte{swapTarget: outBytes(990)},
	}
	sim := NewSimulator(caller)

	b := &AtomicBundle{
		ID:        "bundle-1",
		BudgetWei: big.NewInt(1_000_000),
		Steps: []Step{
			{
				Name:        "swap",
				To:          swapTarget,
				GasLimit:    100_000,
				ExpectedOut: big.NewInt(1000),
				MinOutWei:   big.NewInt(950),
			},
		},
	}

	receipt, err := sim.Simulate(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, uint64(100), receipt.BlockHeight)
	assert.True(t, receipt.MinOutHeld)
	assert.InDelta(t, 1.0, receipt.SlippagePct, 1e-9)
	require.Len(t, receipt.Steps, 1)
	assert.Equal(t, int64(990), receipt.Steps[0].OutWei.Int64())
}

func TestSimulateRevertAbortsBundle(t *testing.T) {
	first := common.HexToAddress("0x0000000000000000000000000000000000000001")
	second := common.HexToAddress("0x0000000000000000000000000000000000000002")
	third := common.HexToAddress("0x0000000000000000000000000000000000000003")
	caller := &fakeCaller{
		block:    100,
		gasPrice: big.NewInt(10),
		results:  map[common.Address][]byte{first: outBytes(1)},
		reverts:  map[common.Address]error{second: errors.New("execution reverted: INSUFFICIENT_OUTPUT")},
	}
	sim := NewSimulator(caller)

	b := &AtomicBundle{
		ID: "bundle-2",
		Steps: []Step{
			{Name: "approve", To: first, GasLimit: 50_000},
			{Name: "swap", To: second, GasLimit: 150_000},
			{Name: "transfer", To: third, GasLimit: 50_000},
		},
	}

	receipt, err := sim.Simulate(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "swap", receipt.FailedStep)
	assert.Contains(t, receipt.FailReason, "INSUFFICIENT_OUTPUT")
	assert.Len(t, receipt.Steps, 2, "execution stops at the revert")
	assert.Equal(t, 2, caller.calls)
}

func TestSimulateMinOutBroken(t *testing.T) {
	target := common.HexToAddress("0x0000000000000000000000000000000000000002")
	caller := &fakeCaller{
		block:    100,
		gasPrice: big.NewInt(10),
		results:  map[common.Address][]byte{target: outBytes(900)},
	}
	sim := NewSimulator(caller)

	b := &AtomicBundle{
		ID: "bundle-3",
		Steps: []Step{
			{Name: "swap", To: target, GasLimit: 100_000, MinOutWei: big.NewInt(950)},
		},
	}

	receipt, err := sim.Simulate(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.False(t, receipt.MinOutHeld)
}
