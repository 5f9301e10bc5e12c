package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Multicall3 aggregate3 and a minimal ERC-20 read surface. The multicall
// contract is deployed at the same address on every EVM chain.
const (
	multicall3ABIJSON = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

	erc20ABIJSON = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

	// multicallBatchSize caps the legs per aggregate3 call
	multicallBatchSize = 100
	// multicallConcurrency caps parallel batches in flight
	multicallConcurrency = 4
)

var (
	multicallABI abi.ABI
	erc20ABI     abi.ABI
	abiOnce      sync.Once
)

func loadABIs() {
	abiOnce.Do(func() {
		var err error
		multicallABI, err = abi.JSON(strings.NewReader(multicall3ABIJSON))
		if err != nil {
			panic(fmt.Sprintf("invalid multicall3 ABI: %v", err))
		}
		erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			panic(fmt.Sprintf("invalid erc20 ABI: %v", err))
		}
	})
}

type multicall3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type multicall3Result struct {
	Success    bool
	ReturnData []byte
}

// Multicall executes the given calls through the Multicall3 contract,
// chunked into batches and fanned out with bounded concurrency. Results
// keep the input order.
func (c *RPCClient) Multicall(ctx context.Context, contract common.Address, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	loadABIs()

	results := make([]CallResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(multicallConcurrency)

	for start := 0; start < len(calls); start += multicallBatchSize {
		end := start + multicallBatchSize
		if end > len(calls) {
			end = len(calls)
		}
		start, end := start, end

		g.Go(func() error {
			batch, err := c.callBatch(gctx, contract, calls[start:end])
			if err != nil {
				return err
			}
			copy(results[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *RPCClient) callBatch(ctx context.Context, contract common.Address, calls []Call) ([]CallResult, error) {
	legs := make([]multicall3Call, len(calls))
	for i, call := range calls {
		legs[i] = multicall3Call{
			Target:       call.Target,
			AllowFailure: call.AllowFailure,
			CallData:     call.CallData,
		}
	}

	input, err := multicallABI.Pack("aggregate3", legs)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3: %w", err)
	}

	raw, err := c.CallContract(ctx, CallMsg{To: &contract, Data: input}, "latest")
	if err != nil {
		return nil, fmt.Errorf("multicall failed: %w", err)
	}

	unpacked, err := multicallABI.Unpack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}
	decoded := *abi.ConvertType(unpacked[0], new([]multicall3Result)).(*[]multicall3Result)
	if len(decoded) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(decoded), len(calls))
	}

	out := make([]CallResult, len(decoded))
	for i, r := range decoded {
		out[i] = CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return out, nil
}

// PackBalanceOf builds the calldata for ERC-20 balanceOf(account)
func PackBalanceOf(account common.Address) []byte {
	loadABIs()
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		panic(fmt.Sprintf("failed to pack balanceOf: %v", err))
	}
	return data
}

// PackTotalSupply builds the calldata for ERC-20 totalSupply()
func PackTotalSupply() []byte {
	loadABIs()
	data, err := erc20ABI.Pack("totalSupply")
	if err != nil {
		panic(fmt.Sprintf("failed to pack totalSupply: %v", err))
	}
	return data
}

// UnpackUint256 decodes a single uint256 return value
func UnpackUint256(data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty return data")
	}
	loadABIs()
	values, err := erc20ABI.Unpack("totalSupply", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack uint256: %w", err)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T", values[0])
	}
	return v, nil
}
