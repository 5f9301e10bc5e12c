package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadpilot/nadpilot/internal/config"
)

func abiConvertCalls(v interface{}) *[]multicall3Call {
	return abi.ConvertType(v, new([]multicall3Call)).(*[]multicall3Call)
}

func packUint256(v int64) ([]byte, error) {
	return erc20ABI.Methods["totalSupply"].Outputs.Pack(big.NewInt(v))
}

func TestRPCProvider_NetworkState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decodedRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "eth_blockNumber":
			writeRPCResult(w, req.ID, `"0x64"`)
		case "eth_gasPrice":
			writeRPCResult(w, req.ID, `"0x3b9aca00"`)
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	defer srv.Close()

	provider := NewRPCProvider(rpcTestClient(srv, 143), nil, config.ChainConfig{ChainID: 143})

	state, err := provider.NetworkState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), state.BlockNumber)
	assert.Equal(t, "1000000000", state.GasPriceWei)
	assert.InDelta(t, 1.0, state.GasPriceGwei, 0.0001)
	assert.Equal(t, int64(143), state.ChainID)
	assert.False(t, state.Timestamp.IsZero())
}

func TestRPCProvider_PoolLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {
			"address": "0xabc",
			"name": "T", "symbol": "T", "decimals": 18,
			"total_supply": "1000000",
			"creator_address": "0xc",
			"created_at": "2025-06-01T00:00:00Z",
			"pool_address": "0xpool",
			"is_graduated": false,
			"reserve_native": "1000",
			"reserve_token": "1000000",
			"virtual_native": "99000",
			"virtual_token": "0",
			"price_mon": 0.5
		}}`))
	}))
	defer srv.Close()

	provider := NewRPCProvider(nil, launchpadTestClient(t, srv, ""), config.ChainConfig{})

	pool, err := provider.PoolLiquidity(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, pool.BondingCurve)
	assert.Equal(t, bondingCurveFeeBps, pool.FeeBps)
	assert.Equal(t, "1000", pool.ReserveNative)
	assert.Equal(t, "99000", pool.VirtualNative)
	assert.Equal(t, 0.5, pool.PriceNative)
}

func TestRPCProvider_PoolLiquidity_GraduatedUsesDEXFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {
			"address": "0xabc", "name": "T", "symbol": "T", "decimals": 18,
			"total_supply": "1", "creator_address": "0xc", "created_at": "2025-06-01T00:00:00Z",
			"is_graduated": true,
			"reserve_native": "5000",
			"reserve_token": "900000"
		}}`))
	}))
	defer srv.Close()

	provider := NewRPCProvider(nil, launchpadTestClient(t, srv, ""), config.ChainConfig{})

	pool, err := provider.PoolLiquidity(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, pool.BondingCurve)
	assert.Equal(t, dexFeeBps, pool.FeeBps)
}

func TestRPCProvider_PoolLiquidity_ReconstructsFromAggregate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {
			"address": "0xabc", "name": "T", "symbol": "T", "decimals": 18,
			"total_supply": "1", "creator_address": "0xc", "created_at": "2025-06-01T00:00:00Z",
			"is_graduated": true,
			"liquidity_mon": 2.5,
			"price_mon": 0.5
		}}`))
	}))
	defer srv.Close()

	provider := NewRPCProvider(nil, launchpadTestClient(t, srv, ""), config.ChainConfig{})

	pool, err := provider.PoolLiquidity(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000000", pool.ReserveNative)
	assert.Equal(t, "5000000000000000000", pool.ReserveToken)
}

func TestRPCProvider_PoolLiquidity_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {
			"address": "0xabc", "name": "T", "symbol": "T", "decimals": 18,
			"total_supply": "1", "creator_address": "0xc", "created_at": "2025-06-01T00:00:00Z"
		}}`))
	}))
	defer srv.Close()

	provider := NewRPCProvider(nil, launchpadTestClient(t, srv, ""), config.ChainConfig{})

	_, err := provider.PoolLiquidity(context.Background(), "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no liquidity data")
}

func TestRPCProvider_PoolLiquidity_RequiresLaunchpad(t *testing.T) {
	provider := NewRPCProvider(nil, nil, config.ChainConfig{})

	_, err := provider.PoolLiquidity(context.Background(), "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no launchpad configured")
}

func TestRPCProvider_HolderAnalysis(t *testing.T) {
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolAddr := common.HexToAddress("0x00000000000000000000000000000000000000f0")

	launchpadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {
			"address": "0xabc", "name": "T", "symbol": "T", "decimals": 18,
			"total_supply": "1000",
			"creator_address": "0x00000000000000000000000000000000000000c1",
			"created_at": "2025-06-01T00:00:00Z",
			"holders_count": 5000,
			"pool_address": "0x00000000000000000000000000000000000000f0"
		}}`))
	}))
	defer launchpadSrv.Close()

	loadABIs()
	rpcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decodedRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)

		var callObj map[string]string
		require.NoError(t, json.Unmarshal(req.Params[0], &callObj))
		input, err := hexutil.Decode(callObj["data"])
		require.NoError(t, err)

		method := multicallABI.Methods["aggregate3"]
		args, err := method.Inputs.Unpack(input[4:])
		require.NoError(t, err)
		legs := *abiConvertCalls(args[0])

		results := make([]multicall3Result, len(legs))
		for i, leg := range legs {
			var value int64
			if bytes.Equal(leg.CallData[:4], []byte{0x18, 0x16, 0x0d, 0xdd}) {
				value = 1000 // total supply
			} else {
				switch common.BytesToAddress(leg.CallData[16:36]) {
				case creator:
					value = 250
				case poolAddr:
					value = 300
				}
			}
			ret, err := packUint256(value)
			require.NoError(t, err)
			results[i] = multicall3Result{Success: true, ReturnData: ret}
		}

		packed, err := method.Outputs.Pack(results)
		require.NoError(t, err)
		writeRPCResult(w, req.ID, `"`+hexutil.Encode(packed)+`"`)
	}))
	defer rpcSrv.Close()

	provider := NewRPCProvider(
		rpcTestClient(rpcSrv, 143),
		launchpadTestClient(t, launchpadSrv, ""),
		config.ChainConfig{MulticallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11"},
	)

	analysis, err := provider.HolderAnalysis(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), analysis.HolderCount)
	assert.Equal(t, "1000", analysis.TotalSupply)
	assert.Equal(t, "250", analysis.CreatorBalance)
	assert.InDelta(t, 25.0, analysis.CreatorPct, 0.001)
	assert.InDelta(t, 30.0, analysis.PoolPct, 0.001)
	assert.Equal(t, "high", analysis.ConcentrationRisk)
}

func TestRPCProvider_RecentTransactions_LaunchpadPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"tx_hash": "0xold", "trader": "0xA", "direction": "buy", "amount_native": "100", "amount_token": "500", "block": 10, "timestamp": "2025-06-01T00:00:01Z"},
			{"tx_hash": "0xnew", "trader": "0xB", "direction": "sell", "amount_native": "200", "amount_token": "900", "block": 12, "timestamp": "2025-06-01T00:00:09Z"}
		]}`))
	}))
	defer srv.Close()

	provider := NewRPCProvider(nil, launchpadTestClient(t, srv, ""), config.ChainConfig{})

	txs, err := provider.RecentTransactions(context.Background(), "0xabc", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0xnew", txs[0].Hash, "newest trade first")
	assert.Equal(t, "0xB", txs[0].Sender)
	assert.Equal(t, "200", txs[0].ValueWei)
	assert.Equal(t, "900", txs[0].AmountToken)
}

func TestRPCProvider_RecentTransactions_LogFallback(t *testing.T) {
	fromTopic := "0x000000000000000000000000" + "00000000000000000000000000000000000000a1"
	toTopic := "0x000000000000000000000000" + "00000000000000000000000000000000000000b2"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decodedRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "eth_blockNumber":
			writeRPCResult(w, req.ID, `"0x100"`)
		case "eth_getLogs":
			writeRPCResult(w, req.ID, `[
				{"address": "0xabc0000000000000000000000000000000000000",
				 "topics": ["`+transferTopic.Hex()+`", "`+fromTopic+`", "`+toTopic+`"],
				 "data": "0x0000000000000000000000000000000000000000000000000de0b6b3a7640000",
				 "blockNumber": "0x10", "transactionHash": "0x1111111111111111111111111111111111111111111111111111111111111111", "logIndex": "0x0"},
				{"address": "0xabc0000000000000000000000000000000000000",
				 "topics": ["`+transferTopic.Hex()+`", "`+fromTopic+`", "`+toTopic+`"],
				 "data": "0x0000000000000000000000000000000000000000000000001bc16d674ec80000",
				 "blockNumber": "0x20", "transactionHash": "0x2222222222222222222222222222222222222222222222222222222222222222", "logIndex": "0x0"}
			]`)
		case "eth_getBlockByNumber":
			var tag string
			require.NoError(t, json.Unmarshal(req.Params[0], &tag))
			if tag == "0x10" {
				writeRPCResult(w, req.ID, `{"number": "0x10", "timestamp": "0x6553f100"}`)
			} else {
				writeRPCResult(w, req.ID, `{"number": "0x20", "timestamp": "0x6553f164"}`)
			}
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	defer srv.Close()

	// No launchpad configured, the provider falls back to transfer logs
	provider := NewRPCProvider(rpcTestClient(srv, 143), nil, config.ChainConfig{})

	txs, err := provider.RecentTransactions(context.Background(), "0xabc0000000000000000000000000000000000000", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	// Block 0x20 has the later timestamp and sorts first
	assert.Equal(t, uint64(32), txs[0].Block)
	assert.Equal(t, "transfer", txs[0].Direction)
	assert.Equal(t, "2000000000000000000", txs[0].AmountToken)
	assert.True(t, txs[0].Timestamp.After(txs[1].Timestamp))
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000a1").Hex(), txs[0].Sender)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000b2").Hex(), txs[0].Recipient)
}

func TestRPCProvider_AnalyzeBotActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"tx_hash": "0xf1", "trader": "0xAttacker", "direction": "buy", "amount_native": "10000000000000000000", "amount_token": "1", "block": 10, "timestamp": "2025-06-01T12:00:00Z"},
			{"tx_hash": "0xv1", "trader": "0xVictim", "direction": "buy", "amount_native": "1000000000000000000", "amount_token": "1", "block": 10, "timestamp": "2025-06-01T12:00:00.3Z"},
			{"tx_hash": "0xf2", "trader": "0xAttacker", "direction": "sell", "amount_native": "10000000000000000000", "amount_token": "1", "block": 10, "timestamp": "2025-06-01T12:00:00.6Z"}
		]}`))
	}))
	defer srv.Close()

	provider := NewRPCProvider(nil, launchpadTestClient(t, srv, ""), config.ChainConfig{})

	report, err := provider.AnalyzeBotActivity(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", report.Token)
	assert.Equal(t, 3, report.TxCount)

	hit, found := findPattern(report, PatternSandwich)
	require.True(t, found)
	assert.GreaterOrEqual(t, hit.Confidence, 0.85)
	assert.Contains(t, report.Recommendation, "MEV protection")
}

func TestGradeConcentration(t *testing.T) {
	tests := []struct {
		name       string
		creatorPct float64
		holders    uint64
		want       string
	}{
		{name: "creator dominates", creatorPct: 25, holders: 1000, want: "high"},
		{name: "few holders", creatorPct: 1, holders: 5, want: "high"},
		{name: "moderate creator share", creatorPct: 12, holders: 1000, want: "medium"},
		{name: "thin holder base", creatorPct: 1, holders: 30, want: "medium"},
		{name: "healthy distribution", creatorPct: 2, holders: 500, want: "low"},
		{name: "unknown holder count", creatorPct: 0, holders: 0, want: "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gradeConcentration(tt.creatorPct, tt.holders))
		})
	}
}

func TestTradesToTransactions_TrimsToLimit(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	trades := []TradeRecord{
		{TxHash: "0x1", Timestamp: base},
		{TxHash: "0x2", Timestamp: base.Add(time.Second)},
		{TxHash: "0x3", Timestamp: base.Add(2 * time.Second)},
	}

	txs := tradesToTransactions(trades, 2)
	require.Len(t, txs, 2)
	assert.Equal(t, "0x3", txs[0].Hash)
	assert.Equal(t, "0x2", txs[1].Hash)
}
