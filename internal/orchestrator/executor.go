package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/bundle"
	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/consensus"
	"github.com/nadpilot/nadpilot/internal/runrecord"
	"github.com/nadpilot/nadpilot/internal/session"
	"github.com/nadpilot/nadpilot/internal/submit"
)

const buyStepGasLimit = 300_000

// ErrNoToken is returned when an EXECUTE decision has no resolved token
var ErrNoToken = errors.New("decision carries no token address")

type quoteClient interface {
	Quote(ctx context.Context, token, direction, amountIn string) (*chain.TradeQuote, error)
}

// ExecutorOptions configures the trade pipeline behind EXECUTE
// decisions.
type ExecutorOptions struct {
	SessionID       string
	Account         common.Address
	CurveRouter     common.Address // launchpad buy entrypoint
	ChainID         *big.Int
	TradeValueWei   *big.Int
	MaxFeePerGasWei *big.Int
	PriorityFeeWei  *big.Int
}

// PipelineExecutor turns an EXECUTE decision into a simulated, session
// signed bundle and hands it to the submission router. Every resource
// taken along the way rolls back when a later stage refuses.
type PipelineExecutor struct {
	opts      ExecutorOptions
	sessions  *session.Manager
	simulator *bundle.Simulator
	router    *submit.Router
	quotes    quoteClient
	log       zerolog.Logger
}

// NewPipelineExecutor wires the execution pipeline
func NewPipelineExecutor(opts ExecutorOptions, sessions *session.Manager, simulator *bundle.Simulator, router *submit.Router, quotes quoteClient) (*PipelineExecutor, error) {
	if opts.SessionID == "" {
		return nil, errors.New("executor requires a session id")
	}
	if opts.TradeValueWei == nil || opts.TradeValueWei.Sign() <= 0 {
		return nil, errors.New("executor requires a positive trade value")
	}
	if opts.ChainID == nil {
		return nil, errors.New("executor requires a chain id")
	}
	return &PipelineExecutor{
		opts:      opts,
		sessions:  sessions,
		simulator: simulator,
		router:    router,
		quotes:    quotes,
		log:       log.With().Str("component", "executor").Logger(),
	}, nil
}

// Execute runs quote, session validation, simulation, signing, and
// routing for one EXECUTE decision.
func (e *PipelineExecutor) Execute(ctx context.Context, rec *runrecord.RunRecord, decision consensus.Decision) error {
	if rec.Token == "" {
		return ErrNoToken
	}
	token := common.HexToAddress(rec.Token)

	quote, err := e.quotes.Quote(ctx, rec.Token, "buy", e.opts.TradeValueWei.String())
	if err != nil {
		return fmt.Errorf("failed to quote trade: %w", err)
	}
	minOut, ok := new(big.Int).SetString(quote.MinAmountOut, 10)
	if !ok {
		return fmt.Errorf("unparseable min amount out %q", quote.MinAmountOut)
	}
	expectedOut, ok := new(big.Int).SetString(quote.AmountOut, 10)
	if !ok {
		return fmt.Errorf("unparseable amount out %q", quote.AmountOut)
	}

	data := buyCalldata(token, minOut)
	selector := "0x" + hex.EncodeToString(data[:4])

	nonce, err := e.sessions.NextNonce(e.opts.SessionID)
	if err != nil {
		return fmt.Errorf("failed to read session nonce: %w", err)
	}
	op := session.SignedOperation{
		SessionID: e.opts.SessionID,
		Target:    e.opts.CurveRouter,
		Selector:  selector,
		ValueWei:  e.opts.TradeValueWei,
		Nonce:     nonce,
	}
	validation := e.sessions.Validate(op)
	if !validation.Valid {
		return fmt.Errorf("session refused operation: %w", validation.Err)
	}

	b := &bundle.AtomicBundle{
		ID:        uuid.NewString(),
		PlanID:    uuid.NewString(),
		SessionID: e.opts.SessionID,
		Account:   e.opts.Account,
		Steps: []bundle.Step{{
			Name:        "buy",
			From:        e.opts.Account,
			To:          e.opts.CurveRouter,
			Data:        data,
			ValueWei:    new(big.Int).Set(e.opts.TradeValueWei),
			GasLimit:    buyStepGasLimit,
			MinOutWei:   minOut,
			ExpectedOut: expectedOut,
		}},
		BudgetWei:       validation.RemainingBudget,
		RiskScore:       decision.AveragedRisk,
		MaxFeePerGasWei: e.opts.MaxFeePerGasWei,
		PriorityFeeWei:  e.opts.PriorityFeeWei,
		CreatedAt:       time.Now().UTC(),
	}

	receipt, err := e.simulator.Simulate(ctx, b)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	rollback, err := e.sessions.Record(op)
	if err != nil {
		return fmt.Errorf("failed to record session spend: %w", err)
	}

	rawTx, err := e.signTx(op, data)
	if err != nil {
		rollback()
		return err
	}

	result, err := e.router.Submit(ctx, submit.Request{
		Bundle:            b,
		Receipt:           receipt,
		RawTx:             rawTx,
		CorrelationID:     rec.CorrelationID,
		PlanID:            b.PlanID,
		DecisionID:        rec.ID,
		DecisionExpiresAt: decision.ExpiresAt,
	})
	if err != nil {
		rollback()
		return err
	}

	e.log.Info().
		Str("run_id", rec.ID).
		Str("route", result.Route).
		Str("status", result.Status).
		Str("tx_hash", result.TxHash.Hex()).
		Msg("Execution submitted")
	return nil
}

// signTx builds and session-signs the EIP-1559 transaction carrying the
// bundle's single step.
func (e *PipelineExecutor) signTx(op session.SignedOperation, data []byte) ([]byte, error) {
	tip := e.opts.PriorityFeeWei
	if tip == nil {
		tip = big.NewInt(0)
	}
	feeCap := e.opts.MaxFeePerGasWei
	if feeCap == nil {
		feeCap = big.NewInt(0)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.opts.ChainID,
		Nonce:     op.Nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       buyStepGasLimit,
		To:        &op.Target,
		Value:     op.ValueWei,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(e.opts.ChainID)
	hash := signer.Hash(tx)
	sig, err := e.sessions.Sign(op.SessionID, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to attach signature: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return raw, nil
}

// buyCalldata encodes buy(address,uint256) for the curve router
func buyCalldata(token common.Address, minOut *big.Int) []byte {
	selector := crypto.Keccak256([]byte("buy(address,uint256)"))[:4]
	data := make([]byte, 0, 4+64)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(minOut.Bytes(), 32)...)
	return data
}
