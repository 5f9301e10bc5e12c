package bundle

import (
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Enforcer runs the fixed constraint check list over a (bundle,
// receipt) pair. Checks are deterministic; all violations are reported.
type Enforcer struct {
	maxSlippagePct float64
	riskCap        float64
	staleBlocks    uint64
	staleWindow    time.Duration
	warnFee        *big.Int
	maxFee         *big.Int
	now            func() time.Time
	log            zerolog.Logger
}

// NewEnforcer creates an enforcer from bundle configuration, filling
// unset limits with defaults.
func NewEnforcer(cfg config.BundleConfig) *Enforcer {
	e := &Enforcer{
		maxSlippagePct: cfg.MaxSlippagePct,
		riskCap:        cfg.RiskCap,
		staleBlocks:    uint64(cfg.StaleBlocks),
		staleWindow:    time.Duration(cfg.StaleMS) * time.Millisecond,
		now:            func() time.Time { return time.Now().UTC() },
		log:            log.With().Str("component", "bundle-enforcer").Logger(),
	}
	if e.maxSlippagePct <= 0 {
		e.maxSlippagePct = 2.5
	}
	if e.riskCap <= 0 {
		e.riskCap = 0.75
	}
	if e.staleBlocks == 0 {
		e.staleBlocks = 3
	}
	if e.staleWindow <= 0 {
		e.staleWindow = 1200 * time.Millisecond
	}
	if cfg.WarnFeePerGasWei != "" {
		e.warnFee, _ = new(big.Int).SetString(cfg.WarnFeePerGasWei, 10)
	}
	if cfg.MaxFeePerGasWei != "" {
		e.maxFee, _ = new(big.Int).SetString(cfg.MaxFeePerGasWei, 10)
	}
	return e
}

// Enforce evaluates every check against the bundle and its receipt at
// the given chain head. CanExecute requires zero critical violations
// and no pending manual approval.
func (e *Enforcer) Enforce(b *AtomicBundle, receipt *SimulationReceipt, currentBlock uint64) EnforcementResult {
	var result EnforcementResult
	add := func(v Violation) {
		if v.Severity == SeverityCritical {
			result.Violations = append(result.Violations, v)
		} else {
			result.Warnings = append(result.Warnings, v)
		}
		metrics.RecordEnforcerRejection(v.Check)
	}

	if !receipt.Success {
		add(Violation{
			Check:    ViolationSimFailed,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("simulation reverted at step %q: %s", receipt.FailedStep, receipt.FailReason),
		})
	}

	if receipt.SlippagePct > e.maxSlippagePct || !receipt.MinOutHeld {
		add(Violation{
			Check:    ViolationSlippage,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("slippage %.2f%% exceeds cap %.2f%% (min-out held: %t)", receipt.SlippagePct, e.maxSlippagePct, receipt.MinOutHeld),
		})
	}

	if b.BudgetWei != nil && receipt.MaxCostWei != nil && receipt.MaxCostWei.Cmp(b.BudgetWei) > 0 {
		add(Violation{
			Check:    ViolationBudget,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("max cost %s wei exceeds budget %s wei", receipt.MaxCostWei, b.BudgetWei),
		})
	}

	if b.RiskScore > e.riskCap {
		add(Violation{
			Check:    ViolationRisk,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("risk score %.2f exceeds cap %.2f", b.RiskScore, e.riskCap),
		})
	}

	if v, ok := e.checkGasPrice(b); ok {
		add(v)
	}

	if v, ok := e.checkStaleness(receipt, currentBlock); ok {
		add(v)
	}

	result.CanExecute = len(result.Violations) == 0 && !b.RequiresApproval

	e.log.Debug().
		Str("bundle_id", b.ID).
		Bool("can_execute", result.CanExecute).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Msg("Bundle enforced")
	return result
}

// checkGasPrice grades the bundle's total fee per gas: past the warn
// line is a warning, past the hard cap is critical.
func (e *Enforcer) checkGasPrice(b *AtomicBundle) (Violation, bool) {
	total := new(big.Int)
	if b.MaxFeePerGasWei != nil {
		total.Add(total, b.MaxFeePerGasWei)
	}
	if b.PriorityFeeWei != nil {
		total.Add(total, b.PriorityFeeWei)
	}
	if total.Sign() == 0 {
		return Violation{}, false
	}

	if e.maxFee != nil && total.Cmp(e.maxFee) > 0 {
		return Violation{
			Check:    ViolationGasPrice,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("fee %s wei/gas exceeds hard cap %s", total, e.maxFee),
		}, true
	}
	if e.warnFee != nil && total.Cmp(e.warnFee) > 0 {
		return Violation{
			Check:    ViolationGasPrice,
			Severity: SeverityWarning,
			Detail:   fmt.Sprintf("fee %s wei/gas exceeds warn line %s", total, e.warnFee),
		}, true
	}
	return Violation{}, false
}

// checkStaleness rejects a receipt aged past the block or wall-clock
// window, whichever trips first.
func (e *Enforcer) checkStaleness(receipt *SimulationReceipt, currentBlock uint64) (Violation, bool) {
	if currentBlock >= receipt.BlockHeight+e.staleBlocks {
		return Violation{
			Check:    ViolationStale,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("simulated at block %d, now %d (limit %d blocks)", receipt.BlockHeight, currentBlock, e.staleBlocks),
		}, true
	}
	if age := e.now().Sub(receipt.SimulatedAt); age >= e.staleWindow {
		return Violation{
			Check:    ViolationStale,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("receipt is %s old (limit %s)", age, e.staleWindow),
		}, true
	}
	return Violation{}, false
}
