package bundle

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Step is one call inside an atomic bundle. Steps execute in order;
// a revert anywhere aborts the whole bundle.
type Step struct {
	Name         string          `json:"name"`
	From         common.Address  `json:"from"`
	To           common.Address  `json:"to"`
	Data         []byte          `json:"data,omitempty"`
	ValueWei     *big.Int        `json:"valueWei,omitempty"`
	GasLimit     uint64          `json:"gasLimit"`
	MinOutWei    *big.Int        `json:"minOutWei,omitempty"`
	ExpectedOut  *big.Int        `json:"expectedOutWei,omitempty"`
}

// AtomicBundle groups the steps of one planned execution together with
// the constraints the enforcer will hold it to.
type AtomicBundle struct {
	ID        string         `json:"id"`
	PlanID    string         `json:"planId"`
	SessionID string         `json:"sessionId"`
	Account   common.Address `json:"account"`
	Steps     []Step         `json:"steps"`

	BudgetWei         *big.Int `json:"budgetWei"`
	RiskScore         float64  `json:"riskScore"`
	MaxFeePerGasWei   *big.Int `json:"maxFeePerGasWei,omitempty"`
	PriorityFeeWei    *big.Int `json:"priorityFeeWei,omitempty"`
	RequiresApproval  bool     `json:"requiresApproval"`

	CreatedAt time.Time `json:"createdAt"`
}

// TotalValue returns the sum of step values in wei
func (b *AtomicBundle) TotalValue() *big.Int {
	total := new(big.Int)
	for _, step := range b.Steps {
		if step.ValueWei != nil {
			total.Add(total, step.ValueWei)
		}
	}
	return total
}

// TotalGasLimit returns the sum of step gas limits
func (b *AtomicBundle) TotalGasLimit() uint64 {
	var total uint64
	for _, step := range b.Steps {
		total += step.GasLimit
	}
	return total
}

// StepResult is the simulated outcome of one step
type StepResult struct {
	Name       string   `json:"name"`
	Success    bool     `json:"success"`
	GasUsed    uint64   `json:"gasUsed"`
	ReturnData []byte   `json:"returnData,omitempty"`
	OutWei     *big.Int `json:"outWei,omitempty"`
	Revert     string   `json:"revert,omitempty"`
}

// SimulationReceipt is the simulator's verdict on a bundle at a point
// in chain time. The enforcer pairs it with the bundle for its checks.
type SimulationReceipt struct {
	ID          string       `json:"id"`
	BundleID    string       `json:"bundleId"`
	BlockHeight uint64       `json:"blockHeight"`
	SimulatedAt time.Time    `json:"simulatedAt"`
	Success     bool         `json:"success"`
	FailedStep  string       `json:"failedStep,omitempty"`
	FailReason  string       `json:"failReason,omitempty"`
	Steps       []StepResult `json:"steps"`

	// SlippagePct is the worst expected-vs-simulated output shortfall
	// across steps carrying an expected output.
	SlippagePct  float64  `json:"slippagePct"`
	MinOutHeld   bool     `json:"minOutHeld"`
	GasUsedTotal uint64   `json:"gasUsedTotal"`
	MaxCostWei   *big.Int `json:"maxCostWei"`
}

// Severity grades a constraint violation
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation names. The check list is fixed; the enforcer runs every
// check and reports all violations, not just the first.
const (
	ViolationSlippage    = "slippage_breach"
	ViolationBudget      = "budget_exceeded"
	ViolationRisk        = "risk_too_high"
	ViolationGasPrice    = "gas_price_too_high"
	ViolationStale       = "simulation_stale"
	ViolationSimFailed   = "simulation_failed"
)

// Violation is one enforcer finding
type Violation struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// EnforcementResult is the enforcer's decision over (bundle, receipt)
type EnforcementResult struct {
	CanExecute bool        `json:"canExecute"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`
}
