package consensus

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/agents"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/llm"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Status is the terminal verdict of a consensus evaluation
type Status string

const (
	StatusExecute      Status = "EXECUTE"
	StatusReject       Status = "REJECT"
	StatusHold         Status = "HOLD"
	StatusManualReview Status = "MANUAL_REVIEW"
	StatusNeedMoreData Status = "NEED_MORE_DATA"
)

// Decision is the output of one consensus evaluation over a full set of
// agent opinions. It is deterministic given the opinions and config.
type Decision struct {
	Status             Status                `json:"status"`
	Majority           agents.Recommendation `json:"majority,omitempty"`
	AveragedConfidence float64               `json:"averagedConfidence"`
	AveragedRisk       float64               `json:"averagedRisk"`
	Agreement          float64               `json:"agreement"`
	AdversarialVeto    bool                  `json:"adversarialVeto,omitempty"`
	Reason             string                `json:"reason"`
	LiveOpinions       int                   `json:"liveOpinions"`
	DecidedAt          time.Time             `json:"decidedAt"`
	ExpiresAt          time.Time             `json:"expiresAt"`
}

// Expired reports whether the decision's validity window has passed
func (d Decision) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Engine aggregates agent opinions into a decision. Evaluate is a pure
// function of the opinions, the config, and the clock.
type Engine struct {
	cfg config.ConsensusConfig
	now func() time.Time
	log zerolog.Logger
}

// New creates a consensus engine, filling unset thresholds with defaults
func New(cfg config.ConsensusConfig) *Engine {
	if cfg.MinAgents <= 0 {
		cfg.MinAgents = 3
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.85
	}
	if cfg.AgreementThreshold <= 0 {
		cfg.AgreementThreshold = 0.60
	}
	if cfg.AdversarialVetoThreshold <= 0 {
		cfg.AdversarialVetoThreshold = 0.90
	}
	if cfg.RiskCap <= 0 {
		cfg.RiskCap = 0.75
	}
	if cfg.DecisionTTLMinutes <= 0 {
		cfg.DecisionTTLMinutes = 30
	}
	return &Engine{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
		log: log.With().Str("component", "consensus").Logger(),
	}
}

// Evaluate aggregates the opinions. manualApproval forces HOLD verdicts
// to MANUAL_REVIEW so the router waits for an explicit approval.
func (e *Engine) Evaluate(opinions []agents.Opinion, manualApproval bool) Decision {
	now := e.now()
	decision := Decision{
		DecidedAt: now,
		ExpiresAt: now.Add(time.Duration(e.cfg.DecisionTTLMinutes) * time.Minute),
	}

	live := liveOpinions(opinions)
	decision.LiveOpinions = len(live)

	if len(live) < e.cfg.MinAgents {
		decision.Status = StatusNeedMoreData
		decision.Reason = fmt.Sprintf("only %d of %d required opinions are live", len(live), e.cfg.MinAgents)
		e.record(decision)
		return decision
	}

	// Adversarial veto dominates everything else.
	for _, op := range live {
		if op.Role == llm.RoleAdversarial && op.IsTrap && op.TrapConfidence >= e.cfg.AdversarialVetoThreshold {
			decision.Status = StatusReject
			decision.AdversarialVeto = true
			decision.Reason = fmt.Sprintf("adversarial veto: trap confidence %.2f >= %.2f",
				op.TrapConfidence, e.cfg.AdversarialVetoThreshold)
			metrics.RecordConsensusVeto()
			e.record(decision)
			return decision
		}
	}

	majority := majorityRecommendation(live)
	decision.Majority = majority
	decision.AveragedConfidence = weightedConfidence(live)
	decision.AveragedRisk = meanRisk(live)
	decision.Agreement = agreementFraction(live, majority)

	switch {
	case majority == agents.RecommendExecute &&
		decision.AveragedConfidence >= e.cfg.ConfidenceThreshold &&
		decision.Agreement >= e.cfg.AgreementThreshold:
		decision.Status = StatusExecute
		decision.Reason = fmt.Sprintf("execute majority with confidence %.2f and agreement %.2f",
			decision.AveragedConfidence, decision.Agreement)
	case majority == agents.RecommendReject:
		decision.Status = StatusReject
		decision.Reason = "reject majority"
	case decision.AveragedRisk > e.cfg.RiskCap:
		decision.Status = StatusReject
		decision.Reason = fmt.Sprintf("averaged risk %.2f exceeds cap %.2f", decision.AveragedRisk, e.cfg.RiskCap)
	default:
		if manualApproval {
			decision.Status = StatusManualReview
			decision.Reason = "held for operator approval"
		} else {
			decision.Status = StatusHold
			decision.Reason = fmt.Sprintf("%s majority below execute thresholds (confidence %.2f, agreement %.2f)",
				majority, decision.AveragedConfidence, decision.Agreement)
		}
	}

	e.record(decision)
	return decision
}

func (e *Engine) record(d Decision) {
	metrics.RecordConsensusDecision(string(d.Status), d.Agreement)
	e.log.Info().
		Str("status", string(d.Status)).
		Str("majority", string(d.Majority)).
		Float64("confidence", d.AveragedConfidence).
		Float64("risk", d.AveragedRisk).
		Float64("agreement", d.Agreement).
		Bool("veto", d.AdversarialVeto).
		Msg("Consensus decided")
}

// liveOpinions filters out degraded and zero-confidence opinions
func liveOpinions(opinions []agents.Opinion) []agents.Opinion {
	live := make([]agents.Opinion, 0, len(opinions))
	for _, op := range opinions {
		if op.Degraded || op.Confidence <= 0 {
			continue
		}
		live = append(live, op)
	}
	return live
}

// tieBreakOrder prefers hold over execute over reject on equal counts
var tieBreakOrder = []agents.Recommendation{
	agents.RecommendHold,
	agents.RecommendExecute,
	agents.RecommendReject,
}

func majorityRecommendation(live []agents.Opinion) agents.Recommendation {
	counts := make(map[agents.Recommendation]int, 3)
	for _, op := range live {
		counts[op.Recommendation]++
	}
	best := agents.RecommendHold
	bestCount := -1
	for _, rec := range tieBreakOrder {
		if counts[rec] > bestCount {
			best = rec
			bestCount = counts[rec]
		}
	}
	return best
}

// weightedConfidence is the mean confidence weighted by 1 minus risk,
// so a confident but risky opinion counts for less.
func weightedConfidence(live []agents.Opinion) float64 {
	var weightedSum, weightSum float64
	for _, op := range live {
		w := 1 - op.RiskScore
		if w < 0 {
			w = 0
		}
		weightedSum += op.Confidence * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weightedSum / weightSum
}

func meanRisk(live []agents.Opinion) float64 {
	if len(live) == 0 {
		return 0
	}
	var sum float64
	for _, op := range live {
		sum += op.RiskScore
	}
	return sum / float64(len(live))
}

func agreementFraction(live []agents.Opinion, majority agents.Recommendation) float64 {
	if len(live) == 0 {
		return 0
	}
	matching := 0
	for _, op := range live {
		if op.Recommendation == majority {
			matching++
		}
	}
	return float64(matching) / float64(len(live))
}
