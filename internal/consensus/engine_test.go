package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadpilot/nadpilot/internal/agents"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/llm"
)

func newTestEngine() *Engine {
	return New(config.ConsensusConfig{})
}

func opinion(role llm.Role, rec agents.Recommendation, confidence, risk float64) agents.Opinion {
	return agents.Opinion{
		Role:           role,
		Recommendation: rec,
		Confidence:     confidence,
		RiskScore:      risk,
	}
}

func TestEvaluateNeedMoreData(t *testing.T) {
	e := newTestEngine()

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendExecute, 0.9, 0.1),
		opinion(llm.RoleMacro, agents.RecommendExecute, 0.9, 0.1),
		{Role: llm.RoleRisk, Degraded: true},
		{Role: llm.RoleOnchain, Degraded: true},
		{Role: llm.RoleAdversarial, Degraded: true},
	}

	d := e.Evaluate(opinions, false)
	assert.Equal(t, StatusNeedMoreData, d.Status)
	assert.Equal(t, 2, d.LiveOpinions)
}

func TestEvaluateAdversarialVetoOverridesEverything(t *testing.T) {
	e := newTestEngine()

	adversarial := opinion(llm.RoleAdversarial, agents.RecommendReject, 0.9, 0.95)
	adversarial.IsTrap = true
	adversarial.TrapConfidence = 0.95

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendExecute, 0.95, 0.05),
		opinion(llm.RoleMacro, agents.RecommendExecute, 0.95, 0.05),
		opinion(llm.RoleOnchain, agents.RecommendExecute, 0.95, 0.05),
		opinion(llm.RoleRisk, agents.RecommendExecute, 0.95, 0.05),
		adversarial,
	}

	d := e.Evaluate(opinions, false)
	assert.Equal(t, StatusReject, d.Status)
	assert.True(t, d.AdversarialVeto)
	assert.Contains(t, d.Reason, "trap confidence")
}

func TestEvaluateTrapBelowVetoThresholdDoesNotVeto(t *testing.T) {
	e := newTestEngine()

	adversarial := opinion(llm.RoleAdversarial, agents.RecommendHold, 0.6, 0.5)
	adversarial.IsTrap = true
	adversarial.TrapConfidence = 0.7

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendHold, 0.6, 0.3),
		opinion(llm.RoleMacro, agents.RecommendHold, 0.6, 0.3),
		adversarial,
	}

	d := e.Evaluate(opinions, false)
	assert.False(t, d.AdversarialVeto)
	assert.Equal(t, StatusHold, d.Status)
}

func TestEvaluateExecuteMajorityAboveThresholds(t *testing.T) {
	e := newTestEngine()

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendExecute, 0.9, 0.1),
		opinion(llm.RoleMacro, agents.RecommendExecute, 0.9, 0.1),
		opinion(llm.RoleOnchain, agents.RecommendExecute, 0.9, 0.1),
		opinion(llm.RoleAdversarial, agents.RecommendExecute, 0.9, 0.1),
		opinion(llm.RoleRisk, agents.RecommendReject, 0.5, 0.5),
	}

	d := e.Evaluate(opinions, false)
	assert.Equal(t, StatusExecute, d.Status)
	assert.InDelta(t, 0.80, d.Agreement, 1e-9)
	assert.GreaterOrEqual(t, d.AveragedConfidence, 0.85)
}

func TestEvaluateTieBreakPrefersHold(t *testing.T) {
	e := newTestEngine()

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendExecute, 0.95, 0.1),
		opinion(llm.RoleMacro, agents.RecommendExecute, 0.95, 0.1),
		opinion(llm.RoleOnchain, agents.RecommendHold, 0.95, 0.1),
		opinion(llm.RoleRisk, agents.RecommendHold, 0.95, 0.1),
		opinion(llm.RoleAdversarial, agents.RecommendReject, 0.9, 0.2),
	}

	d := e.Evaluate(opinions, false)
	assert.Equal(t, agents.RecommendHold, d.Majority)
	assert.Equal(t, StatusHold, d.Status)
}

func TestEvaluateRejectMajority(t *testing.T) {
	e := newTestEngine()

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendReject, 0.8, 0.6),
		opinion(llm.RoleMacro, agents.RecommendReject, 0.8, 0.6),
		opinion(llm.RoleOnchain, agents.RecommendReject, 0.8, 0.6),
		opinion(llm.RoleRisk, agents.RecommendExecute, 0.9, 0.1),
	}

	d := e.Evaluate(opinions, false)
	assert.Equal(t, StatusReject, d.Status)
}

func TestEvaluateRiskCapForcesReject(t *testing.T) {
	e := newTestEngine()

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendExecute, 0.6, 0.85),
		opinion(llm.RoleMacro, agents.RecommendExecute, 0.6, 0.8),
		opinion(llm.RoleOnchain, agents.RecommendExecute, 0.6, 0.85),
	}

	d := e.Evaluate(opinions, false)
	assert.Equal(t, StatusReject, d.Status)
	assert.Contains(t, d.Reason, "risk")
}

func TestEvaluateManualApprovalTurnsHoldIntoManualReview(t *testing.T) {
	e := newTestEngine()

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendHold, 0.7, 0.3),
		opinion(llm.RoleMacro, agents.RecommendHold, 0.7, 0.3),
		opinion(llm.RoleOnchain, agents.RecommendExecute, 0.7, 0.3),
	}

	d := e.Evaluate(opinions, true)
	assert.Equal(t, StatusManualReview, d.Status)
}

func TestEvaluateDeterministic(t *testing.T) {
	e := newTestEngine()
	e.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendExecute, 0.9, 0.1),
		opinion(llm.RoleMacro, agents.RecommendHold, 0.6, 0.4),
		opinion(llm.RoleRisk, agents.RecommendExecute, 0.85, 0.2),
	}

	a := e.Evaluate(opinions, false)
	b := e.Evaluate(opinions, false)
	assert.Equal(t, a, b)
}

func TestDecisionExpiry(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	opinions := []agents.Opinion{
		opinion(llm.RoleScout, agents.RecommendHold, 0.7, 0.3),
		opinion(llm.RoleMacro, agents.RecommendHold, 0.7, 0.3),
		opinion(llm.RoleOnchain, agents.RecommendHold, 0.7, 0.3),
	}

	d := e.Evaluate(opinions, false)
	require.Equal(t, base.Add(30*time.Minute), d.ExpiresAt)
	assert.False(t, d.Expired(base.Add(29*time.Minute)))
	assert.True(t, d.Expired(base.Add(30*time.Minute)))
}
