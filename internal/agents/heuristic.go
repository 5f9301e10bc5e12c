package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nadpilot/nadpilot/internal/llm"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// HeuristicAnalyzer is the deterministic, provider-free analyzer path.
// It exists so runs work without an LLM gateway (demo mode, tests) and
// as the reference behavior the prompts describe. The verdicts are
// intentionally conservative.
type HeuristicAnalyzer struct {
	role llm.Role
}

// NewHeuristicAnalyzer creates a deterministic analyzer for a role
func NewHeuristicAnalyzer(role llm.Role) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{role: role}
}

// Role returns the analyzer's role tag
func (a *HeuristicAnalyzer) Role() llm.Role {
	return a.role
}

// Analyze derives the verdict from the input alone
func (a *HeuristicAnalyzer) Analyze(ctx context.Context, in Input) (Opinion, error) {
	if err := ctx.Err(); err != nil {
		return Opinion{}, err
	}

	started := time.Now().UTC()
	opinion := Opinion{
		Role:      a.role,
		StartedAt: started,
		Model:     "heuristic-v1",
	}

	switch a.role {
	case llm.RoleScout:
		a.scout(&opinion, in)
	case llm.RoleMacro:
		a.macro(&opinion, in)
	case llm.RoleOnchain:
		a.onchain(&opinion, in)
	case llm.RoleRisk:
		a.risk(&opinion, in)
	case llm.RoleAdversarial:
		a.adversarial(&opinion, in)
	default:
		opinion.Recommendation = RecommendHold
		opinion.Confidence = 0.3
		opinion.RiskScore = 0.5
		opinion.ChainOfThought = fmt.Sprintf("no heuristic defined for role %s", a.role)
	}

	opinion.CompletedAt = time.Now().UTC()
	metrics.RecordAnalyzerOpinion(string(a.role), string(opinion.Recommendation), opinion.Confidence)
	return opinion, nil
}

// scout scores narrative traction: sentiment across news, influencer
// reach, engagement.
func (a *HeuristicAnalyzer) scout(opinion *Opinion, in Input) {
	var sentimentSum float64
	sentimentCount := 0
	if in.Bundle != nil {
		for _, item := range in.Bundle.News {
			if item.Sentiment != nil {
				sentimentSum += *item.Sentiment
				sentimentCount++
			}
		}
	}

	score := 0.3
	if sentimentCount > 0 {
		mean := sentimentSum / float64(sentimentCount)
		score += 0.3 * mean
		opinion.Insights = append(opinion.Insights, fmt.Sprintf("mean news sentiment %.2f over %d items", mean, sentimentCount))
	}
	if in.Bundle != nil {
		for _, item := range in.Bundle.Social {
			if item.Influencer {
				score += 0.1
				opinion.Insights = append(opinion.Insights, fmt.Sprintf("influencer attention on %s", item.Platform))
			}
			score += 0.1 * clamp01(item.EngagementRate)
		}
	}

	opinion.Confidence = clamp01(score)
	opinion.RiskScore = 0.3
	switch {
	case opinion.Confidence >= 0.6:
		opinion.Recommendation = RecommendExecute
	case opinion.Confidence >= 0.35:
		opinion.Recommendation = RecommendHold
	default:
		opinion.Recommendation = RecommendReject
	}
	opinion.ChainOfThought = fmt.Sprintf("traction score %.2f from %d news and %d social signals",
		opinion.Confidence, newsCount(in.Bundle), socialCount(in.Bundle))
}

// macro reads the indicator features attached to the launch context
func (a *HeuristicAnalyzer) macro(opinion *Opinion, in Input) {
	rsi, hasRSI := in.Launch.Indicators["rsi"]
	trend, hasTrend := in.Launch.Indicators["ema_trend"]

	if !hasRSI && !hasTrend {
		opinion.Recommendation = RecommendHold
		opinion.Confidence = 0.2
		opinion.RiskScore = 0.5
		opinion.ChainOfThought = "trade tape too short for momentum features"
		return
	}

	score := 0.4
	risk := 0.35
	if hasTrend && trend > 0 {
		score += 0.2
		opinion.Insights = append(opinion.Insights, fmt.Sprintf("positive short-over-long EMA spread %.4f", trend))
	}
	if hasRSI {
		switch {
		case rsi > 75:
			risk += 0.25
			opinion.Evidence = append(opinion.Evidence, fmt.Sprintf("overbought RSI %.1f", rsi))
		case rsi >= 45 && rsi <= 65:
			score += 0.2
			opinion.Insights = append(opinion.Insights, fmt.Sprintf("healthy RSI %.1f", rsi))
		case rsi < 30:
			score -= 0.1
			opinion.Evidence = append(opinion.Evidence, fmt.Sprintf("momentum exhausted, RSI %.1f", rsi))
		}
	}

	opinion.Confidence = clamp01(score)
	opinion.RiskScore = clamp01(risk)
	switch {
	case opinion.Confidence >= 0.6 && opinion.RiskScore < 0.5:
		opinion.Recommendation = RecommendExecute
	case opinion.RiskScore >= 0.6:
		opinion.Recommendation = RecommendReject
	default:
		opinion.Recommendation = RecommendHold
	}
	opinion.ChainOfThought = fmt.Sprintf("momentum score %.2f, risk %.2f from tape features", opinion.Confidence, opinion.RiskScore)
}

// onchain scores holder structure and automated-activity pressure
func (a *HeuristicAnalyzer) onchain(opinion *Opinion, in Input) {
	launch := in.Launch

	score := 0.5
	risk := 0.2
	if launch.HolderCount >= 100 {
		score += 0.2
		opinion.Insights = append(opinion.Insights, fmt.Sprintf("%d holders", launch.HolderCount))
	} else if launch.HolderCount < 20 {
		score -= 0.2
		opinion.Evidence = append(opinion.Evidence, fmt.Sprintf("only %d holders", launch.HolderCount))
	}
	if launch.CreatorPct > 20 {
		risk += 0.3
		score -= 0.2
		opinion.Evidence = append(opinion.Evidence, fmt.Sprintf("creator holds %.1f%%", launch.CreatorPct))
	}
	if launch.BotRiskScore > 0.5 {
		risk += 0.3 * launch.BotRiskScore
		opinion.Evidence = append(opinion.Evidence, fmt.Sprintf("automated-activity score %.2f (%s)", launch.BotRiskScore, launch.BotRiskLevel))
	}

	opinion.Confidence = clamp01(score)
	opinion.RiskScore = clamp01(risk)
	switch {
	case opinion.RiskScore >= 0.6:
		opinion.Recommendation = RecommendReject
	case opinion.Confidence >= 0.6:
		opinion.Recommendation = RecommendExecute
	default:
		opinion.Recommendation = RecommendHold
	}
	opinion.ChainOfThought = fmt.Sprintf("structure score %.2f: %d holders, creator %.1f%%, concentration %s",
		opinion.Confidence, launch.HolderCount, launch.CreatorPct, launch.Concentration)
}

// risk sizes the downside: concentration, liquidity, automated activity
func (a *HeuristicAnalyzer) risk(opinion *Opinion, in Input) {
	launch := in.Launch

	risk := 0.2
	if launch.CreatorPct > 30 {
		risk += 0.35
		opinion.Evidence = append(opinion.Evidence, "creator share enables a dump through any buyer")
	} else if launch.CreatorPct > 15 {
		risk += 0.15
	}
	if launch.LiquidityNative < 1 {
		risk += 0.25
		opinion.Evidence = append(opinion.Evidence, fmt.Sprintf("thin liquidity %.4f native", launch.LiquidityNative))
	}
	risk += 0.2 * launch.BotRiskScore
	if launch.AgeMinutes < 5 {
		risk += 0.1
		opinion.Evidence = append(opinion.Evidence, "launch too young to read")
	}

	opinion.RiskScore = clamp01(risk)
	opinion.Confidence = clamp01(1 - opinion.RiskScore*0.6)
	switch {
	case opinion.RiskScore >= 0.7:
		opinion.Recommendation = RecommendReject
	case opinion.RiskScore >= 0.45:
		opinion.Recommendation = RecommendHold
	default:
		opinion.Recommendation = RecommendExecute
	}
	opinion.ChainOfThought = fmt.Sprintf("downside score %.2f from concentration, liquidity, and activity", opinion.RiskScore)
}

// adversarial converts scanner findings into a trap verdict. Findings
// tagged critical dominate; hype-only launches raise suspicion.
func (a *HeuristicAnalyzer) adversarial(opinion *Opinion, in Input) {
	critical := 0
	for _, finding := range in.ScanFindings {
		if strings.Contains(strings.ToLower(finding), "critical") || strings.Contains(strings.ToLower(finding), "high") {
			critical++
		}
	}

	switch {
	case critical > 0:
		opinion.IsTrap = true
		opinion.TrapConfidence = 0.95
		opinion.Recommendation = RecommendReject
		opinion.Confidence = 0.9
		opinion.RiskScore = 0.95
		opinion.ChainOfThought = fmt.Sprintf("%d high-severity injection findings in launch text", critical)
		opinion.Evidence = append(opinion.Evidence, in.ScanFindings...)
	case len(in.ScanFindings) > 0:
		opinion.IsTrap = false
		opinion.TrapConfidence = 0.4
		opinion.Recommendation = RecommendHold
		opinion.Confidence = 0.5
		opinion.RiskScore = 0.55
		opinion.ChainOfThought = "low-severity pattern findings, not conclusive"
		opinion.Evidence = append(opinion.Evidence, in.ScanFindings...)
	default:
		opinion.IsTrap = false
		opinion.TrapConfidence = 0.05
		opinion.Recommendation = RecommendHold
		opinion.Confidence = 0.6
		opinion.RiskScore = 0.3
		opinion.ChainOfThought = "no manipulation indicators in launch text"
	}
}

func newsCount(bundle *SignalBundle) int {
	if bundle == nil {
		return 0
	}
	return len(bundle.News)
}

func socialCount(bundle *SignalBundle) int {
	if bundle == nil {
		return 0
	}
	return len(bundle.Social)
}
