package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/llm"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Analyzer produces exactly one opinion per run. Implementations share
// the run's input and never see each other's output.
type Analyzer interface {
	Role() llm.Role
	Analyze(ctx context.Context, in Input) (Opinion, error)
}

// LLMAnalyzer asks a model for its verdict using the role's prompt
// templates. The prompt fingerprint and model identity land in the
// opinion so any decision can be traced to the exact prompt revision.
type LLMAnalyzer struct {
	role    llm.Role
	client  llm.CompletionClient
	prompts *llm.PromptBuilder
	budget  llm.PromptBudget
	log     zerolog.Logger
}

// NewLLMAnalyzer creates an analyzer for the given role
func NewLLMAnalyzer(role llm.Role, client llm.CompletionClient) *LLMAnalyzer {
	return &LLMAnalyzer{
		role:    role,
		client:  client,
		prompts: llm.NewPromptBuilder(role),
		budget:  llm.DefaultPromptBudget(),
		log:     log.With().Str("component", "analyzer").Str("role", string(role)).Logger(),
	}
}

// Role returns the analyzer's role tag
func (a *LLMAnalyzer) Role() llm.Role {
	return a.role
}

// adversarialVerdict is the combined JSON shape the adversarial prompt
// asks for: the standard assessment plus the trap fields.
type adversarialVerdict struct {
	llm.Assessment
	IsTrap         bool     `json:"is_trap"`
	TrapConfidence float64  `json:"trap_confidence"`
	Indicators     []string `json:"indicators,omitempty"`
}

// Analyze builds the role prompt, queries the model, and maps the
// structured verdict into an opinion.
func (a *LLMAnalyzer) Analyze(ctx context.Context, in Input) (Opinion, error) {
	started := time.Now().UTC()

	memory := a.budget.FitMemory(in.Memory)
	systemPrompt := a.prompts.GetSystemPrompt()
	userPrompt := a.buildUserPrompt(in, memory)
	fingerprint := llm.PromptFingerprint(systemPrompt, userPrompt)

	content, err := a.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Opinion{}, fmt.Errorf("%s completion failed: %w", a.role, err)
	}

	opinion := Opinion{
		Role:              a.role,
		StartedAt:         started,
		Model:             a.client.Model(),
		PromptFingerprint: fingerprint,
	}

	if a.role == llm.RoleAdversarial {
		var verdict adversarialVerdict
		if err := a.client.ParseJSONResponse(content, &verdict); err != nil {
			return Opinion{}, fmt.Errorf("%s verdict unparseable: %w", a.role, err)
		}
		fillFromAssessment(&opinion, verdict.Assessment)
		opinion.IsTrap = verdict.IsTrap
		opinion.TrapConfidence = clamp01(verdict.TrapConfidence)
		opinion.Evidence = append(opinion.Evidence, verdict.Indicators...)
	} else {
		var assessment llm.Assessment
		if err := a.client.ParseJSONResponse(content, &assessment); err != nil {
			return Opinion{}, fmt.Errorf("%s assessment unparseable: %w", a.role, err)
		}
		fillFromAssessment(&opinion, assessment)
	}

	opinion.CompletedAt = time.Now().UTC()
	durationMs := float64(opinion.CompletedAt.Sub(started).Milliseconds())
	metrics.RecordLLMDecision(opinion.Model, string(a.role), durationMs)
	metrics.RecordAnalyzerOpinion(string(a.role), string(opinion.Recommendation), opinion.Confidence)

	a.log.Debug().
		Str("recommendation", string(opinion.Recommendation)).
		Float64("confidence", opinion.Confidence).
		Float64("risk", opinion.RiskScore).
		Str("fingerprint", fingerprint).
		Msg("Analyzer opinion produced")
	return opinion, nil
}

func (a *LLMAnalyzer) buildUserPrompt(in Input, memory []llm.MemoryHighlight) string {
	switch a.role {
	case llm.RoleScout:
		return a.prompts.BuildScoutPrompt(in.Launch, a.budget.FitTexts(socialTexts(in.Bundle)), memory)
	case llm.RoleMacro:
		return a.prompts.BuildMacroPrompt(in.Launch, memory)
	case llm.RoleOnchain:
		return a.prompts.BuildOnchainPrompt(in.Launch, memory)
	case llm.RoleRisk:
		return a.prompts.BuildRiskPrompt(in.Launch, memory)
	case llm.RoleAdversarial:
		texts := a.budget.FitTexts(in.Bundle.FreeTexts())
		return a.prompts.BuildAdversarialPrompt(in.Launch, in.ScanFindings, texts)
	default:
		return a.prompts.BuildOnchainPrompt(in.Launch, memory)
	}
}

func socialTexts(bundle *SignalBundle) []string {
	if bundle == nil {
		return nil
	}
	var texts []string
	for _, item := range bundle.Social {
		if item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	return texts
}

func fillFromAssessment(opinion *Opinion, a llm.Assessment) {
	rec := Recommendation(a.Action)
	if !ValidRecommendation(rec) {
		rec = RecommendHold
	}
	opinion.Recommendation = rec
	opinion.Confidence = clamp01(a.Confidence)
	opinion.RiskScore = clamp01(a.RiskScore)
	opinion.ChainOfThought = a.Reasoning
	opinion.Insights = a.KeyFactors
	opinion.Evidence = a.Concerns
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
