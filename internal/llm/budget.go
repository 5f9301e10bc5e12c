package llm

import "strings"

// Retrieved memory and scraped social text can dwarf the launch snapshot,
// so prompt sections get trimmed to a token budget before assembly.

const (
	defaultMaxPromptTokens = 6000

	// Budget shares per section
	memoryShare = 0.4
	textShare   = 0.2

	// Fixed overhead assumed per formatted memory highlight
	highlightOverheadTokens = 30
)

// PromptBudget caps how much context a prompt may carry.
type PromptBudget struct {
	MaxTokens int
}

// DefaultPromptBudget returns the standard per-prompt allowance.
func DefaultPromptBudget() PromptBudget {
	return PromptBudget{MaxTokens: defaultMaxPromptTokens}
}

// EstimateTokens approximates the token count of a text.
// Rule of thumb: 1 token ≈ 4 characters for English text.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// FitMemory keeps the leading highlights that fit the memory share of the
// budget. Input is expected in relevance order, so trimming drops the
// weakest matches.
func (b PromptBudget) FitMemory(memory []MemoryHighlight) []MemoryHighlight {
	allowance := int(float64(b.maxTokens()) * memoryShare)

	used := 0
	kept := make([]MemoryHighlight, 0, len(memory))
	for _, item := range memory {
		cost := EstimateTokens(item.Summary) + highlightOverheadTokens
		if used+cost > allowance {
			break
		}
		used += cost
		kept = append(kept, item)
	}
	return kept
}

// FitTexts keeps the leading texts that fit the free-text share of the
// budget, truncating the one that crosses the line.
func (b PromptBudget) FitTexts(texts []string) []string {
	allowance := int(float64(b.maxTokens()) * textShare)

	used := 0
	kept := make([]string, 0, len(texts))
	for _, text := range texts {
		cost := EstimateTokens(text)
		if used+cost <= allowance {
			used += cost
			kept = append(kept, text)
			continue
		}
		if remaining := allowance - used; remaining > 0 {
			kept = append(kept, TruncateToTokens(text, remaining))
		}
		break
	}
	return kept
}

func (b PromptBudget) maxTokens() int {
	if b.MaxTokens <= 0 {
		return defaultMaxPromptTokens
	}
	return b.MaxTokens
}

// TruncateToTokens hard-caps a text at a token allowance, preferring to cut
// at a line boundary.
func TruncateToTokens(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	limit := maxTokens * 4
	if limit <= 0 {
		return ""
	}
	cut := text[:limit]

	// Cut at the last full line when one exists past the halfway mark
	if idx := strings.LastIndex(cut, "\n"); idx > limit/2 {
		cut = cut[:idx]
	}

	return cut + "\n[truncated]"
}
