package llm

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("Expected 100 tokens, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("Expected 0 tokens, got %d", got)
	}
}

func TestPromptBudget_FitMemory(t *testing.T) {
	// Allowance = 1000 * 0.4 = 400 tokens; each item costs 100 + 30 overhead
	budget := PromptBudget{MaxTokens: 1000}
	summary := strings.Repeat("a", 400)

	memory := []MemoryHighlight{
		{Kind: "first", Summary: summary},
		{Kind: "second", Summary: summary},
		{Kind: "third", Summary: summary},
		{Kind: "fourth", Summary: summary},
		{Kind: "fifth", Summary: summary},
	}

	kept := budget.FitMemory(memory)
	if len(kept) != 3 {
		t.Fatalf("Expected 3 items kept, got %d", len(kept))
	}
	// Relevance order preserved: the weakest matches get dropped
	for i, want := range []string{"first", "second", "third"} {
		if kept[i].Kind != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, kept[i].Kind)
		}
	}
}

func TestPromptBudget_FitMemory_AllFit(t *testing.T) {
	budget := PromptBudget{MaxTokens: 10000}
	memory := []MemoryHighlight{
		{Kind: "a", Summary: "short"},
		{Kind: "b", Summary: "short"},
	}

	if kept := budget.FitMemory(memory); len(kept) != 2 {
		t.Errorf("Expected all items kept, got %d", len(kept))
	}
}

func TestPromptBudget_FitTexts(t *testing.T) {
	// Allowance = 1000 * 0.2 = 200 tokens
	budget := PromptBudget{MaxTokens: 1000}

	t.Run("Keeps texts that fit", func(t *testing.T) {
		texts := []string{
			strings.Repeat("a", 400), // 100 tokens
			strings.Repeat("b", 400), // 100 tokens
			strings.Repeat("c", 400), // over budget
		}

		kept := budget.FitTexts(texts)
		if len(kept) != 2 {
			t.Fatalf("Expected 2 texts kept, got %d", len(kept))
		}
		if kept[0] != texts[0] || kept[1] != texts[1] {
			t.Error("Expected leading texts kept intact")
		}
	})

	t.Run("Truncates the crossing text", func(t *testing.T) {
		texts := []string{
			strings.Repeat("a", 600), // 150 tokens
			strings.Repeat("b", 400), // 100 tokens, crosses at 50 remaining
		}

		kept := budget.FitTexts(texts)
		if len(kept) != 2 {
			t.Fatalf("Expected 2 texts kept, got %d", len(kept))
		}
		if !strings.HasSuffix(kept[1], "[truncated]") {
			t.Error("Expected crossing text to carry truncation marker")
		}
		if len(kept[1]) > 50*4+len("\n[truncated]") {
			t.Errorf("Truncated text too long: %d chars", len(kept[1]))
		}
	})
}

func TestPromptBudget_ZeroValueUsesDefault(t *testing.T) {
	var budget PromptBudget

	kept := budget.FitMemory([]MemoryHighlight{{Kind: "a", Summary: "tiny"}})
	if len(kept) != 1 {
		t.Error("Expected zero-value budget to fall back to the default allowance")
	}
}

func TestTruncateToTokens(t *testing.T) {
	t.Run("Short text unchanged", func(t *testing.T) {
		if got := TruncateToTokens("hello", 10); got != "hello" {
			t.Errorf("Expected unchanged text, got %q", got)
		}
	})

	t.Run("Cuts at line boundary", func(t *testing.T) {
		lines := strings.Repeat("0123456789\n", 20) // 220 chars
		got := TruncateToTokens(lines, 30)          // 120-char limit

		if !strings.HasSuffix(got, "\n[truncated]") {
			t.Errorf("Expected truncation marker, got %q", got)
		}
		body := strings.TrimSuffix(got, "\n[truncated]")
		if strings.Contains(body+"\n", "01234567890") {
			t.Error("Expected cut at a line boundary, found a split line")
		}
		if len(body) > 120 {
			t.Errorf("Body too long: %d chars", len(body))
		}
	})

	t.Run("Zero allowance yields empty", func(t *testing.T) {
		if got := TruncateToTokens("some text", 0); got != "" {
			t.Errorf("Expected empty string, got %q", got)
		}
	})
}
