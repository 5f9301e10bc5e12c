// Package adversarial implements a deterministic text classifier that
// screens untrusted on-chain and social content for prompt-injection
// patterns before it reaches an analyzer context window.
package adversarial

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Severity grades a rule match
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for highest-wins comparison
func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ValidSeverity reports whether s is one of the four rule severities
func ValidSeverity(s Severity) bool {
	return severityRank(s) > 0
}

// Rule is one pattern in the registry. Pattern is a Go regular expression
// matched against normalized text.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Category    string   `yaml:"category" json:"category"`
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Match is one rule hit within a scan
type Match struct {
	RuleID   string   `json:"ruleId"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Excerpt  string   `json:"excerpt"`
}

// ScanResult is the outcome of scanning one piece of text
type ScanResult struct {
	IsClean         bool     `json:"isClean"`
	Matches         []Match  `json:"matches"`
	HighestSeverity Severity `json:"highestSeverity"`
	Blocked         bool     `json:"blocked"`
}

// Scanner holds the rule registry. Safe for concurrent use; Scan holds a
// read lock so registry edits never race a scan in flight.
type Scanner struct {
	mu    sync.RWMutex
	rules map[string]*compiledRule
	order []string
}

// NewScanner creates a scanner loaded with the default rule pack
func NewScanner() *Scanner {
	s := NewEmptyScanner()
	for _, r := range DefaultRules() {
		// Default rules are vetted at build time, compile cannot fail
		if err := s.AddRule(r); err != nil {
			panic(fmt.Sprintf("default rule %s invalid: %v", r.ID, err))
		}
	}
	return s
}

// NewEmptyScanner creates a scanner with no rules
func NewEmptyScanner() *Scanner {
	return &Scanner{rules: make(map[string]*compiledRule)}
}

// AddRule compiles and registers a rule. An existing rule with the same ID
// is replaced.
func (s *Scanner) AddRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.Category == "" {
		return fmt.Errorf("rule %s: category is required", r.ID)
	}
	if !ValidSeverity(r.Severity) {
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}

	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: failed to compile pattern: %w", r.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; !exists {
		s.order = append(s.order, r.ID)
		sort.Strings(s.order)
	}
	s.rules[r.ID] = &compiledRule{Rule: r, re: re}
	return nil
}

// RemoveRule removes a rule by ID, reporting whether it existed
func (s *Scanner) RemoveRule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// SetEnabled toggles a rule without removing it, reporting whether it exists
func (s *Scanner) SetEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return false
	}
	r.Enabled = enabled
	return true
}

// Rules returns all registered rules sorted by ID
func (s *Scanner) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id].Rule)
	}
	return out
}

// Scan normalizes text and matches it against every enabled rule. The scan
// is deterministic: same text and registry always yield the same result,
// with matches ordered by rule ID.
func (s *Scanner) Scan(text string) ScanResult {
	normalized := Normalize(text)

	s.mu.RLock()
	var matches []Match
	highest := SeverityNone
	for _, id := range s.order {
		r := s.rules[id]
		if !r.Enabled {
			continue
		}
		loc := r.re.FindStringIndex(normalized)
		if loc == nil {
			continue
		}
		matches = append(matches, Match{
			RuleID:   r.ID,
			Category: r.Category,
			Severity: r.Severity,
			Excerpt:  excerpt(normalized, loc[0], loc[1]),
		})
		if severityRank(r.Severity) > severityRank(highest) {
			highest = r.Severity
		}
	}
	s.mu.RUnlock()

	result := ScanResult{
		IsClean:         len(matches) == 0,
		Matches:         matches,
		HighestSeverity: highest,
		Blocked:         highest == SeverityHigh || highest == SeverityCritical,
	}

	metrics.RecordAdversarialScan(result.IsClean)
	for _, m := range matches {
		metrics.RecordAdversarialMatch(m.Category, string(m.Severity))
	}

	return result
}

// ScanAll scans several texts and merges the results, keeping every match
// and the highest severity across all inputs.
func (s *Scanner) ScanAll(texts ...string) ScanResult {
	merged := ScanResult{IsClean: true, HighestSeverity: SeverityNone}
	for _, text := range texts {
		r := s.Scan(text)
		merged.Matches = append(merged.Matches, r.Matches...)
		if severityRank(r.HighestSeverity) > severityRank(merged.HighestSeverity) {
			merged.HighestSeverity = r.HighestSeverity
		}
	}
	merged.IsClean = len(merged.Matches) == 0
	merged.Blocked = merged.HighestSeverity == SeverityHigh || merged.HighestSeverity == SeverityCritical
	return merged
}

const maxExcerptRunes = 120

// excerpt extracts the matched slice, cut at a rune boundary
func excerpt(s string, start, end int) string {
	matched := s[start:end]
	runes := []rune(matched)
	if len(runes) > maxExcerptRunes {
		return string(runes[:maxExcerptRunes])
	}
	return matched
}
