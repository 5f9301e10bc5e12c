package adversarial

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PackVersion is the rule pack schema version stamped on exports
const PackVersion = "1"

// Categories of the default pack
const (
	CategoryInstructionOverride = "instruction_override"
	CategoryRoleCoercion        = "role_coercion"
	CategoryExfiltration        = "exfiltration"
	CategoryEncodingSmuggle     = "encoding_smuggle"
	CategoryToolInjection       = "tool_injection"
)

// RulePack is the portable serialized form of a rule set
type RulePack struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// DefaultRules returns the built-in rule pack. Patterns match against
// normalized text, so encoded variants of these phrases are caught too.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "JB-001",
			Category:    CategoryInstructionOverride,
			Pattern:     `(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directives)`,
			Severity:    SeverityCritical,
			Description: "Classic instruction override preamble",
			Enabled:     true,
		},
		{
			ID:          "JB-002",
			Category:    CategoryInstructionOverride,
			Pattern:     `(?i)disregard\s+(your|all|any|the)\s+(instructions|guidelines|training|rules)`,
			Severity:    SeverityCritical,
			Description: "Disregard-your-training variant",
			Enabled:     true,
		},
		{
			ID:          "JB-003",
			Category:    CategoryInstructionOverride,
			Pattern:     `(?i)(enable|enter|activate|switch\s+to)\s+(developer|dan|god|jailbreak)\s+mode`,
			Severity:    SeverityHigh,
			Description: "DAN-style mode switch request",
			Enabled:     true,
		},
		{
			ID:          "JB-004",
			Category:    CategoryInstructionOverride,
			Pattern:     `(?i)your\s+new\s+(instructions|task|objective)\s+(is|are)`,
			Severity:    SeverityHigh,
			Description: "Objective replacement",
			Enabled:     true,
		},
		{
			ID:          "RC-001",
			Category:    CategoryRoleCoercion,
			Pattern:     `(?i)you\s+are\s+(now\s+)?(an?\s+)?(unrestricted|uncensored|unfiltered|unbound)`,
			Severity:    SeverityHigh,
			Description: "Coerce into an unrestricted persona",
			Enabled:     true,
		},
		{
			ID:          "RC-002",
			Category:    CategoryRoleCoercion,
			Pattern:     `(?i)(pretend|act\s+as\s+if|roleplay)\s+(that\s+)?you\s+(are\s+not|have\s+no)\s+(an?\s+)?(ai|assistant|agent|restrictions|rules)`,
			Severity:    SeverityMedium,
			Description: "Roleplay out of the agent role",
			Enabled:     true,
		},
		{
			ID:          "RC-003",
			Category:    CategoryRoleCoercion,
			Pattern:     `(?i)forget\s+(that\s+)?(you\s+are|everything\s+you)`,
			Severity:    SeverityMedium,
			Description: "Identity reset request",
			Enabled:     true,
		},
		{
			ID:          "EX-001",
			Category:    CategoryExfiltration,
			Pattern:     `(?i)(reveal|show|print|repeat|output|disclose)\s+(your|the)\s+(system\s+prompt|instructions|secret|credentials|private\s+key)`,
			Severity:    SeverityCritical,
			Description: "System prompt or secret disclosure request",
			Enabled:     true,
		},
		{
			ID:          "EX-002",
			Category:    CategoryExfiltration,
			Pattern:     `(?i)(send|post|upload|forward|exfiltrate)\b.{0,60}(private\s+key|seed\s+phrase|mnemonic|master\s+key|session\s+key)`,
			Severity:    SeverityCritical,
			Description: "Key material exfiltration request",
			Enabled:     true,
		},
		{
			ID:          "EX-003",
			Category:    CategoryExfiltration,
			Pattern:     `(?i)what\s+(is|are)\s+your\s+(initial\s+|original\s+)?(instructions|prompt)`,
			Severity:    SeverityMedium,
			Description: "Prompt probing",
			Enabled:     true,
		},
		{
			ID:          "EN-001",
			Category:    CategoryEncodingSmuggle,
			Pattern:     `(?i)base64[:,]`,
			Severity:    SeverityMedium,
			Description: "Marked base64 payload; decoded content is scanned by the other rules",
			Enabled:     true,
		},
		{
			ID:          "EN-002",
			Category:    CategoryEncodingSmuggle,
			Pattern:     `[A-Za-z0-9+/]{24,}[+/][A-Za-z0-9+/]{24,}={0,2}`,
			Severity:    SeverityLow,
			Description: "Long unmarked base64-alphabet run; hex hashes never match",
			Enabled:     true,
		},
		{
			ID:          "TI-001",
			Category:    CategoryToolInjection,
			Pattern:     `(?i)(call|invoke|execute|use)\s+(the\s+)?(tool|function|mcp)\b.{0,60}(transfer|send|approve|withdraw|submit)`,
			Severity:    SeverityCritical,
			Description: "Coerce a write tool invocation",
			Enabled:     true,
		},
		{
			ID:          "TI-002",
			Category:    CategoryToolInjection,
			Pattern:     `(?i)(<tool_call>|</tool_call>|\[tool_request\]|\{"tool":)`,
			Severity:    SeverityHigh,
			Description: "Raw tool-call markup in untrusted text",
			Enabled:     true,
		},
		{
			ID:          "TI-003",
			Category:    CategoryToolInjection,
			Pattern:     `(?i)(approve|transfer|send)\s+(all\s+)?(funds|tokens|balance|holdings)\s+to\s+0x[0-9a-fA-F]{40}`,
			Severity:    SeverityCritical,
			Description: "Direct drain instruction with a target address",
			Enabled:     true,
		},
	}
}

// Export serializes the current rule set to YAML. Rules are ordered by ID,
// so export is stable and round-trips through Import unchanged.
func (s *Scanner) Export() ([]byte, error) {
	pack := RulePack{
		Version: PackVersion,
		Rules:   s.Rules(),
	}

	var buf bytes.Buffer
	buf.WriteString("# NadPilot adversarial rule pack\n")
	buf.WriteString(fmt.Sprintf("# Exported: %s\n\n", time.Now().UTC().Format(time.RFC3339)))

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(pack); err != nil {
		return nil, fmt.Errorf("failed to encode rule pack: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to close YAML encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// Import loads a YAML rule pack into the scanner. With replace set, the
// existing registry is cleared first; otherwise pack rules merge in by ID.
// Rules are validated before any change is applied, so a bad pack leaves
// the registry untouched.
func (s *Scanner) Import(data []byte, replace bool) error {
	if len(data) == 0 {
		return fmt.Errorf("empty rule pack")
	}

	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("failed to parse rule pack: %w", err)
	}
	if pack.Version != PackVersion {
		return fmt.Errorf("unsupported rule pack version %q", pack.Version)
	}
	if len(pack.Rules) == 0 {
		return fmt.Errorf("rule pack has no rules")
	}

	// Validate everything up front
	staged := NewEmptyScanner()
	for _, r := range pack.Rules {
		if err := staged.AddRule(r); err != nil {
			return fmt.Errorf("rule pack invalid: %w", err)
		}
	}

	s.mu.Lock()
	if replace {
		s.rules = make(map[string]*compiledRule)
		s.order = nil
	}
	s.mu.Unlock()

	for _, r := range pack.Rules {
		if err := s.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}
