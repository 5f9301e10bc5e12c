package agents

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nadpilot/nadpilot/internal/llm"
)

// Recommendation is an analyzer's verdict on a launch
type Recommendation string

const (
	RecommendExecute Recommendation = "execute"
	RecommendHold    Recommendation = "hold"
	RecommendReject  Recommendation = "reject"
)

// ValidRecommendation reports whether r is a known recommendation
func ValidRecommendation(r Recommendation) bool {
	switch r {
	case RecommendExecute, RecommendHold, RecommendReject:
		return true
	}
	return false
}

// NewsItem is one news signal in a bundle
type NewsItem struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	Tickers     []string  `json:"tickers,omitempty"`
	Sentiment   *float64  `json:"sentiment,omitempty"` // [-1, 1]
}

// SocialItem is one social signal in a bundle
type SocialItem struct {
	Platform       string  `json:"platform"`
	AuthorID       string  `json:"authorId"`
	Influencer     bool    `json:"influencer"`
	EngagementRate float64 `json:"engagementRate"`
	Text           string  `json:"text,omitempty"`
}

// OnChainSnapshot is the at-most-one chain state observation in a bundle
type OnChainSnapshot struct {
	ChainID       int64   `json:"chainId"`
	BlockHeight   uint64  `json:"blockHeight"`
	GasPriceWei   string  `json:"gasPriceWei"`
	TokenAddress  string  `json:"tokenAddress,omitempty"`
	PoolLiquidity string  `json:"poolLiquidity,omitempty"`
	CurvePct      float64 `json:"curvePct"`
	HolderCount   uint64  `json:"holderCount"`
}

// MemorySimilarity is one retrieved memory reference in a bundle
type MemorySimilarity struct {
	Fingerprint string   `json:"fingerprint"`
	Score       float64  `json:"score"` // cosine in (0, 1]
	ImpactLabel string   `json:"impactLabel,omitempty"`
	ImpactPct   *float64 `json:"impactPct,omitempty"`
}

// SignalBundle is the input to one run. It is immutable once the run
// starts; Checksum is the run's input checksum.
type SignalBundle struct {
	News    []NewsItem         `json:"news,omitempty"`
	Social  []SocialItem       `json:"social,omitempty"`
	OnChain *OnChainSnapshot   `json:"onChain,omitempty"`
	Memory  []MemorySimilarity `json:"memory,omitempty"`
}

// Checksum returns the SHA-256 digest of the bundle's canonical JSON
// form. Map-free structures make encoding/json output deterministic.
func (b *SignalBundle) Checksum() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signal bundle: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FreeTexts returns every free-text field in the bundle for adversarial
// scanning, in a stable order.
func (b *SignalBundle) FreeTexts() []string {
	var texts []string
	for _, item := range b.News {
		if item.Title != "" {
			texts = append(texts, item.Title)
		}
		if item.Body != "" {
			texts = append(texts, item.Body)
		}
	}
	for _, item := range b.Social {
		if item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	return texts
}

// Tickers returns the distinct tickers mentioned across the bundle
func (b *SignalBundle) Tickers() []string {
	seen := make(map[string]struct{})
	for _, item := range b.News {
		for _, ticker := range item.Tickers {
			seen[ticker] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ticker := range seen {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// Input is the shared payload handed to every analyzer. No analyzer
// sees another's output.
type Input struct {
	RunID         string
	CorrelationID string
	Query         string
	Bundle        *SignalBundle
	Launch        llm.LaunchContext
	Memory        []llm.MemoryHighlight

	// ScanFindings are the adversarial scanner's rule hits over the
	// bundle's free text, consumed only by the adversarial analyzer.
	ScanFindings []string
}

// Opinion is one analyzer's typed verdict, produced exactly once per
// role per run. Confidence and risk are independent axes.
type Opinion struct {
	Role           llm.Role       `json:"role"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	RiskScore      float64        `json:"riskScore"`
	ChainOfThought string         `json:"chainOfThought,omitempty"`
	Insights       []string       `json:"insights,omitempty"`
	Evidence       []string       `json:"evidence,omitempty"`

	// Adversarial-only trap verdict
	IsTrap         bool    `json:"isTrap,omitempty"`
	TrapConfidence float64 `json:"trapConfidence,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`

	// Reproducibility: the model identity and prompt fingerprint that
	// produced this opinion.
	Model             string `json:"model"`
	PromptFingerprint string `json:"promptFingerprint,omitempty"`

	// Degraded marks a deadline or provider failure; degraded opinions
	// carry confidence 0 and a reason, and are excluded from consensus.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degradedReason,omitempty"`
}
