package llm

// Role identifies which analyzer a prompt or completion belongs to.
type Role string

const (
	RoleScout       Role = "scout"
	RoleMacro       Role = "macro"
	RoleOnchain     Role = "onchain"
	RoleRisk        Role = "risk"
	RoleAdversarial Role = "adversarial"
)

// Assessment is the structured verdict every analyzer asks the model for.
type Assessment struct {
	Action     string   `json:"action"`     // "execute", "hold", "reject"
	Confidence float64  `json:"confidence"` // 0.0 to 1.0
	Reasoning  string   `json:"reasoning"`
	RiskScore  float64  `json:"risk_score"` // 0.0 to 1.0
	KeyFactors []string `json:"key_factors,omitempty"`
	Concerns   []string `json:"concerns,omitempty"`
}

// TrapVerdict is the adversarial analyzer's judgment on whether a launch is
// bait engineered to exploit automated buyers.
type TrapVerdict struct {
	IsTrap         bool     `json:"is_trap"`
	TrapConfidence float64  `json:"trap_confidence"` // 0.0 to 1.0
	Indicators     []string `json:"indicators,omitempty"`
	Reasoning      string   `json:"reasoning"`
}

// LaunchContext is the prompt-facing snapshot of a token launch. The agent
// runner flattens its signal bundle into this before building prompts.
type LaunchContext struct {
	TokenAddress    string
	Symbol          string
	Name            string
	AgeMinutes      float64
	PriceNative     float64
	LiquidityNative float64
	BondingCurve    bool
	GraduationPct   float64
	HolderCount     int64
	CreatorPct      float64
	Concentration   string
	TxCount         int
	BotRiskScore    float64
	BotRiskLevel    string
	Indicators      map[string]float64
}

// MemoryHighlight is one retrieved memory item condensed for a prompt.
type MemoryHighlight struct {
	Kind      string
	Summary   string
	Score     float64 // similarity to the current launch
	Sentiment float64
	AgeHours  float64
	Outcome   string // labeled outcome, empty when unlabeled
}

// ChatRequest represents a request to the model gateway.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

// ChatMessage represents a single message in the chat.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatResponse represents the response from the model gateway.
type ChatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ErrorResponse represents an error payload from the model gateway.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
