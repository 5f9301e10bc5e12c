package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateDatabaseConnections(t *testing.T) {
	// Test updating database connections
	UpdateDatabaseConnections(5, 2)

	// We can't directly assert the metric values as they're global,
	// but we can verify the function doesn't panic
	assert.NotPanics(t, func() {
		UpdateDatabaseConnections(10, 3)
		UpdateDatabaseConnections(0, 0)
		UpdateDatabaseConnections(100, 50)
	})
}

func TestRecordAPIRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		statusCode string
		durationMs float64
	}{
		{
			name:       "GET request success",
			method:     "GET",
			path:       "/api/v1/runs",
			statusCode: "200",
			durationMs: 45.5,
		},
		{
			name:       "POST request created",
			method:     "POST",
			path:       "/api/v1/runs",
			statusCode: "201",
			durationMs: 120.3,
		},
		{
			name:       "GET request not found",
			method:     "GET",
			path:       "/api/v1/unknown",
			statusCode: "404",
			durationMs: 5.2,
		},
		{
			name:       "POST request error",
			method:     "POST",
			path:       "/api/v1/admin/mode",
			statusCode: "500",
			durationMs: 250.8,
		},
		{
			name:       "Zero duration",
			method:     "GET",
			path:       "/health",
			statusCode: "200",
			durationMs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordAPIRequest(tt.method, tt.path, tt.statusCode, tt.durationMs)
			})
		})
	}
}

func TestRecordError(t *testing.T) {
	tests := []struct {
		name      string
		errorType string
		component string
	}{
		{
			name:      "database error",
			errorType: "database_timeout",
			component: "runrecord",
		},
		{
			name:      "api error",
			errorType: "invalid_request",
			component: "api",
		},
		{
			name:      "rpc error",
			errorType: "rate_limit",
			component: "chain",
		},
		{
			name:      "analyzer error",
			errorType: "timeout",
			component: "scout_analyzer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordError(tt.errorType, tt.component)
			})
		})
	}
}

func TestRecordRunLifecycle(t *testing.T) {
	tests := []struct {
		name       string
		trigger    string
		status     string
		durationMs float64
	}{
		{
			name:       "scheduled run completed",
			trigger:    "scheduled",
			status:     "completed",
			durationMs: 42000.0,
		},
		{
			name:       "manual run completed",
			trigger:    "manual",
			status:     "completed",
			durationMs: 38500.5,
		},
		{
			name:       "event run errored",
			trigger:    "event",
			status:     "error",
			durationMs: 1250.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordRunStarted(tt.trigger)
				RecordRunCompleted(tt.status, tt.durationMs)
			})
		})
	}

	assert.NotPanics(t, func() {
		UpdateActiveRuns(3)
		UpdateActiveRuns(0)
	})
}

func TestRecordPhase(t *testing.T) {
	phases := []string{
		PhaseScan,
		PhaseGather,
		PhaseAnalyze,
		PhaseConsensus,
		PhaseSimulate,
		PhaseSubmit,
		PhaseMetadata,
		PhasePersist,
	}

	for _, phase := range phases {
		t.Run(phase, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordPhase(phase, 125.5)
			})
		})
	}
}

func TestRecordAnalyzerOpinion(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		action     string
		confidence float64
	}{
		{
			name:       "scout buy opinion high confidence",
			role:       "scout",
			action:     "buy",
			confidence: 0.85,
		},
		{
			name:       "risk avoid opinion medium confidence",
			role:       "risk",
			action:     "avoid",
			confidence: 0.65,
		},
		{
			name:       "macro hold opinion low confidence",
			role:       "macro",
			action:     "hold",
			confidence: 0.45,
		},
		{
			name:       "zero confidence",
			role:       "onchain",
			action:     "monitor",
			confidence: 0.0,
		},
		{
			name:       "max confidence",
			role:       "adversarial",
			action:     "avoid",
			confidence: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordAnalyzerOpinion(tt.role, tt.action, tt.confidence)
			})
		})
	}
}

func TestRecordAnalyzerDuration(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		durationMs float64
	}{
		{
			name:       "scout fast",
			role:       "scout",
			durationMs: 850.5,
		},
		{
			name:       "macro medium",
			role:       "macro",
			durationMs: 2250.3,
		},
		{
			name:       "risk slow",
			role:       "risk",
			durationMs: 15000.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordAnalyzerDuration(tt.role, tt.durationMs)
			})
		})
	}
}

func TestSetAnalyzerStatus(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		enabled bool
	}{
		{
			name:    "scout enabled",
			role:    "scout",
			enabled: true,
		},
		{
			name:    "macro disabled",
			role:    "macro",
			enabled: false,
		},
		{
			name:    "adversarial enabled",
			role:    "adversarial",
			enabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				SetAnalyzerStatus(tt.role, tt.enabled)
			})
		})
	}
}

func TestRecordDegradedOpinion(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDegradedOpinion("scout")
		RecordDegradedOpinion("risk")
	})
}

func TestRecordConsensusDecision(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		agreement float64
	}{
		{
			name:      "approved decision",
			status:    "APPROVED",
			agreement: 0.92,
		},
		{
			name:      "rejected decision",
			status:    "REJECTED",
			agreement: 0.40,
		},
		{
			name:      "vetoed decision",
			status:    "VETOED",
			agreement: 0.75,
		},
		{
			name:      "manual review decision",
			status:    "MANUAL_REVIEW",
			agreement: 0.66,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordConsensusDecision(tt.status, tt.agreement)
			})
		})
	}

	assert.NotPanics(t, func() {
		RecordConsensusVeto()
	})
}

func TestRecordLLMDecision(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		role       string
		durationMs float64
	}{
		{
			name:       "claude decision fast",
			model:      "claude-sonnet-4",
			role:       "scout",
			durationMs: 500.5,
		},
		{
			name:       "gpt decision medium",
			model:      "gpt-4o",
			role:       "risk",
			durationMs: 1200.3,
		},
		{
			name:       "gemini decision slow",
			model:      "gemini-pro",
			role:       "macro",
			durationMs: 3500.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordLLMDecision(tt.model, tt.role, tt.durationMs)
			})
		})
	}

	assert.NotPanics(t, func() {
		RecordLLMFallback("openai")
	})
}

func TestRecordChainRPCCall(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		durationMs float64
		err        error
	}{
		{
			name:       "eth_call success",
			method:     "eth_call",
			durationMs: 45.2,
			err:        nil,
		},
		{
			name:       "eth_blockNumber success",
			method:     "eth_blockNumber",
			durationMs: 12.1,
			err:        nil,
		},
		{
			name:       "eth_call timeout",
			method:     "eth_call",
			durationMs: 5000.0,
			err:        errors.New("context deadline exceeded"),
		},
		{
			name:       "eth_sendRawTransaction reverted",
			method:     "eth_sendRawTransaction",
			durationMs: 150.4,
			err:        errors.New("execution reverted: insufficient liquidity"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordChainRPCCall(tt.method, tt.durationMs, tt.err)
			})
		})
	}

	assert.NotPanics(t, func() {
		SetChainHead(18500042)
	})
}

func TestRecordLaunchpadCall(t *testing.T) {
	tests := []struct {
		name       string
		endpoint   string
		durationMs float64
		err        error
	}{
		{
			name:       "trending success",
			endpoint:   "market_trending",
			durationMs: 220.0,
			err:        nil,
		},
		{
			name:       "token lookup rate limited",
			endpoint:   "token_by_address",
			durationMs: 35.5,
			err:        errors.New("rate limit exceeded (429)"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordLaunchpadCall(tt.endpoint, tt.durationMs, tt.err)
			})
		})
	}
}

func TestRecordMemoryMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordMemoryIndexed("token_launch")
		RecordMemoryIndexed("scam_pattern")
		RecordMemoryDedupHit()
		RecordMemorySearch(12.5)
		UpdateIndexerQueueDepth(7)
		RecordEmbeddingRequest("openai", nil)
		RecordEmbeddingRequest("gemini", errors.New("rate limited"))
	})
}

func TestRecordAdversarialScan(t *testing.T) {
	tests := []struct {
		name     string
		clean    bool
		category string
		severity string
	}{
		{
			name:     "clean scan",
			clean:    true,
			category: "",
			severity: "",
		},
		{
			name:     "instruction override match",
			clean:    false,
			category: "instruction_override",
			severity: "critical",
		},
		{
			name:     "role manipulation match",
			clean:    false,
			category: "role_manipulation",
			severity: "high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordAdversarialScan(tt.clean)
				if !tt.clean {
					RecordAdversarialMatch(tt.category, tt.severity)
				}
			})
		})
	}
}

func TestRecordGuardCheck(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		outcome string
	}{
		{
			name:    "autonomous allowed",
			mode:    "AUTONOMOUS",
			outcome: "allowed",
		},
		{
			name:    "readonly denied",
			mode:    "READONLY",
			outcome: "denied",
		},
		{
			name:    "demo simulated",
			mode:    "DEMO",
			outcome: "simulated",
		},
		{
			name:    "manual approval required",
			mode:    "MANUAL_APPROVAL",
			outcome: "requires_approval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordGuardCheck(tt.mode, tt.outcome)
			})
		})
	}

	assert.NotPanics(t, func() {
		RecordSecurityEvent("WRITE_BLOCKED")
		SetKillSwitch(true)
		SetKillSwitch(false)
	})
}

func TestRecordSessionMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordSessionIssued()
		RecordSessionRevoked("ttl expired")
		RecordSessionRevoked("velocity cap exceeded")
		RecordSessionValidationFailure("budget exhausted")
		UpdateActiveSessionKeys(2)
	})
}

func TestRecordSimulation(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		durationMs float64
	}{
		{
			name:       "simulation success",
			status:     "success",
			durationMs: 320.5,
		},
		{
			name:       "simulation reverted",
			status:     "reverted",
			durationMs: 185.2,
		},
		{
			name:       "simulation failed",
			status:     "error",
			durationMs: 5000.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordSimulation(tt.status, tt.durationMs)
			})
		})
	}

	assert.NotPanics(t, func() {
		RecordEnforcerRejection("max_spend")
		RecordEnforcerRejection("price_impact")
	})
}

func TestRecordSubmission(t *testing.T) {
	tests := []struct {
		name       string
		route      string
		status     string
		durationMs float64
	}{
		{
			name:       "public submission confirmed",
			route:      "public",
			status:     "confirmed",
			durationMs: 1250.5,
		},
		{
			name:       "private relay submission",
			route:      "private_relay",
			status:     "submitted",
			durationMs: 420.0,
		},
		{
			name:       "simulated submission",
			route:      "simulated",
			status:     "simulated",
			durationMs: 5.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordSubmission(tt.route, tt.status, tt.durationMs)
			})
		})
	}

	assert.NotPanics(t, func() {
		RecordNonceEvent("reserved")
		RecordNonceEvent("released")
		UpdateDeferredQueueDepth(1)
	})
}

func TestRecordMetadataMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordMetadataVersion()
		RecordMetadataPin("pinata", true, 850.0)
		RecordMetadataPin("infura", false, 5000.0)
	})
}

func TestRecordRewardMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRewardEvent("token_launch", "verified")
		RecordRewardEvent("trade", "rejected")
		RecordPenalty("fraudulent_submission")
		RecordOracleVerification("http", true)
		RecordOracleVerification("mock", false)
	})
}

func TestRecordEventBusMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateEventBusClients(4)
		RecordEventPublished("agent_opinion")
		RecordEventDropped("slow_consumer")
		UpdateWebSocketClients(2)
	})
}

func TestRecordRunRecordWrite(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRunRecordWrite("success", 8.5)
		RecordRunRecordWrite("failure", 120.0)
	})
}

func TestRecordVaultMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordVaultRequest(25.5, nil)
		RecordVaultRequest(150.0, errors.New("connection refused"))
		RecordVaultCacheHit()
		RecordVaultCacheMiss()
		UpdateVaultCacheSize(6)
	})
}

func TestRecordRedisOperation(t *testing.T) {
	operations := []string{"get", "set", "del", "exists", "expire", "scan"}

	for _, op := range operations {
		t.Run(op, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordRedisOperation(op)
			})
		})
	}
}

func TestUpdateCircuitBreaker(t *testing.T) {
	tests := []struct {
		name        string
		breakerType string
		open        bool
	}{
		{
			name:        "rpc breaker open",
			breakerType: "rpc",
			open:        true,
		},
		{
			name:        "launchpad breaker closed",
			breakerType: "launchpad",
			open:        false,
		},
		{
			name:        "embedding breaker open",
			breakerType: "embedding",
			open:        true,
		},
		{
			name:        "ipfs breaker closed",
			breakerType: "ipfs",
			open:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				UpdateCircuitBreaker(tt.breakerType, tt.open)
			})
		})
	}
}

func TestRecordCircuitBreakerTrip(t *testing.T) {
	tests := []struct {
		name        string
		breakerType string
		reason      string
	}{
		{
			name:        "rpc trip on failures",
			breakerType: "rpc",
			reason:      "5 consecutive failures",
		},
		{
			name:        "launchpad trip on rate limit",
			breakerType: "launchpad",
			reason:      "rate limit exceeded",
		},
		{
			name:        "oracle trip manual",
			breakerType: "oracle",
			reason:      "manual halt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordCircuitBreakerTrip(tt.breakerType, tt.reason)
			})
		})
	}
}

func TestNormalizeCircuitBreakerReason(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
	}{
		{"5 consecutive failures in 30s", ReasonConsecutiveFailures},
		{"request timeout", ReasonTimeout},
		{"context deadline exceeded", ReasonTimeout},
		{"rate limit hit", ReasonRateLimit},
		{"manual halt by operator", ReasonManualHalt},
		{"something odd", ReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeCircuitBreakerReason(tt.reason))
		})
	}
}

func TestNormalizeRPCError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "revert takes priority",
			err:      errors.New("execution reverted: slippage"),
			expected: RPCErrorReverted,
		},
		{
			name:     "timeout",
			err:      errors.New("request timeout"),
			expected: RPCErrorTimeout,
		},
		{
			name:     "deadline",
			err:      errors.New("context deadline exceeded"),
			expected: RPCErrorTimeout,
		},
		{
			name:     "rate limit",
			err:      errors.New("429 too many requests"),
			expected: RPCErrorRateLimit,
		},
		{
			name:     "auth",
			err:      errors.New("401 unauthorized"),
			expected: RPCErrorAuth,
		},
		{
			name:     "network",
			err:      errors.New("connection refused"),
			expected: RPCErrorNetwork,
		},
		{
			name:     "invalid request",
			err:      errors.New("invalid params"),
			expected: RPCErrorInvalidReq,
		},
		{
			name:     "server error",
			err:      errors.New("502 bad gateway"),
			expected: RPCErrorServerError,
		},
		{
			name:     "unknown",
			err:      errors.New("weird failure"),
			expected: RPCErrorOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeRPCError(tt.err))
		})
	}
}

func TestNormalizeRevocationReason(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
	}{
		{"ttl expired", RevocationExpired},
		{"velocity cap exceeded", RevocationVelocity},
		{"kill switch engaged", RevocationKillSwitch},
		{"budget exhausted", RevocationBudget},
		{"manual revoke by admin", RevocationManual},
		{"unknown cause", RevocationOther},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeRevocationReason(tt.reason))
		})
	}
}

func TestNormalizeValidationReason(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
	}{
		{"schema version mismatch", ValidationReasonSchemaInvalid},
		{"required field missing", ValidationReasonFieldMissing},
		{"value out of range", ValidationReasonValueOutOfRange},
		{"incompatible record shape", ValidationReasonIncompatible},
		{"who knows", ValidationReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeValidationReason(tt.reason))
		})
	}
}
