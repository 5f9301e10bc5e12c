package metrics

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Circuit breaker trip reasons (bounded set)
	ReasonConsecutiveFailures = "consecutive_failures"
	ReasonTimeout             = "timeout"
	ReasonRateLimit           = "rate_limit"
	ReasonManualHalt          = "manual_halt"
	ReasonOther               = "other"

	// Record validation failure reasons (bounded set)
	ValidationReasonSchemaInvalid   = "schema_invalid"
	ValidationReasonFieldMissing    = "field_missing"
	ValidationReasonValueOutOfRange = "value_out_of_range"
	ValidationReasonIncompatible    = "incompatible"
	ValidationReasonOther           = "other"

	// RPC error categories (bounded set)
	RPCErrorTimeout     = "timeout"
	RPCErrorRateLimit   = "rate_limit"
	RPCErrorAuth        = "authentication"
	RPCErrorNetwork     = "network"
	RPCErrorInvalidReq  = "invalid_request"
	RPCErrorReverted    = "execution_reverted"
	RPCErrorServerError = "server_error"
	RPCErrorOther       = "other"

	// Session revocation reasons (bounded set)
	RevocationExpired    = "expired"
	RevocationVelocity   = "velocity"
	RevocationKillSwitch = "kill_switch"
	RevocationBudget     = "budget"
	RevocationManual     = "manual"
	RevocationOther      = "other"
)

// Pipeline phases (bounded label set for PhaseDuration).
const (
	PhaseScan      = "scan"
	PhaseGather    = "gather"
	PhaseAnalyze   = "analyze"
	PhaseConsensus = "consensus"
	PhaseSimulate  = "simulate"
	PhaseSubmit    = "submit"
	PhaseMetadata  = "metadata"
	PhasePersist   = "persist"
)

// NormalizeCircuitBreakerReason maps arbitrary reasons to bounded set
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "consecutive") || strings.Contains(lower, "failure"):
		return ReasonConsecutiveFailures
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ReasonTimeout
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeValidationReason maps arbitrary validation failures to bounded set
func NormalizeValidationReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "schema") || strings.Contains(lower, "version"):
		return ValidationReasonSchemaInvalid
	case strings.Contains(lower, "missing") || strings.Contains(lower, "required"):
		return ValidationReasonFieldMissing
	case strings.Contains(lower, "range") || strings.Contains(lower, "value") || strings.Contains(lower, "invalid"):
		return ValidationReasonValueOutOfRange
	case strings.Contains(lower, "compatible") || strings.Contains(lower, "migration"):
		return ValidationReasonIncompatible
	default:
		return ValidationReasonOther
	}
}

// NormalizeRPCError maps arbitrary RPC error messages to bounded set
func NormalizeRPCError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "revert"):
		return RPCErrorReverted
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return RPCErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return RPCErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return RPCErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "refused"):
		return RPCErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return RPCErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return RPCErrorServerError
	default:
		return RPCErrorOther
	}
}

// NormalizeRevocationReason maps arbitrary revocation reasons to bounded set
func NormalizeRevocationReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "expire") || strings.Contains(lower, "ttl"):
		return RevocationExpired
	case strings.Contains(lower, "velocity") || strings.Contains(lower, "spend"):
		return RevocationVelocity
	case strings.Contains(lower, "kill"):
		return RevocationKillSwitch
	case strings.Contains(lower, "budget") || strings.Contains(lower, "exhausted"):
		return RevocationBudget
	case strings.Contains(lower, "manual") || strings.Contains(lower, "admin"):
		return RevocationManual
	default:
		return RevocationOther
	}
}

// Run Pipeline Metrics
var (
	// Runs started, by what triggered them
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_runs_started_total",
		Help: "Total number of evaluation runs started, by trigger",
	}, []string{"trigger"})

	// Runs completed, by terminal status
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_runs_completed_total",
		Help: "Total number of evaluation runs completed, by terminal status",
	}, []string{"status"})

	// Currently active runs
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_active_runs",
		Help: "Number of currently active evaluation runs",
	})

	// End-to-end run duration
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_run_duration_ms",
		Help:    "End-to-end run duration in milliseconds",
		Buckets: []float64{500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
	})

	// Per-phase duration
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_phase_duration_ms",
		Help:    "Pipeline phase duration in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
	}, []string{"phase"})

	// Run index size (from database)
	RunIndexTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_run_index_total",
		Help: "Total number of runs in the persistent index",
	})

	// Recent runs by status (24h window, from database)
	RunsRecent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nadpilot_runs_recent_24h",
		Help: "Runs recorded in the last 24 hours, by status",
	}, []string{"status"})
)

// Analyzer Metrics
var (
	// Opinions produced, by role and recommended action
	AnalyzerOpinions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_analyzer_opinions_total",
		Help: "Total number of analyzer opinions, by role and action",
	}, []string{"role", "action"})

	// Most recent confidence per role
	AnalyzerConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nadpilot_analyzer_confidence",
		Help: "Most recent analyzer opinion confidence (0.0 to 1.0)",
	}, []string{"role"})

	// Analyzer status (1 = enabled, 0 = disabled)
	AnalyzerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nadpilot_analyzer_status",
		Help: "Analyzer status (1 = enabled, 0 = disabled)",
	}, []string{"role"})

	// Analyzer processing duration
	AnalyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_analyzer_duration_ms",
		Help:    "Analyzer processing duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 15000, 45000},
	}, []string{"role"})

	// Degraded opinions (analyzer failed, neutral fallback emitted)
	DegradedOpinions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_degraded_opinions_total",
		Help: "Total number of degraded fallback opinions, by role",
	}, []string{"role"})
)

// Consensus Metrics
var (
	// Decisions by status
	ConsensusDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_consensus_decisions_total",
		Help: "Total number of consensus decisions, by status",
	}, []string{"status"})

	// Adversarial vetoes
	ConsensusVetoes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_consensus_vetoes_total",
		Help: "Total number of adversarial vetoes",
	})

	// Most recent agreement score
	ConsensusAgreement = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_consensus_agreement",
		Help: "Most recent consensus agreement score (0.0 to 1.0)",
	})
)

// LLM Metrics
var (
	// LLM decisions by model and role
	LLMDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_llm_decisions_total",
		Help: "Total number of LLM decisions, by model and role",
	}, []string{"model", "role"})

	// LLM request duration
	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_llm_request_duration_ms",
		Help:    "LLM request duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	// Provider fallbacks
	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_llm_fallbacks_total",
		Help: "Total number of LLM provider fallbacks, by provider fallen back to",
	}, []string{"provider"})
)

// Chain Metrics
var (
	// RPC call latency by method
	ChainRPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_chain_rpc_latency_ms",
		Help:    "Chain RPC call latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method"})

	// RPC errors by method and category
	ChainRPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_chain_rpc_errors_total",
		Help: "Total chain RPC errors, by method and error category",
	}, []string{"method", "error_type"})

	// Latest observed head block
	ChainHeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_chain_head_block",
		Help: "Latest observed chain head block number",
	})

	// Launchpad API latency by endpoint
	LaunchpadAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_launchpad_api_latency_ms",
		Help:    "Launchpad API latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"endpoint"})

	// Launchpad API errors
	LaunchpadAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_launchpad_api_errors_total",
		Help: "Total launchpad API errors, by endpoint and error category",
	}, []string{"endpoint", "error_type"})
)

// Memory Metrics
var (
	// Items indexed by category
	MemoryItemsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_memory_items_indexed_total",
		Help: "Total number of memory items indexed, by category",
	}, []string{"category"})

	// Total items in the store (from database)
	MemoryItemsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_memory_items_total",
		Help: "Total number of items in the vector memory store",
	})

	// Near-duplicate hits during indexing
	MemoryDedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_memory_dedup_hits_total",
		Help: "Total number of near-duplicate hits during indexing",
	})

	// Similarity search duration
	MemorySearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_memory_search_duration_ms",
		Help:    "Vector similarity search duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	// Indexer queue depth
	IndexerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_indexer_queue_depth",
		Help: "Number of items waiting in the indexer queue",
	})

	// Embedding requests by provider and status
	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_embedding_requests_total",
		Help: "Total embedding requests, by provider and status",
	}, []string{"provider", "status"})
)

// Adversarial Scanner Metrics
var (
	// Scans performed
	AdversarialScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_adversarial_scans_total",
		Help: "Total adversarial scans, by result",
	}, []string{"result"})

	// Rule matches by category and severity
	AdversarialMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_adversarial_matches_total",
		Help: "Total adversarial rule matches, by category and severity",
	}, []string{"category", "severity"})
)

// Guard and Security Metrics
var (
	// Write checks by mode and outcome
	GuardChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_guard_checks_total",
		Help: "Total guard checks, by mode and outcome",
	}, []string{"mode", "outcome"})

	// Security events by type
	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_security_events_total",
		Help: "Total security events, by type",
	}, []string{"event_type"})

	// Kill switch state (1 = active)
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_kill_switch_active",
		Help: "Kill switch state (1 = active, 0 = inactive)",
	})
)

// Session Key Metrics
var (
	// Keys issued
	SessionKeysIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_session_keys_issued_total",
		Help: "Total number of session keys issued",
	})

	// Keys revoked, by normalized reason
	SessionKeysRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_session_keys_revoked_total",
		Help: "Total number of session keys revoked, by reason",
	}, []string{"reason"})

	// Validation failures, by normalized reason
	SessionValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_session_validation_failures_total",
		Help: "Total session validation failures, by reason",
	}, []string{"reason"})

	// Currently active keys
	ActiveSessionKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_active_session_keys",
		Help: "Number of currently active session keys",
	})
)

// Bundle and Submission Metrics
var (
	// Simulations by outcome
	Simulations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_simulations_total",
		Help: "Total bundle simulations, by outcome",
	}, []string{"status"})

	// Simulation duration
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_simulation_duration_ms",
		Help:    "Bundle simulation duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	})

	// Constraint enforcer rejections by check
	EnforcerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_enforcer_rejections_total",
		Help: "Total constraint enforcer rejections, by failed check",
	}, []string{"check"})

	// Submissions by route and status
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_submissions_total",
		Help: "Total bundle submissions, by route and status",
	}, []string{"route", "status"})

	// Submission latency by route
	SubmissionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_submission_latency_ms",
		Help:    "Bundle submission latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"route"})

	// Nonce manager events
	NonceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_nonce_events_total",
		Help: "Total nonce manager events, by event",
	}, []string{"event"})

	// Deferred approval queue depth
	DeferredQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_deferred_queue_depth",
		Help: "Number of submissions awaiting manual approval",
	})
)

// Metadata Pipeline Metrics
var (
	// Metadata versions published
	MetadataVersions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_metadata_versions_total",
		Help: "Total number of token metadata versions published",
	})

	// Versions persisted (from database)
	MetadataVersionsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_metadata_versions_stored",
		Help: "Total number of metadata versions in the version store",
	})

	// Pin attempts by provider and status
	MetadataPins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_metadata_pins_total",
		Help: "Total pin attempts, by provider and status",
	}, []string{"provider", "status"})

	// Pin latency by provider
	PinLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_pin_latency_ms",
		Help:    "Metadata pin latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 15000},
	}, []string{"provider"})
)

// Reward Ledger Metrics
var (
	// Reward events by kind and status
	RewardEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_reward_events_total",
		Help: "Total reward events, by action kind and status",
	}, []string{"kind", "status"})

	// Penalties applied by reason
	PenaltyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_penalty_events_total",
		Help: "Total penalties applied, by reason",
	}, []string{"reason"})

	// Oracle verifications by oracle and outcome
	OracleVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_oracle_verifications_total",
		Help: "Total verification oracle calls, by oracle and outcome",
	}, []string{"oracle", "outcome"})

	// Mean reputation accuracy (from database)
	ReputationAvgAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_reputation_avg_accuracy",
		Help: "Mean accuracy rate across reputation records",
	})
)

// Event Bus Metrics
var (
	// Connected bus subscribers
	EventBusClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_event_bus_clients",
		Help: "Number of connected event bus subscribers",
	})

	// Events published by type tag
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_events_published_total",
		Help: "Total events published to the bus, by event type",
	}, []string{"event_type"})

	// Events dropped by reason
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_events_dropped_total",
		Help: "Total events dropped, by reason",
	}, []string{"reason"})

	// Connected websocket clients
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_websocket_clients",
		Help: "Number of connected websocket clients",
	})
)

// Run Record Metrics
var (
	// Record writes by status
	RunRecordWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_run_record_writes_total",
		Help: "Total run record writes, by status",
	}, []string{"status"})

	// Record write latency
	RunRecordWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_run_record_write_latency_ms",
		Help:    "Run record write latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// Vault Metrics
var (
	// Vault requests by status
	VaultRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_vault_requests_total",
		Help: "Total Vault requests, by status",
	}, []string{"status"})

	// Vault request duration
	VaultRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_vault_request_duration_ms",
		Help:    "Vault request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// Vault cache hits and misses
	VaultCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_vault_cache_hits_total",
		Help: "Total Vault secret cache hits",
	})

	VaultCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_vault_cache_misses_total",
		Help: "Total Vault secret cache misses",
	})

	// Vault cache size
	VaultCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_vault_cache_size",
		Help: "Number of secrets in the Vault cache",
	})
)

// System Health Metrics
var (
	// Database connections
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_database_connections_idle",
		Help: "Number of idle database connections",
	})

	// Redis cache hit rate
	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadpilot_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	// Redis operations
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	// HTTP requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// Errors
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	// Database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	// NATS messages
	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_nats_messages_published_total",
		Help: "Total number of NATS messages published",
	})

	NATSMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadpilot_nats_messages_received_total",
		Help: "Total number of NATS messages received",
	})

	// MCP tool call duration
	MCPToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadpilot_mcp_tool_call_duration_ms",
		Help:    "MCP tool call duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"tool_name", "server"})
)

// Circuit Breaker Metrics
var (
	// Circuit breaker status (1 = open/tripped, 0 = closed)
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nadpilot_circuit_breaker_status",
		Help: "Circuit breaker status (1 = open/tripped, 0 = closed)",
	}, []string{"breaker_type"})

	// Circuit breaker trips
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})
)

// Audit Metrics
var (
	// Audit log operations
	AuditLogOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_audit_log_operations_total",
		Help: "Total number of audit log operations by event type and status",
	}, []string{"event_type", "status"})

	// Audit log failures
	AuditLogFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadpilot_audit_log_failures_total",
		Help: "Total number of audit log failures by error type",
	}, []string{"error_type", "event_type"})

	// Audit log latency
	AuditLogLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadpilot_audit_log_latency_ms",
		Help:    "Audit log operation latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// Helper functions to update metrics

// RecordRunStarted records a run start
func RecordRunStarted(trigger string) {
	RunsStarted.WithLabelValues(trigger).Inc()
}

// RecordRunCompleted records a run completion with its terminal status
func RecordRunCompleted(status string, durationMs float64) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.Observe(durationMs)
}

// UpdateActiveRuns updates the number of active runs
func UpdateActiveRuns(count int) {
	ActiveRuns.Set(float64(count))
}

// RecordPhase records a pipeline phase duration
func RecordPhase(phase string, durationMs float64) {
	PhaseDuration.WithLabelValues(phase).Observe(durationMs)
}

// RecordAnalyzerOpinion records an analyzer opinion
func RecordAnalyzerOpinion(role, action string, confidence float64) {
	AnalyzerOpinions.WithLabelValues(role, action).Inc()
	AnalyzerConfidence.WithLabelValues(role).Set(confidence)
}

// RecordAnalyzerDuration records analyzer processing duration
func RecordAnalyzerDuration(role string, durationMs float64) {
	AnalyzerDuration.WithLabelValues(role).Observe(durationMs)
}

// RecordDegradedOpinion records a degraded fallback opinion
func RecordDegradedOpinion(role string) {
	DegradedOpinions.WithLabelValues(role).Inc()
}

// SetAnalyzerStatus sets analyzer enabled/disabled status
func SetAnalyzerStatus(role string, enabled bool) {
	status := 0.0
	if enabled {
		status = 1.0
	}
	AnalyzerStatus.WithLabelValues(role).Set(status)
}

// RecordConsensusDecision records a consensus decision
func RecordConsensusDecision(status string, agreement float64) {
	ConsensusDecisions.WithLabelValues(status).Inc()
	ConsensusAgreement.Set(agreement)
}

// RecordConsensusVeto records an adversarial veto
func RecordConsensusVeto() {
	ConsensusVetoes.Inc()
}

// RecordLLMDecision records an LLM decision
func RecordLLMDecision(model, role string, durationMs float64) {
	LLMDecisions.WithLabelValues(model, role).Inc()
	LLMRequestDuration.Observe(durationMs)
}

// RecordLLMFallback records an LLM provider fallback
func RecordLLMFallback(provider string) {
	LLMFallbacks.WithLabelValues(provider).Inc()
}

// RecordChainRPCCall records a chain RPC call with normalized error category
func RecordChainRPCCall(method string, durationMs float64, err error) {
	ChainRPCLatency.WithLabelValues(method).Observe(durationMs)
	if err != nil {
		ChainRPCErrors.WithLabelValues(method, NormalizeRPCError(err)).Inc()
	}
}

// SetChainHead sets the latest observed head block
func SetChainHead(block uint64) {
	ChainHeadBlock.Set(float64(block))
}

// RecordLaunchpadCall records a launchpad API call with normalized error category
func RecordLaunchpadCall(endpoint string, durationMs float64, err error) {
	LaunchpadAPILatency.WithLabelValues(endpoint).Observe(durationMs)
	if err != nil {
		LaunchpadAPIErrors.WithLabelValues(endpoint, NormalizeRPCError(err)).Inc()
	}
}

// RecordMemoryIndexed records an indexed memory item
func RecordMemoryIndexed(category string) {
	MemoryItemsIndexed.WithLabelValues(category).Inc()
}

// RecordMemoryDedupHit records a near-duplicate hit
func RecordMemoryDedupHit() {
	MemoryDedupHits.Inc()
}

// RecordMemorySearch records a similarity search duration
func RecordMemorySearch(durationMs float64) {
	MemorySearchDuration.Observe(durationMs)
}

// UpdateIndexerQueueDepth updates the indexer queue depth
func UpdateIndexerQueueDepth(depth int) {
	IndexerQueueDepth.Set(float64(depth))
}

// RecordEmbeddingRequest records an embedding request
func RecordEmbeddingRequest(provider string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	EmbeddingRequests.WithLabelValues(provider, status).Inc()
}

// RecordAdversarialScan records an adversarial scan result
func RecordAdversarialScan(clean bool) {
	result := "clean"
	if !clean {
		result = "flagged"
	}
	AdversarialScans.WithLabelValues(result).Inc()
}

// RecordAdversarialMatch records an adversarial rule match
func RecordAdversarialMatch(category, severity string) {
	AdversarialMatches.WithLabelValues(category, severity).Inc()
}

// RecordGuardCheck records a guard check outcome
func RecordGuardCheck(mode, outcome string) {
	GuardChecks.WithLabelValues(mode, outcome).Inc()
}

// RecordSecurityEvent records a security event
func RecordSecurityEvent(eventType string) {
	SecurityEvents.WithLabelValues(eventType).Inc()
}

// SetKillSwitch sets the kill switch state
func SetKillSwitch(active bool) {
	status := 0.0
	if active {
		status = 1.0
	}
	KillSwitchActive.Set(status)
}

// RecordSessionIssued records a session key issuance
func RecordSessionIssued() {
	SessionKeysIssued.Inc()
}

// RecordSessionRevoked records a session key revocation with normalized reason
func RecordSessionRevoked(reason string) {
	SessionKeysRevoked.WithLabelValues(NormalizeRevocationReason(reason)).Inc()
}

// RecordSessionValidationFailure records a session validation failure with normalized reason
func RecordSessionValidationFailure(reason string) {
	SessionValidationFailures.WithLabelValues(NormalizeRevocationReason(reason)).Inc()
}

// UpdateActiveSessionKeys updates the number of active session keys
func UpdateActiveSessionKeys(count int) {
	ActiveSessionKeys.Set(float64(count))
}

// RecordSimulation records a bundle simulation
func RecordSimulation(status string, durationMs float64) {
	Simulations.WithLabelValues(status).Inc()
	SimulationDuration.Observe(durationMs)
}

// RecordEnforcerRejection records a constraint enforcer rejection
func RecordEnforcerRejection(check string) {
	EnforcerRejections.WithLabelValues(check).Inc()
}

// RecordSubmission records a bundle submission
func RecordSubmission(route, status string, durationMs float64) {
	Submissions.WithLabelValues(route, status).Inc()
	SubmissionLatency.WithLabelValues(route).Observe(durationMs)
}

// RecordNonceEvent records a nonce manager event
func RecordNonceEvent(event string) {
	NonceEvents.WithLabelValues(event).Inc()
}

// UpdateDeferredQueueDepth updates the deferred approval queue depth
func UpdateDeferredQueueDepth(depth int) {
	DeferredQueueDepth.Set(float64(depth))
}

// RecordMetadataVersion records a published metadata version
func RecordMetadataVersion() {
	MetadataVersions.Inc()
}

// RecordMetadataPin records a pin attempt
func RecordMetadataPin(provider string, ok bool, durationMs float64) {
	status := "success"
	if !ok {
		status = "failure"
	}
	MetadataPins.WithLabelValues(provider, status).Inc()
	PinLatency.WithLabelValues(provider).Observe(durationMs)
}

// RecordRewardEvent records a reward ledger event
func RecordRewardEvent(kind, status string) {
	RewardEvents.WithLabelValues(kind, status).Inc()
}

// RecordPenalty records a penalty application
func RecordPenalty(reason string) {
	PenaltyEvents.WithLabelValues(reason).Inc()
}

// RecordOracleVerification records a verification oracle call
func RecordOracleVerification(oracle string, verified bool) {
	outcome := "verified"
	if !verified {
		outcome = "unverified"
	}
	OracleVerifications.WithLabelValues(oracle, outcome).Inc()
}

// UpdateEventBusClients updates the number of connected bus subscribers
func UpdateEventBusClients(count int) {
	EventBusClients.Set(float64(count))
}

// RecordEventPublished records an event published to the bus
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records a dropped event
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// UpdateWebSocketClients updates the number of connected websocket clients
func UpdateWebSocketClients(count int) {
	WebSocketClients.Set(float64(count))
}

// RecordRunRecordWrite records a run record write
func RecordRunRecordWrite(status string, durationMs float64) {
	RunRecordWrites.WithLabelValues(status).Inc()
	RunRecordWriteLatency.Observe(durationMs)
}

// RecordVaultRequest records a Vault request with duration
func RecordVaultRequest(durationMs float64, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	VaultRequests.WithLabelValues(status).Inc()
	VaultRequestDuration.Observe(durationMs)
}

// RecordVaultCacheHit records a Vault cache hit
func RecordVaultCacheHit() {
	VaultCacheHits.Inc()
}

// RecordVaultCacheMiss records a Vault cache miss
func RecordVaultCacheMiss() {
	VaultCacheMisses.Inc()
}

// UpdateVaultCacheSize updates the Vault cache size
func UpdateVaultCacheSize(size int) {
	VaultCacheSize.Set(float64(size))
}

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordMCPToolCall records an MCP tool call
func RecordMCPToolCall(toolName, server string, durationMs float64) {
	MCPToolCallDuration.WithLabelValues(toolName, server).Observe(durationMs)
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

var cacheHits, cacheLookups int64

// RecordCacheLookup tracks one cache lookup and refreshes the hit-rate
// gauge.
func RecordCacheLookup(hit bool) {
	total := atomic.AddInt64(&cacheLookups, 1)
	hits := atomic.LoadInt64(&cacheHits)
	if hit {
		hits = atomic.AddInt64(&cacheHits, 1)
	}
	RedisCacheHitRate.Set(float64(hits) / float64(total))
}

// UpdateCircuitBreaker updates circuit breaker status
func UpdateCircuitBreaker(breakerType string, open bool) {
	status := 0.0
	if open {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with normalized reason
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeCircuitBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}

// RecordAuditLog records an audit log operation
func RecordAuditLog(eventType string, success bool, durationMs float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	AuditLogOperations.WithLabelValues(eventType, status).Inc()
	AuditLogLatency.Observe(durationMs)
}

// RecordAuditLogFailure records an audit log failure with error type
func RecordAuditLogFailure(errorType, eventType string) {
	AuditLogFailures.WithLabelValues(errorType, eventType).Inc()
}

// RecordValidationFailure records a record validation failure with normalized reason
func RecordValidationFailure(component, reason string) {
	Errors.WithLabelValues(NormalizeValidationReason(reason), component).Inc()
}
