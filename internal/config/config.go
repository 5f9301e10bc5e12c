package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Mode       ModeConfig       `mapstructure:"mode"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Launchpad  LaunchpadConfig  `mapstructure:"launchpad"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Session    SessionConfig    `mapstructure:"session"`
	Bundle     BundleConfig     `mapstructure:"bundle"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
	Reward     RewardConfig     `mapstructure:"reward"`
	Records    RecordsConfig    `mapstructure:"records"`
	Events     EventsConfig     `mapstructure:"events"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	API        APIConfig        `mapstructure:"api"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// ModeConfig contains the environment-mode guard settings.
// Mode, when set, wins over the individual booleans; the booleans exist
// because operators set them as bare environment variables.
type ModeConfig struct {
	Mode             string `mapstructure:"mode"` // DEMO, READONLY, MANUAL_APPROVAL, AUTONOMOUS
	DemoMode         bool   `mapstructure:"demo_mode"`
	MainnetReadonly  bool   `mapstructure:"mainnet_readonly"`
	ManualApproval   bool   `mapstructure:"manual_approval"`
	KillSwitchActive bool   `mapstructure:"kill_switch_active"`
}

// ChainConfig contains EVM RPC settings
type ChainConfig struct {
	Network          string `mapstructure:"network"` // mainnet, testnet, devnet
	RPCURL           string `mapstructure:"rpc_url"`
	ChainID          int64  `mapstructure:"chain_id"`
	MulticallAddress string `mapstructure:"multicall_address"`
	RequestTimeoutMS int    `mapstructure:"request_timeout_ms"`
	MaxRetries       int    `mapstructure:"max_retries"`
	RateLimitRPM     int    `mapstructure:"rate_limit_rpm"`
	FinalityBlocks   int    `mapstructure:"finality_blocks"`
	FinalityMS       int    `mapstructure:"finality_ms"`
	GasBufferPct     int    `mapstructure:"gas_buffer_pct"` // the network charges by gas limit, not gas used
	CacheEntryCap    int    `mapstructure:"cache_entry_cap"`
}

// LaunchpadConfig contains the token-launchpad REST API settings
type LaunchpadConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	RateLimitRPM int    `mapstructure:"rate_limit_rpm"`
	TimeoutMS    int    `mapstructure:"timeout_ms"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Enabled       bool   `mapstructure:"enabled"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LLMConfig contains LLM gateway settings
type LLMConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	APIKey        string  `mapstructure:"api_key"`
	PrimaryModel  string  `mapstructure:"primary_model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Timeout       int     `mapstructure:"timeout"` // ms
}

// EmbeddingConfig contains the embedding provider settings
type EmbeddingConfig struct {
	Endpoint              string `mapstructure:"endpoint"`
	APIKey                string `mapstructure:"api_key"`
	Model                 string `mapstructure:"model"`
	FallbackEndpoint      string `mapstructure:"fallback_endpoint"`
	FallbackModel         string `mapstructure:"fallback_model"`
	Dimensions            int    `mapstructure:"dimensions"`
	FailureThreshold      int    `mapstructure:"failure_threshold"`
	HealthCheckIntervalMS int    `mapstructure:"health_check_interval_ms"`
	Timeout               int    `mapstructure:"timeout"` // ms
}

// MemoryConfig contains vector memory settings
type MemoryConfig struct {
	DedupThreshold float64 `mapstructure:"dedup_threshold"`
	IndexerWorkers int     `mapstructure:"indexer_workers"`
	IndexerBatch   int     `mapstructure:"indexer_batch"`
}

// AgentsConfig contains analyzer runner settings
type AgentsConfig struct {
	RunDeadlineSeconds   int `mapstructure:"run_deadline_seconds"`
	AgentTimeoutSeconds  int `mapstructure:"agent_timeout_seconds"`
	MemoryRecallLimit    int `mapstructure:"memory_recall_limit"`
	MemoryRecallMinScore float64 `mapstructure:"memory_recall_min_score"`
}

// ConsensusConfig contains decision aggregation thresholds
type ConsensusConfig struct {
	MinAgents                int     `mapstructure:"min_agents"`
	ConfidenceThreshold      float64 `mapstructure:"confidence_threshold"`
	AgreementThreshold       float64 `mapstructure:"agreement_threshold"`
	AdversarialVetoThreshold float64 `mapstructure:"adversarial_veto_threshold"`
	RiskCap                  float64 `mapstructure:"risk_cap"`
	DecisionTTLMinutes       int     `mapstructure:"decision_ttl_minutes"`
}

// SessionConfig contains session-key manager settings
type SessionConfig struct {
	MinBudgetWei     string `mapstructure:"min_budget_wei"`
	MaxTTLHours      int    `mapstructure:"max_ttl_hours"`
	VelocityWindowMS int    `mapstructure:"velocity_window_ms"`
	MasterKeyHex     string `mapstructure:"master_key_hex"` // sourced from Vault when empty
}

// BundleConfig contains simulator / enforcer settings
type BundleConfig struct {
	MaxSlippagePct   float64 `mapstructure:"max_slippage_pct"`
	RiskCap          float64 `mapstructure:"risk_cap"`
	StaleBlocks      int     `mapstructure:"stale_blocks"`
	StaleMS          int     `mapstructure:"stale_ms"`
	MaxFeePerGasWei  string  `mapstructure:"max_fee_per_gas_wei"`
	WarnFeePerGasWei string  `mapstructure:"warn_fee_per_gas_wei"`
}

// SubmissionConfig contains router + audit settings
type SubmissionConfig struct {
	PrivateRelayURL     string  `mapstructure:"private_relay_url"`
	DeferredExecutorURL string  `mapstructure:"deferred_executor_url"`
	PublicRPCAllowed    bool    `mapstructure:"public_rpc_allowed"`
	PublicMaxValueEther float64 `mapstructure:"public_max_value_ether"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	AuditDir            string  `mapstructure:"audit_dir"`
	AuditFlushSeconds   int     `mapstructure:"audit_flush_seconds"`
	NonceReserveMS      int     `mapstructure:"nonce_reserve_ms"`
}

// ExecutionConfig contains the trade execution settings used when an
// EXECUTE decision hands off to the submission pipeline.
type ExecutionConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	CurveRouter      string `mapstructure:"curve_router"` // launchpad buy entrypoint
	TradeValueWei    string `mapstructure:"trade_value_wei"`
	MaxFeePerGasWei  string `mapstructure:"max_fee_per_gas_wei"`
	PriorityFeeWei   string `mapstructure:"priority_fee_wei"`
	SessionOwner     string `mapstructure:"session_owner"`
	SessionBudgetWei string `mapstructure:"session_budget_wei"`
	SessionTTLHours  int    `mapstructure:"session_ttl_hours"`
}

// MetadataConfig contains the metadata pipeline settings
type MetadataConfig struct {
	PinataJWT        string `mapstructure:"pinata_jwt"`
	PinataBaseURL    string `mapstructure:"pinata_base_url"`
	NodeAPIURL       string `mapstructure:"node_api_url"`
	MinPinSuccess    int    `mapstructure:"min_pin_success"`
	UpdateCooldownMS int    `mapstructure:"update_cooldown_ms"`
	UpdatesPerHour   int    `mapstructure:"updates_per_hour"`

	WatchIntervalSeconds int `mapstructure:"watch_interval_seconds"`
	WatchLimit           int `mapstructure:"watch_limit"`
}

// RewardConfig contains reputation ledger settings
type RewardConfig struct {
	OracleURL   string `mapstructure:"oracle_url"`
	QueueSize   int    `mapstructure:"queue_size"`
	WorkerCount int    `mapstructure:"worker_count"`
}

// RecordsConfig contains run-record ledger settings
type RecordsConfig struct {
	Dir       string `mapstructure:"dir"`
	ListLimit int    `mapstructure:"list_limit"`
}

// EventsConfig contains live event bus settings
type EventsConfig struct {
	BufferSize         int `mapstructure:"buffer_size"`
	HeartbeatSeconds   int `mapstructure:"heartbeat_seconds"`
	ReplayMaxDelayMS   int `mapstructure:"replay_max_delay_ms"`
}

// SweepConfig contains the periodic launchpad sweep trigger settings
type SweepConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	TrendingLimit   int  `mapstructure:"trending_limit"`
	NewLimit        int  `mapstructure:"new_limit"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	AdminKey string `mapstructure:"admin_key"`
}

// AlertsConfig contains operator alert settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("NADPILOT")

	// Operators set the guard and consensus knobs as bare variables
	bindOperatorEnv(v)

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration using comprehensive validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindOperatorEnv binds the bare (unprefixed) environment variables that
// operators use to drive the environment-mode guard and consensus thresholds.
func bindOperatorEnv(v *viper.Viper) {
	_ = v.BindEnv("mode.mode", "NADPILOT_MODE_MODE", "MODE")
	_ = v.BindEnv("mode.demo_mode", "NADPILOT_MODE_DEMO_MODE", "DEMO_MODE")
	_ = v.BindEnv("mode.mainnet_readonly", "NADPILOT_MODE_MAINNET_READONLY", "MAINNET_READONLY")
	_ = v.BindEnv("mode.manual_approval", "NADPILOT_MODE_MANUAL_APPROVAL", "MANUAL_APPROVAL")
	_ = v.BindEnv("mode.kill_switch_active", "NADPILOT_MODE_KILL_SWITCH_ACTIVE", "KILL_SWITCH_ACTIVE")
	_ = v.BindEnv("chain.network", "NADPILOT_CHAIN_NETWORK", "NETWORK")
	_ = v.BindEnv("chain.rpc_url", "NADPILOT_CHAIN_RPC_URL", "RPC_URL")
	_ = v.BindEnv("chain.chain_id", "NADPILOT_CHAIN_CHAIN_ID", "CHAIN_ID")
	_ = v.BindEnv("consensus.confidence_threshold", "NADPILOT_CONSENSUS_CONFIDENCE_THRESHOLD", "CONSENSUS_CONFIDENCE_THRESHOLD")
	_ = v.BindEnv("consensus.agreement_threshold", "NADPILOT_CONSENSUS_AGREEMENT_THRESHOLD", "CONSENSUS_AGREEMENT_THRESHOLD")
	_ = v.BindEnv("consensus.adversarial_veto_threshold", "NADPILOT_CONSENSUS_ADVERSARIAL_VETO_THRESHOLD", "ADVERSARIAL_VETO_THRESHOLD")
	_ = v.BindEnv("consensus.min_agents", "NADPILOT_CONSENSUS_MIN_AGENTS", "MIN_AGENTS_FOR_CONSENSUS")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "nadpilot")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Mode defaults: read-only with manual approval unless explicitly opened up
	v.SetDefault("mode.mode", "")
	v.SetDefault("mode.demo_mode", false)
	v.SetDefault("mode.mainnet_readonly", true)
	v.SetDefault("mode.manual_approval", true)
	v.SetDefault("mode.kill_switch_active", false)

	// Chain defaults (Monad mainnet)
	v.SetDefault("chain.network", "mainnet")
	v.SetDefault("chain.rpc_url", "https://rpc.monad.xyz")
	v.SetDefault("chain.chain_id", 143)
	v.SetDefault("chain.multicall_address", "0xcA11bde05977b3631167028862bE2a173976CA11")
	v.SetDefault("chain.request_timeout_ms", 10000)
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("chain.rate_limit_rpm", 300)
	v.SetDefault("chain.finality_blocks", 2)
	v.SetDefault("chain.finality_ms", 800)
	v.SetDefault("chain.gas_buffer_pct", 15)
	v.SetDefault("chain.cache_entry_cap", 10000)

	// Launchpad defaults
	v.SetDefault("launchpad.base_url", "https://api.nadapp.net")
	v.SetDefault("launchpad.rate_limit_rpm", 60)
	v.SetDefault("launchpad.timeout_ms", 30000)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "nadpilot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.subject_prefix", "nadpilot")

	// LLM defaults
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 30000)

	// Embedding defaults
	v.SetDefault("embedding.endpoint", "https://api.openai.com/v1/embeddings")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.failure_threshold", 3)
	v.SetDefault("embedding.health_check_interval_ms", 60000)
	v.SetDefault("embedding.timeout", 10000)

	// Memory defaults
	v.SetDefault("memory.dedup_threshold", 0.99)
	v.SetDefault("memory.indexer_workers", 3)
	v.SetDefault("memory.indexer_batch", 10)

	// Agents defaults
	v.SetDefault("agents.run_deadline_seconds", 120)
	v.SetDefault("agents.agent_timeout_seconds", 45)
	v.SetDefault("agents.memory_recall_limit", 10)
	v.SetDefault("agents.memory_recall_min_score", 0.7)

	// Consensus defaults
	v.SetDefault("consensus.min_agents", 3)
	v.SetDefault("consensus.confidence_threshold", 0.85)
	v.SetDefault("consensus.agreement_threshold", 0.60)
	v.SetDefault("consensus.adversarial_veto_threshold", 0.90)
	v.SetDefault("consensus.risk_cap", 0.75)
	v.SetDefault("consensus.decision_ttl_minutes", 30)

	// Session defaults
	v.SetDefault("session.min_budget_wei", "1000000000000000") // 0.001 native
	v.SetDefault("session.max_ttl_hours", 24)
	v.SetDefault("session.velocity_window_ms", 60000)

	// Bundle defaults
	v.SetDefault("bundle.max_slippage_pct", 2.5)
	v.SetDefault("bundle.risk_cap", 0.75)
	v.SetDefault("bundle.stale_blocks", 3)
	v.SetDefault("bundle.stale_ms", 1200)
	v.SetDefault("bundle.max_fee_per_gas_wei", "200000000000") // 200 gwei
	v.SetDefault("bundle.warn_fee_per_gas_wei", "100000000000")

	// Submission defaults
	v.SetDefault("submission.public_rpc_allowed", false)
	v.SetDefault("submission.public_max_value_ether", 0.5)
	v.SetDefault("submission.timeout_seconds", 30)
	v.SetDefault("submission.audit_dir", "./data/audit")
	v.SetDefault("submission.audit_flush_seconds", 5)
	v.SetDefault("submission.nonce_reserve_ms", 30000)

	// Execution defaults: disabled until an operator opts in
	v.SetDefault("execution.enabled", false)
	v.SetDefault("execution.trade_value_wei", "10000000000000000") // 0.01 native
	v.SetDefault("execution.max_fee_per_gas_wei", "200000000000")
	v.SetDefault("execution.priority_fee_wei", "2000000000")
	v.SetDefault("execution.session_owner", "orchestrator")
	v.SetDefault("execution.session_budget_wei", "100000000000000000") // 0.1 native
	v.SetDefault("execution.session_ttl_hours", 12)

	// Metadata defaults
	v.SetDefault("metadata.pinata_base_url", "https://api.pinata.cloud")
	v.SetDefault("metadata.min_pin_success", 1)
	v.SetDefault("metadata.update_cooldown_ms", 300000) // 5 min per token
	v.SetDefault("metadata.updates_per_hour", 10)
	v.SetDefault("metadata.watch_interval_seconds", 60)
	v.SetDefault("metadata.watch_limit", 25)

	// Reward defaults
	v.SetDefault("reward.queue_size", 256)
	v.SetDefault("reward.worker_count", 2)

	// Records defaults
	v.SetDefault("records.dir", "./data/runs")
	v.SetDefault("records.list_limit", 50)

	// Events defaults
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.heartbeat_seconds", 15)
	v.SetDefault("events.replay_max_delay_ms", 2000)

	// Sweep defaults
	v.SetDefault("sweep.enabled", false)
	v.SetDefault("sweep.interval_seconds", 300)
	v.SetDefault("sweep.trending_limit", 10)
	v.SetDefault("sweep.new_limit", 10)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Alerts defaults
	v.SetDefault("alerts.telegram_enabled", false)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetTimeout returns the embedding request timeout as time.Duration
func (c *EmbeddingConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetRequestTimeout returns the RPC request timeout as time.Duration
func (c *ChainConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// GetRunDeadline returns the per-run deadline as time.Duration
func (c *AgentsConfig) GetRunDeadline() time.Duration {
	return time.Duration(c.RunDeadlineSeconds) * time.Second
}

// GetAgentTimeout returns the per-analyzer timeout as time.Duration
func (c *AgentsConfig) GetAgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}
