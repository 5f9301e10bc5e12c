//nolint:goconst // Test files use repeated strings for clarity
package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "nadpilot",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Mode: ModeConfig{
			Mode:            "MANUAL_APPROVAL",
			MainnetReadonly: true,
			ManualApproval:  true,
		},
		Chain: ChainConfig{
			Network:          "mainnet",
			RPCURL:           "https://rpc.monad.xyz",
			ChainID:          143,
			MulticallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11",
			RequestTimeoutMS: 10000,
			MaxRetries:       3,
			RateLimitRPM:     300,
			FinalityBlocks:   2,
			FinalityMS:       800,
			GasBufferPct:     15,
		},
		Launchpad: LaunchpadConfig{
			BaseURL:      "https://api.nadapp.net",
			RateLimitRPM: 60,
			TimeoutMS:    30000,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "devpass",
			Database: "nadpilot",
			SSLMode:  "disable",
			PoolSize: 10,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Enabled: true,
		},
		Memory: MemoryConfig{
			DedupThreshold: 0.99,
			IndexerWorkers: 3,
			IndexerBatch:   10,
		},
		Consensus: ConsensusConfig{
			MinAgents:                3,
			ConfidenceThreshold:      0.85,
			AgreementThreshold:       0.60,
			AdversarialVetoThreshold: 0.90,
			RiskCap:                  0.75,
			DecisionTTLMinutes:       30,
		},
		Bundle: BundleConfig{
			MaxSlippagePct: 2.5,
			RiskCap:        0.75,
			StaleBlocks:    3,
			StaleMS:        1200,
		},
		Submission: SubmissionConfig{
			PublicMaxValueEther: 0.5,
			TimeoutSeconds:      30,
			AuditDir:            "./data/audit",
			AuditFlushSeconds:   5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := getValidConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "chain.rpc_url", Message: "RPC URL is required"},
		{Field: "api.port", Message: "API port is required"},
	}

	msg := errs.Error()
	assert.Contains(t, msg, "2 error(s)")
	assert.Contains(t, msg, "chain.rpc_url")
	assert.Contains(t, msg, "api.port")

	var empty ValidationErrors
	assert.Equal(t, "", empty.Error())
}

func TestValidateApp(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{
			name:        "missing name",
			mutate:      func(c *Config) { c.App.Name = "" },
			expectError: "app.name",
		},
		{
			name:        "missing environment",
			mutate:      func(c *Config) { c.App.Environment = "" },
			expectError: "app.environment",
		},
		{
			name:        "invalid environment",
			mutate:      func(c *Config) { c.App.Environment = "canary" },
			expectError: "Invalid environment",
		},
		{
			name:        "missing log level",
			mutate:      func(c *Config) { c.App.LogLevel = "" },
			expectError: "app.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateMode(t *testing.T) {
	cfg := getValidConfig()
	cfg.Mode.Mode = "YOLO"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid mode")

	// Empty mode is fine, the guard derives it from the booleans
	cfg = getValidConfig()
	cfg.Mode.Mode = ""
	require.NoError(t, cfg.Validate())

	// Lowercase modes are accepted
	cfg = getValidConfig()
	cfg.Mode.Mode = "autonomous"
	require.NoError(t, cfg.Validate())
}

func TestValidateChain(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{
			name:        "missing rpc url",
			mutate:      func(c *Config) { c.Chain.RPCURL = "" },
			expectError: "chain.rpc_url",
		},
		{
			name:        "rpc url without scheme",
			mutate:      func(c *Config) { c.Chain.RPCURL = "rpc.monad.xyz" },
			expectError: "must start with http",
		},
		{
			name:        "zero chain id",
			mutate:      func(c *Config) { c.Chain.ChainID = 0 },
			expectError: "chain.chain_id",
		},
		{
			name:        "invalid network",
			mutate:      func(c *Config) { c.Chain.Network = "localnet" },
			expectError: "Invalid network",
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.Chain.MaxRetries = -1 },
			expectError: "chain.max_retries",
		},
		{
			name:        "zero rate limit",
			mutate:      func(c *Config) { c.Chain.RateLimitRPM = 0 },
			expectError: "chain.rate_limit_rpm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateDatabase(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{
			name:        "missing host",
			mutate:      func(c *Config) { c.Database.Host = "" },
			expectError: "database.host",
		},
		{
			name:        "port out of range",
			mutate:      func(c *Config) { c.Database.Port = 70000 },
			expectError: "database.port",
		},
		{
			name:        "missing user",
			mutate:      func(c *Config) { c.Database.User = "" },
			expectError: "database.user",
		},
		{
			name:        "missing database name",
			mutate:      func(c *Config) { c.Database.Database = "" },
			expectError: "database.database",
		},
		{
			name:        "zero pool size",
			mutate:      func(c *Config) { c.Database.PoolSize = 0 },
			expectError: "database.pool_size",
		},
		{
			name: "missing password outside development",
			mutate: func(c *Config) {
				c.App.Environment = "staging"
				c.Database.Password = ""
			},
			expectError: "database.password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}

	// Development tolerates a missing password
	cfg := getValidConfig()
	cfg.Database.Password = ""
	require.NoError(t, cfg.Validate())
}

func TestValidateNATS(t *testing.T) {
	cfg := getValidConfig()
	cfg.NATS.URL = "tcp://localhost:4222"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats://")

	// Disabled NATS skips URL validation
	cfg = getValidConfig()
	cfg.NATS.Enabled = false
	cfg.NATS.URL = ""
	require.NoError(t, cfg.Validate())
}

func TestValidateConsensus(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{
			name:        "min agents too low",
			mutate:      func(c *Config) { c.Consensus.MinAgents = 0 },
			expectError: "consensus.min_agents",
		},
		{
			name:        "min agents above roster size",
			mutate:      func(c *Config) { c.Consensus.MinAgents = 6 },
			expectError: "consensus.min_agents",
		},
		{
			name:        "confidence threshold above one",
			mutate:      func(c *Config) { c.Consensus.ConfidenceThreshold = 1.2 },
			expectError: "consensus.confidence_threshold",
		},
		{
			name:        "zero agreement threshold",
			mutate:      func(c *Config) { c.Consensus.AgreementThreshold = 0 },
			expectError: "consensus.agreement_threshold",
		},
		{
			name:        "negative veto threshold",
			mutate:      func(c *Config) { c.Consensus.AdversarialVetoThreshold = -0.5 },
			expectError: "consensus.adversarial_veto_threshold",
		},
		{
			name:        "zero decision TTL",
			mutate:      func(c *Config) { c.Consensus.DecisionTTLMinutes = 0 },
			expectError: "consensus.decision_ttl_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateMemory(t *testing.T) {
	cfg := getValidConfig()
	cfg.Memory.DedupThreshold = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.dedup_threshold")

	cfg = getValidConfig()
	cfg.Memory.IndexerWorkers = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.indexer_workers")
}

func TestValidateBundle(t *testing.T) {
	cfg := getValidConfig()
	cfg.Bundle.MaxSlippagePct = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle.max_slippage_pct")

	cfg = getValidConfig()
	cfg.Bundle.StaleBlocks = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle.stale_blocks")

	cfg = getValidConfig()
	cfg.Bundle.StaleMS = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle.stale_ms")
}

func TestValidateSubmission(t *testing.T) {
	cfg := getValidConfig()
	cfg.Submission.AuditDir = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submission.audit_dir")

	cfg = getValidConfig()
	cfg.Submission.TimeoutSeconds = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submission.timeout_seconds")
}

func TestValidateProductionRequirements(t *testing.T) {
	// Production requires SSL, a real network, and strong secrets
	cfg := getValidConfig()
	cfg.App.Environment = "production"
	cfg.Database.Password = "MyStr0ng_P@ssw0rd!"
	cfg.Database.SSLMode = "require"
	require.NoError(t, cfg.Validate())

	// Devnet is rejected in production
	cfg.Chain.Network = "devnet"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Devnet must not be used in production")

	// SSL disable is rejected in production
	cfg = getValidConfig()
	cfg.App.Environment = "production"
	cfg.Database.Password = "MyStr0ng_P@ssw0rd!"
	cfg.Database.SSLMode = "disable"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSL must be enabled")

	// Autonomous mode without a private relay is rejected in production
	cfg = getValidConfig()
	cfg.App.Environment = "production"
	cfg.Database.Password = "MyStr0ng_P@ssw0rd!"
	cfg.Database.SSLMode = "require"
	cfg.Mode.Mode = "AUTONOMOUS"
	cfg.Submission.PrivateRelayURL = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private relay")

	cfg.Submission.PrivateRelayURL = "https://relay.example.net"
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := getValidConfig()
	cfg.Chain.RPCURL = ""
	cfg.API.Port = 0
	cfg.Database.Host = ""

	err := cfg.Validate()
	require.Error(t, err)

	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verrs), 3)

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	joined := strings.Join(fields, ",")
	assert.Contains(t, joined, "chain.rpc_url")
	assert.Contains(t, joined, "api.port")
	assert.Contains(t, joined, "database.host")
}
