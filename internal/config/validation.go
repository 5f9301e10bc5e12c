package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateMode()...)
	errors = append(errors, c.validateChain()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateConsensus()...)
	errors = append(errors, c.validateMemory()...)
	errors = append(errors, c.validateBundle()...)
	errors = append(errors, c.validateSubmission()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateMode() ValidationErrors {
	var errors ValidationErrors

	if c.Mode.Mode != "" {
		validModes := []string{"DEMO", "READONLY", "MANUAL_APPROVAL", "AUTONOMOUS"}
		valid := false
		for _, mode := range validModes {
			if strings.ToUpper(c.Mode.Mode) == mode {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "mode.mode",
				Message: fmt.Sprintf("Invalid mode '%s'. Must be one of: %v", c.Mode.Mode, validModes),
			})
		}
	}

	return errors
}

func (c *Config) validateChain() ValidationErrors {
	var errors ValidationErrors

	if c.Chain.RPCURL == "" {
		errors = append(errors, ValidationError{
			Field:   "chain.rpc_url",
			Message: "RPC URL is required",
		})
	} else if !strings.HasPrefix(c.Chain.RPCURL, "http://") && !strings.HasPrefix(c.Chain.RPCURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "chain.rpc_url",
			Message: "RPC URL must start with http:// or https://",
		})
	}

	if c.Chain.ChainID <= 0 {
		errors = append(errors, ValidationError{
			Field:   "chain.chain_id",
			Message: "Chain ID must be a positive integer",
		})
	}

	if c.Chain.Network == "" {
		errors = append(errors, ValidationError{
			Field:   "chain.network",
			Message: "Network is required (mainnet, testnet, or devnet)",
		})
	} else {
		validNetworks := []string{"mainnet", "testnet", "devnet"}
		valid := false
		for _, network := range validNetworks {
			if c.Chain.Network == network {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "chain.network",
				Message: fmt.Sprintf("Invalid network '%s'. Must be one of: %v", c.Chain.Network, validNetworks),
			})
		}
	}

	if c.Chain.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "chain.max_retries",
			Message: "Max retries must be non-negative",
		})
	}

	if c.Chain.RateLimitRPM < 1 {
		errors = append(errors, ValidationError{
			Field:   "chain.rate_limit_rpm",
			Message: "RPC rate limit must be at least 1 request per minute",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "Database port is required",
		})
	} else if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if c.Redis.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: "Redis port is required",
		})
	} else if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if !c.NATS.Enabled {
		return errors
	}

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateConsensus() ValidationErrors {
	var errors ValidationErrors

	if c.Consensus.MinAgents < 1 || c.Consensus.MinAgents > 5 {
		errors = append(errors, ValidationError{
			Field:   "consensus.min_agents",
			Message: fmt.Sprintf("Invalid min_agents %d. Must be between 1-5", c.Consensus.MinAgents),
		})
	}

	unitFields := []struct {
		field string
		value float64
	}{
		{"consensus.confidence_threshold", c.Consensus.ConfidenceThreshold},
		{"consensus.agreement_threshold", c.Consensus.AgreementThreshold},
		{"consensus.adversarial_veto_threshold", c.Consensus.AdversarialVetoThreshold},
		{"consensus.risk_cap", c.Consensus.RiskCap},
	}
	for _, f := range unitFields {
		if f.value <= 0 || f.value > 1 {
			errors = append(errors, ValidationError{
				Field:   f.field,
				Message: fmt.Sprintf("Invalid value %.2f. Must be in (0, 1]", f.value),
			})
		}
	}

	if c.Consensus.DecisionTTLMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.decision_ttl_minutes",
			Message: "Decision TTL must be at least 1 minute",
		})
	}

	return errors
}

func (c *Config) validateMemory() ValidationErrors {
	var errors ValidationErrors

	if c.Memory.DedupThreshold <= 0 || c.Memory.DedupThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "memory.dedup_threshold",
			Message: fmt.Sprintf("Invalid dedup_threshold %.2f. Must be in (0, 1]", c.Memory.DedupThreshold),
		})
	}

	if c.Memory.IndexerWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "memory.indexer_workers",
			Message: "Indexer worker count must be at least 1",
		})
	}

	if c.Memory.IndexerBatch < 1 {
		errors = append(errors, ValidationError{
			Field:   "memory.indexer_batch",
			Message: "Indexer batch size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateBundle() ValidationErrors {
	var errors ValidationErrors

	if c.Bundle.MaxSlippagePct <= 0 || c.Bundle.MaxSlippagePct > 100 {
		errors = append(errors, ValidationError{
			Field:   "bundle.max_slippage_pct",
			Message: fmt.Sprintf("Invalid max_slippage_pct %.2f. Must be in (0, 100]", c.Bundle.MaxSlippagePct),
		})
	}

	if c.Bundle.RiskCap <= 0 || c.Bundle.RiskCap > 1 {
		errors = append(errors, ValidationError{
			Field:   "bundle.risk_cap",
			Message: fmt.Sprintf("Invalid risk_cap %.2f. Must be in (0, 1]", c.Bundle.RiskCap),
		})
	}

	if c.Bundle.StaleBlocks < 1 {
		errors = append(errors, ValidationError{
			Field:   "bundle.stale_blocks",
			Message: "Stale block window must be at least 1",
		})
	}

	if c.Bundle.StaleMS < 1 {
		errors = append(errors, ValidationError{
			Field:   "bundle.stale_ms",
			Message: "Stale wall-time window must be at least 1ms",
		})
	}

	return errors
}

func (c *Config) validateSubmission() ValidationErrors {
	var errors ValidationErrors

	if c.Submission.PublicMaxValueEther < 0 {
		errors = append(errors, ValidationError{
			Field:   "submission.public_max_value_ether",
			Message: "Public route value cap must be non-negative",
		})
	}

	if c.Submission.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "submission.timeout_seconds",
			Message: "Submission timeout must be at least 1 second",
		})
	}

	if c.Submission.AuditDir == "" {
		errors = append(errors, ValidationError{
			Field:   "submission.audit_dir",
			Message: "Audit directory is required",
		})
	}

	if c.Submission.AuditFlushSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "submission.audit_flush_seconds",
			Message: "Audit flush interval must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: "API port is required",
		})
	} else if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	// Production-specific validations
	if c.App.Environment == "production" {
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)

		if c.Chain.Network == "devnet" {
			errors = append(errors, ValidationError{
				Field:   "chain.network",
				Message: "Devnet must not be used in production",
			})
		}

		if c.Database.SSLMode == "disable" {
			errors = append(errors, ValidationError{
				Field:   "database.ssl_mode",
				Message: "SSL must be enabled for database in production",
			})
		}

		// An autonomous production deployment without a configured private
		// relay would force every submission onto the public mempool
		if strings.ToUpper(c.Mode.Mode) == "AUTONOMOUS" && c.Submission.PrivateRelayURL == "" {
			errors = append(errors, ValidationError{
				Field:   "submission.private_relay_url",
				Message: "A private relay is required for autonomous submission in production",
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration
// Returns the loaded config and any validation errors
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
