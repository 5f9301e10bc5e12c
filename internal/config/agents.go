package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// RosterConfig holds the analyzer roster configuration
type RosterConfig struct {
	Global        GlobalAnalyzerConfig      `mapstructure:"global"`
	Analyzers     map[string]AnalyzerConfig `mapstructure:"analyzers"`
	Communication CommunicationConfig       `mapstructure:"communication"`
	Logging       LoggingConfig             `mapstructure:"logging"`
}

// GlobalAnalyzerConfig contains settings that apply to all analyzers
type GlobalAnalyzerConfig struct {
	DefaultTimeout             string  `mapstructure:"default_timeout"`
	DefaultConfidenceThreshold float64 `mapstructure:"default_confidence_threshold"`
	EnableMetrics              bool    `mapstructure:"enable_metrics"`
	MetricsPort                int     `mapstructure:"metrics_port"`
}

// AnalyzerConfig represents a single analyzer role configuration
type AnalyzerConfig struct {
	Enabled    bool                   `mapstructure:"enabled"`
	Role       string                 `mapstructure:"role"`
	Model      string                 `mapstructure:"model"`
	Timeout    string                 `mapstructure:"timeout"`
	MCPServers []MCPServerConnection  `mapstructure:"mcp_servers"`
	Config     map[string]interface{} `mapstructure:"config"`
}

// MCPServerConnection describes how an analyzer connects to an MCP server
type MCPServerConnection struct {
	Name    string   `mapstructure:"name"`
	Type    string   `mapstructure:"type"`    // "external" or "internal"
	URL     string   `mapstructure:"url"`     // For external servers
	Command string   `mapstructure:"command"` // For internal servers
	Tools   []string `mapstructure:"tools"`   // Tools the analyzer will use
}

// CommunicationConfig defines inter-component communication
type CommunicationConfig struct {
	NATS NATSCommunicationConfig `mapstructure:"nats"`
}

// NATSCommunicationConfig defines NATS topics and retention
type NATSCommunicationConfig struct {
	Topics    NATSTopics    `mapstructure:"topics"`
	Retention NATSRetention `mapstructure:"retention"`
}

// NATSTopics defines topic names for different message types
type NATSTopics struct {
	RunStarted     string `mapstructure:"run_started"`
	Opinions       string `mapstructure:"opinions"`
	Decisions      string `mapstructure:"decisions"`
	Submissions    string `mapstructure:"submissions"`
	SecurityEvents string `mapstructure:"security_events"`
	Control        string `mapstructure:"control"`
	Heartbeat      string `mapstructure:"heartbeat"`
}

// NATSRetention defines message retention policies
type NATSRetention struct {
	Opinions  string `mapstructure:"opinions"`
	Decisions string `mapstructure:"decisions"`
	Heartbeat string `mapstructure:"heartbeat"`
}

// LoggingConfig defines analyzer logging settings
type LoggingConfig struct {
	Level          string            `mapstructure:"level"`
	Format         string            `mapstructure:"format"`
	Output         string            `mapstructure:"output"`
	AnalyzerLevels map[string]string `mapstructure:"analyzer_levels"`
}

// LoadRosterConfig loads the analyzer roster configuration from file
func LoadRosterConfig(configPath string) (*RosterConfig, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("analyzers")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	// Set defaults
	setRosterDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("NADPILOT_ANALYZER")
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read roster config: %w", err)
	}

	// Unmarshal into struct
	var cfg RosterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster config: %w", err)
	}

	return &cfg, nil
}

// setRosterDefaults sets default roster configuration values
func setRosterDefaults(v *viper.Viper) {
	// Global defaults
	v.SetDefault("global.default_timeout", "45s")
	v.SetDefault("global.default_confidence_threshold", 0.6)
	v.SetDefault("global.enable_metrics", true)
	v.SetDefault("global.metrics_port", 9100)

	// The five fixed roles. Disabling one shrinks quorum, it never
	// substitutes a different role.
	v.SetDefault("analyzers.scout.enabled", true)
	v.SetDefault("analyzers.scout.role", "scout")
	v.SetDefault("analyzers.scout.timeout", "45s")

	v.SetDefault("analyzers.macro.enabled", true)
	v.SetDefault("analyzers.macro.role", "macro")
	v.SetDefault("analyzers.macro.timeout", "45s")

	v.SetDefault("analyzers.onchain.enabled", true)
	v.SetDefault("analyzers.onchain.role", "onchain")
	v.SetDefault("analyzers.onchain.timeout", "45s")

	v.SetDefault("analyzers.risk.enabled", true)
	v.SetDefault("analyzers.risk.role", "risk")
	v.SetDefault("analyzers.risk.timeout", "45s")

	v.SetDefault("analyzers.adversarial.enabled", true)
	v.SetDefault("analyzers.adversarial.role", "adversarial")
	v.SetDefault("analyzers.adversarial.timeout", "45s")

	// Communication - NATS Topics
	v.SetDefault("communication.nats.topics.run_started", "nadpilot.runs.started")
	v.SetDefault("communication.nats.topics.opinions", "nadpilot.agents.opinions")
	v.SetDefault("communication.nats.topics.decisions", "nadpilot.consensus.decisions")
	v.SetDefault("communication.nats.topics.submissions", "nadpilot.submissions")
	v.SetDefault("communication.nats.topics.security_events", "nadpilot.security.events")
	v.SetDefault("communication.nats.topics.control", "nadpilot.orchestrator.control")
	v.SetDefault("communication.nats.topics.heartbeat", "nadpilot.system.heartbeat")

	// Communication - NATS Retention
	v.SetDefault("communication.nats.retention.opinions", "1h")
	v.SetDefault("communication.nats.retention.decisions", "24h")
	v.SetDefault("communication.nats.retention.heartbeat", "5m")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// GetTimeoutDuration parses a timeout string to time.Duration
func (rc *RosterConfig) GetTimeoutDuration(timeout string) (time.Duration, error) {
	return time.ParseDuration(timeout)
}

// GetEnabledAnalyzers returns the list of enabled analyzer roles
func (rc *RosterConfig) GetEnabledAnalyzers() []string {
	var enabled []string
	for name, a := range rc.Analyzers {
		if a.Enabled {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// IsAnalyzerEnabled checks whether a specific role is enabled
func (rc *RosterConfig) IsAnalyzerEnabled(role string) bool {
	a, ok := rc.Analyzers[role]
	return ok && a.Enabled
}
