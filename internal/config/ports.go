// Package config provides configuration management for NadPilot.
// This file centralizes all port constants to avoid duplication and ensure consistency.
package config

// ============================================================================
// CENTRALIZED PORT CONFIGURATION
// ============================================================================
//
// This file defines all ports used by NadPilot services.
// Update this file when adding new services or changing port assignments.
//
// Port Allocation Strategy:
//   8080-8099: API servers and web services
//   8200-8299: Infrastructure services (Vault, etc.)
//   9100-9199: Prometheus metrics endpoints
//
// ============================================================================

// API and Web Service Ports
const (
	// APIServerPort is the port for the main REST API server.
	APIServerPort = 8081

	// WebSocketPort is the port for WebSocket connections (uses same as API).
	WebSocketPort = APIServerPort
)

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)

// Prometheus Metrics Ports
const (
	// MetricsPortOrchestrator is the metrics port for the orchestrator.
	MetricsPortOrchestrator = 9100

	// MetricsPortAPI is the metrics port for the API server.
	MetricsPortAPI = 9101

	// MetricsPortMCPOnchainData is the metrics port for the on-chain data
	// MCP server.
	MetricsPortMCPOnchainData = 9102
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port for Prometheus.
	PrometheusPort = 9090

	// GrafanaPort is the default port for Grafana.
	GrafanaPort = 3000

	// NATSExporterPort is the port for the NATS Prometheus exporter.
	NATSExporterPort = 7777
)

// ServiceMetricsPorts provides a mapping of service names to their metrics
// ports. This is useful for Prometheus configuration and health checks.
var ServiceMetricsPorts = map[string]int{
	"orchestrator":     MetricsPortOrchestrator,
	"api":              MetricsPortAPI,
	"mcp-onchain-data": MetricsPortMCPOnchainData,
}

// GetServiceMetricsPort returns the metrics port for a given service name.
// Returns 0 if the service is not found.
func GetServiceMetricsPort(service string) int {
	if port, ok := ServiceMetricsPorts[service]; ok {
		return port
	}
	return 0
}
