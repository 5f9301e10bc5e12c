package resilience

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Circuit breaker thresholds - tuned per dependency class
const (
	// RPC circuit breaker settings (high call volume, quick recovery)
	RPCMinRequests     = 10               // Minimum requests before tripping
	RPCFailureRatio    = 0.6              // Failure ratio threshold (60%)
	RPCOpenTimeout     = 15 * time.Second // How long circuit stays open
	RPCHalfOpenMaxReqs = 5                // Max requests in half-open state
	RPCCountInterval   = 10 * time.Second // Window for counting failures

	// Launchpad API circuit breaker settings
	LaunchpadMinRequests     = 5
	LaunchpadFailureRatio    = 0.6
	LaunchpadOpenTimeout     = 30 * time.Second
	LaunchpadHalfOpenMaxReqs = 3
	LaunchpadCountInterval   = 10 * time.Second

	// IPFS pin-provider circuit breaker settings (slow uploads, long recovery)
	IPFSMinRequests     = 3
	IPFSFailureRatio    = 0.6
	IPFSOpenTimeout     = 60 * time.Second
	IPFSHalfOpenMaxReqs = 2
	IPFSCountInterval   = 10 * time.Second

	// Verification oracle circuit breaker settings
	OracleMinRequests     = 3
	OracleFailureRatio    = 0.6
	OracleOpenTimeout     = 60 * time.Second
	OracleHalfOpenMaxReqs = 2
	OracleCountInterval   = 10 * time.Second
)

// ServiceSettings holds circuit breaker configuration for a single dependency
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// BreakerManager manages circuit breakers for the outbound dependencies.
// The embedding provider is not here: it swaps providers on failure instead
// of failing calls, with its own state tracker.
type BreakerManager struct {
	rpc       *gobreaker.CircuitBreaker
	launchpad *gobreaker.CircuitBreaker
	ipfs      *gobreaker.CircuitBreaker
	oracle    *gobreaker.CircuitBreaker
}

// NewBreakerManager creates a breaker manager with default settings
func NewBreakerManager() *BreakerManager {
	return NewBreakerManagerWithSettings(nil, nil, nil, nil)
}

// NewBreakerManagerWithSettings creates a breaker manager wired to the
// Prometheus breaker gauges. Nil settings fall back to the per-class
// defaults above.
func NewBreakerManagerWithSettings(rpcSettings, launchpadSettings, ipfsSettings, oracleSettings *ServiceSettings) *BreakerManager {
	if rpcSettings == nil {
		rpcSettings = &ServiceSettings{
			MinRequests:     RPCMinRequests,
			FailureRatio:    RPCFailureRatio,
			OpenTimeout:     RPCOpenTimeout,
			HalfOpenMaxReqs: RPCHalfOpenMaxReqs,
			CountInterval:   RPCCountInterval,
		}
	}
	if launchpadSettings == nil {
		launchpadSettings = &ServiceSettings{
			MinRequests:     LaunchpadMinRequests,
			FailureRatio:    LaunchpadFailureRatio,
			OpenTimeout:     LaunchpadOpenTimeout,
			HalfOpenMaxReqs: LaunchpadHalfOpenMaxReqs,
			CountInterval:   LaunchpadCountInterval,
		}
	}
	if ipfsSettings == nil {
		ipfsSettings = &ServiceSettings{
			MinRequests:     IPFSMinRequests,
			FailureRatio:    IPFSFailureRatio,
			OpenTimeout:     IPFSOpenTimeout,
			HalfOpenMaxReqs: IPFSHalfOpenMaxReqs,
			CountInterval:   IPFSCountInterval,
		}
	}
	if oracleSettings == nil {
		oracleSettings = &ServiceSettings{
			MinRequests:     OracleMinRequests,
			FailureRatio:    OracleFailureRatio,
			OpenTimeout:     OracleOpenTimeout,
			HalfOpenMaxReqs: OracleHalfOpenMaxReqs,
			CountInterval:   OracleCountInterval,
		}
	}

	m := &BreakerManager{}
	m.rpc = newBreaker("rpc", rpcSettings)
	m.launchpad = newBreaker("launchpad", launchpadSettings)
	m.ipfs = newBreaker("ipfs", ipfsSettings)
	m.oracle = newBreaker("oracle", oracleSettings)

	metrics.UpdateCircuitBreaker("rpc", false)
	metrics.UpdateCircuitBreaker("launchpad", false)
	metrics.UpdateCircuitBreaker("ipfs", false)
	metrics.UpdateCircuitBreaker("oracle", false)

	return m
}

func newBreaker(name string, s *ServiceSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.UpdateCircuitBreaker(name, to == gobreaker.StateOpen)
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name, "failure ratio exceeded")
			}
		},
	})
}

// NewPassthroughBreakerManager creates a breaker manager that never trips.
// This is useful for testing scenarios where you want to test other
// components without the circuit breaker interfering.
func NewPassthroughBreakerManager() *BreakerManager {
	neverTrip := func(counts gobreaker.Counts) bool {
		return false
	}
	passthrough := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name + "_passthrough",
			MaxRequests: 1000,
			Interval:    0,
			Timeout:     1 * time.Millisecond,
			ReadyToTrip: neverTrip,
		})
	}

	return &BreakerManager{
		rpc:       passthrough("rpc"),
		launchpad: passthrough("launchpad"),
		ipfs:      passthrough("ipfs"),
		oracle:    passthrough("oracle"),
	}
}

// RPC returns the EVM JSON-RPC circuit breaker
func (m *BreakerManager) RPC() *gobreaker.CircuitBreaker {
	return m.rpc
}

// Launchpad returns the launchpad API circuit breaker
func (m *BreakerManager) Launchpad() *gobreaker.CircuitBreaker {
	return m.launchpad
}

// IPFS returns the pin-provider circuit breaker
func (m *BreakerManager) IPFS() *gobreaker.CircuitBreaker {
	return m.ipfs
}

// Oracle returns the verification oracle circuit breaker
func (m *BreakerManager) Oracle() *gobreaker.CircuitBreaker {
	return m.oracle
}
