package events

import (
	"time"
)

// Severity grades an event for filtering and display
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity level
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Event types carried on the bus. Stream events use snake_case; the
// slow-consumer terminal marker keeps its uppercase tag so clients can
// distinguish it from ordinary stream traffic.
const (
	TypeRunStarted        = "run_started"
	TypePhaseChanged      = "phase_changed"
	TypeAgentStarted      = "agent_started"
	TypeAgentOpinion      = "agent_opinion"
	TypeConsensusDecision = "consensus_decision"
	TypeSecurityAlert     = "security_alert"
	TypeApprovalRequired  = "approval_required"
	TypeSubmissionResult  = "submission_result"
	TypeMetadataVersion   = "metadata_version"
	TypeRewardEvent       = "reward_event"
	TypeRunCompleted      = "run_completed"
	TypeRunError          = "run_error"
	TypeHeartbeat         = "heartbeat"
	TypeReplayStarted     = "replay_started"
	TypeReplayCompleted   = "replay_completed"
	TypeSlowConsumer      = "SLOW_CONSUMER"
)

// Security event tags. These ride inside security_alert events (Data
// field "eventType") and on the audit security partition.
const (
	SecurityWriteBlocked          = "WRITE_BLOCKED"
	SecurityModeChanged           = "MODE_CHANGED"
	SecurityKillSwitchActivated   = "KILL_SWITCH_ACTIVATED"
	SecurityKillSwitchDeactivated = "KILL_SWITCH_DEACTIVATED"
	SecuritySessionRevoked        = "SESSION_REVOKED"
	SecurityRouteFallbackDenied   = "ROUTE_FALLBACK_DENIED"
	SecurityAdversarialBlocked    = "ADVERSARIAL_BLOCKED"
)

// AgentSystem is the agent tag for events not attributable to a specific
// analyzer.
const AgentSystem = "system"

// ActionCard points a client at an action it can take on an event,
// typically an approval waiting on an operator.
type ActionCard struct {
	Kind        string     `json:"kind"`
	ReferenceID string     `json:"referenceId"`
	Label       string     `json:"label,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Event is one unit on the live event bus. Per-run events reach every
// subscriber in emission order.
type Event struct {
	ID             string                 `json:"id"`
	RunID          string                 `json:"runId,omitempty"`
	Timestamp      time.Time              `json:"ts"`
	Type           string                 `json:"type"`
	Agent          string                 `json:"agent,omitempty"`
	Severity       Severity               `json:"severity"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data,omitempty"`
	ActionCard     *ActionCard            `json:"actionCard,omitempty"`
	ChainOfThought string                 `json:"chainOfThought,omitempty"`
}
