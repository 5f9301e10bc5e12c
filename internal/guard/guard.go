package guard

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Mode is the process-wide environment mode. It is read from config at
// startup and only changes through explicit admin calls.
type Mode string

const (
	ModeDemo           Mode = "DEMO"
	ModeReadonly       Mode = "READONLY"
	ModeManualApproval Mode = "MANUAL_APPROVAL"
	ModeAutonomous     Mode = "AUTONOMOUS"
)

// ValidMode reports whether m is a known mode
func ValidMode(m Mode) bool {
	switch m {
	case ModeDemo, ModeReadonly, ModeManualApproval, ModeAutonomous:
		return true
	}
	return false
}

// ParseMode parses a mode string case-insensitively
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !ValidMode(m) {
		return "", fmt.Errorf("invalid mode %q: must be one of DEMO, READONLY, MANUAL_APPROVAL, AUTONOMOUS", s)
	}
	return m, nil
}

// OperationKind classifies an operation for validation
type OperationKind string

const (
	KindRead  OperationKind = "read"
	KindWrite OperationKind = "write"
	KindAdmin OperationKind = "admin"
)

// Decision is the outcome of validating one operation
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requiresApproval"`
	Simulated        bool   `json:"simulated"`
	Reason           string `json:"reason"`
}

// State is a point-in-time view of the guard for API responses
type State struct {
	Mode             Mode `json:"mode"`
	KillSwitchActive bool `json:"killSwitchActive"`
}

// SecurityNotifier receives security events raised by the guard. The
// live event bus satisfies this interface.
type SecurityNotifier interface {
	PublishSecurityEvent(eventType, component, message string, details map[string]interface{})
}

// Alerter delivers operator alerts for denied writes and admin
// transitions.
type Alerter interface {
	SendSecurityAlert(title, message string)
}

// Options wires the guard's collaborators. All of them are optional;
// a guard with none still gates writes, it just cannot broadcast.
type Options struct {
	Log      zerolog.Logger
	Conn     *nats.Conn
	Notifier SecurityNotifier
	Alerter  Alerter
}

// Guard is the only permitted write gate. Callers must not inline-check
// the mode; every write path goes through Validate.
type Guard struct {
	log      zerolog.Logger
	nc       *nats.Conn
	notifier SecurityNotifier
	alerter  Alerter

	mu         sync.RWMutex
	mode       Mode
	killSwitch bool
	killHooks  []func(reason string)
}

// New creates a guard in the given mode
func New(mode Mode, killSwitchActive bool, opts Options) (*Guard, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}

	g := &Guard{
		log:        opts.Log.With().Str("component", "guard").Logger(),
		nc:         opts.Conn,
		notifier:   opts.Notifier,
		alerter:    opts.Alerter,
		mode:       mode,
		killSwitch: killSwitchActive,
	}

	metrics.SetKillSwitch(killSwitchActive)
	g.log.Info().
		Str("mode", string(mode)).
		Bool("kill_switch_active", killSwitchActive).
		Msg("Environment mode guard initialized")

	return g, nil
}

// FromConfig derives the startup mode from configuration. An explicit
// MODE wins; otherwise the individual flags resolve in order demo >
// readonly > manual approval, defaulting to AUTONOMOUS only when every
// safety flag is explicitly off.
func FromConfig(cfg config.ModeConfig, opts Options) (*Guard, error) {
	if cfg.Mode != "" {
		mode, err := ParseMode(cfg.Mode)
		if err != nil {
			return nil, err
		}
		return New(mode, cfg.KillSwitchActive, opts)
	}

	mode := ModeAutonomous
	switch {
	case cfg.DemoMode:
		mode = ModeDemo
	case cfg.MainnetReadonly:
		mode = ModeReadonly
	case cfg.ManualApproval:
		mode = ModeManualApproval
	}
	return New(mode, cfg.KillSwitchActive, opts)
}

// Mode returns the current mode
func (g *Guard) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// KillSwitchActive reports whether the kill switch is engaged
func (g *Guard) KillSwitchActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.killSwitch
}

// Snapshot returns the current guard state
func (g *Guard) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return State{Mode: g.mode, KillSwitchActive: g.killSwitch}
}

// Validate gates one operation against the current mode and kill
// switch. Denied writes always raise a WRITE_BLOCKED security event.
func (g *Guard) Validate(kind OperationKind, name string) Decision {
	g.mu.RLock()
	mode := g.mode
	kill := g.killSwitch
	g.mu.RUnlock()

	d := decide(kind, name, mode, kill)
	metrics.RecordGuardCheck(string(mode), outcomeLabel(d))

	if kind == KindWrite && !d.Allowed {
		g.raiseWriteBlocked(name, mode, d.Reason)
	}
	return d
}

func decide(kind OperationKind, name string, mode Mode, kill bool) Decision {
	switch kind {
	case KindRead:
		return Decision{Allowed: true, Reason: "read operations are not gated"}
	case KindAdmin:
		// Admin transitions must stay reachable even under the kill
		// switch, or it could never be deactivated. Operator auth is
		// enforced at the API layer.
		return Decision{Allowed: true, Reason: "admin operation"}
	}

	if kill {
		return Decision{Allowed: false, Reason: fmt.Sprintf("write %q denied: kill switch is active", name)}
	}

	switch mode {
	case ModeDemo:
		return Decision{Allowed: true, Simulated: true, Reason: "demo mode: execution is simulated"}
	case ModeReadonly:
		return Decision{Allowed: false, Reason: fmt.Sprintf("write %q denied: READONLY mode", name)}
	case ModeManualApproval:
		return Decision{Allowed: true, RequiresApproval: true, Reason: "manual approval required before execution"}
	case ModeAutonomous:
		return Decision{Allowed: true, Reason: "autonomous mode"}
	default:
		// Fail closed on anything unrecognized
		return Decision{Allowed: false, Reason: fmt.Sprintf("write %q denied: unknown mode %q", name, mode)}
	}
}

func outcomeLabel(d Decision) string {
	switch {
	case !d.Allowed:
		return "denied"
	case d.Simulated:
		return "simulated"
	case d.RequiresApproval:
		return "requires_approval"
	default:
		return "allowed"
	}
}

func (g *Guard) raiseWriteBlocked(name string, mode Mode, reason string) {
	g.log.Warn().
		Str("operation", name).
		Str("mode", string(mode)).
		Msg("Write operation blocked")

	if g.notifier != nil {
		g.notifier.PublishSecurityEvent(events.SecurityWriteBlocked, "guard", reason, map[string]interface{}{
			"operation": name,
			"mode":      string(mode),
		})
	}
	if g.alerter != nil {
		g.alerter.SendSecurityAlert("Write blocked", fmt.Sprintf("Operation %q was blocked (%s)", name, reason))
	}
}

// SetMode transitions to a new mode. The change is logged, raised as a
// security event, and broadcast on the control subject so every process
// observes it.
func (g *Guard) SetMode(mode Mode, actor string) error {
	if !ValidMode(mode) {
		return fmt.Errorf("invalid mode %q", mode)
	}

	g.mu.Lock()
	if g.mode == mode {
		g.mu.Unlock()
		return fmt.Errorf("mode is already %s", mode)
	}
	previous := g.mode
	g.mode = mode
	g.mu.Unlock()

	g.log.Info().
		Str("previous", string(previous)).
		Str("mode", string(mode)).
		Str("actor", actor).
		Msg("Environment mode changed")

	if g.notifier != nil {
		g.notifier.PublishSecurityEvent(events.SecurityModeChanged, "guard",
			fmt.Sprintf("mode changed from %s to %s", previous, mode),
			map[string]interface{}{
				"previous": string(previous),
				"mode":     string(mode),
				"actor":    actor,
			})
	}
	if g.alerter != nil {
		g.alerter.SendSecurityAlert("Mode changed", fmt.Sprintf("Environment mode changed from %s to %s by %s", previous, mode, actor))
	}

	return g.broadcast("mode_changed", map[string]interface{}{
		"mode":     string(mode),
		"previous": string(previous),
		"actor":    actor,
	})
}

// ActivateKillSwitch denies all writes immediately and fans out to the
// registered hooks (session revocation, queue drain). Returns an error
// when the switch is already engaged.
func (g *Guard) ActivateKillSwitch(reason, actor string) error {
	g.mu.Lock()
	if g.killSwitch {
		g.mu.Unlock()
		return fmt.Errorf("kill switch is already active")
	}
	g.killSwitch = true
	hooks := make([]func(string), len(g.killHooks))
	copy(hooks, g.killHooks)
	g.mu.Unlock()

	metrics.SetKillSwitch(true)
	g.log.Warn().
		Str("reason", reason).
		Str("actor", actor).
		Msg("Kill switch activated")

	if g.notifier != nil {
		g.notifier.PublishSecurityEvent(events.SecurityKillSwitchActivated, "guard", "kill switch activated: "+reason, map[string]interface{}{
			"reason": reason,
			"actor":  actor,
		})
	}
	if g.alerter != nil {
		g.alerter.SendSecurityAlert("KILL SWITCH ACTIVATED", fmt.Sprintf("All writes halted. Reason: %s (by %s)", reason, actor))
	}

	for _, hook := range hooks {
		hook(reason)
	}

	return g.broadcast("kill_switch_activated", map[string]interface{}{
		"reason": reason,
		"actor":  actor,
	})
}

// DeactivateKillSwitch re-enables writes subject to the current mode
func (g *Guard) DeactivateKillSwitch(actor string) error {
	g.mu.Lock()
	if !g.killSwitch {
		g.mu.Unlock()
		return fmt.Errorf("kill switch is not active")
	}
	g.killSwitch = false
	g.mu.Unlock()

	metrics.SetKillSwitch(false)
	g.log.Info().Str("actor", actor).Msg("Kill switch deactivated")

	if g.notifier != nil {
		g.notifier.PublishSecurityEvent(events.SecurityKillSwitchDeactivated, "guard", "kill switch deactivated", map[string]interface{}{
			"actor": actor,
		})
	}
	if g.alerter != nil {
		g.alerter.SendSecurityAlert("Kill switch deactivated", fmt.Sprintf("Writes re-enabled by %s", actor))
	}

	return g.broadcast("kill_switch_deactivated", map[string]interface{}{
		"actor": actor,
	})
}

// OnKillSwitch registers a hook invoked synchronously when the kill
// switch activates. Hooks run in registration order.
func (g *Guard) OnKillSwitch(hook func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killHooks = append(g.killHooks, hook)
}

func (g *Guard) broadcast(event string, fields map[string]interface{}) error {
	if g.nc == nil {
		return nil
	}

	payload := map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC(),
	}
	for k, v := range fields {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		g.log.Error().Err(err).Str("event", event).Msg("Failed to marshal control event")
		return fmt.Errorf("failed to marshal control event: %w", err)
	}

	if err := g.nc.Publish(events.SubjectControl, data); err != nil {
		g.log.Error().Err(err).Str("subject", events.SubjectControl).Msg("Failed to broadcast control event")
		return fmt.Errorf("failed to broadcast control event: %w", err)
	}

	g.log.Info().Str("subject", events.SubjectControl).Str("event", event).Msg("Control event broadcast")
	return nil
}
