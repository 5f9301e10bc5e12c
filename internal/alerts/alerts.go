package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity grades an operator alert
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one operator notification
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Channel delivers alerts over one transport
type Channel interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. It satisfies the
// guard's Alerter interface so mode changes, kill-switch flips, and
// blocked writes page operators.
type Manager struct {
	channels []Channel
	log      zerolog.Logger
}

// NewManager creates a manager over the given channels
func NewManager(channels ...Channel) *Manager {
	return &Manager{
		channels: channels,
		log:      log.With().Str("component", "alerts").Logger(),
	}
}

// Send delivers one alert to every channel. A channel failure is logged
// and does not block the others.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.Severity == "" {
		alert.Severity = SeverityInfo
	}

	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			m.log.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// SendSecurityAlert delivers a critical alert without blocking the
// caller, which is typically inside the guard's state transition.
func (m *Manager) SendSecurityAlert(title, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Send(ctx, Alert{
			Title:    title,
			Message:  message,
			Severity: SeverityCritical,
		})
	}()
}

// LogChannel writes alerts to the process log. It backs deployments
// without a Telegram bot configured.
type LogChannel struct{}

// Send logs the alert at a level matching its severity
func (l *LogChannel) Send(ctx context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}
	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}
	event.Str("title", alert.Title).Msg(alert.Message)
	return nil
}
