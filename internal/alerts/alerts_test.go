package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureChannel struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *captureChannel) Send(ctx context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func TestManagerFansOutToAllChannels(t *testing.T) {
	a := &captureChannel{}
	b := &captureChannel{}
	m := NewManager(a, b)

	err := m.Send(context.Background(), Alert{Title: "test", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, SeverityInfo, a.alerts[0].Severity, "severity defaults to info")
	assert.False(t, a.alerts[0].Timestamp.IsZero())
}

func TestManagerChannelFailureDoesNotBlockOthers(t *testing.T) {
	failing := &captureChannel{err: errors.New("transport down")}
	ok := &captureChannel{}
	m := NewManager(failing, ok)

	err := m.Send(context.Background(), Alert{Title: "test"})
	assert.Error(t, err)
	assert.Equal(t, 1, ok.count(), "healthy channel still delivers")
}

func TestSendSecurityAlertIsCritical(t *testing.T) {
	ch := &captureChannel{}
	m := NewManager(ch)

	m.SendSecurityAlert("KILL SWITCH ACTIVATED", "all writes halted")

	require.Eventually(t, func() bool { return ch.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, SeverityCritical, ch.alerts[0].Severity)
	assert.Equal(t, "KILL SWITCH ACTIVATED", ch.alerts[0].Title)
}

type fakeBotAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramChannelSend(t *testing.T) {
	api := &fakeBotAPI{}
	ch := newTelegramChannel(api, 42)

	err := ch.Send(context.Background(), Alert{
		Title:     "Route fallback denied",
		Message:   "private relay offline",
		Severity:  SeverityCritical,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]interface{}{"route": "private_relay"},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.True(t, strings.Contains(msg.Text, "🚨"))
	assert.True(t, strings.Contains(msg.Text, "Route fallback denied"))
	assert.True(t, strings.Contains(msg.Text, "private_relay"))
}

func TestTelegramChannelSendError(t *testing.T) {
	ch := newTelegramChannel(&fakeBotAPI{err: errors.New("telegram api down")}, 42)
	err := ch.Send(context.Background(), Alert{Title: "test"})
	assert.Error(t, err)
}

func TestFormatAlertSeverityEmoji(t *testing.T) {
	assert.True(t, strings.HasPrefix(formatAlert(Alert{Severity: SeverityWarning}), "⚠️"))
	assert.True(t, strings.HasPrefix(formatAlert(Alert{Severity: SeverityInfo}), "ℹ️"))
	assert.True(t, strings.HasPrefix(formatAlert(Alert{Severity: "unknown"}), "📢"))
}
