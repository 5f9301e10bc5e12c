package alerts

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
)

// telegramSender is the slice of the bot API the channel needs
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel delivers alerts to one operator chat
type TelegramChannel struct {
	api    telegramSender
	chatID int64
	log    zerolog.Logger
}

// NewTelegramChannel connects the bot and returns the channel
func NewTelegramChannel(cfg config.AlertsConfig) (*TelegramChannel, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.TelegramChatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	log.Info().Str("bot_username", api.Self.UserName).Msg("Telegram alert channel ready")
	return newTelegramChannel(api, cfg.TelegramChatID), nil
}

func newTelegramChannel(api telegramSender, chatID int64) *TelegramChannel {
	return &TelegramChannel{
		api:    api,
		chatID: chatID,
		log:    log.With().Str("component", "alerts-telegram").Logger(),
	}
}

// Send formats and delivers one alert
func (t *TelegramChannel) Send(ctx context.Context, alert Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, formatAlert(alert))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	t.log.Debug().Str("title", alert.Title).Msg("Telegram alert sent")
	return nil
}

func formatAlert(alert Alert) string {
	emoji := "📢"
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityInfo:
		emoji = "ℹ️"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)
	if len(alert.Metadata) > 0 {
		message += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}
	message += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return message
}
