// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"

	"road_anomaly_reconciler/internal/domain/notification"

	"gopkg.in/telebot.v3"
)

// messageSender is the part of *telebot.Bot used for outbound messages.
type messageSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter implements notification.Sender using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot    messageSender
	chatID int64
}

func NewTelebotAdapter(b *telebot.Bot, alertChatID int64) *TelebotAdapter {
	return &TelebotAdapter{bot: b, chatID: alertChatID}
}

// Send posts the alert text to the configured alert chat.
func (tba *TelebotAdapter) Send(ctx context.Context, alert notification.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	recipient := &telebot.Chat{ID: tba.chatID} // Group or channel chat, not a user
	options := &telebot.SendOptions{DisableWebPagePreview: alert.MediaURL == ""}
	if _, err := tba.bot.Send(recipient, alert.Text(), options); err != nil {
		return fmt.Errorf("telegram alert for %s: %w", alert.Locality, err)
	}
	return nil
}
