// internal/domain/notification/sender.go
package notification

import (
	"context"
	"fmt"
	"strings"
)

// Channel identifies an outbound delivery channel.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
)

// ParseChannel normalizes a configured channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelSMS, ChannelWhatsApp, ChannelTelegram:
		return c, nil
	default:
		return "", fmt.Errorf("unknown notification channel %q", s)
	}
}

// Sender delivers one alert message. This decouples the notification cycle
// from the specific provider SDK or REST API.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}
