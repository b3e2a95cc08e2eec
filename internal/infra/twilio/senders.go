package twilio

import (
	"context"
	"fmt"
	"strings"

	"road_anomaly_reconciler/internal/domain/notification"
)

const whatsAppPrefix = "whatsapp:"

// SMSSender delivers alerts as plain SMS to a fixed recipient.
type SMSSender struct {
	client *Client
	from   string
	to     string
}

func NewSMSSender(client *Client, from, to string) *SMSSender {
	return &SMSSender{client: client, from: from, to: to}
}

func (s *SMSSender) Send(ctx context.Context, alert notification.Alert) error {
	msg, err := s.client.SendMessage(ctx, SendMessageRequest{
		To:   s.to,
		From: s.from,
		Body: alert.Text(),
	})
	if err != nil {
		return fmt.Errorf("sms alert for %s: %w", alert.Locality, err)
	}
	s.client.log.Debugf("SMS alert for %s accepted, sid=%s status=%s", alert.Locality, msg.SID, msg.Status)
	return nil
}

// WhatsAppSender delivers alerts over WhatsApp and attaches the media URL when present.
type WhatsAppSender struct {
	client *Client
	from   string
	to     string
}

func NewWhatsAppSender(client *Client, from, to string) *WhatsAppSender {
	return &WhatsAppSender{client: client, from: withWhatsAppPrefix(from), to: withWhatsAppPrefix(to)}
}

func (s *WhatsAppSender) Send(ctx context.Context, alert notification.Alert) error {
	req := SendMessageRequest{
		To:   s.to,
		From: s.from,
		Body: alert.Text(),
	}
	if alert.MediaURL != "" {
		req.MediaURLs = []string{alert.MediaURL}
	}
	msg, err := s.client.SendMessage(ctx, req)
	if err != nil {
		return fmt.Errorf("whatsapp alert for %s: %w", alert.Locality, err)
	}
	s.client.log.Debugf("WhatsApp alert for %s accepted, sid=%s status=%s", alert.Locality, msg.SID, msg.Status)
	return nil
}

func withWhatsAppPrefix(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(number, whatsAppPrefix) {
		return number
	}
	return whatsAppPrefix + number
}
