package whatsapp

import (
	"context"
	"log/slog"
	"time"

	"whatsapp-calling/internal/crm"
	"whatsapp-calling/pkg/logger"
)

// Sender delivers a text message; *Client implements it.
type Sender interface {
	SendText(ctx context.Context, to, body string) (DeliveryResult, error)
}

// Messenger sends bot replies and logs them as outbound messages.
type Messenger struct {
	sender         Sender
	store          crm.Store
	businessNumber string
	log            *slog.Logger
	now            func() time.Time
}

func NewMessenger(sender Sender, store crm.Store, businessNumber string, log *slog.Logger) *Messenger {
	return &Messenger{sender: sender, store: store, businessNumber: businessNumber, log: logger.Component(log, "whatsapp"), now: time.Now}
}

// SendBotMessage sends body to phone. A failed log write does not fail the send.
func (m *Messenger) SendBotMessage(ctx context.Context, phone, body string) error {
	res, err := m.sender.SendText(ctx, phone, body)
	if err != nil {
		return err
	}
	now := m.now()
	if _, err := m.store.Create(ctx, crm.KindMessage, crm.Fields{
		"message_id":      res.MessageID,
		"conversation_id": conversationRef(phone, now),
		"from_number":     m.businessNumber,
		"to_number":       phone,
		"message_body":    body,
		"message_type":    "text",
		"status":          StatusSent,
		"direction":       DirectionSent,
		"timestamp":       now.UTC().Format(time.RFC3339),
		"is_bot_message":  true,
	}); err != nil {
		m.log.Warn("outbound message log failed", "phone", phone, "err", err)
	}
	return nil
}
