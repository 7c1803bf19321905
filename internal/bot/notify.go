package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"whatsapp-calling/internal/crm"
	"whatsapp-calling/pkg/logger"
)

// SalesNotifier turns a NotifySalesTask into a CRM notification for the
// assigned agent.
type SalesNotifier struct {
	store crm.Store
	log   *slog.Logger
}

func NewSalesNotifier(store crm.Store, log *slog.Logger) *SalesNotifier {
	return &SalesNotifier{store: store, log: logger.Component(log, "bot")}
}

// HandleTask is the queue handler for queue.TaskBotNotifySales.
func (n *SalesNotifier) HandleTask(ctx context.Context, raw json.RawMessage) error {
	var t NotifySalesTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("bot: decode notify task: %w", err)
	}
	return n.Notify(ctx, t)
}

func (n *SalesNotifier) Notify(ctx context.Context, t NotifySalesTask) error {
	body := fmt.Sprintf(
		"A new lead has been qualified from WhatsApp conversation:\nPhone: %s\nLead Score: %d\nConversation ID: %s\nEscalated At: %s\nPlease contact the lead as soon as possible.",
		t.Phone, t.LeadScore, t.ConversationID, t.EscalatedAt.Format("2006-01-02 15:04:05"),
	)
	rec, err := n.store.Create(ctx, crm.KindNotification, crm.Fields{
		"for_user":        t.AssignedTo,
		"type":            "Alert",
		"subject":         "Qualified WhatsApp Lead - " + t.Phone,
		"email_content":   body,
		"document_type":   crm.KindLead,
		"document_name":   t.Lead,
		"conversation_id": t.ConversationID,
		"read":            false,
	})
	if err != nil {
		return fmt.Errorf("bot: create notification: %w", err)
	}
	n.log.Info("sales notified", "notification", rec.Name, "for_user", t.AssignedTo, "phone", t.Phone)
	return nil
}
