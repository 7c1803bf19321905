package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-calling/internal/crm"
	"whatsapp-calling/internal/queue"
	"whatsapp-calling/pkg/logger"
)

// Message log directions and statuses.
const (
	DirectionReceived = "received"
	DirectionSent     = "sent"

	StatusDelivered = "delivered"
	StatusSent      = "sent"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// deliveryStatuses are the outbound states a status callback may set.
var deliveryStatuses = map[string]bool{
	StatusSent:      true,
	StatusDelivered: true,
	StatusRead:      true,
	StatusFailed:    true,
}

// Live update events pushed to connected agents.
const (
	EventMessageReceived = "whatsapp_message_received"
	EventStatusUpdate    = "whatsapp_message_status_update"
)

// Publisher pushes live updates to connected agents. Publish must not block.
type Publisher interface {
	Publish(event string, data any)
}

type MessageUpdate struct {
	PhoneNumber string    `json:"phone_number"`
	MessageBody string    `json:"message_body"`
	Direction   string    `json:"direction"`
	Timestamp   time.Time `json:"timestamp"`
}

type StatusChange struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// BotMessageTask is queued for every inbound message when the bot is on.
type BotMessageTask struct {
	Phone     string `json:"phone_number"`
	Message   string `json:"message_body"`
	MessageID string `json:"message_id"`
}

type ProcessorOptions struct {
	BusinessNumber   string
	DefaultLeadOwner string
	BotEnabled       bool
	// Publisher is optional.
	Publisher Publisher
}

// Processor turns verified webhook deliveries into CRM records and bot work.
type Processor struct {
	opts  ProcessorOptions
	leads *crm.Leads
	store crm.Store
	dedup Deduper
	queue Enqueuer
	log   *slog.Logger
	now   func() time.Time
}

func NewProcessor(opts ProcessorOptions, leads *crm.Leads, dedup Deduper, q Enqueuer, log *slog.Logger) *Processor {
	if opts.DefaultLeadOwner == "" {
		opts.DefaultLeadOwner = "Administrator"
	}
	if dedup == nil {
		dedup = NewMemoryDeduper()
	}
	return &Processor{
		opts:  opts,
		leads: leads,
		store: leads.Store(),
		dedup: dedup,
		queue: q,
		log:   logger.Component(log, "whatsapp"),
		now:   time.Now,
	}
}

// HandleTask is the queue handler for queue.TaskProcessWebhook.
func (p *Processor) HandleTask(ctx context.Context, raw json.RawMessage) error {
	var task WebhookTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return fmt.Errorf("whatsapp: decode task: %w", err)
	}
	var payload WebhookPayload
	if err := json.Unmarshal(task.Body, &payload); err != nil {
		return fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	return p.Process(ctx, payload)
}

// Process handles every message and status in a delivery. One bad message
// does not stop the rest; the first error is returned.
func (p *Processor) Process(ctx context.Context, payload WebhookPayload) error {
	var errs []error
	for _, e := range payload.Entry {
		for _, ch := range e.Changes {
			for _, m := range ch.Value.Messages {
				if err := p.processMessage(ctx, m); err != nil {
					p.log.Error("inbound message failed", "message_id", m.ID, "err", err)
					errs = append(errs, err)
				}
			}
			for _, st := range ch.Value.Statuses {
				if err := p.processStatus(ctx, st); err != nil {
					p.log.Error("status update failed", "message_id", st.ID, "err", err)
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func conversationRef(phone string, at time.Time) string {
	return fmt.Sprintf("CONV-%s-%s", phone, at.UTC().Format("20060102"))
}

func (p *Processor) processMessage(ctx context.Context, m Message) (err error) {
	if m.ID == "" || m.From == "" {
		return nil
	}
	first, cerr := p.dedup.Claim(ctx, m.ID)
	if cerr != nil {
		p.log.Warn("dedup unavailable", "message_id", m.ID, "err", cerr)
		first = true
	}
	if !first {
		p.log.Debug("duplicate message skipped", "message_id", m.ID)
		return nil
	}
	// A failed delivery must stay replayable.
	defer func() {
		if err != nil {
			p.releaseClaim(ctx, m.ID)
		}
	}()

	existing, err := p.store.FindOne(ctx, crm.KindMessage, "message_id", m.ID)
	switch {
	case err == nil:
		// Logged by an earlier delivery whose bot hand-off may not have happened.
		return p.queueBot(ctx, existing, m.From)
	case !errors.Is(err, crm.ErrNotFound):
		return fmt.Errorf("message lookup: %w", err)
	}

	now := p.now()
	text := m.Content()
	fields := crm.Fields{
		"message_id":      m.ID,
		"conversation_id": conversationRef(m.From, now),
		"from_number":     m.From,
		"to_number":       p.opts.BusinessNumber,
		"message_body":    text,
		"message_type":    m.Type,
		"status":          StatusDelivered,
		"direction":       DirectionReceived,
		"timestamp":       unixTime(m.Timestamp, now).Format(time.RFC3339),
		"is_bot_message":  false,
		"bot_queued":      false,
	}

	party, err := p.leads.FindParty(ctx, PhoneVariants(m.From)...)
	switch {
	case err == nil:
		fields[linkField(party.Kind)] = party.Name
	case errors.Is(err, crm.ErrNotFound):
		lead, err := p.leads.AutoCreateLead(ctx, m.From, text, p.opts.DefaultLeadOwner)
		if err != nil {
			return fmt.Errorf("auto-create lead: %w", err)
		}
		fields["lead"] = lead.Name
	default:
		return fmt.Errorf("crm lookup: %w", err)
	}

	rec, err := p.store.Create(ctx, crm.KindMessage, fields)
	if err != nil {
		return fmt.Errorf("message log: %w", err)
	}
	p.publish(EventMessageReceived, MessageUpdate{PhoneNumber: m.From, MessageBody: text, Direction: DirectionReceived, Timestamp: now})

	return p.queueBot(ctx, rec, m.From)
}

// queueBot hands a logged message to the bot once. The bot_queued mark lets a
// replayed delivery finish a hand-off that failed the first time.
func (p *Processor) queueBot(ctx context.Context, rec crm.Record, phone string) error {
	if !p.opts.BotEnabled || p.queue == nil || rec.Fields.Bool("bot_queued") {
		return nil
	}
	task := BotMessageTask{Phone: phone, Message: rec.Fields.String("message_body"), MessageID: rec.Fields.String("message_id")}
	if err := p.queue.Enqueue(ctx, queue.TaskBotProcessMessage, task); err != nil {
		return fmt.Errorf("queue bot: %w", err)
	}
	if _, err := p.store.Update(ctx, crm.KindMessage, rec.Name, crm.Fields{"bot_queued": true}); err != nil {
		p.log.Warn("bot hand-off not marked", "message_id", task.MessageID, "err", err)
	}
	return nil
}

func (p *Processor) releaseClaim(ctx context.Context, messageID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.dedup.Release(rctx, messageID); err != nil {
		p.log.Warn("dedup release failed", "message_id", messageID, "err", err)
	}
}

func (p *Processor) publish(event string, data any) {
	if p.opts.Publisher != nil {
		p.opts.Publisher.Publish(event, data)
	}
}

func linkField(kind string) string {
	switch kind {
	case crm.KindContact:
		return "contact"
	case crm.KindCustomer:
		return "customer"
	default:
		return "lead"
	}
}

func (p *Processor) processStatus(ctx context.Context, st StatusUpdate) error {
	if st.ID == "" || st.Status == "" {
		return nil
	}
	if !deliveryStatuses[st.Status] {
		p.log.Debug("unknown message status ignored", "message_id", st.ID, "status", st.Status)
		return nil
	}
	rec, err := p.store.FindOne(ctx, crm.KindMessage, "message_id", st.ID)
	if errors.Is(err, crm.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	at := unixTime(st.Timestamp, p.now())
	if _, err := p.store.Update(ctx, crm.KindMessage, rec.Name, crm.Fields{
		"status":            st.Status,
		"status_updated_at": at.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	p.publish(EventStatusUpdate, StatusChange{MessageID: st.ID, Status: st.Status, Timestamp: at})
	return nil
}
