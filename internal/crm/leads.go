package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-calling/pkg/logger"
	"whatsapp-calling/pkg/utils"
)

// Lead statuses and sources written by this service.
const (
	LeadStatusLead      = "Lead"
	LeadStatusQualified = "Qualified"

	SourceWhatsApp    = "WhatsApp"
	SourceWhatsAppBot = "WhatsApp Bot"

	MaxLeadScore = 100
)

// partyKinds is the lookup order for a phone number.
var partyKinds = []string{KindLead, KindContact, KindCustomer}

// Leads holds the lead rules on top of the entity store.
type Leads struct {
	store Store
	lock  utils.KeyLocker
	log   *slog.Logger
	now   func() time.Time
}

func NewLeads(store Store, lock utils.KeyLocker, log *slog.Logger) *Leads {
	if lock == nil {
		lock = utils.NewKeyMutex()
	}
	return &Leads{store: store, lock: lock, log: logger.Component(log, "crm"), now: time.Now}
}

func (l *Leads) Store() Store { return l.store }

// FindParty looks a phone number up as Lead, then Contact, then Customer.
// Every candidate spelling of the number is tried for each kind.
func (l *Leads) FindParty(ctx context.Context, phones ...string) (Record, error) {
	for _, kind := range partyKinds {
		r, err := l.store.FindOne(ctx, kind, "mobile_no", phones...)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
	}
	return Record{}, ErrNotFound
}

func lastDigits(phone string, n int) string {
	if len(phone) <= n {
		return phone
	}
	return phone[len(phone)-n:]
}

// AutoCreateLead creates the lead for an unknown WhatsApp number.
func (l *Leads) AutoCreateLead(ctx context.Context, phone, firstMessage, owner string) (Record, error) {
	r, err := l.store.Create(ctx, KindLead, Fields{
		"first_name": "WhatsApp Lead " + lastDigits(phone, 4),
		"mobile_no":  phone,
		"source":     SourceWhatsApp,
		"status":     LeadStatusLead,
		"lead_owner": owner,
		"lead_score": 0,
		"notes":      "Auto-created from WhatsApp. First message: " + firstMessage,
	})
	if err != nil {
		return Record{}, err
	}
	l.log.Info("lead created from whatsapp", "lead", r.Name, "phone", phone)
	return r, nil
}

// AddLeadScore adds delta to a lead's score and clamps the result to [0, 100].
func (l *Leads) AddLeadScore(ctx context.Context, leadID string, delta int) (int, error) {
	unlock, err := l.lock.Lock(ctx, "lead:"+leadID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	r, err := l.store.Get(ctx, KindLead, leadID)
	if err != nil {
		return 0, err
	}
	score := ClampScore(r.Fields.Int("lead_score") + delta)
	if _, err := l.store.Update(ctx, KindLead, leadID, Fields{"lead_score": score}); err != nil {
		return 0, err
	}
	return score, nil
}

func ClampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxLeadScore {
		return MaxLeadScore
	}
	return n
}

type Qualification struct {
	Phone   string
	Score   int
	Owner   string
	Summary string
}

// QualifyLead marks the lead for a phone Qualified, creating it when missing.
// The owner only applies to newly created leads.
func (l *Leads) QualifyLead(ctx context.Context, q Qualification) (Record, error) {
	if q.Phone == "" {
		return Record{}, fmt.Errorf("%w: phone is required", ErrInvalid)
	}
	unlock, err := l.lock.Lock(ctx, "lead-phone:"+q.Phone)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	notes := fmt.Sprintf("Qualified via WhatsApp Bot\nLead Score: %d\nConversation Summary:\n%s", q.Score, q.Summary)
	fields := Fields{
		"status":             LeadStatusQualified,
		"lead_score":         ClampScore(q.Score),
		"qualification_date": l.now().UTC().Format("2006-01-02"),
		"notes":              notes,
	}

	existing, err := l.store.FindOne(ctx, KindLead, "mobile_no", q.Phone)
	switch {
	case err == nil:
		return l.store.Update(ctx, KindLead, existing.Name, fields)
	case !errors.Is(err, ErrNotFound):
		return Record{}, err
	}

	fields["first_name"] = "WhatsApp Lead " + lastDigits(q.Phone, 4)
	fields["mobile_no"] = q.Phone
	fields["source"] = SourceWhatsAppBot
	fields["lead_owner"] = q.Owner
	return l.store.Create(ctx, KindLead, fields)
}
