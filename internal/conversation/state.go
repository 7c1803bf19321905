package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Intents the bot recognises. Unknown labels are coerced to IntentOther.
const (
	IntentGreeting          = "greeting"
	IntentProductInquiry    = "product_inquiry"
	IntentPricing           = "pricing"
	IntentSupport           = "support"
	IntentAppointment       = "appointment"
	IntentComplaint         = "complaint"
	IntentLeadQualification = "lead_qualification"
	IntentGoodbye           = "goodbye"
	IntentOther             = "other"
)

const (
	DefaultHistoryLimit = 20
	MaxScore            = 100
)

var (
	ErrNotFound = errors.New("conversation: state not found")
	// ErrActiveExists means the phone already has an active state.
	ErrActiveExists = errors.New("conversation: active state already exists")
)

// Exchange is one user message and the bot's reply.
type Exchange struct {
	At          time.Time `json:"timestamp"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Intent      string    `json:"intent"`
}

// ContextData is the free-form part of a state.
type ContextData struct {
	History     []Exchange     `json:"conversation_history"`
	UserData    map[string]any `json:"user_data,omitempty"`
	SessionData map[string]any `json:"session_data,omitempty"`
}

// State is the bot's view of one WhatsApp conversation.
//
// At most one active state exists per phone number. Escalated states are never
// auto-replied to. States are deactivated, never deleted.
type State struct {
	ConversationID  string      `json:"conversation_id"`
	PhoneNumber     string      `json:"phone_number"`
	CurrentIntent   string      `json:"current_intent"`
	LeadScore       int         `json:"lead_score"`
	Language        string      `json:"language"`
	IsActive        bool        `json:"is_active"`
	IsEscalated     bool        `json:"is_escalated"`
	EscalatedAt     *time.Time  `json:"escalated_at,omitempty"`
	EscalatedReason string      `json:"escalated_reason,omitempty"`
	AssignedTo      string      `json:"assigned_to,omitempty"`
	LastInteraction time.Time   `json:"last_interaction"`
	Context         ContextData `json:"context_data"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewState returns a fresh active state for phone created at now.
func NewState(phone string, now time.Time) State {
	return State{
		ConversationID:  ConversationID(phone, now),
		PhoneNumber:     phone,
		CurrentIntent:   IntentGreeting,
		Language:        "en",
		IsActive:        true,
		LastInteraction: now,
		Context:         ContextData{History: []Exchange{}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ConversationID embeds the creation second so a later state for the same
// number gets a new id.
func ConversationID(phone string, at time.Time) string {
	return fmt.Sprintf("CONV-%s-%s", phone, at.UTC().Format("20060102150405"))
}

// AppendExchange records an exchange, keeping only the newest limit entries.
func (s *State) AppendExchange(e Exchange, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.Context.History = append(s.Context.History, e)
	if n := len(s.Context.History); n > limit {
		s.Context.History = append([]Exchange(nil), s.Context.History[n-limit:]...)
	}
}

// ApplyScoreDelta adds delta and clamps to [0, 100].
func (s *State) ApplyScoreDelta(delta int) int {
	score := s.LeadScore + delta
	switch {
	case score < 0:
		score = 0
	case score > MaxScore:
		score = MaxScore
	}
	s.LeadScore = score
	return score
}

// Recent returns up to n of the newest exchanges, oldest first.
func (s State) Recent(n int) []Exchange {
	h := s.Context.History
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]Exchange(nil), h...)
}
