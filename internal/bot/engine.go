package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"whatsapp-calling/internal/conversation"
	"whatsapp-calling/internal/crm"
	"whatsapp-calling/internal/queue"
	"whatsapp-calling/internal/routing"
	"whatsapp-calling/internal/whatsapp"
	"whatsapp-calling/pkg/logger"
	"whatsapp-calling/pkg/utils"
)

// Escalation reasons.
const (
	ReasonHighLeadScore = "high_lead_score"
	ReasonUserRequest   = "user_request"
)

const (
	classifyMaxTokens = 50
	respondMaxTokens  = 200
	summaryMaxTokens  = 150
	contextExchanges  = 5
)

// Sender delivers a bot reply to a WhatsApp number.
type Sender interface {
	SendBotMessage(ctx context.Context, phone, body string) error
}

// Qualifier creates or updates the CRM lead for a qualified conversation.
type Qualifier interface {
	QualifyLead(ctx context.Context, q crm.Qualification) (crm.Record, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

type Observer interface {
	IntentClassified(intent string)
	Escalated(reason string)
}

type Auditor interface {
	LogEscalation(ctx context.Context, conversationID, phone, reason, assignee string)
	LogReactivation(ctx context.Context, actor, conversationID, phone string)
}

// Company facts the response prompt is grounded on.
type Company struct {
	Name     string
	Industry string
	Products string
	Contact  string
}

func (c Company) withDefaults() Company {
	if c.Name == "" {
		c.Name = "Your Company"
	}
	if c.Industry == "" {
		c.Industry = "Technology"
	}
	if c.Products == "" {
		c.Products = "CRM Solutions"
	}
	if c.Contact == "" {
		c.Contact = "Contact Sales"
	}
	return c
}

type EngineOptions struct {
	// EscalationThreshold is the lead score that hands a conversation to sales.
	EscalationThreshold int
	Company             Company
}

type EngineDeps struct {
	Conversations *conversation.Service
	Completer     Completer
	Sender        Sender
	Assigner      routing.Assigner
	Leads         Qualifier
	Queue         Enqueuer
	Locker        utils.KeyLocker
	Observer      Observer
	Auditor       Auditor
	Log           *slog.Logger
	Now           func() time.Time
}

// Engine runs the per-message bot pipeline. Messages from one number are
// processed one at a time.
type Engine struct {
	opts EngineOptions
	EngineDeps
}

func NewEngine(opts EngineOptions, deps EngineDeps) (*Engine, error) {
	if deps.Conversations == nil || deps.Completer == nil || deps.Sender == nil {
		return nil, errors.New("bot: conversations, completer and sender are required")
	}
	if opts.EscalationThreshold <= 0 {
		opts.EscalationThreshold = 70
	}
	opts.Company = opts.Company.withDefaults()
	if deps.Assigner == nil {
		deps.Assigner = routing.NewRoundRobin(nil, nil, routing.DefaultOwner, deps.Log)
	}
	if deps.Locker == nil {
		deps.Locker = utils.NewKeyMutex()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Log = logger.Component(deps.Log, "bot")
	return &Engine{opts: opts, EngineDeps: deps}, nil
}

func lockKey(phone string) string { return "bot:" + phone }

// HandleTask is the queue handler for queue.TaskBotProcessMessage.
func (e *Engine) HandleTask(ctx context.Context, raw json.RawMessage) error {
	var t whatsapp.BotMessageTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("bot: decode task: %w", err)
	}
	if t.Phone == "" {
		return errors.New("bot: task without phone number")
	}
	return e.ProcessMessage(ctx, t.Phone, t.Message)
}

// ProcessMessage answers one inbound message. If the pipeline fails before
// the conversation is known to be escalated, the customer gets the apology.
func (e *Engine) ProcessMessage(ctx context.Context, phone, text string) error {
	unlock, err := e.Locker.Lock(ctx, lockKey(phone))
	if err != nil {
		return err
	}
	defer unlock()

	escalated, err := e.process(ctx, phone, text)
	if err == nil {
		return nil
	}
	e.Log.Error("bot pipeline failed", "phone", phone, "err", err)
	if !escalated {
		if serr := e.Sender.SendBotMessage(ctx, phone, FallbackApology); serr != nil {
			e.Log.Error("fallback send failed", "phone", phone, "err", serr)
		}
	}
	return err
}

func (e *Engine) process(ctx context.Context, phone, text string) (bool, error) {
	st, err := e.Conversations.GetOrCreate(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("load conversation: %w", err)
	}

	promptCtx := buildContext(st)
	intent := e.classify(ctx, text, promptCtx)
	if e.Observer != nil {
		e.Observer.IntentClassified(intent)
	}
	reply := e.respond(ctx, intent, text, promptCtx)

	st, err = e.Conversations.Record(ctx, st, conversation.Exchange{
		At:          e.Now().UTC(),
		UserMessage: text,
		BotResponse: reply,
		Intent:      intent,
	}, ScoreDelta(intent))
	if err != nil {
		return false, fmt.Errorf("save conversation: %w", err)
	}

	if st.IsEscalated {
		e.Log.Debug("escalated conversation, reply withheld", "conversation_id", st.ConversationID)
		return true, nil
	}
	if err := e.Sender.SendBotMessage(ctx, phone, reply); err != nil {
		return false, fmt.Errorf("send reply: %w", err)
	}

	if st.LeadScore >= e.opts.EscalationThreshold {
		if _, err := e.escalate(ctx, st, ReasonHighLeadScore); err != nil {
			e.Log.Error("escalation failed", "conversation_id", st.ConversationID, "err", err)
		}
	}
	return false, nil
}

type promptContext struct {
	CurrentIntent  string                  `json:"current_intent"`
	LeadScore      int                     `json:"lead_score"`
	Language       string                  `json:"language"`
	RecentMessages []conversation.Exchange `json:"recent_messages"`
	UserData       map[string]any          `json:"user_data"`
	SessionData    map[string]any          `json:"session_data"`
}

func buildContext(st conversation.State) string {
	pc := promptContext{
		CurrentIntent:  st.CurrentIntent,
		LeadScore:      st.LeadScore,
		Language:       st.Language,
		RecentMessages: st.Recent(contextExchanges),
		UserData:       st.Context.UserData,
		SessionData:    st.Context.SessionData,
	}
	if pc.UserData == nil {
		pc.UserData = map[string]any{}
	}
	if pc.SessionData == nil {
		pc.SessionData = map[string]any{}
	}
	b, err := json.Marshal(pc)
	if err != nil {
		return "{}"
	}
	return string(b)
}

const classifyPrompt = `You are an intent classifier for a CRM WhatsApp bot. Classify the user's message into one of these intents:
- greeting: Hello, hi, good morning, etc.
- product_inquiry: Questions about products/services
- pricing: Questions about cost, price, rates
- support: Technical support, help requests
- appointment: Booking meetings, demos, calls
- complaint: Issues, problems, dissatisfaction
- lead_qualification: Ready to purchase, interested in buying
- goodbye: Bye, thanks, end conversation
- other: Anything else

Respond with only the intent name.`

func (e *Engine) classify(ctx context.Context, text, promptCtx string) string {
	out, err := e.Completer.Complete(ctx, CompletionRequest{
		System:      classifyPrompt,
		User:        "Context: " + promptCtx + "\n\nMessage: " + text,
		MaxTokens:   classifyMaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		e.Log.Warn("intent classification failed", "err", err)
		return conversation.IntentOther
	}
	return CoerceIntent(out)
}

func (e *Engine) responsePrompt(intent, promptCtx string) string {
	c := e.opts.Company
	return fmt.Sprintf(`You are a helpful WhatsApp bot for %s.

Company Information:
- Name: %s
- Industry: %s
- Products/Services: %s
- Contact: %s

Current Intent: %s
Conversation Context: %s

Guidelines:
- Be friendly and professional
- Keep responses concise (under 160 characters when possible)
- For pricing inquiries, mention that a sales representative will contact them
- For appointments, offer to schedule a call or demo
- For support issues, try to help or escalate to human agent
- For lead qualification, gather contact details and requirements
- Use emojis appropriately
- Always end with a question to keep conversation flowing

Respond naturally to the user's message.`, c.Name, c.Name, c.Industry, c.Products, c.Contact, intent, promptCtx)
}

func (e *Engine) respond(ctx context.Context, intent, text, promptCtx string) string {
	out, err := e.Completer.Complete(ctx, CompletionRequest{
		System:      e.responsePrompt(intent, promptCtx),
		User:        text,
		MaxTokens:   respondMaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		e.Log.Warn("response generation failed, using canned reply", "intent", intent, "err", err)
		return CannedReply(intent)
	}
	return out
}

// NotifySalesTask is queued when a conversation is handed to sales.
type NotifySalesTask struct {
	Phone          string    `json:"phone_number"`
	LeadScore      int       `json:"lead_score"`
	ConversationID string    `json:"conversation_id"`
	Lead           string    `json:"lead,omitempty"`
	AssignedTo     string    `json:"assigned_to"`
	Reason         string    `json:"reason"`
	EscalatedAt    time.Time `json:"escalated_at"`
}

// escalate hands st to a human. It reports false when another caller already
// escalated the conversation.
func (e *Engine) escalate(ctx context.Context, st conversation.State, reason string) (bool, error) {
	if st.IsEscalated {
		return false, nil
	}
	assignment, err := e.Assigner.Assign(ctx, st.PhoneNumber)
	if err != nil {
		return false, fmt.Errorf("assign agent: %w", err)
	}
	ok, err := e.Conversations.Escalate(ctx, st.ConversationID, reason, assignment.AssignedTo)
	if err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}
	if !ok {
		return false, nil
	}
	at := e.Now().UTC()
	e.Log.Info("conversation escalated",
		"conversation_id", st.ConversationID,
		"reason", reason,
		"assigned_to", assignment.AssignedTo,
		"lead_score", st.LeadScore,
	)
	if e.Observer != nil {
		e.Observer.Escalated(reason)
	}
	if e.Auditor != nil {
		e.Auditor.LogEscalation(ctx, st.ConversationID, st.PhoneNumber, reason, assignment.AssignedTo)
	}

	var errs []error
	task := NotifySalesTask{
		Phone:          st.PhoneNumber,
		LeadScore:      st.LeadScore,
		ConversationID: st.ConversationID,
		AssignedTo:     assignment.AssignedTo,
		Reason:         reason,
		EscalatedAt:    at,
	}
	if e.Leads != nil {
		lead, err := e.Leads.QualifyLead(ctx, crm.Qualification{
			Phone:   st.PhoneNumber,
			Score:   st.LeadScore,
			Owner:   assignment.AssignedTo,
			Summary: e.summarize(ctx, st),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("qualify lead: %w", err))
		} else {
			task.Lead = lead.Name
		}
	}
	if e.Queue != nil {
		if err := e.Queue.Enqueue(ctx, queue.TaskBotNotifySales, task); err != nil {
			errs = append(errs, fmt.Errorf("notify sales: %w", err))
		}
	}
	if err := e.Sender.SendBotMessage(ctx, st.PhoneNumber, HandoffMessage); err != nil {
		errs = append(errs, fmt.Errorf("send hand-off: %w", err))
	}
	return true, errors.Join(errs...)
}

const summaryPrompt = `Summarize this WhatsApp conversation between a user and a sales bot.
Focus on:
- User's main interests/requirements
- Key information gathered
- Reasons for qualification
- Next steps needed

Keep it concise and actionable for sales team.`

func transcript(history []conversation.Exchange) string {
	var b strings.Builder
	for _, ex := range history {
		fmt.Fprintf(&b, "User: %s\nBot: %s\n", ex.UserMessage, ex.BotResponse)
	}
	return strings.TrimSpace(b.String())
}

func (e *Engine) summarize(ctx context.Context, st conversation.State) string {
	recent := st.Recent(contextExchanges)
	if len(recent) == 0 {
		return "No conversation history available"
	}
	text := transcript(recent)
	out, err := e.Completer.Complete(ctx, CompletionRequest{
		System:      summaryPrompt,
		User:        text,
		MaxTokens:   summaryMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		e.Log.Warn("summary generation failed, using transcript", "err", err)
		return text
	}
	return out
}

// EscalateByPhone hands the active conversation for phone to a human on request.
// It reports false when the conversation was already escalated.
func (e *Engine) EscalateByPhone(ctx context.Context, phone, reason string) (bool, error) {
	if reason == "" {
		reason = ReasonUserRequest
	}
	unlock, err := e.Locker.Lock(ctx, lockKey(phone))
	if err != nil {
		return false, err
	}
	defer unlock()

	st, err := e.Conversations.Active(ctx, phone)
	if err != nil {
		return false, err
	}
	return e.escalate(ctx, st, reason)
}

// Reactivate hands an escalated conversation back to the bot.
func (e *Engine) Reactivate(ctx context.Context, actor, conversationID string) (conversation.State, error) {
	st, err := e.Conversations.Get(ctx, conversationID)
	if err != nil {
		return conversation.State{}, err
	}
	unlock, err := e.Locker.Lock(ctx, lockKey(st.PhoneNumber))
	if err != nil {
		return conversation.State{}, err
	}
	defer unlock()

	st, err = e.Conversations.Reactivate(ctx, conversationID)
	if err != nil {
		return conversation.State{}, err
	}
	if e.Auditor != nil {
		e.Auditor.LogReactivation(ctx, actor, st.ConversationID, st.PhoneNumber)
	}
	return st, nil
}
