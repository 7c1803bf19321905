package bot

import (
	"strings"

	"whatsapp-calling/internal/conversation"
)

// Intents is the closed label set the classifier may return.
var Intents = []string{
	conversation.IntentGreeting,
	conversation.IntentProductInquiry,
	conversation.IntentPricing,
	conversation.IntentSupport,
	conversation.IntentAppointment,
	conversation.IntentComplaint,
	conversation.IntentLeadQualification,
	conversation.IntentGoodbye,
	conversation.IntentOther,
}

var scoreDeltas = map[string]int{
	conversation.IntentGreeting:          5,
	conversation.IntentProductInquiry:    15,
	conversation.IntentPricing:           25,
	conversation.IntentAppointment:       30,
	conversation.IntentLeadQualification: 40,
	conversation.IntentSupport:           5,
	conversation.IntentComplaint:         -5,
	conversation.IntentGoodbye:           0,
	conversation.IntentOther:             2,
}

// ScoreDelta is the lead score change for a classified intent.
func ScoreDelta(intent string) int { return scoreDeltas[intent] }

// CoerceIntent maps raw model output onto the label set. Anything it cannot
// match exactly becomes other.
func CoerceIntent(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, " \t\n\"'`.!:")
	s = strings.ReplaceAll(s, " ", "_")
	if _, ok := scoreDeltas[s]; ok {
		return s
	}
	return conversation.IntentOther
}

// Fixed texts sent to customers.
const (
	UnknownIntentReply = "Thank you for your message. Someone will get back to you soon!"
	FallbackApology    = "I apologize, but I'm having trouble processing your message right now. A team member will respond to you shortly. Thank you for your patience! 🙏"
	HandoffMessage     = "Thank you for your interest! A member of our sales team will contact you shortly to discuss your requirements in detail. 😊"
)

var cannedReplies = map[string]string{
	conversation.IntentGreeting:          "Hello! 👋 How can I help you today?",
	conversation.IntentProductInquiry:    "I'd be happy to help with product information! Can you tell me more about what you're looking for?",
	conversation.IntentPricing:           "For pricing information, I'll connect you with our sales team who can provide detailed quotes. What's your specific requirement?",
	conversation.IntentSupport:           "I'm here to help! Can you describe the issue you're experiencing?",
	conversation.IntentAppointment:       "I'd be happy to help you schedule a meeting. When would be a good time for you?",
	conversation.IntentComplaint:         "I'm sorry to hear about the issue. Let me help you resolve this. Can you provide more details?",
	conversation.IntentLeadQualification: "Great! I'd love to learn more about your requirements. A sales representative will contact you soon.",
	conversation.IntentGoodbye:           "Thank you for contacting us! Feel free to reach out anytime. Have a great day! 😊",
	conversation.IntentOther:             "I understand. Let me connect you with someone who can better assist you.",
}

// CannedReply is used when the completion provider fails.
func CannedReply(intent string) string {
	if r, ok := cannedReplies[intent]; ok {
		return r
	}
	return UnknownIntentReply
}
