package whatsapp

import (
	"strconv"
	"strings"
	"time"
)

// WebhookPayload is the Cloud API notification envelope.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Messages         []Message      `json:"messages,omitempty"`
	Statuses         []StatusUpdate `json:"statuses,omitempty"`
}

type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text     *TextBody `json:"text,omitempty"`
	Image    *Media    `json:"image,omitempty"`
	Audio    *Media    `json:"audio,omitempty"`
	Video    *Media    `json:"video,omitempty"`
	Document *Media    `json:"document,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// StatusUpdate reports sent, delivered, read or failed for an outbound message.
type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Content renders any message type as a single line for logs and the bot.
func (m Message) Content() string {
	switch m.Type {
	case "", "text":
		if m.Text == nil {
			return ""
		}
		return m.Text.Body
	case "image":
		return labeled("[Image]", m.Image, func(x *Media) string { return x.Caption })
	case "audio":
		return "[Audio Message]"
	case "video":
		return labeled("[Video]", m.Video, func(x *Media) string { return x.Caption })
	case "document":
		return labeled("[Document]", m.Document, func(x *Media) string { return x.Filename })
	default:
		return "[" + strings.ToUpper(m.Type[:1]) + strings.ToLower(m.Type[1:]) + " Message]"
	}
}

func labeled(label string, m *Media, detail func(*Media) string) string {
	if m == nil {
		return label
	}
	return strings.TrimSpace(label + " " + detail(m))
}

// unixTime parses the string seconds the Cloud API sends; garbage yields fallback.
func unixTime(s string, fallback time.Time) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Unix(n, 0).UTC()
}
