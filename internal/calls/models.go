package calls

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one WebRTC call between a CRM agent and a WhatsApp number.
//
// Invariants:
//   - Status only moves forward; Ended and Failed are terminal and immutable.
//   - DurationSeconds is derived from StartTime/EndTime when the call ends, never set by hand.
//   - SessionID starts as a local uuid and is replaced once by the gateway's id.
type Session struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`

	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`
	Direction  Direction `json:"direction"`
	Agent      string    `json:"agent"`
	LeadID     string    `json:"lead,omitempty"`

	Status Status `json:"status"`

	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int        `json:"duration"`

	RecordingURL  string   `json:"recording_url,omitempty"`
	Quality       *Quality `json:"quality,omitempty"`
	EndReason     string   `json:"end_reason,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusInitiated Status = "Initiated"
	StatusRinging   Status = "Ringing"
	StatusConnected Status = "Connected"
	StatusEnded     Status = "Ended"
	StatusFailed    Status = "Failed"
)

func (s Status) Terminal() bool { return s == StatusEnded || s == StatusFailed }

// Live lists the statuses of calls still in progress.
var Live = []Status{StatusInitiated, StatusRinging, StatusConnected}

type Direction string

const (
	DirectionOutgoing Direction = "Outgoing"
	DirectionIncoming Direction = "Incoming"
)

// Quality is the last media quality snapshot, with its 0-100 score.
type Quality struct {
	MOS        float64   `json:"mos_score"`
	PacketLoss float64   `json:"packet_loss"`
	LatencyMs  float64   `json:"latency"`
	JitterMs   float64   `json:"jitter"`
	Score      float64   `json:"score"`
	SampledAt  time.Time `json:"sampled_at"`
}

// NewCallID returns a 10 character upper-case hex code.
func NewCallID() string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:5]))
}
