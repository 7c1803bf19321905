package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Adapter is the backend-agnostic contract the call session manager talks to.
//
// Rules:
//   - No gateway SDK or wire format leaks outside an adapter.
//   - CreateSession is retry-safe. On failure it releases its reservations and
//     tears down any session the gateway may have committed before the reply was lost.
//   - GetICEServers never fails; it degrades to a static set.
//   - TeardownSession treats unknown or already closed sessions as success.
//   - GetQuality returns (nil, nil) when the gateway has no data.
type Adapter interface {
	Name() string

	// Validate reports ErrConfiguration when the adapter is disabled or
	// incompletely configured. Called once at activation.
	Validate() error

	CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDescriptor, error)
	GetICEServers(ctx context.Context) []ICEServer
	TeardownSession(ctx context.Context, sessionID, reason string) (bool, error)
	GetQuality(ctx context.Context, sessionID string) (*QualitySample, error)
}

// Recorder is implemented by adapters whose gateway can record media.
type Recorder interface {
	StartRecording(ctx context.Context, sessionID string) (recordingURL string, err error)
	StopRecording(ctx context.Context, sessionID string) error
}

var (
	// ErrConfiguration: adapter disabled or misconfigured. Fatal, not retried.
	ErrConfiguration = errors.New("gateway: configuration error")
	// ErrUnavailable: the gateway could not create a session. Transient, not retried.
	ErrUnavailable = errors.New("gateway: unavailable")
)

// RollbackTimeout bounds the cleanup after a failed create.
const RollbackTimeout = 5 * time.Second

// rollbackCreate tears down a session the gateway may hold after a failed
// create. It runs detached from ctx, which may be the reason create failed.
func rollbackCreate(ctx context.Context, log *slog.Logger, sessionID string, teardown func(context.Context, string, string) (bool, error)) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RollbackTimeout)
	defer cancel()
	if _, err := teardown(rctx, sessionID, "create_failed"); err != nil {
		log.Warn("create rollback failed", "session_id", sessionID, "err", err)
		return
	}
	log.Info("create rolled back", "session_id", sessionID)
}

type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
	// CallerID is the agent placing the call.
	CallerID string `json:"caller_id"`
	// CalleeID is the WhatsApp number being called.
	CalleeID string `json:"callee_id"`

	Recording     bool `json:"recording"`
	Transcription bool `json:"transcription"`
}

// SessionDescriptor is the adapter's answer to CreateSession. It is folded into
// the call record and the client response, then discarded.
type SessionDescriptor struct {
	GatewaySessionID string      `json:"gateway_session_id"`
	ICEServers       []ICEServer `json:"ice_servers"`
	SignalingURL     string      `json:"signaling_url,omitempty"`
	// SignalingToken is a gateway-issued credential (e.g. an SFU room token).
	SignalingToken   string `json:"signaling_token,omitempty"`
	RecordingCapable bool   `json:"recording_capable"`
}

// QualitySample is one best-effort media quality reading. Nil fields mean the
// gateway did not report that metric.
type QualitySample struct {
	MOS        *float64 `json:"mos_score,omitempty"`
	PacketLoss *float64 `json:"packet_loss,omitempty"`
	LatencyMs  *float64 `json:"latency,omitempty"`
	JitterMs   *float64 `json:"jitter,omitempty"`
}

// Empty reports whether the sample carries no metric at all.
func (q *QualitySample) Empty() bool {
	return q == nil || (q.MOS == nil && q.PacketLoss == nil && q.LatencyMs == nil && q.JitterMs == nil)
}

func Float(v float64) *float64 { return &v }
