package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"whatsapp-calling/internal/gateway"
	"whatsapp-calling/pkg/logger"
	"whatsapp-calling/pkg/utils"
)

// TaskGenerateTranscript is enqueued when a recorded call ends on a tier with transcription.
const TaskGenerateTranscript = "calls.generate_transcript"

// EventInitiated is only reported to observers, when the record is first written.
const EventInitiated EventType = "call_initiated"

var (
	ErrCallInitiationFailed = errors.New("calls: call initiation failed")
	ErrSessionClosed        = errors.New("calls: session already ended")
	ErrInvalidRequest       = errors.New("calls: invalid request")
)

// TokenIssuer signs call tokens (auth.CallTokenIssuer).
type TokenIssuer interface {
	Issue(sessionID, userID string, ttl time.Duration) (string, error)
}

// FeatureGate answers tier questions at the moment they are asked.
type FeatureGate interface {
	RecordingEnabled(ctx context.Context) bool
	TranscriptionEnabled(ctx context.Context) bool
}

// LeadScorer bumps a CRM lead's score, clamping at 100.
type LeadScorer interface {
	AddLeadScore(ctx context.Context, leadID string, delta int) (int, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// Observer is told about every persisted transition and every gateway failure.
type Observer interface {
	CallTransitioned(ctx context.Context, from Status, s Session, ev EventType)
	GatewayFailed(ctx context.Context, op string, err error)
}

type ManagerOptions struct {
	// FromNumber is the WhatsApp business number calls are placed from.
	FromNumber    string
	CreateTimeout time.Duration
	// EffectTimeout bounds each post-transition side effect.
	EffectTimeout time.Duration
}

type ManagerDeps struct {
	Store     Store
	Gateway   gateway.Adapter
	Tokens    TokenIssuer
	Locker    utils.KeyLocker
	Features  FeatureGate
	Leads     LeadScorer
	Queue     Enqueuer
	Observers []Observer
	Log       *slog.Logger
	Now       func() time.Time
}

// Manager owns the call lifecycle. Every mutation of a session happens under
// the per-session lock and through Transition.
type Manager struct {
	opts ManagerOptions
	ManagerDeps
}

func NewManager(opts ManagerOptions, deps ManagerDeps) (*Manager, error) {
	if deps.Store == nil || deps.Gateway == nil || deps.Tokens == nil {
		return nil, errors.New("calls: store, gateway and tokens are required")
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = 30 * time.Second
	}
	if opts.EffectTimeout <= 0 {
		opts.EffectTimeout = 10 * time.Second
	}
	if deps.Locker == nil {
		deps.Locker = utils.NewKeyMutex()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Log = logger.Component(deps.Log, "calls")
	return &Manager{opts: opts, ManagerDeps: deps}, nil
}

type InitiateRequest struct {
	ToNumber string `json:"to_number"`
	Agent    string `json:"-"`
	LeadID   string `json:"lead_id,omitempty"`
}

type InitiateResult struct {
	Success        bool                `json:"success"`
	CallID         string              `json:"call_id"`
	SessionID      string              `json:"session_id"`
	ICEServers     []gateway.ICEServer `json:"ice_servers"`
	SessionToken   string              `json:"session_token"`
	CallRecordRef  string              `json:"call_record_ref"`
	SignalingURL   string              `json:"signaling_url,omitempty"`
	SignalingToken string              `json:"signaling_token,omitempty"`
}

func lockKey(sessionID string) string { return "call:" + sessionID }

// InitiateCall creates the call record, asks the gateway for a session and
// returns what the agent's browser needs to connect. On any failure the record
// ends Failed and the error wraps ErrCallInitiationFailed.
func (m *Manager) InitiateCall(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	req.ToNumber = strings.TrimSpace(req.ToNumber)
	if req.ToNumber == "" || req.Agent == "" {
		return InitiateResult{}, fmt.Errorf("%w: to_number and agent are required", ErrInvalidRequest)
	}

	now := m.Now()
	s := Session{
		CallID:     NewCallID(),
		SessionID:  uuid.NewString(),
		FromNumber: m.opts.FromNumber,
		ToNumber:   req.ToNumber,
		Direction:  DirectionOutgoing,
		Agent:      req.Agent,
		LeadID:     req.LeadID,
		Status:     StatusInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	log := m.Log.With("call_id", s.CallID, "session_id", s.SessionID)

	unlock, err := m.Locker.Lock(ctx, lockKey(s.SessionID))
	if err != nil {
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrCallInitiationFailed, err)
	}
	defer unlock()

	if err := m.Store.Create(ctx, s); err != nil {
		return InitiateResult{}, fmt.Errorf("%w: create record: %v", ErrCallInitiationFailed, err)
	}
	m.notify(ctx, "", s, EventInitiated)

	cctx, cancel := context.WithTimeout(ctx, m.opts.CreateTimeout)
	desc, err := m.Gateway.CreateSession(cctx, gateway.CreateSessionRequest{
		SessionID:     s.SessionID,
		CallerID:      req.Agent,
		CalleeID:      req.ToNumber,
		Recording:     m.recordingEnabled(ctx),
		Transcription: m.transcriptionEnabled(ctx),
	})
	cancel()
	if err != nil {
		// No retry. The adapter has released its reservations and torn down
		// any session the gateway committed before the error.
		m.gatewayFailed(ctx, "create_session", err)
		m.fail(ctx, s, err.Error(), false)
		log.Warn("gateway create session failed", "err", err)
		return InitiateResult{}, fmt.Errorf("%w: %w", ErrCallInitiationFailed, err)
	}

	finalID := s.SessionID
	if desc.GatewaySessionID != "" {
		finalID = desc.GatewaySessionID
	}
	// Events for the gateway id wait until the record carries it.
	if finalID != s.SessionID {
		unlockGW, err := m.Locker.Lock(ctx, lockKey(finalID))
		if err != nil {
			m.fail(ctx, s, err.Error(), true, finalID)
			return InitiateResult{}, fmt.Errorf("%w: %v", ErrCallInitiationFailed, err)
		}
		defer unlockGW()
	}

	token, err := m.Tokens.Issue(finalID, req.Agent, 0)
	if err != nil {
		m.fail(ctx, s, "token: "+err.Error(), true, finalID)
		return InitiateResult{}, fmt.Errorf("%w: issue token: %v", ErrCallInitiationFailed, err)
	}

	out, err := Transition(s, Event{Type: EventSessionCreated, GatewaySessionID: finalID}, m.Now(), Gates{})
	if err != nil {
		m.fail(ctx, s, err.Error(), true, finalID)
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrCallInitiationFailed, err)
	}
	if err := m.Store.Update(ctx, out.Session, StatusInitiated); err != nil {
		m.fail(ctx, s, "persist: "+err.Error(), true, finalID)
		return InitiateResult{}, fmt.Errorf("%w: persist session: %v", ErrCallInitiationFailed, err)
	}
	m.notify(ctx, StatusInitiated, out.Session, EventSessionCreated)
	log.Info("call initiated", "gateway_session_id", finalID, "gateway", m.Gateway.Name())

	ice := desc.ICEServers
	if len(ice) == 0 {
		ice = m.Gateway.GetICEServers(ctx)
	}
	return InitiateResult{
		Success:        true,
		CallID:         s.CallID,
		SessionID:      finalID,
		ICEServers:     ice,
		SessionToken:   token,
		CallRecordRef:  s.CallID,
		SignalingURL:   desc.SignalingURL,
		SignalingToken: desc.SignalingToken,
	}, nil
}

// fail moves an Initiated record to Failed. When the gateway already holds a
// session it is torn down first.
func (m *Manager) fail(ctx context.Context, s Session, reason string, teardown bool, gatewaySessionID ...string) {
	if teardown && len(gatewaySessionID) > 0 {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.EffectTimeout)
		if _, err := m.Gateway.TeardownSession(tctx, gatewaySessionID[0], "initiation_failed"); err != nil {
			m.gatewayFailed(ctx, "teardown", err)
		}
		cancel()
	}
	out, err := Transition(s, Event{Type: EventFailed, FailureReason: reason}, m.Now(), Gates{})
	if err != nil {
		m.Log.Error("fail transition", "call_id", s.CallID, "err", err)
		return
	}
	if err := m.Store.Update(context.WithoutCancel(ctx), out.Session, s.Status); err != nil {
		m.Log.Error("persist failed call", "call_id", s.CallID, "err", err)
		return
	}
	m.notify(ctx, s.Status, out.Session, EventFailed)
}

// EndCall ends a session. Ending an already ended or failed session succeeds
// without doing anything. Unknown sessions return (false, ErrNotFound).
func (m *Manager) EndCall(ctx context.Context, sessionID, reason string) (bool, error) {
	if reason == "" {
		reason = "user_hangup"
	}
	if err := m.HandleEvent(ctx, Event{SessionID: sessionID, Type: EventEnded, EndReason: reason}); err != nil {
		return false, err
	}
	return true, nil
}

// HandleEvent applies a gateway (or synthesized) event under the session lock.
func (m *Manager) HandleEvent(ctx context.Context, ev Event) error {
	if ev.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	unlock, err := m.Locker.Lock(ctx, lockKey(ev.SessionID))
	if err != nil {
		return err
	}
	defer unlock()

	s, err := m.Store.Get(ctx, ev.SessionID)
	if err != nil {
		return err
	}

	// Tier gates are read now, never cached from call start.
	var g Gates
	switch ev.Type {
	case EventAnswered:
		if s.Status == StatusRinging {
			g.Recording = m.recordingEnabled(ctx)
		}
	case EventEnded:
		if !s.Status.Terminal() && s.RecordingURL != "" {
			g.Transcription = m.transcriptionEnabled(ctx)
		}
	}

	out, err := Transition(s, ev, m.Now(), g)
	if err != nil {
		return err
	}
	if !out.Changed {
		if ev.Type == EventQuality && s.Status.Terminal() {
			m.Log.Debug("stale quality update discarded", "session_id", s.SessionID, "status", s.Status)
		}
		return nil
	}
	if err := m.Store.Update(ctx, out.Session, s.Status); err != nil {
		return err
	}
	m.notify(ctx, s.Status, out.Session, ev.Type)
	m.runEffects(ctx, out.Session, out.Effects)
	return nil
}

func (m *Manager) runEffects(ctx context.Context, s Session, effects []Effect) {
	ctx = context.WithoutCancel(ctx)
	log := m.Log.With("call_id", s.CallID, "session_id", s.SessionID)
	rec, canRecord := m.Gateway.(gateway.Recorder)

	for _, e := range effects {
		ectx, cancel := context.WithTimeout(ctx, m.opts.EffectTimeout)
		switch e.Kind {
		case EffectStartRecording:
			if !canRecord {
				log.Info("gateway cannot record; skipping", "gateway", m.Gateway.Name())
				break
			}
			url, err := rec.StartRecording(ectx, s.SessionID)
			if err != nil {
				m.gatewayFailed(ctx, "start_recording", err)
				log.Error("start recording failed", "err", err)
				break
			}
			if url == "" {
				break
			}
			updated := s
			updated.RecordingURL = url
			updated.UpdatedAt = m.Now()
			if err := m.Store.Update(ectx, updated, s.Status); err != nil {
				log.Error("persist recording url failed", "err", err)
				break
			}
			s = updated

		case EffectStopRecording:
			if !canRecord {
				break
			}
			if err := rec.StopRecording(ectx, s.SessionID); err != nil {
				m.gatewayFailed(ctx, "stop_recording", err)
				log.Error("stop recording failed", "err", err)
			}

		case EffectTranscript:
			if m.Queue == nil {
				break
			}
			payload := TranscriptTask{CallID: s.CallID, SessionID: s.SessionID, RecordingURL: s.RecordingURL}
			if err := m.Queue.Enqueue(ectx, TaskGenerateTranscript, payload); err != nil {
				log.Error("enqueue transcript failed", "err", err)
			}

		case EffectLeadScore:
			if m.Leads == nil {
				break
			}
			score, err := m.Leads.AddLeadScore(ectx, s.LeadID, e.LeadScoreDelta)
			if err != nil {
				log.Error("lead score update failed", "lead", s.LeadID, "err", err)
				break
			}
			log.Info("lead score updated", "lead", s.LeadID, "delta", e.LeadScoreDelta, "score", score)

		case EffectTeardown:
			if _, err := m.Gateway.TeardownSession(ectx, s.SessionID, s.EndReason); err != nil {
				m.gatewayFailed(ctx, "teardown", err)
				log.Error("gateway teardown failed", "err", err)
			}
		}
		cancel()
	}
}

// TranscriptTask is the payload of TaskGenerateTranscript.
type TranscriptTask struct {
	CallID       string `json:"call_id"`
	SessionID    string `json:"session_id"`
	RecordingURL string `json:"recording_url"`
}

// CallToken issues a fresh call token for a live session.
func (m *Manager) CallToken(ctx context.Context, sessionID, userID string) (string, error) {
	s, err := m.Store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.Status.Terminal() {
		return "", ErrSessionClosed
	}
	return m.Tokens.Issue(s.SessionID, userID, 0)
}

// ICEServers never fails; see gateway.Adapter.
func (m *Manager) ICEServers(ctx context.Context) []gateway.ICEServer {
	return m.Gateway.GetICEServers(ctx)
}

func (m *Manager) Get(ctx context.Context, sessionID string) (Session, error) {
	return m.Store.Get(ctx, sessionID)
}

func (m *Manager) recordingEnabled(ctx context.Context) bool {
	return m.Features != nil && m.Features.RecordingEnabled(ctx)
}

func (m *Manager) transcriptionEnabled(ctx context.Context) bool {
	return m.Features != nil && m.Features.TranscriptionEnabled(ctx)
}

func (m *Manager) notify(ctx context.Context, from Status, s Session, ev EventType) {
	for _, o := range m.Observers {
		o.CallTransitioned(ctx, from, s, ev)
	}
}

func (m *Manager) gatewayFailed(ctx context.Context, op string, err error) {
	for _, o := range m.Observers {
		o.GatewayFailed(ctx, op, err)
	}
}
