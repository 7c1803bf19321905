package calls

import (
	"errors"
	"fmt"
	"time"

	"whatsapp-calling/internal/gateway"
)

type EventType string

const (
	// EventSessionCreated is internal: the gateway accepted CreateSession.
	EventSessionCreated EventType = "session_created"

	EventRinging  EventType = "call_ringing"
	EventAnswered EventType = "call_answered"
	EventEnded    EventType = "call_ended"
	EventFailed   EventType = "call_failed"
	EventQuality  EventType = "quality_update"
)

// Event drives the call state machine. Gateway events arrive over HTTP; the
// manager synthesizes the rest.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"event_type"`

	GatewaySessionID string                 `json:"-"`
	EndReason        string                 `json:"end_reason,omitempty"`
	FailureReason    string                 `json:"failure_reason,omitempty"`
	Quality          *gateway.QualitySample `json:"quality_metrics,omitempty"`
}

// Gates are tier decisions taken by the caller right before the transition.
type Gates struct {
	Recording     bool
	Transcription bool
}

type EffectKind string

const (
	EffectStartRecording EffectKind = "start_recording"
	EffectStopRecording  EffectKind = "stop_recording"
	EffectTranscript     EffectKind = "generate_transcript"
	EffectLeadScore      EffectKind = "lead_score"
	EffectTeardown       EffectKind = "teardown"
)

// Effect is work to do after the new state is persisted.
type Effect struct {
	Kind EffectKind
	// LeadScoreDelta is set for EffectLeadScore.
	LeadScoreDelta int
}

// Outcome of one transition. Changed is false for no-ops and discarded events.
type Outcome struct {
	Session Session
	Effects []Effect
	Changed bool
}

var ErrInvalidTransition = errors.New("calls: invalid transition")

// Transition applies ev to s. It has no side effects.
func Transition(s Session, ev Event, now time.Time, g Gates) (Outcome, error) {
	from := s.Status
	unchanged := Outcome{Session: s}

	invalid := func() (Outcome, error) {
		return Outcome{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev.Type, from)
	}

	switch ev.Type {
	case EventSessionCreated:
		if from != StatusInitiated {
			return invalid()
		}
		if ev.GatewaySessionID != "" {
			s.SessionID = ev.GatewaySessionID
		}
		s.Status = StatusRinging
		s.UpdatedAt = now
		return Outcome{Session: s, Changed: true}, nil

	case EventRinging:
		switch from {
		case StatusInitiated:
			s.Status = StatusRinging
			s.UpdatedAt = now
			return Outcome{Session: s, Changed: true}, nil
		case StatusRinging, StatusConnected, StatusEnded, StatusFailed:
			// Replayed or late.
			return unchanged, nil
		}
		return invalid()

	case EventAnswered:
		switch from {
		case StatusRinging:
			s.Status = StatusConnected
			t := now
			s.StartTime = &t
			s.UpdatedAt = now
			var effects []Effect
			if g.Recording {
				effects = append(effects, Effect{Kind: EffectStartRecording})
			}
			return Outcome{Session: s, Effects: effects, Changed: true}, nil
		case StatusConnected, StatusEnded, StatusFailed:
			return unchanged, nil
		}
		return invalid()

	case EventEnded:
		if from.Terminal() {
			return unchanged, nil
		}
		return end(s, ev, now, g), nil

	case EventFailed:
		switch from {
		case StatusInitiated, StatusRinging:
			s.Status = StatusFailed
			s.FailureReason = ev.FailureReason
			if s.FailureReason == "" {
				s.FailureReason = "unknown"
			}
			t := now
			s.EndTime = &t
			s.UpdatedAt = now
			var effects []Effect
			if from == StatusRinging {
				effects = append(effects, Effect{Kind: EffectTeardown})
			}
			return Outcome{Session: s, Effects: effects, Changed: true}, nil
		case StatusEnded, StatusFailed:
			return unchanged, nil
		}
		return invalid()

	case EventQuality:
		if from.Terminal() || ev.Quality.Empty() {
			return unchanged, nil
		}
		s.Quality = snapshot(ev.Quality, now)
		s.UpdatedAt = now
		return Outcome{Session: s, Changed: true}, nil
	}

	return Outcome{}, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Type)
}

func end(s Session, ev Event, now time.Time, g Gates) Outcome {
	s.Status = StatusEnded
	s.EndReason = ev.EndReason
	if s.EndReason == "" {
		s.EndReason = "unknown"
	}
	t := now
	s.EndTime = &t
	s.DurationSeconds = 0
	if s.StartTime != nil && now.After(*s.StartTime) {
		s.DurationSeconds = int(now.Sub(*s.StartTime).Seconds())
	}
	s.UpdatedAt = now

	var effects []Effect
	if s.RecordingURL != "" {
		effects = append(effects, Effect{Kind: EffectStopRecording})
		if g.Transcription {
			effects = append(effects, Effect{Kind: EffectTranscript})
		}
	}
	// Only calls that actually connected move the lead score.
	if s.LeadID != "" && s.StartTime != nil {
		effects = append(effects, Effect{Kind: EffectLeadScore, LeadScoreDelta: LeadScoreDelta(s.DurationSeconds)})
	}
	effects = append(effects, Effect{Kind: EffectTeardown})

	return Outcome{Session: s, Effects: effects, Changed: true}
}

// LeadScoreDelta is the lead score bump for a connected call of the given length.
func LeadScoreDelta(durationSeconds int) int {
	switch {
	case durationSeconds > 300:
		return 25
	case durationSeconds > 120:
		return 15
	case durationSeconds > 60:
		return 10
	default:
		return 5
	}
}
