package calls

import (
	"errors"
	"testing"
	"time"

	"whatsapp-calling/internal/gateway"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newSession(status Status) Session {
	return Session{
		CallID:    "ABCDEF0123",
		SessionID: "local-1",
		ToNumber:  "+15550001",
		Agent:     "agent@example.com",
		Status:    status,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func mustTransition(t *testing.T, s Session, ev Event, now time.Time, g Gates) Outcome {
	t.Helper()
	out, err := Transition(s, ev, now, g)
	if err != nil {
		t.Fatalf("transition %s from %s: %v", ev.Type, s.Status, err)
	}
	return out
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func hasEffect(effects []Effect, k EffectKind) bool {
	for _, e := range effects {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func TestTransition_HappyPath(t *testing.T) {
	s := newSession(StatusInitiated)

	out := mustTransition(t, s, Event{Type: EventSessionCreated, GatewaySessionID: "gw-1"}, t0, Gates{})
	if out.Session.Status != StatusRinging || out.Session.SessionID != "gw-1" {
		t.Fatalf("expected Ringing with gateway id, got %+v", out.Session)
	}

	out = mustTransition(t, out.Session, Event{Type: EventAnswered}, t0.Add(5*time.Second), Gates{Recording: true})
	if out.Session.Status != StatusConnected || out.Session.StartTime == nil {
		t.Fatalf("expected Connected with start time, got %+v", out.Session)
	}
	if !hasEffect(out.Effects, EffectStartRecording) {
		t.Fatalf("expected start recording effect, got %v", kinds(out.Effects))
	}

	out.Session.RecordingURL = "https://rec/1.mp3"
	out.Session.LeadID = "LEAD-1"
	out = mustTransition(t, out.Session, Event{Type: EventEnded, EndReason: "user_hangup"}, t0.Add(5*time.Second+200*time.Second), Gates{Transcription: true})
	s = out.Session
	if s.Status != StatusEnded || s.EndTime == nil || s.DurationSeconds != 200 || s.EndReason != "user_hangup" {
		t.Fatalf("unexpected ended session %+v", s)
	}
	want := []EffectKind{EffectStopRecording, EffectTranscript, EffectLeadScore, EffectTeardown}
	got := kinds(out.Effects)
	if len(got) != len(want) {
		t.Fatalf("effects = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("effects = %v, want %v", got, want)
		}
	}
	if out.Effects[2].LeadScoreDelta != 15 {
		t.Fatalf("expected +15 for 200s, got %d", out.Effects[2].LeadScoreDelta)
	}
}

func TestTransition_EndIsIdempotent(t *testing.T) {
	s := newSession(StatusConnected)
	start := t0
	s.StartTime = &start

	first := mustTransition(t, s, Event{Type: EventEnded, EndReason: "user_hangup"}, t0.Add(time.Minute), Gates{})
	second := mustTransition(t, first.Session, Event{Type: EventEnded, EndReason: "timeout"}, t0.Add(2*time.Minute), Gates{})
	if second.Changed || len(second.Effects) != 0 {
		t.Fatalf("second end must be a no-op, got %+v", second)
	}
	if second.Session.EndReason != "user_hangup" || !second.Session.EndTime.Equal(*first.Session.EndTime) {
		t.Fatalf("terminal session was modified: %+v", second.Session)
	}
}

func TestTransition_EndFromInitiatedOrRinging(t *testing.T) {
	for _, st := range []Status{StatusInitiated, StatusRinging} {
		s := newSession(st)
		s.LeadID = "LEAD-1"
		out := mustTransition(t, s, Event{Type: EventEnded}, t0.Add(time.Minute), Gates{})
		if out.Session.Status != StatusEnded || out.Session.DurationSeconds != 0 || out.Session.EndReason != "unknown" {
			t.Fatalf("from %s: unexpected %+v", st, out.Session)
		}
		if hasEffect(out.Effects, EffectLeadScore) {
			t.Fatalf("from %s: unanswered call must not score the lead", st)
		}
		if !hasEffect(out.Effects, EffectTeardown) {
			t.Fatalf("from %s: expected teardown", st)
		}
	}
}

func TestTransition_NoTranscriptWithoutRecording(t *testing.T) {
	s := newSession(StatusConnected)
	start := t0
	s.StartTime = &start
	out := mustTransition(t, s, Event{Type: EventEnded}, t0.Add(time.Minute), Gates{Transcription: true})
	if hasEffect(out.Effects, EffectTranscript) || hasEffect(out.Effects, EffectStopRecording) {
		t.Fatalf("unexpected recording effects %v", kinds(out.Effects))
	}
}

func TestTransition_Failed(t *testing.T) {
	out := mustTransition(t, newSession(StatusInitiated), Event{Type: EventFailed, FailureReason: "gateway down"}, t0, Gates{})
	if out.Session.Status != StatusFailed || out.Session.FailureReason != "gateway down" || len(out.Effects) != 0 {
		t.Fatalf("unexpected %+v", out)
	}

	out = mustTransition(t, newSession(StatusRinging), Event{Type: EventFailed}, t0, Gates{})
	if !hasEffect(out.Effects, EffectTeardown) || out.Session.FailureReason != "unknown" {
		t.Fatalf("failed from ringing should tear down, got %+v", out)
	}

	if _, err := Transition(newSession(StatusConnected), Event{Type: EventFailed}, t0, Gates{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	out = mustTransition(t, newSession(StatusEnded), Event{Type: EventFailed}, t0, Gates{})
	if out.Changed || out.Session.Status != StatusEnded {
		t.Fatalf("failed on a terminal session must be ignored")
	}
}

func TestTransition_NeverMovesBackwards(t *testing.T) {
	s := newSession(StatusConnected)
	for _, ev := range []EventType{EventRinging, EventAnswered} {
		out := mustTransition(t, s, Event{Type: ev}, t0, Gates{})
		if out.Changed || out.Session.Status != StatusConnected {
			t.Fatalf("%s moved a connected call to %s", ev, out.Session.Status)
		}
	}
	if _, err := Transition(newSession(StatusRinging), Event{Type: EventSessionCreated}, t0, Gates{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := Transition(newSession(StatusInitiated), Event{Type: EventAnswered}, t0, Gates{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("answer before ringing must be invalid, got %v", err)
	}
	if _, err := Transition(newSession(StatusRinging), Event{Type: "bogus"}, t0, Gates{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected unknown event error, got %v", err)
	}
}

func TestTransition_QualityOnTerminalIsDiscarded(t *testing.T) {
	sample := &gateway.QualitySample{MOS: gateway.Float(4), PacketLoss: gateway.Float(2), LatencyMs: gateway.Float(60), JitterMs: gateway.Float(5)}

	out := mustTransition(t, newSession(StatusEnded), Event{Type: EventQuality, Quality: sample}, t0, Gates{})
	if out.Changed || out.Session.Quality != nil {
		t.Fatalf("quality must not be written to an ended call")
	}

	out = mustTransition(t, newSession(StatusConnected), Event{Type: EventQuality, Quality: &gateway.QualitySample{}}, t0, Gates{})
	if out.Changed {
		t.Fatalf("empty sample must be ignored")
	}

	out = mustTransition(t, newSession(StatusConnected), Event{Type: EventQuality, Quality: sample}, t0, Gates{})
	if !out.Changed || out.Session.Quality == nil || out.Session.Quality.Score != 79.5 {
		t.Fatalf("expected quality snapshot with 79.5, got %+v", out.Session.Quality)
	}
}

func TestLeadScoreDelta(t *testing.T) {
	cases := map[int]int{0: 5, 60: 5, 61: 10, 120: 10, 121: 15, 300: 15, 301: 25, 3600: 25}
	for d, want := range cases {
		if got := LeadScoreDelta(d); got != want {
			t.Fatalf("LeadScoreDelta(%d) = %d, want %d", d, got, want)
		}
	}
}
