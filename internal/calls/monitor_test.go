package calls

import (
	"context"
	"testing"

	"whatsapp-calling/internal/gateway"
)

type scoreSink struct{ scores []float64 }

func (s *scoreSink) ObserveQuality(gw string, score float64) { s.scores = append(s.scores, score) }

func TestMonitor_SweepUpdatesLiveSessions(t *testing.T) {
	h := newHarness(t, fixedTier{})
	ctx := context.Background()

	for _, s := range []Session{
		{CallID: "A000000000", SessionID: "s-live", Status: StatusConnected, CreatedAt: t0},
		{CallID: "B000000000", SessionID: "s-quiet", Status: StatusRinging, CreatedAt: t0},
		{CallID: "C000000000", SessionID: "s-done", Status: StatusEnded, CreatedAt: t0},
	} {
		if err := h.store.Create(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	f := gateway.Float
	h.gw.quality["s-live"] = &gateway.QualitySample{MOS: f(4), PacketLoss: f(2), LatencyMs: f(60), JitterMs: f(5)}
	h.gw.quality["s-done"] = &gateway.QualitySample{MOS: f(1)}

	sink := &scoreSink{}
	n, err := NewMonitor(h.mgr, 0, sink, nil).Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || len(sink.scores) != 1 || sink.scores[0] != 79.5 {
		t.Fatalf("expected one 79.5 update, got n=%d scores=%v", n, sink.scores)
	}

	live, _ := h.mgr.Get(ctx, "s-live")
	if live.Quality == nil || live.Quality.Score != 79.5 {
		t.Fatalf("expected stored quality, got %+v", live.Quality)
	}
	done, _ := h.mgr.Get(ctx, "s-done")
	if done.Quality != nil {
		t.Fatalf("ended call must not be sampled")
	}
}
