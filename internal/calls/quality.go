package calls

import (
	"math"
	"time"

	"whatsapp-calling/internal/gateway"
)

// Defaults used when the gateway omits a metric.
const (
	defaultMOS        = 3.5
	defaultPacketLoss = 0.0
	defaultLatencyMs  = 50.0
	defaultJitterMs   = 10.0
)

// QualityScore folds a sample into 0-100, rounded to one decimal:
// 40% MOS, 30% packet loss, 20% latency, 10% jitter.
func QualityScore(s *gateway.QualitySample) float64 {
	mos, loss, lat, jit := resolveMetrics(s)

	score := mos/5*100*0.4 +
		math.Max(0, 100-loss*10)*0.3 +
		math.Max(0, 100-lat/2)*0.2 +
		math.Max(0, 100-jit)*0.1
	return math.Round(score*10) / 10
}

func resolveMetrics(s *gateway.QualitySample) (mos, loss, lat, jit float64) {
	mos, loss, lat, jit = defaultMOS, defaultPacketLoss, defaultLatencyMs, defaultJitterMs
	if s == nil {
		return
	}
	if s.MOS != nil {
		mos = *s.MOS
	}
	if s.PacketLoss != nil {
		loss = *s.PacketLoss
	}
	if s.LatencyMs != nil {
		lat = *s.LatencyMs
	}
	if s.JitterMs != nil {
		jit = *s.JitterMs
	}
	return
}

// snapshot turns a gateway sample into the stored quality record.
func snapshot(s *gateway.QualitySample, at time.Time) *Quality {
	mos, loss, lat, jit := resolveMetrics(s)
	return &Quality{
		MOS:        mos,
		PacketLoss: loss,
		LatencyMs:  lat,
		JitterMs:   jit,
		Score:      QualityScore(s),
		SampledAt:  at,
	}
}
