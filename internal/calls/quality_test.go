package calls

import (
	"testing"

	"whatsapp-calling/internal/gateway"
)

func TestQualityScore(t *testing.T) {
	f := gateway.Float
	cases := []struct {
		name string
		in   *gateway.QualitySample
		want float64
	}{
		{"documented example", &gateway.QualitySample{MOS: f(4), PacketLoss: f(2), LatencyMs: f(60), JitterMs: f(5)}, 79.5},
		{"perfect", &gateway.QualitySample{MOS: f(5), PacketLoss: f(0), LatencyMs: f(0), JitterMs: f(0)}, 100},
		{"terrible floors at zero per component", &gateway.QualitySample{MOS: f(0), PacketLoss: f(50), LatencyMs: f(500), JitterMs: f(300)}, 0},
		{"missing metrics use defaults", &gateway.QualitySample{MOS: f(4)}, 86},
		{"nil sample", nil, 82},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := QualityScore(tc.in); got != tc.want {
				t.Fatalf("score = %v, want %v", got, tc.want)
			}
		})
	}
}
