package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)

func TestConversationID(t *testing.T) {
	assert.Equal(t, "CONV-15550001-20260301093015", ConversationID("15550001", t0))
	assert.NotEqual(t, ConversationID("15550001", t0), ConversationID("15550001", t0.Add(time.Second)))
}

func TestNewState_Defaults(t *testing.T) {
	s := NewState("15550001", t0)
	assert.Equal(t, IntentGreeting, s.CurrentIntent)
	assert.Equal(t, 0, s.LeadScore)
	assert.Equal(t, "en", s.Language)
	assert.True(t, s.IsActive)
	assert.False(t, s.IsEscalated)
}

func TestAppendExchange_Bounded(t *testing.T) {
	s := NewState("1", t0)
	for i := 0; i < 25; i++ {
		s.AppendExchange(Exchange{UserMessage: fmt.Sprint(i)}, 20)
	}
	assert.Len(t, s.Context.History, 20)
	assert.Equal(t, "5", s.Context.History[0].UserMessage)
	assert.Equal(t, "24", s.Context.History[19].UserMessage)

	recent := s.Recent(5)
	assert.Len(t, recent, 5)
	assert.Equal(t, "20", recent[0].UserMessage)
}

func TestApplyScoreDelta_AlwaysInRange(t *testing.T) {
	s := NewState("1", t0)
	deltas := []int{40, 40, 40, -5, -5, 2, -100, -100, 30, 25, 15, 5}
	for _, d := range deltas {
		got := s.ApplyScoreDelta(d)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, MaxScore)
	}
	assert.Equal(t, 75, s.LeadScore)
}
