package crm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeads_FindPartyOrder(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l := NewLeads(st, nil, nil)

	_, err := st.Create(ctx, KindCustomer, Fields{"mobile_no": "+15550001"})
	require.NoError(t, err)
	contact, err := st.Create(ctx, KindContact, Fields{"mobile_no": "15550001"})
	require.NoError(t, err)

	got, err := l.FindParty(ctx, "15550001", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, contact.Name, got.Name, "contact wins over customer")

	_, err = l.FindParty(ctx, "+19990000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeads_AutoCreateLead(t *testing.T) {
	l := NewLeads(NewMemoryStore(), nil, nil)
	r, err := l.AutoCreateLead(context.Background(), "15551234567", "hi there", "Administrator")
	require.NoError(t, err)
	assert.Equal(t, "WhatsApp Lead 4567", r.Fields.String("first_name"))
	assert.Equal(t, SourceWhatsApp, r.Fields.String("source"))
	assert.Equal(t, LeadStatusLead, r.Fields.String("status"))
	assert.Equal(t, "Administrator", r.Fields.String("lead_owner"))
	assert.Equal(t, "Auto-created from WhatsApp. First message: hi there", r.Fields.String("notes"))
}

func TestLeads_AddLeadScoreClamps(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l := NewLeads(st, nil, nil)
	lead, err := st.Create(ctx, KindLead, Fields{"lead_score": 90})
	require.NoError(t, err)

	score, err := l.AddLeadScore(ctx, lead.Name, 25)
	require.NoError(t, err)
	assert.Equal(t, 100, score)

	score, err = l.AddLeadScore(ctx, lead.Name, -500)
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	_, err = l.AddLeadScore(ctx, "LEAD-MISSING", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeads_QualifyLead(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l := NewLeads(st, nil, nil)

	created, err := l.QualifyLead(ctx, Qualification{Phone: "+15550001", Score: 75, Owner: "sales@example.com", Summary: "User: hi"})
	require.NoError(t, err)
	assert.Equal(t, LeadStatusQualified, created.Fields.String("status"))
	assert.Equal(t, SourceWhatsAppBot, created.Fields.String("source"))
	assert.Equal(t, "sales@example.com", created.Fields.String("lead_owner"))
	assert.Contains(t, created.Fields.String("notes"), "Lead Score: 75")

	again, err := l.QualifyLead(ctx, Qualification{Phone: "+15550001", Score: 90, Owner: "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, created.Name, again.Name)
	assert.Equal(t, 90, again.Fields.Int("lead_score"))
	assert.Equal(t, "sales@example.com", again.Fields.String("lead_owner"), "owner is kept on update")
}

func TestClampScore(t *testing.T) {
	score := 0
	for _, d := range []int{40, 40, 40, -5, -200, 25, 30, 30, 30} {
		score = ClampScore(score + d)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
	}
	assert.Equal(t, 100, score)
}
