package crm

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	s := NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestGormStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	r, err := s.Create(ctx, KindLead, Fields{"first_name": "Ann", "mobile_no": "+15550001", "lead_score": 10})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.Name, "LEAD-"))

	got, err := s.Get(ctx, KindLead, r.Name)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Fields.String("first_name"))
	assert.Equal(t, 10, got.Fields.Int("lead_score"))

	up, err := s.Update(ctx, KindLead, r.Name, Fields{"lead_score": 40, "status": "Qualified"})
	require.NoError(t, err)
	assert.Equal(t, 40, up.Fields.Int("lead_score"))
	assert.Equal(t, "Ann", up.Fields.String("first_name"))

	_, err = s.Get(ctx, KindContact, r.Name)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, KindLead, "missing", Fields{"x": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_FindOneByIndexedField(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, err := s.Create(ctx, KindContact, Fields{"mobile_no": "+15550001"})
	require.NoError(t, err)
	lead, err := s.Create(ctx, KindLead, Fields{"mobile_no": "15550001"})
	require.NoError(t, err)

	got, err := s.FindOne(ctx, KindLead, "mobile_no", "+15550001", "15550001")
	require.NoError(t, err)
	assert.Equal(t, lead.Name, got.Name)

	// Re-indexed after the number changes.
	_, err = s.Update(ctx, KindLead, lead.Name, Fields{"mobile_no": "+15550009"})
	require.NoError(t, err)
	_, err = s.FindOne(ctx, KindLead, "mobile_no", "15550001")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindOne(ctx, KindLead, "notes", "x")
	assert.ErrorIs(t, err, ErrInvalid)
}
