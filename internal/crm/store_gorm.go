package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type entityRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Kind      string    `gorm:"size:64;index;not null"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (entityRow) TableName() string { return "crm_entities" }

// entityKey indexes searchable fields so FindOne works without JSON operators.
type entityKey struct {
	EntityID string `gorm:"primaryKey;size:64"`
	Field    string `gorm:"primaryKey;size:64"`
	Value    string `gorm:"size:255;index:idx_crm_entity_keys_lookup"`
}

func (entityKey) TableName() string { return "crm_entity_keys" }

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Migrate creates the CRM tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&entityRow{}, &entityKey{})
}

func (s *GormStore) Create(ctx context.Context, kind string, fields Fields) (Record, error) {
	if kind == "" {
		return Record{}, fmt.Errorf("%w: kind is required", ErrInvalid)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	now := s.now().UTC()
	row := entityRow{ID: newName(kind), Kind: kind, Data: string(data), CreatedAt: now, UpdatedAt: now}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return writeKeys(tx, row.ID, fields)
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	return toRecord(row)
}

func (s *GormStore) Get(ctx context.Context, kind, name string) (Record, error) {
	var row entityRow
	err := s.db.WithContext(ctx).Where("id = ? AND kind = ?", name, kind).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return toRecord(row)
}

func (s *GormStore) Update(ctx context.Context, kind, name string, fields Fields) (Record, error) {
	var out entityRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entityRow
		if err := tx.Where("id = ? AND kind = ?", name, kind).First(&row).Error; err != nil {
			return err
		}
		cur := Fields{}
		if err := json.Unmarshal([]byte(row.Data), &cur); err != nil {
			return err
		}
		for k, v := range fields {
			cur[k] = v
		}
		data, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		row.Data = string(data)
		row.UpdatedAt = s.now().UTC()
		if err := tx.Model(&entityRow{}).Where("id = ?", row.ID).
			Updates(map[string]any{"data": row.Data, "updated_at": row.UpdatedAt}).Error; err != nil {
			return err
		}
		out = row
		return writeKeys(tx, row.ID, fields)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to update %s: %w", kind, err)
	}
	return toRecord(out)
}

func (s *GormStore) FindOne(ctx context.Context, kind, field string, values ...string) (Record, error) {
	if !IndexedFields[field] {
		return Record{}, fmt.Errorf("%w: field %q is not searchable", ErrInvalid, field)
	}
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return Record{}, ErrNotFound
	}

	var row entityRow
	err := s.db.WithContext(ctx).
		Joins("JOIN crm_entity_keys k ON k.entity_id = crm_entities.id").
		Where("crm_entities.kind = ? AND k.field = ? AND k.value IN ?", kind, field, nonEmpty).
		Order("crm_entities.created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to find %s: %w", kind, err)
	}
	return toRecord(row)
}

func writeKeys(tx *gorm.DB, id string, fields Fields) error {
	for f := range IndexedFields {
		v, ok := fields[f]
		if !ok {
			continue
		}
		if err := tx.Where("entity_id = ? AND field = ?", id, f).Delete(&entityKey{}).Error; err != nil {
			return err
		}
		s := Fields{f: v}.String(f)
		if s == "" {
			continue
		}
		if err := tx.Create(&entityKey{EntityID: id, Field: f, Value: s}).Error; err != nil {
			return err
		}
	}
	return nil
}

func toRecord(row entityRow) (Record, error) {
	f := Fields{}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &f); err != nil {
			return Record{}, fmt.Errorf("crm: decode %s: %w", row.ID, err)
		}
	}
	return Record{Kind: row.Kind, Name: row.ID, Fields: f, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}, nil
}
