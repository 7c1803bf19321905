package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type stateRow struct {
	ConversationID  string `gorm:"primaryKey;size:96"`
	PhoneNumber     string `gorm:"size:32;index;not null"`
	CurrentIntent   string `gorm:"size:32"`
	LeadScore       int
	Language        string `gorm:"size:8"`
	IsActive        bool   `gorm:"index"`
	IsEscalated     bool
	EscalatedAt     *time.Time
	EscalatedReason string `gorm:"size:255"`
	AssignedTo      string `gorm:"size:255"`
	LastInteraction time.Time `gorm:"index"`
	ContextData     string    `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (stateRow) TableName() string { return "bot_conversation_states" }

// GormStore keeps states in bot_conversation_states. The single-active-state
// rule is checked inside the insert transaction; callers also serialize per
// phone with a key lock.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&stateRow{})
}

func (s *GormStore) GetActive(ctx context.Context, phone string) (State, error) {
	var row stateRow
	err := s.db.WithContext(ctx).
		Where("phone_number = ? AND is_active = ?", phone, true).
		Order("created_at DESC").
		First(&row).Error
	return fromRow(row, err)
}

func (s *GormStore) Get(ctx context.Context, conversationID string) (State, error) {
	var row stateRow
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&row).Error
	return fromRow(row, err)
}

func (s *GormStore) Create(ctx context.Context, st State) error {
	row, err := toRow(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if st.IsActive {
			var n int64
			if err := tx.Model(&stateRow{}).
				Where("phone_number = ? AND is_active = ?", st.PhoneNumber, true).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrActiveExists
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrActiveExists
			}
			return fmt.Errorf("failed to create conversation state: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Save(ctx context.Context, st State) error {
	row, err := toRow(st)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&stateRow{}).
		Where("conversation_id = ?", st.ConversationID).
		Select("*").Omit("conversation_id", "created_at").
		Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to save conversation state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Escalate(ctx context.Context, conversationID, reason, assignee string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&stateRow{}).
		Where("conversation_id = ? AND is_escalated = ?", conversationID, false).
		Updates(map[string]any{
			"is_escalated":     true,
			"escalated_at":     at,
			"escalated_reason": reason,
			"assigned_to":      assignee,
			"updated_at":       at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to escalate conversation: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, conversationID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *GormStore) Reactivate(ctx context.Context, conversationID string, at time.Time) (State, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row stateRow
		if err := tx.Where("conversation_id = ?", conversationID).First(&row).Error; err != nil {
			return err
		}
		if !row.IsActive {
			var n int64
			if err := tx.Model(&stateRow{}).
				Where("phone_number = ? AND is_active = ? AND conversation_id <> ?", row.PhoneNumber, true, conversationID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrActiveExists
			}
		}
		return tx.Model(&stateRow{}).Where("conversation_id = ?", conversationID).
			Updates(map[string]any{
				"is_active":        true,
				"is_escalated":     false,
				"escalated_at":     nil,
				"escalated_reason": "",
				"last_interaction": at,
				"updated_at":       at,
			}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, err
	}
	return s.Get(ctx, conversationID)
}

func (s *GormStore) DeactivateIdle(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&stateRow{}).
		Where("is_active = ? AND last_interaction < ?", true, before).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to deactivate idle conversations: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func toRow(s State) (stateRow, error) {
	ctxData, err := json.Marshal(s.Context)
	if err != nil {
		return stateRow{}, err
	}
	return stateRow{
		ConversationID:  s.ConversationID,
		PhoneNumber:     s.PhoneNumber,
		CurrentIntent:   s.CurrentIntent,
		LeadScore:       s.LeadScore,
		Language:        s.Language,
		IsActive:        s.IsActive,
		IsEscalated:     s.IsEscalated,
		EscalatedAt:     s.EscalatedAt,
		EscalatedReason: s.EscalatedReason,
		AssignedTo:      s.AssignedTo,
		LastInteraction: s.LastInteraction,
		ContextData:     string(ctxData),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}, nil
}

func fromRow(row stateRow, err error) (State, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, err
	}
	s := State{
		ConversationID:  row.ConversationID,
		PhoneNumber:     row.PhoneNumber,
		CurrentIntent:   row.CurrentIntent,
		LeadScore:       row.LeadScore,
		Language:        row.Language,
		IsActive:        row.IsActive,
		IsEscalated:     row.IsEscalated,
		EscalatedAt:     row.EscalatedAt,
		EscalatedReason: row.EscalatedReason,
		AssignedTo:      row.AssignedTo,
		LastInteraction: row.LastInteraction,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ContextData != "" {
		if err := json.Unmarshal([]byte(row.ContextData), &s.Context); err != nil {
			return State{}, fmt.Errorf("conversation: decode context: %w", err)
		}
	}
	if s.Context.History == nil {
		s.Context.History = []Exchange{}
	}
	return s, nil
}
