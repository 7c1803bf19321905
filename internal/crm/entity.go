package crm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kinds of CRM records this service reads or writes.
const (
	KindLead            = "Lead"
	KindContact         = "Contact"
	KindCustomer        = "Customer"
	KindMessage         = "WhatsApp Message"
	KindBusinessAccount = "WhatsApp Business Account"
	KindNotification    = "Notification Log"
	KindCallTranscript  = "WhatsApp Call Transcript"
)

var (
	ErrNotFound = errors.New("crm: record not found")
	ErrInvalid  = errors.New("crm: invalid record")
)

// Fields is the free-form body of a record.
type Fields map[string]any

func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int reads numeric fields whether they came from Go code or a JSON decode.
func (f Fields) Int(key string) int {
	switch v := f[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		_, _ = fmt.Sscan(v, &n)
		return n
	}
	return 0
}

func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is one CRM document.
type Record struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the generic CRM entity port. The CRM's own storage internals stay
// behind it.
type Store interface {
	Create(ctx context.Context, kind string, fields Fields) (Record, error)
	Get(ctx context.Context, kind, name string) (Record, error)
	// Update merges fields into the record and returns the result.
	Update(ctx context.Context, kind, name string, fields Fields) (Record, error)
	// FindOne returns the oldest record of kind whose field equals any of values.
	// Only indexed fields can be searched.
	FindOne(ctx context.Context, kind, field string, values ...string) (Record, error)
}

// IndexedFields can be used with FindOne.
var IndexedFields = map[string]bool{
	"mobile_no":    true,
	"message_id":   true,
	"phone_number": true,
	"call_id":      true,
}

func newName(kind string) string {
	u := uuid.New()
	prefix := strings.ToUpper(strings.ReplaceAll(kind, " ", "-"))
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(u[:4]))
}
