package routing

// Assignment is who a qualified WhatsApp lead is handed to.
type Assignment struct {
	AssignedTo string `json:"assigned_to"`

	// Reason is for logs and metrics only.
	Reason string `json:"reason,omitempty"`
}

const (
	ReasonRoundRobin   = "round_robin"
	ReasonDefaultOwner = "default_owner"
)

// DefaultOwner receives leads when the pool is empty.
const DefaultOwner = "Administrator"
