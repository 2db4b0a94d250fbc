package types

// ActionStatus represents the state of a pending action
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusExecuted  ActionStatus = "executed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// ChangeEntry is the atomic unit the recalculation engine consumes:
// one field of one task set to a new value. A single instruction
// typically expands to several entries.
type ChangeEntry struct {
	TaskID int64  `json:"id"`
	Field  string `json:"field"`
	Value  any    `json:"value"`
}

// Option is one candidate resolution of a pending action
type Option struct {
	// Ordinal is 1-based; callers resolve by ordinal
	Ordinal     int           `json:"option"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
	Changes     []ChangeEntry `json:"changes"`
	// Cancel marks the designated no-op option explicitly
	Cancel bool `json:"cancel,omitempty"`
}

// PendingAction holds candidate resolutions of an ambiguous instruction
// until the caller picks one or it expires
type PendingAction struct {
	ID            int64        `json:"id" db:"id"`
	CreatedAt     string       `json:"created_at" db:"created_at"`
	TaskID        int64        `json:"task_id" db:"task_id"`
	ActionType    string       `json:"action_type" db:"action_type"`
	OriginalQuery string       `json:"original_query" db:"original_query"`
	Options       []Option     `json:"options" db:"-"`
	ExpiresAt     string       `json:"expires_at" db:"expires_at"`
	Status        ActionStatus `json:"status" db:"status"`
}
