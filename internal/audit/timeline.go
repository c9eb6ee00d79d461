package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action names a mutation kind recorded in the audit log.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionCheckIn      Action = "check_in"
	ActionCheckOut     Action = "check_out"
	ActionWeekoff      Action = "weekoff"
	ActionHoliday      Action = "holiday"
	ActionSubmit       Action = "submit"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionCancel       Action = "cancel"
	ActionReopen       Action = "reopen"
	ActionAllocate     Action = "allocate"
	ActionRecompute    Action = "recompute"
	ActionLock         Action = "lock"
	ActionUnlock       Action = "unlock"
	ActionLockOverride Action = "lock_override"
	ActionClearPeriod  Action = "clear_period"
	ActionRollback     Action = "rollback"
	ActionDedupDelete  Action = "dedup_delete"
)

// Entry is one append-only audit_log row.
type Entry struct {
	ID           uuid.UUID      `json:"id"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Action       Action         `json:"action"`
	ActorID      int64          `json:"actor_id"`
	FieldChanged string         `json:"field_changed,omitempty"`
	BeforeValue  string         `json:"before_value,omitempty"`
	AfterValue   string         `json:"after_value,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// FieldDiff captures one changed top-level field between two snapshots.
type FieldDiff struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Snapshot is an immutable point-in-time copy of an entity.
type Snapshot struct {
	EntityType    string               `json:"entity_type"`
	EntityID      string               `json:"entity_id"`
	VersionNumber int64                `json:"version_number"`
	FullSnapshot  json.RawMessage      `json:"full_snapshot"`
	ChangedBy     int64                `json:"changed_by"`
	ChangedAt     time.Time            `json:"changed_at"`
	Diff          map[string]FieldDiff `json:"diff,omitempty"`
	RestoredFrom  *int64               `json:"restored_from,omitempty"`
}

// TimelineFilters holds the basic filters for the audit timeline.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	ActorID    int64
	EntityType string
	EntityID   string
	Action     string
	Page       int
	PageSize   int
}

// PagingInfo stores simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// History is the full audit trail of one entity.
type History struct {
	Entries   []Entry    `json:"entries"`
	Snapshots []Snapshot `json:"snapshots"`
}
