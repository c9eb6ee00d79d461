package dedup

import "time"

// EntityType is the audit entity type of imported records.
const EntityType = "imported_record"

// Pass names one deduplication pass.
type Pass string

const (
	PassStrict Pass = "strict"
	PassLegacy Pass = "legacy"
)

// ImportedRecord is a contact row received from an external source.
type ImportedRecord struct {
	ID         int64     `json:"id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasExternalID reports whether the record carries a non-blank external id.
func (r ImportedRecord) HasExternalID() bool {
	return r.externalKey() != ""
}

// ImportInput is one record to ingest.
type ImportInput struct {
	ExternalID *string `json:"external_id"`
	Name       string  `json:"name" validate:"required,max=200"`
	Phone      string  `json:"phone" validate:"max=40"`
	Email      string  `json:"email" validate:"omitempty,max=254"`
	Source     string  `json:"source" validate:"required,max=60"`
}

// Deletion records why a row was removed.
type Deletion struct {
	ID     int64 `json:"id"`
	KeptID int64 `json:"kept_id"`
	Pass   Pass  `json:"pass"`
}

// Report summarises a deduplication run.
type Report struct {
	StrictDeleted int        `json:"strict_deleted"`
	LegacyDeleted int        `json:"legacy_deleted"`
	DeletedIDs    []int64    `json:"deleted_ids"`
	Deletions     []Deletion `json:"deletions"`
}
