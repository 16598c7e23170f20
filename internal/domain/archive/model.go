package archive

import (
	"time"

	"github.com/google/uuid"
)

// Record maps to the archive_records table. One row per soft-deleted
// entity; the row is removed again on restore.
type Record struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	EntityType   string     `db:"entity_type" json:"entity_type"`
	EntityID     uuid.UUID  `db:"entity_id" json:"entity_id"`
	ArchivedByID *uuid.UUID `db:"archived_by_id" json:"archived_by_id,omitempty"`
	Reason       *string    `db:"reason" json:"reason,omitempty"`
	ArchivedAt   time.Time  `db:"archived_at" json:"archived_at"`
}

const (
	EntityPatient = "patient"
	EntityCase    = "case"
)
