package archive

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oncocase/oncocase/internal/domain/cases"
	"github.com/oncocase/oncocase/internal/domain/patient"
)

// Repository is the only place that reads and writes soft-deleted rows.
// The patient and case repositories see live rows exclusively.
type Repository interface {
	// GetCaseAnyState returns a case regardless of deletion state.
	GetCaseAnyState(ctx context.Context, id uuid.UUID) (*cases.Case, error)
	// MarkCaseDeleted soft-deletes a case and all its predictions and
	// recommendations.
	MarkCaseDeleted(ctx context.Context, id uuid.UUID, at time.Time) error
	// RestoreCaseTree brings a case and its children back.
	RestoreCaseTree(ctx context.Context, id uuid.UUID) error
	ListDeletedCases(ctx context.Context) ([]*cases.Case, error)

	// GetPatientAnyState returns a patient regardless of deletion state.
	GetPatientAnyState(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	// MarkPatientDeleted soft-deletes a patient and cascades over all of
	// the patient's live cases and their children.
	MarkPatientDeleted(ctx context.Context, id uuid.UUID, at time.Time) error
	// RestorePatient brings the patient back. Cases stay deleted and are
	// restored one by one.
	RestorePatient(ctx context.Context, id uuid.UUID) error
	ListDeletedPatients(ctx context.Context) ([]*patient.Patient, error)

	CreateRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, entityType string, entityID uuid.UUID) error
	ListRecords(ctx context.Context, entityType string) ([]*Record, error)
}
