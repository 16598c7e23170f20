package archive

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oncocase/oncocase/internal/domain/cases"
	"github.com/oncocase/oncocase/internal/domain/patient"
	"github.com/oncocase/oncocase/pkg/apperr"
)

// CaseStatsRecomputer refreshes a patient's derived case aggregates after
// a delete or restore changed the live case set.
type CaseStatsRecomputer interface {
	RecomputeCaseStats(ctx context.Context, patientID uuid.UUID) error
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo     Repository
	patients CaseStatsRecomputer
	tx       TxRunner
}

func NewService(repo Repository, patients CaseStatsRecomputer, tx TxRunner) *Service {
	return &Service{repo: repo, patients: patients, tx: tx}
}

// DeleteCase soft-deletes a case with its predictions and
// recommendations. Deleting an already-deleted case is a no-op.
func (s *Service) DeleteCase(ctx context.Context, id uuid.UUID, by *uuid.UUID, reason *string) error {
	c, err := s.repo.GetCaseAnyState(ctx, id)
	if err != nil {
		return err
	}
	if c.IsDeleted {
		return nil
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		if err := s.repo.MarkCaseDeleted(ctx, id, now); err != nil {
			return err
		}
		if err := s.repo.CreateRecord(ctx, &Record{
			EntityType:   EntityCase,
			EntityID:     id,
			ArchivedByID: by,
			Reason:       reason,
			ArchivedAt:   now,
		}); err != nil {
			return err
		}
		return s.patients.RecomputeCaseStats(ctx, c.PatientID)
	})
	return err
}

// RestoreCase brings a deleted case and its children back. Restoring is
// blocked while the parent patient is deleted.
func (s *Service) RestoreCase(ctx context.Context, id uuid.UUID) (*cases.Case, error) {
	c, err := s.repo.GetCaseAnyState(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsDeleted {
		return nil, apperr.Conflictf("case %s is not deleted", c.CaseCode)
	}

	p, err := s.repo.GetPatientAnyState(ctx, c.PatientID)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, apperr.Blockedf(
			"Cannot restore case: patient %s is deleted. Restore patient first.", p.PatientCode)
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.RestoreCaseTree(ctx, id); err != nil {
			return err
		}
		if err := s.repo.DeleteRecord(ctx, EntityCase, id); err != nil {
			return err
		}
		return s.patients.RecomputeCaseStats(ctx, c.PatientID)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetCaseAnyState(ctx, id)
}

func (s *Service) ListDeletedCases(ctx context.Context) ([]*cases.Case, error) {
	return s.repo.ListDeletedCases(ctx)
}

// DeletePatient soft-deletes a patient and cascades over every live case
// and its children in one transaction. Idempotent.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID, by *uuid.UUID, reason *string) error {
	p, err := s.repo.GetPatientAnyState(ctx, id)
	if err != nil {
		return err
	}
	if p.IsDeleted {
		return nil
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		if err := s.repo.MarkPatientDeleted(ctx, id, now); err != nil {
			return err
		}
		return s.repo.CreateRecord(ctx, &Record{
			EntityType:   EntityPatient,
			EntityID:     id,
			ArchivedByID: by,
			Reason:       reason,
			ArchivedAt:   now,
		})
	})
	return err
}

// RestorePatient brings a deleted patient back. The patient's cases stay
// deleted; each one is restored explicitly afterwards.
func (s *Service) RestorePatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, err := s.repo.GetPatientAnyState(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsDeleted {
		return nil, apperr.Conflictf("patient %s is not deleted", p.PatientCode)
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.RestorePatient(ctx, id); err != nil {
			return err
		}
		if err := s.repo.DeleteRecord(ctx, EntityPatient, id); err != nil {
			return err
		}
		// Cases remain deleted, so the aggregates reset to zero.
		return s.patients.RecomputeCaseStats(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetPatientAnyState(ctx, id)
}

func (s *Service) ListDeletedPatients(ctx context.Context) ([]*patient.Patient, error) {
	return s.repo.ListDeletedPatients(ctx)
}
