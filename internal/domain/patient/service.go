package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oncocase/oncocase/pkg/apperr"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true,
}

// CreatePatient validates the record and allocates a patient code of the
// form PT-<year>-<seq>. Sequence numbers count every code ever issued for
// the year, deleted patients included, so codes are never reused.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FullName == "" {
		return apperr.Validationf("full_name is required")
	}
	if p.IdentityNumber == "" {
		return apperr.Validationf("identity_number is required")
	}
	if p.PhoneNumber == "" {
		return apperr.Validationf("phone_number is required")
	}
	if p.Gender != "" && !validGenders[p.Gender] {
		return apperr.Validationf("invalid gender: %s", p.Gender)
	}

	prefix := fmt.Sprintf("PT-%d", time.Now().Year())
	seq, err := s.patients.CountCodePrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("allocate patient code: %w", err)
	}
	p.PatientCode = fmt.Sprintf("%s-%04d", prefix, seq+1)

	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// UpdatePatient applies a partial update to a live patient.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, upd *Update) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.FullName != nil {
		if *upd.FullName == "" {
			return nil, apperr.Validationf("full_name cannot be empty")
		}
		p.FullName = *upd.FullName
	}
	if upd.IdentityNumber != nil {
		if *upd.IdentityNumber == "" {
			return nil, apperr.Validationf("identity_number cannot be empty")
		}
		p.IdentityNumber = *upd.IdentityNumber
	}
	if upd.Gender != nil {
		if !validGenders[*upd.Gender] {
			return nil, apperr.Validationf("invalid gender: %s", *upd.Gender)
		}
		p.Gender = *upd.Gender
	}
	if upd.DOB != nil {
		p.DOB = upd.DOB
	}
	if upd.PhoneNumber != nil {
		if *upd.PhoneNumber == "" {
			return nil, apperr.Validationf("phone_number cannot be empty")
		}
		p.PhoneNumber = *upd.PhoneNumber
	}
	if upd.Email != nil {
		p.Email = upd.Email
	}
	if upd.Address != nil {
		p.Address = upd.Address
	}
	if upd.EmergencyContactName != nil {
		p.EmergencyContactName = upd.EmergencyContactName
	}
	if upd.EmergencyContactRelation != nil {
		p.EmergencyContactRelation = upd.EmergencyContactRelation
	}
	if upd.EmergencyContactPhone != nil {
		p.EmergencyContactPhone = upd.EmergencyContactPhone
	}
	if upd.MedicalHistory != nil {
		p.MedicalHistory = upd.MedicalHistory
	}
	if upd.Allergies != nil {
		p.Allergies = upd.Allergies
	}
	if upd.CurrentMedications != nil {
		p.CurrentMedications = upd.CurrentMedications
	}
	if upd.AssignedDoctorID != nil {
		p.AssignedDoctorID = upd.AssignedDoctorID
	}

	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, search, limit, offset)
}

// VerifyActive returns the patient when it exists and is not deleted.
// A soft-deleted patient is a conflict rather than a missing row: the
// record still exists and can be restored, it just cannot be acted on.
func (s *Service) VerifyActive(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetAnyState(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, apperr.Conflictf("patient %s is deleted", p.PatientCode)
	}
	return p, nil
}

// RecomputeCaseStats refreshes the derived case aggregates of a patient.
// Idempotent; called after every case create, soft delete and restore.
func (s *Service) RecomputeCaseStats(ctx context.Context, id uuid.UUID) error {
	return s.patients.RecalcCaseStats(ctx, id)
}
