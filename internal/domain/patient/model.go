package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table. PatientCode is unique among live
// rows only; a deleted patient's code can be reissued.
type Patient struct {
	ID                       uuid.UUID  `db:"id" json:"id"`
	PatientCode              string     `db:"patient_code" json:"patient_code"`
	FullName                 string     `db:"full_name" json:"full_name"`
	IdentityNumber           string     `db:"identity_number" json:"identity_number"`
	DOB                      *time.Time `db:"dob" json:"dob,omitempty"`
	Gender                   string     `db:"gender" json:"gender"`
	PhoneNumber              string     `db:"phone_number" json:"phone_number"`
	Email                    *string    `db:"email" json:"email,omitempty"`
	Address                  *string    `db:"address" json:"address,omitempty"`
	EmergencyContactName     *string    `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactRelation *string    `db:"emergency_contact_relation" json:"emergency_contact_relation,omitempty"`
	EmergencyContactPhone    *string    `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	MedicalHistory           *string    `db:"medical_history" json:"medical_history,omitempty"`
	Allergies                *string    `db:"allergies" json:"allergies,omitempty"`
	CurrentMedications       *string    `db:"current_medications" json:"current_medications,omitempty"`
	AssignedDoctorID         *uuid.UUID `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	CreatedByID              *uuid.UUID `db:"created_by_id" json:"created_by_id,omitempty"`
	TotalCases               int        `db:"total_cases" json:"total_cases"`
	LastCaseDate             *time.Time `db:"last_case_date" json:"last_case_date,omitempty"`
	IsDeleted                bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt                *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

// Update carries the mutable demographic and clinical-context fields for a
// partial update. Nil means "leave unchanged".
type Update struct {
	FullName                 *string    `json:"full_name,omitempty"`
	IdentityNumber           *string    `json:"identity_number,omitempty"`
	DOB                      *time.Time `json:"dob,omitempty"`
	Gender                   *string    `json:"gender,omitempty"`
	PhoneNumber              *string    `json:"phone_number,omitempty"`
	Email                    *string    `json:"email,omitempty"`
	Address                  *string    `json:"address,omitempty"`
	EmergencyContactName     *string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactRelation *string    `json:"emergency_contact_relation,omitempty"`
	EmergencyContactPhone    *string    `json:"emergency_contact_phone,omitempty"`
	MedicalHistory           *string    `json:"medical_history,omitempty"`
	Allergies                *string    `json:"allergies,omitempty"`
	CurrentMedications       *string    `json:"current_medications,omitempty"`
	AssignedDoctorID         *uuid.UUID `json:"assigned_doctor_id,omitempty"`
}
