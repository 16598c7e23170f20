package cases

import (
	"time"

	"github.com/google/uuid"
)

// Case maps to the cases table. CaseCode is unique among live rows only.
type Case struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	CaseCode          string     `db:"case_code" json:"case_code"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	CreatedByID       *uuid.UUID `db:"created_by_id" json:"created_by_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	RiskLevel         *string    `db:"risk_level" json:"risk_level,omitempty"`
	HasPrediction     bool       `db:"has_prediction" json:"has_prediction"`
	HasRecommendation bool       `db:"has_recommendation" json:"has_recommendation"`
	Notes             *string    `db:"notes" json:"notes,omitempty"`
	IsDeleted         bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt         *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Prediction maps to the predictions table. Rows are immutable after
// insert; a new analysis always produces a new row.
type Prediction struct {
	ID               uuid.UUID          `db:"id" json:"id"`
	CaseID           uuid.UUID          `db:"case_id" json:"case_id"`
	HER2Status       string             `db:"her2_status" json:"her2_status"`
	Confidence       float64            `db:"confidence" json:"confidence"`
	Probabilities    map[string]float64 `db:"probabilities" json:"probabilities"`
	RiskLevel        string             `db:"risk_level" json:"risk_level"`
	RiskScore        float64            `db:"risk_score" json:"risk_score"`
	ImageObjectKey   string             `db:"image_object_key" json:"image_object_key"`
	HeatmapObjectKey *string            `db:"heatmap_object_key" json:"heatmap_object_key,omitempty"`
	ModelVersion     string             `db:"model_version" json:"model_version"`
	RequestedByID    *uuid.UUID         `db:"requested_by_id" json:"requested_by_id,omitempty"`
	IsDeleted        bool               `db:"is_deleted" json:"is_deleted"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
}

// Recommendation maps to the recommendations table.
type Recommendation struct {
	ID                       uuid.UUID  `db:"id" json:"id"`
	CaseID                   uuid.UUID  `db:"case_id" json:"case_id"`
	PredictionID             uuid.UUID  `db:"prediction_id" json:"prediction_id"`
	Status                   string     `db:"status" json:"status"`
	ClinicalNotes            *string    `db:"clinical_notes" json:"clinical_notes,omitempty"`
	PatientHistoryText       *string    `db:"patient_history_text" json:"patient_history_text,omitempty"`
	RecommendationText       string     `db:"recommendation_text" json:"recommendation_text"`
	ClinicalAssessment       string     `db:"clinical_assessment" json:"clinical_assessment"`
	TreatmentRecommendations []string   `db:"treatment_recommendations" json:"treatment_recommendations"`
	FollowupSchedule         []string   `db:"followup_schedule" json:"followup_schedule"`
	RiskMitigation           []string   `db:"risk_mitigation" json:"risk_mitigation"`
	ModelVersion             string     `db:"model_version" json:"model_version"`
	GeneratedByID            *uuid.UUID `db:"generated_by_id" json:"generated_by_id,omitempty"`
	IsDeleted                bool       `db:"is_deleted" json:"is_deleted"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

// PendingRecommendation is a draft queue entry enriched with case and
// patient context for the review list.
type PendingRecommendation struct {
	Recommendation
	CaseCode    string `db:"case_code" json:"case_code"`
	PatientName string `db:"patient_name" json:"patient_name"`
}

// Filter narrows case listings.
type Filter struct {
	PatientID *uuid.UUID
	Status    string
	RiskLevel string
	Search    string
}

// CaseUpdate carries the mutable case fields for a partial update.
type CaseUpdate struct {
	Status    *string `json:"status,omitempty"`
	RiskLevel *string `json:"risk_level,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}
