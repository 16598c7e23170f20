package archive

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oncocase/oncocase/internal/domain/cases"
	"github.com/oncocase/oncocase/internal/domain/patient"
	"github.com/oncocase/oncocase/internal/platform/db"
	"github.com/oncocase/oncocase/pkg/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// -- Cases --

const caseCols = `id, case_code, patient_id, created_by_id, status, risk_level,
	has_prediction, has_recommendation, notes,
	is_deleted, deleted_at, created_at, updated_at`

func scanCase(row pgx.Row) (*cases.Case, error) {
	var c cases.Case
	err := row.Scan(&c.ID, &c.CaseCode, &c.PatientID, &c.CreatedByID, &c.Status, &c.RiskLevel,
		&c.HasPrediction, &c.HasRecommendation, &c.Notes,
		&c.IsDeleted, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) GetCaseAnyState(ctx context.Context, id uuid.UUID) (*cases.Case, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("case %s not found", id)
	}
	return c, err
}

func (r *repoPG) MarkCaseDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `
		UPDATE cases SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW()
		WHERE id = $1 AND is_deleted = FALSE`, id, at); err != nil {
		return err
	}
	if _, err := q.Exec(ctx,
		`UPDATE predictions SET is_deleted=TRUE WHERE case_id = $1 AND is_deleted = FALSE`, id); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `
		UPDATE recommendations SET is_deleted=TRUE, updated_at=NOW()
		WHERE case_id = $1 AND is_deleted = FALSE`, id)
	return err
}

func (r *repoPG) RestoreCaseTree(ctx context.Context, id uuid.UUID) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `
		UPDATE cases SET is_deleted=FALSE, deleted_at=NULL, updated_at=NOW()
		WHERE id = $1 AND is_deleted = TRUE`, id); err != nil {
		return err
	}
	if _, err := q.Exec(ctx,
		`UPDATE predictions SET is_deleted=FALSE WHERE case_id = $1 AND is_deleted = TRUE`, id); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `
		UPDATE recommendations SET is_deleted=FALSE, updated_at=NOW()
		WHERE case_id = $1 AND is_deleted = TRUE`, id)
	return err
}

func (r *repoPG) ListDeletedCases(ctx context.Context) ([]*cases.Case, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM cases WHERE is_deleted = TRUE ORDER BY deleted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*cases.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}

// -- Patients --

const patientCols = `id, patient_code, full_name, identity_number, dob, gender,
	phone_number, email, address,
	emergency_contact_name, emergency_contact_relation, emergency_contact_phone,
	medical_history, allergies, current_medications,
	assigned_doctor_id, created_by_id, total_cases, last_case_date,
	is_deleted, deleted_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*patient.Patient, error) {
	var p patient.Patient
	err := row.Scan(&p.ID, &p.PatientCode, &p.FullName, &p.IdentityNumber, &p.DOB, &p.Gender,
		&p.PhoneNumber, &p.Email, &p.Address,
		&p.EmergencyContactName, &p.EmergencyContactRelation, &p.EmergencyContactPhone,
		&p.MedicalHistory, &p.Allergies, &p.CurrentMedications,
		&p.AssignedDoctorID, &p.CreatedByID, &p.TotalCases, &p.LastCaseDate,
		&p.IsDeleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) GetPatientAnyState(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("patient %s not found", id)
	}
	return p, err
}

func (r *repoPG) MarkPatientDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `
		UPDATE patients SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW()
		WHERE id = $1 AND is_deleted = FALSE`, id, at); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `
		UPDATE predictions SET is_deleted=TRUE
		WHERE is_deleted = FALSE AND case_id IN
			(SELECT id FROM cases WHERE patient_id = $1 AND is_deleted = FALSE)`, id); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `
		UPDATE recommendations SET is_deleted=TRUE, updated_at=NOW()
		WHERE is_deleted = FALSE AND case_id IN
			(SELECT id FROM cases WHERE patient_id = $1 AND is_deleted = FALSE)`, id); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `
		UPDATE cases SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW()
		WHERE patient_id = $1 AND is_deleted = FALSE`, id, at)
	return err
}

func (r *repoPG) RestorePatient(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET is_deleted=FALSE, deleted_at=NULL, updated_at=NOW()
		WHERE id = $1 AND is_deleted = TRUE`, id)
	return err
}

func (r *repoPG) ListDeletedPatients(ctx context.Context) ([]*patient.Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE is_deleted = TRUE ORDER BY deleted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*patient.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

// -- Archive records --

func (r *repoPG) CreateRecord(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO archive_records (id, entity_type, entity_id, archived_by_id, reason, archived_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.EntityType, rec.EntityID, rec.ArchivedByID, rec.Reason, rec.ArchivedAt)
	return err
}

func (r *repoPG) DeleteRecord(ctx context.Context, entityType string, entityID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM archive_records WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID)
	return err
}

func (r *repoPG) ListRecords(ctx context.Context, entityType string) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, entity_type, entity_id, archived_by_id, reason, archived_at
		FROM archive_records WHERE entity_type = $1 ORDER BY archived_at DESC`, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityID,
			&rec.ArchivedByID, &rec.Reason, &rec.ArchivedAt); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, nil
}
