package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const patientCols = `id, patient_code, full_name, identity_number, dob, gender,
	phone_number, email, address,
	emergency_contact_name, emergency_contact_relation, emergency_contact_phone,
	medical_history, allergies, current_medications,
	assigned_doctor_id, created_by_id, total_cases, last_case_date,
	is_deleted, deleted_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientCode, &p.FullName, &p.IdentityNumber, &p.DOB, &p.Gender,
		&p.PhoneNumber, &p.Email, &p.Address,
		&p.EmergencyContactName, &p.EmergencyContactRelation, &p.EmergencyContactPhone,
		&p.MedicalHistory, &p.Allergies, &p.CurrentMedications,
		&p.AssignedDoctorID, &p.CreatedByID, &p.TotalCases, &p.LastCaseDate,
		&p.IsDeleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, patient_code, full_name, identity_number, dob, gender,
			phone_number, email, address,
			emergency_contact_name, emergency_contact_relation, emergency_contact_phone,
			medical_history, allergies, current_medications,
			assigned_doctor_id, created_by_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.PatientCode, p.FullName, p.IdentityNumber, p.DOB, p.Gender,
		p.PhoneNumber, p.Email, p.Address,
		p.EmergencyContactName, p.EmergencyContactRelation, p.EmergencyContactPhone,
		p.MedicalHistory, p.Allergies, p.CurrentMedications,
		p.AssignedDoctorID, p.CreatedByID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND is_deleted = FALSE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("patient %s not found", id)
	}
	return p, err
}

func (r *repoPG) GetAnyState(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("patient %s not found", id)
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET full_name=$2, identity_number=$3, dob=$4, gender=$5,
			phone_number=$6, email=$7, address=$8,
			emergency_contact_name=$9, emergency_contact_relation=$10, emergency_contact_phone=$11,
			medical_history=$12, allergies=$13, current_medications=$14,
			assigned_doctor_id=$15, updated_at=NOW()
		WHERE id = $1 AND is_deleted = FALSE`,
		p.ID, p.FullName, p.IdentityNumber, p.DOB, p.Gender,
		p.PhoneNumber, p.Email, p.Address,
		p.EmergencyContactName, p.EmergencyContactRelation, p.EmergencyContactPhone,
		p.MedicalHistory, p.Allergies, p.CurrentMedications,
		p.AssignedDoctorID)
	return err
}

func (r *repoPG) List(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	const filter = ` FROM patients
		WHERE is_deleted = FALSE
		  AND ($1 = '' OR full_name ILIKE '%'||$1||'%'
		       OR patient_code ILIKE '%'||$1||'%'
		       OR identity_number ILIKE '%'||$1||'%')`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+filter, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+filter+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

func (r *repoPG) CountCodePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE patient_code LIKE $1 || '%'`, prefix).Scan(&n)
	return n, err
}

func (r *repoPG) RecalcCaseStats(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			total_cases = (SELECT COUNT(*) FROM cases WHERE patient_id = $1 AND is_deleted = FALSE),
			last_case_date = (SELECT MAX(created_at) FROM cases WHERE patient_id = $1 AND is_deleted = FALSE),
			updated_at = NOW()
		WHERE id = $1`, id)
	return err
}
