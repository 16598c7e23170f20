package cases

import (
	"context"
	"errors"
	"fmt"

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

// =========== Case Repository ===========

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseCols = `id, case_code, patient_id, created_by_id, status, risk_level,
	has_prediction, has_recommendation, notes,
	is_deleted, deleted_at, created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.CaseCode, &c.PatientID, &c.CreatedByID, &c.Status, &c.RiskLevel,
		&c.HasPrediction, &c.HasRecommendation, &c.Notes,
		&c.IsDeleted, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cases (id, case_code, patient_id, created_by_id, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.CaseCode, c.PatientID, c.CreatedByID, c.Status, c.Notes)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases WHERE id = $1 AND is_deleted = FALSE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("case %s not found", id)
	}
	return c, err
}

func (r *caseRepoPG) Update(ctx context.Context, c *Case) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE cases SET status=$2, risk_level=$3, has_prediction=$4,
			has_recommendation=$5, notes=$6, updated_at=NOW()
		WHERE id = $1 AND is_deleted = FALSE`,
		c.ID, c.Status, c.RiskLevel, c.HasPrediction, c.HasRecommendation, c.Notes)
	return err
}

func (r *caseRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Case, int, error) {
	filter := ` FROM cases WHERE is_deleted = FALSE`
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		args = append(args, v)
		filter += fmt.Sprintf(clause, n)
	}
	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if f.RiskLevel != "" {
		add(` AND risk_level = $%d`, f.RiskLevel)
	}
	if f.Search != "" {
		add(` AND case_code ILIKE '%%'||$%d||'%%'`, f.Search)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT `+caseCols+filter+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *caseRepoPG) CountCodePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM cases WHERE case_code LIKE $1 || '%'`, prefix).Scan(&n)
	return n, err
}

// =========== Prediction Repository ===========

type predictionRepoPG struct{ pool *pgxpool.Pool }

func NewPredictionRepoPG(pool *pgxpool.Pool) PredictionRepository {
	return &predictionRepoPG{pool: pool}
}

func (r *predictionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const predictionCols = `id, case_id, her2_status, confidence, probabilities,
	risk_level, risk_score, image_object_key, heatmap_object_key,
	model_version, requested_by_id, is_deleted, created_at`

func scanPrediction(row pgx.Row) (*Prediction, error) {
	var p Prediction
	err := row.Scan(&p.ID, &p.CaseID, &p.HER2Status, &p.Confidence, &p.Probabilities,
		&p.RiskLevel, &p.RiskScore, &p.ImageObjectKey, &p.HeatmapObjectKey,
		&p.ModelVersion, &p.RequestedByID, &p.IsDeleted, &p.CreatedAt)
	return &p, err
}

func (r *predictionRepoPG) Create(ctx context.Context, p *Prediction) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO predictions (id, case_id, her2_status, confidence, probabilities,
			risk_level, risk_score, image_object_key, heatmap_object_key,
			model_version, requested_by_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.CaseID, p.HER2Status, p.Confidence, p.Probabilities,
		p.RiskLevel, p.RiskScore, p.ImageObjectKey, p.HeatmapObjectKey,
		p.ModelVersion, p.RequestedByID)
	return err
}

func (r *predictionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	p, err := scanPrediction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1 AND is_deleted = FALSE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("prediction %s not found", id)
	}
	return p, err
}

func (r *predictionRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Prediction, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE case_id = $1 AND is_deleted = FALSE ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

func (r *predictionRepoPG) LatestByCase(ctx context.Context, caseID uuid.UUID) (*Prediction, error) {
	p, err := scanPrediction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE case_id = $1 AND is_deleted = FALSE ORDER BY created_at DESC LIMIT 1`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("case %s has no predictions", caseID)
	}
	return p, err
}

// =========== Recommendation Repository ===========

type recommendationRepoPG struct{ pool *pgxpool.Pool }

func NewRecommendationRepoPG(pool *pgxpool.Pool) RecommendationRepository {
	return &recommendationRepoPG{pool: pool}
}

func (r *recommendationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recCols = `id, case_id, prediction_id, status, clinical_notes, patient_history_text,
	recommendation_text, clinical_assessment, treatment_recommendations,
	followup_schedule, risk_mitigation, model_version, generated_by_id,
	is_deleted, created_at, updated_at`

func scanRecommendation(row pgx.Row) (*Recommendation, error) {
	var rec Recommendation
	err := row.Scan(&rec.ID, &rec.CaseID, &rec.PredictionID, &rec.Status, &rec.ClinicalNotes, &rec.PatientHistoryText,
		&rec.RecommendationText, &rec.ClinicalAssessment, &rec.TreatmentRecommendations,
		&rec.FollowupSchedule, &rec.RiskMitigation, &rec.ModelVersion, &rec.GeneratedByID,
		&rec.IsDeleted, &rec.CreatedAt, &rec.UpdatedAt)
	return &rec, err
}

func (r *recommendationRepoPG) Create(ctx context.Context, rec *Recommendation) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO recommendations (id, case_id, prediction_id, status, clinical_notes,
			patient_history_text, recommendation_text, clinical_assessment,
			treatment_recommendations, followup_schedule, risk_mitigation,
			model_version, generated_by_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.CaseID, rec.PredictionID, rec.Status, rec.ClinicalNotes,
		rec.PatientHistoryText, rec.RecommendationText, rec.ClinicalAssessment,
		rec.TreatmentRecommendations, rec.FollowupSchedule, rec.RiskMitigation,
		rec.ModelVersion, rec.GeneratedByID)
	return err
}

func (r *recommendationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	rec, err := scanRecommendation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recCols+` FROM recommendations WHERE id = $1 AND is_deleted = FALSE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("recommendation %s not found", id)
	}
	return rec, err
}

func (r *recommendationRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE recommendations SET status=$2, updated_at=NOW() WHERE id = $1 AND is_deleted = FALSE`,
		id, status)
	return err
}

func (r *recommendationRepoPG) GetLiveDraftByCase(ctx context.Context, caseID uuid.UUID) (*Recommendation, error) {
	rec, err := scanRecommendation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recCols+` FROM recommendations
		 WHERE case_id = $1 AND status = 'draft' AND is_deleted = FALSE
		 ORDER BY created_at DESC LIMIT 1`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("case %s has no draft recommendation", caseID)
	}
	return rec, err
}

func (r *recommendationRepoPG) SupersedeDrafts(ctx context.Context, caseID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE recommendations SET status='superseded', updated_at=NOW()
		WHERE case_id = $1 AND status = 'draft' AND is_deleted = FALSE`, caseID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *recommendationRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Recommendation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recCols+` FROM recommendations
		 WHERE case_id = $1 AND is_deleted = FALSE ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, nil
}

func (r *recommendationRepoPG) ListPending(ctx context.Context, doctorID *uuid.UUID) ([]*PendingRecommendation, error) {
	query := `
		SELECT ` + recPrefixedCols + `, c.case_code, p.full_name
		FROM recommendations r
		JOIN cases c ON c.id = r.case_id AND c.is_deleted = FALSE
		JOIN patients p ON p.id = c.patient_id AND p.is_deleted = FALSE
		WHERE r.status = 'draft' AND r.is_deleted = FALSE`
	args := []interface{}{}
	if doctorID != nil {
		query += ` AND p.assigned_doctor_id = $1`
		args = append(args, *doctorID)
	}
	query += ` ORDER BY r.created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PendingRecommendation
	for rows.Next() {
		var pr PendingRecommendation
		if err := rows.Scan(&pr.ID, &pr.CaseID, &pr.PredictionID, &pr.Status, &pr.ClinicalNotes, &pr.PatientHistoryText,
			&pr.RecommendationText, &pr.ClinicalAssessment, &pr.TreatmentRecommendations,
			&pr.FollowupSchedule, &pr.RiskMitigation, &pr.ModelVersion, &pr.GeneratedByID,
			&pr.IsDeleted, &pr.CreatedAt, &pr.UpdatedAt, &pr.CaseCode, &pr.PatientName); err != nil {
			return nil, err
		}
		items = append(items, &pr)
	}
	return items, nil
}

const recPrefixedCols = `r.id, r.case_id, r.prediction_id, r.status, r.clinical_notes, r.patient_history_text,
	r.recommendation_text, r.clinical_assessment, r.treatment_recommendations,
	r.followup_schedule, r.risk_mitigation, r.model_version, r.generated_by_id,
	r.is_deleted, r.created_at, r.updated_at`
