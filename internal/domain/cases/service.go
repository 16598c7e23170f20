package cases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/oncocase/oncocase/internal/domain/patient"
	"github.com/oncocase/oncocase/internal/platform/blobstore"
	"github.com/oncocase/oncocase/internal/platform/recgen"
	"github.com/oncocase/oncocase/internal/platform/scoring"
	"github.com/oncocase/oncocase/pkg/apperr"
)

// PatientDirectory is the slice of the patient service this package needs.
type PatientDirectory interface {
	VerifyActive(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	RecomputeCaseStats(ctx context.Context, id uuid.UUID) error
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// caseLocks serialises recommendation generation per case so the
// single-live-draft invariant holds under concurrent requests.
type caseLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newCaseLocks() *caseLocks {
	return &caseLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *caseLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

type Service struct {
	cases       CaseRepository
	predictions PredictionRepository
	recs        RecommendationRepository
	patients    PatientDirectory
	blobs       blobstore.BlobStore
	scorer      scoring.Scorer
	generator   recgen.Generator
	tx          TxRunner
	locks       *caseLocks
}

func NewService(
	cases CaseRepository,
	predictions PredictionRepository,
	recs RecommendationRepository,
	patients PatientDirectory,
	blobs blobstore.BlobStore,
	scorer scoring.Scorer,
	generator recgen.Generator,
	tx TxRunner,
) *Service {
	return &Service{
		cases:       cases,
		predictions: predictions,
		recs:        recs,
		patients:    patients,
		blobs:       blobs,
		scorer:      scorer,
		generator:   generator,
		tx:          tx,
		locks:       newCaseLocks(),
	}
}

// -- Case lifecycle --

// CreateCase opens a new draft case for a live patient and allocates a
// case code of the form <patient_code>-NNN. Sequence numbers count every
// code ever issued for the patient, deleted cases included.
func (s *Service) CreateCase(ctx context.Context, c *Case) error {
	p, err := s.patients.VerifyActive(ctx, c.PatientID)
	if err != nil {
		return err
	}
	c.Status = StatusDraft

	prefix := p.PatientCode + "-"
	seq, err := s.cases.CountCodePrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("allocate case code: %w", err)
	}
	c.CaseCode = fmt.Sprintf("%s%03d", prefix, seq+1)

	if err := s.cases.Create(ctx, c); err != nil {
		return err
	}
	return s.patients.RecomputeCaseStats(ctx, c.PatientID)
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.GetByID(ctx, id)
}

func (s *Service) ListCases(ctx context.Context, f Filter, limit, offset int) ([]*Case, int, error) {
	return s.cases.List(ctx, f, limit, offset)
}

// UpdateCase applies a partial update. Explicit status changes go through
// the transition table; an invalid move is rejected, not coerced.
func (s *Service) UpdateCase(ctx context.Context, id uuid.UUID, upd *CaseUpdate) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Status != nil && *upd.Status != c.Status {
		if !validCaseStatuses[*upd.Status] {
			return nil, apperr.Validationf("invalid status: %s", *upd.Status)
		}
		if !CanTransition(c.Status, *upd.Status) {
			return nil, apperr.InvalidTransitionf("cannot move case %s from %s to %s",
				c.CaseCode, c.Status, *upd.Status)
		}
		// Explicit moves still have to agree with what the case holds:
		// in_progress means analysis happened, complete means a saved review.
		switch *upd.Status {
		case StatusInProgress:
			if !c.HasPrediction {
				return nil, apperr.InvalidTransitionf(
					"cannot move case %s to in_progress without a prediction", c.CaseCode)
			}
		case StatusComplete:
			if !c.HasRecommendation {
				return nil, apperr.InvalidTransitionf(
					"cannot complete case %s without a saved recommendation", c.CaseCode)
			}
		}
		c.Status = *upd.Status
	}
	if upd.RiskLevel != nil {
		if !validRiskLevels[*upd.RiskLevel] {
			return nil, apperr.Validationf("invalid risk_level: %s", *upd.RiskLevel)
		}
		c.RiskLevel = upd.RiskLevel
	}
	if upd.Notes != nil {
		c.Notes = upd.Notes
	}

	if err := s.cases.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// -- Predictions --

// RunPrediction stores the image, scores it, and persists an immutable
// prediction. The case's risk level mirrors the newest prediction and its
// status is re-derived. Liveness is checked again after the scorer
// returns; the case may have been deleted while scoring ran.
func (s *Service) RunPrediction(ctx context.Context, caseID uuid.UUID, image []byte, fileName, contentType string, generateHeatmap bool, requestedBy *uuid.UUID) (*Prediction, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, apperr.Validationf("image is required")
	}

	createdBy := ""
	if requestedBy != nil {
		createdBy = requestedBy.String()
	}
	imageMeta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		CaseID:      caseID.String(),
		Category:    "tissue-image",
		CreatedBy:   createdBy,
	}, bytes.NewReader(image))
	if err != nil {
		return nil, apperr.Validationf("cannot store image: %v", err)
	}

	result, err := s.scorer.Score(ctx, image, fileName, generateHeatmap)
	if err != nil {
		return nil, err
	}

	riskLevel, riskScore, ok := scoring.RiskForStatus(result.HER2Status)
	if !ok {
		return nil, apperr.Upstream("scoring service returned unknown class",
			fmt.Errorf("her2_status %q", result.HER2Status))
	}

	// The scorer can take a while; the case may be gone by now.
	c, err = s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	var heatmapKey *string
	if result.Heatmap != nil {
		heatmapMeta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
			FileName:    "heatmap_" + fileName,
			ContentType: "image/png",
			CaseID:      caseID.String(),
			Category:    "heatmap",
			CreatedBy:   createdBy,
		}, bytes.NewReader(result.Heatmap))
		if err != nil {
			return nil, fmt.Errorf("store heatmap: %w", err)
		}
		heatmapKey = &heatmapMeta.ID
	}

	pred := &Prediction{
		CaseID:           caseID,
		HER2Status:       result.HER2Status,
		Confidence:       result.Confidence,
		Probabilities:    result.Probabilities,
		RiskLevel:        riskLevel,
		RiskScore:        riskScore,
		ImageObjectKey:   imageMeta.ID,
		HeatmapObjectKey: heatmapKey,
		ModelVersion:     result.ModelVersion,
		RequestedByID:    requestedBy,
	}
	if err := s.predictions.Create(ctx, pred); err != nil {
		return nil, err
	}

	c.HasPrediction = true
	c.RiskLevel = &pred.RiskLevel
	c.Status = DeriveStatus(c.Status, true, c.HasRecommendation)
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, err
	}
	return pred, nil
}

func (s *Service) ListPredictions(ctx context.Context, caseID uuid.UUID) ([]*Prediction, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.predictions.ListByCase(ctx, caseID)
}

func (s *Service) GetPrediction(ctx context.Context, caseID, predID uuid.UUID) (*Prediction, error) {
	p, err := s.predictions.GetByID(ctx, predID)
	if err != nil {
		return nil, err
	}
	if p.CaseID != caseID {
		return nil, apperr.NotFoundf("prediction %s not found", predID)
	}
	return p, nil
}

// -- Recommendations --

// GenerateParams carries the inputs of one recommendation generation.
// HistoryDocumentIDs reference documents previously attached to the case;
// their text is folded into the patient history handed to the generator.
type GenerateParams struct {
	PredictionID       uuid.UUID
	ClinicalNotes      string
	PatientHistory     string
	HistoryDocumentIDs []uuid.UUID
	Regenerate         bool
	GeneratedBy        *uuid.UUID
}

// AttachHistoryDocument stores a patient-history document against a live
// case so later recommendation generations can draw on it.
func (s *Service) AttachHistoryDocument(ctx context.Context, caseID uuid.UUID, fileName, contentType string, content []byte, uploadedBy *uuid.UUID) (*blobstore.BlobMetadata, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, apperr.Validationf("document is required")
	}

	createdBy := ""
	if uploadedBy != nil {
		createdBy = uploadedBy.String()
	}
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		CaseID:      caseID.String(),
		Category:    "history-document",
		CreatedBy:   createdBy,
	}, bytes.NewReader(content))
	if err != nil {
		return nil, apperr.Validationf("cannot store document: %v", err)
	}
	return meta, nil
}

// resolveHistory concatenates the text of the referenced history
// documents. IDs that do not resolve to a history document of this case
// are skipped; the upload may have been removed since the client listed it.
func (s *Service) resolveHistory(ctx context.Context, caseID uuid.UUID, docIDs []uuid.UUID) (string, error) {
	var parts []string
	for _, docID := range docIDs {
		rc, meta, err := s.blobs.Download(ctx, docID.String())
		if err != nil {
			if errors.Is(err, blobstore.ErrBlobNotFound) {
				continue
			}
			return "", err
		}
		text, readErr := io.ReadAll(rc)
		rc.Close()
		if readErr != nil {
			return "", readErr
		}
		if meta.CaseID != caseID.String() || meta.Category != "history-document" {
			continue
		}
		if len(text) > 0 {
			parts = append(parts, string(text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// GenerateRecommendation produces a new draft recommendation for a case.
// At most one live draft exists per case: a second generation without the
// regenerate flag is a conflict, with it the old draft is superseded. A
// per-case lock plus a transactional supersede+insert keep the invariant
// under concurrent requests.
func (s *Service) GenerateRecommendation(ctx context.Context, caseID uuid.UUID, params GenerateParams) (*Recommendation, error) {
	lock := s.locks.get(caseID)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	pred, err := s.predictions.GetByID(ctx, params.PredictionID)
	if err != nil {
		return nil, err
	}
	if pred.CaseID != caseID {
		return nil, apperr.Validationf("prediction %s does not belong to case %s", pred.ID, c.CaseCode)
	}
	return s.generate(ctx, c, pred, params)
}

// RegenerateRecommendation replaces the live draft using the newest
// prediction of the case.
func (s *Service) RegenerateRecommendation(ctx context.Context, caseID uuid.UUID, params GenerateParams) (*Recommendation, error) {
	lock := s.locks.get(caseID)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	pred, err := s.predictions.LatestByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	params.Regenerate = true
	return s.generate(ctx, c, pred, params)
}

func (s *Service) generate(ctx context.Context, c *Case, pred *Prediction, params GenerateParams) (*Recommendation, error) {
	if _, err := s.recs.GetLiveDraftByCase(ctx, c.ID); err == nil {
		if !params.Regenerate {
			return nil, apperr.Conflictf(
				"a draft recommendation already exists for case %s; set regenerate to replace it", c.CaseCode)
		}
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}

	if len(params.HistoryDocumentIDs) > 0 {
		history, err := s.resolveHistory(ctx, c.ID, params.HistoryDocumentIDs)
		if err != nil {
			return nil, err
		}
		if history != "" {
			if params.PatientHistory != "" {
				params.PatientHistory += "\n\n" + history
			} else {
				params.PatientHistory = history
			}
		}
	}

	draft, err := s.generator.Generate(ctx, recgen.Input{
		CaseCode:       c.CaseCode,
		HER2Status:     pred.HER2Status,
		Confidence:     pred.Confidence,
		RiskLevel:      pred.RiskLevel,
		RiskScore:      pred.RiskScore,
		Probabilities:  pred.Probabilities,
		ClinicalNotes:  params.ClinicalNotes,
		PatientHistory: params.PatientHistory,
	})
	if err != nil {
		return nil, err
	}

	rec := &Recommendation{
		CaseID:                   c.ID,
		PredictionID:             pred.ID,
		Status:                   "draft",
		RecommendationText:       draft.FormatText(),
		ClinicalAssessment:       draft.ClinicalAssessment,
		TreatmentRecommendations: draft.TreatmentRecommendations,
		FollowupSchedule:         draft.FollowupSchedule,
		RiskMitigation:           draft.RiskMitigation,
		ModelVersion:             draft.ModelVersion,
		GeneratedByID:            params.GeneratedBy,
	}
	if params.ClinicalNotes != "" {
		rec.ClinicalNotes = &params.ClinicalNotes
	}
	if params.PatientHistory != "" {
		rec.PatientHistoryText = &params.PatientHistory
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.recs.SupersedeDrafts(ctx, c.ID); err != nil {
			return err
		}
		return s.recs.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecommendationStatus moves a draft to saved or discarded. Saving
// marks the case as reviewed and completes it.
func (s *Service) UpdateRecommendationStatus(ctx context.Context, caseID, recID uuid.UUID, status string) (*Recommendation, error) {
	if status != "saved" && status != "discarded" {
		return nil, apperr.Validationf("status must be saved or discarded")
	}

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	rec, err := s.recs.GetByID(ctx, recID)
	if err != nil {
		return nil, err
	}
	if rec.CaseID != caseID {
		return nil, apperr.NotFoundf("recommendation %s not found", recID)
	}
	if rec.Status != "draft" {
		return nil, apperr.Conflictf("recommendation %s is %s; only drafts can be reviewed", rec.ID, rec.Status)
	}

	if err := s.recs.UpdateStatus(ctx, recID, status); err != nil {
		return nil, err
	}
	rec.Status = status

	if status == "saved" {
		c.HasRecommendation = true
		c.Status = DeriveStatus(c.Status, c.HasPrediction, true)
		if err := s.cases.Update(ctx, c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *Service) ListRecommendations(ctx context.Context, caseID uuid.UUID) ([]*Recommendation, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.recs.ListByCase(ctx, caseID)
}

// ListPending returns the draft review queue, oldest first, scoped to the
// assigned doctor when one is given. Drafts on deleted cases never appear.
func (s *Service) ListPending(ctx context.Context, doctorID *uuid.UUID) ([]*PendingRecommendation, error) {
	return s.recs.ListPending(ctx, doctorID)
}
