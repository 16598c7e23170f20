package cases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oncocase/oncocase/internal/domain/patient"
	"github.com/oncocase/oncocase/internal/platform/blobstore"
	"github.com/oncocase/oncocase/internal/platform/recgen"
	"github.com/oncocase/oncocase/internal/platform/scoring"
	"github.com/oncocase/oncocase/pkg/apperr"
)

// -- Mock Repositories --

type mockCaseRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{records: make(map[uuid.UUID]*Case)}
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	m.records[c.ID] = c
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[id]
	if !ok || c.IsDeleted {
		return nil, apperr.NotFoundf("case %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepo) Update(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.records[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Case
	for _, c := range m.records {
		if c.IsDeleted {
			continue
		}
		if f.PatientID != nil && c.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.RiskLevel != "" && (c.RiskLevel == nil || *c.RiskLevel != f.RiskLevel) {
			continue
		}
		result = append(result, c)
	}
	return result, len(result), nil
}

func (m *mockCaseRepo) CountCodePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.records {
		if strings.HasPrefix(c.CaseCode, prefix) {
			n++
		}
	}
	return n, nil
}

type mockPredictionRepo struct {
	mu      sync.Mutex
	ordered []*Prediction
}

func (m *mockPredictionRepo) Create(_ context.Context, p *Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.ordered = append(m.ordered, p)
	return nil
}

func (m *mockPredictionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.ordered {
		if p.ID == id && !p.IsDeleted {
			return p, nil
		}
	}
	return nil, apperr.NotFoundf("prediction %s not found", id)
}

func (m *mockPredictionRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Prediction
	for i := len(m.ordered) - 1; i >= 0; i-- {
		if p := m.ordered[i]; p.CaseID == caseID && !p.IsDeleted {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockPredictionRepo) LatestByCase(ctx context.Context, caseID uuid.UUID) (*Prediction, error) {
	items, err := m.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.NotFoundf("case %s has no predictions", caseID)
	}
	return items[0], nil
}

type mockRecRepo struct {
	mu      sync.Mutex
	ordered []*Recommendation
}

func (m *mockRecRepo) Create(_ context.Context, r *Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = time.Now()
	m.ordered = append(m.ordered, r)
	return nil
}

func (m *mockRecRepo) GetByID(_ context.Context, id uuid.UUID) (*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ordered {
		if r.ID == id && !r.IsDeleted {
			return r, nil
		}
	}
	return nil, apperr.NotFoundf("recommendation %s not found", id)
}

func (m *mockRecRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ordered {
		if r.ID == id {
			r.Status = status
			return nil
		}
	}
	return fmt.Errorf("recommendation not found")
}

func (m *mockRecRepo) GetLiveDraftByCase(_ context.Context, caseID uuid.UUID) (*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ordered) - 1; i >= 0; i-- {
		if r := m.ordered[i]; r.CaseID == caseID && r.Status == "draft" && !r.IsDeleted {
			return r, nil
		}
	}
	return nil, apperr.NotFoundf("case %s has no draft recommendation", caseID)
}

func (m *mockRecRepo) SupersedeDrafts(_ context.Context, caseID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.ordered {
		if r.CaseID == caseID && r.Status == "draft" && !r.IsDeleted {
			r.Status = "superseded"
			n++
		}
	}
	return n, nil
}

func (m *mockRecRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Recommendation
	for i := len(m.ordered) - 1; i >= 0; i-- {
		if r := m.ordered[i]; r.CaseID == caseID && !r.IsDeleted {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockRecRepo) ListPending(_ context.Context, _ *uuid.UUID) ([]*PendingRecommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*PendingRecommendation
	for _, r := range m.ordered {
		if r.Status == "draft" && !r.IsDeleted {
			result = append(result, &PendingRecommendation{Recommendation: *r})
		}
	}
	return result, nil
}

func (m *mockRecRepo) countByStatus(caseID uuid.UUID, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.ordered {
		if r.CaseID == caseID && r.Status == status {
			n++
		}
	}
	return n
}

// -- Mock collaborators --

type mockPatients struct {
	mu         sync.Mutex
	records    map[uuid.UUID]*patient.Patient
	recomputes int
}

func newMockPatients() *mockPatients {
	return &mockPatients{records: make(map[uuid.UUID]*patient.Patient)}
}

func (m *mockPatients) add(deleted bool) *patient.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &patient.Patient{
		ID:          uuid.New(),
		PatientCode: fmt.Sprintf("PT-2025-%04d", len(m.records)+1),
		FullName:    "Test Patient",
		IsDeleted:   deleted,
	}
	m.records[p.ID] = p
	return p
}

func (m *mockPatients) VerifyActive(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFoundf("patient %s not found", id)
	}
	if p.IsDeleted {
		return nil, apperr.Conflictf("patient %s is deleted", p.PatientCode)
	}
	return p, nil
}

func (m *mockPatients) RecomputeCaseStats(_ context.Context, _ uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputes++
	return nil
}

type nopTx struct{}

func (nopTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeScorer struct {
	status  string
	onScore func()
}

func (f *fakeScorer) Score(_ context.Context, _ []byte, _ string, generateHeatmap bool) (*scoring.Result, error) {
	if f.onScore != nil {
		f.onScore()
	}
	r := &scoring.Result{
		HER2Status:    f.status,
		Confidence:    0.91,
		Probabilities: map[string]float64{f.status: 0.91},
		ModelVersion:  scoring.ModelVersion,
	}
	if generateHeatmap {
		r.Heatmap = []byte("heatmap")
	}
	return r, nil
}

type testEnv struct {
	svc      *Service
	cases    *mockCaseRepo
	preds    *mockPredictionRepo
	recs     *mockRecRepo
	patients *mockPatients
	blobs    *blobstore.InMemoryBlobStore
	scorer   *fakeScorer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		cases:    newMockCaseRepo(),
		preds:    &mockPredictionRepo{},
		recs:     &mockRecRepo{},
		patients: newMockPatients(),
		blobs:    blobstore.NewInMemoryBlobStore(),
		scorer:   &fakeScorer{status: "HER2_2+"},
	}
	env.svc = NewService(env.cases, env.preds, env.recs, env.patients,
		env.blobs, env.scorer, recgen.TemplateGenerator{}, nopTx{})
	return env
}

func (env *testEnv) newCase(t *testing.T) *Case {
	t.Helper()
	p := env.patients.add(false)
	c := &Case{PatientID: p.ID}
	if err := env.svc.CreateCase(context.Background(), c); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return c
}

func (env *testEnv) predict(t *testing.T, caseID uuid.UUID) *Prediction {
	t.Helper()
	pred, err := env.svc.RunPrediction(context.Background(), caseID,
		[]byte("tissue"), "slide.png", "image/png", false, nil)
	if err != nil {
		t.Fatalf("RunPrediction: %v", err)
	}
	return pred
}

// -- Tests --

func TestCreateCase_GeneratesSequentialCodes(t *testing.T) {
	env := newTestEnv()
	p := env.patients.add(false)

	first := &Case{PatientID: p.ID}
	if err := env.svc.CreateCase(context.Background(), first); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if want := p.PatientCode + "-001"; first.CaseCode != want {
		t.Errorf("expected code %s, got %s", want, first.CaseCode)
	}
	if first.Status != StatusDraft {
		t.Errorf("new case should be draft, got %s", first.Status)
	}

	second := &Case{PatientID: p.ID}
	if err := env.svc.CreateCase(context.Background(), second); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if want := p.PatientCode + "-002"; second.CaseCode != want {
		t.Errorf("expected code %s, got %s", want, second.CaseCode)
	}

	if env.patients.recomputes != 2 {
		t.Errorf("expected 2 aggregate recomputes, got %d", env.patients.recomputes)
	}
}

func TestCreateCase_DeletedPatient(t *testing.T) {
	env := newTestEnv()
	p := env.patients.add(true)

	err := env.svc.CreateCase(context.Background(), &Case{PatientID: p.ID})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict for deleted patient, got %v", err)
	}
}

func TestUpdateCase_Transitions(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)

	// draft -> complete skips the pipeline and is rejected.
	complete := StatusComplete
	_, err := env.svc.UpdateCase(context.Background(), c.ID, &CaseUpdate{Status: &complete})
	if apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Errorf("expected invalid transition, got %v", err)
	}

	env.predict(t, c.ID)
	inProgress := StatusInProgress
	updated, err := env.svc.UpdateCase(context.Background(), c.ID, &CaseUpdate{Status: &inProgress})
	if err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", updated.Status)
	}

	bogus := "archived"
	if _, err := env.svc.UpdateCase(context.Background(), c.ID, &CaseUpdate{Status: &bogus}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestUpdateCase_InProgressRequiresPrediction(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)

	inProgress := StatusInProgress
	_, err := env.svc.UpdateCase(context.Background(), c.ID, &CaseUpdate{Status: &inProgress})
	if apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Errorf("expected invalid transition without a prediction, got %v", err)
	}
}

func TestUpdateCase_CompleteRequiresSavedRecommendation(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	env.predict(t, c.ID)

	// The case is in_progress with a prediction but no saved review.
	complete := StatusComplete
	_, err := env.svc.UpdateCase(context.Background(), c.ID, &CaseUpdate{Status: &complete})
	if apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Errorf("expected invalid transition without a saved recommendation, got %v", err)
	}

	got, _ := env.svc.GetCase(context.Background(), c.ID)
	if got.Status != StatusInProgress {
		t.Errorf("rejected transition must not change the case, got %s", got.Status)
	}
}

func TestUpdateCase_ReopenCompletedCase(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)
	rec, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}
	if _, err := env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "saved"); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Explicit reopen is allowed; the completed case holds a prediction.
	inProgress := StatusInProgress
	updated, err := env.svc.UpdateCase(context.Background(), c.ID, &CaseUpdate{Status: &inProgress})
	if err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Errorf("expected in_progress after reopen, got %s", updated.Status)
	}
}

func TestRunPrediction_FullFlow(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)

	pred, err := env.svc.RunPrediction(context.Background(), c.ID,
		[]byte("tissue"), "slide.png", "image/png", true, nil)
	if err != nil {
		t.Fatalf("RunPrediction: %v", err)
	}

	if pred.HER2Status != "HER2_2+" {
		t.Errorf("unexpected status: %s", pred.HER2Status)
	}
	if pred.RiskLevel != "high" || pred.RiskScore != 65 {
		t.Errorf("unexpected risk: %s/%v", pred.RiskLevel, pred.RiskScore)
	}
	if pred.ImageObjectKey == "" {
		t.Error("image object key not set")
	}
	if pred.HeatmapObjectKey == nil {
		t.Error("heatmap object key not set")
	}

	got, err := env.svc.GetCase(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if !got.HasPrediction {
		t.Error("has_prediction not set")
	}
	if got.RiskLevel == nil || *got.RiskLevel != "high" {
		t.Errorf("case risk not mirrored: %v", got.RiskLevel)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}

	blobs, _ := env.blobs.ListByCase(context.Background(), c.ID.String(), "")
	if len(blobs) != 2 {
		t.Errorf("expected image and heatmap blobs, got %d", len(blobs))
	}
}

func TestRunPrediction_CaseDeletedWhileScoring(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)

	env.scorer.onScore = func() {
		env.cases.mu.Lock()
		env.cases.records[c.ID].IsDeleted = true
		env.cases.mu.Unlock()
	}

	_, err := env.svc.RunPrediction(context.Background(), c.ID,
		[]byte("tissue"), "slide.png", "image/png", false, nil)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found after mid-flight delete, got %v", err)
	}

	if preds, _ := env.preds.ListByCase(context.Background(), c.ID); len(preds) != 0 {
		t.Errorf("no prediction should be persisted, got %d", len(preds))
	}
}

func TestGenerateRecommendation_ConflictOnSecondDraft(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)

	if _, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID}); err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}

	_, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict on second draft, got %v", err)
	}
}

func TestGenerateRecommendation_RegenerateSupersedes(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)

	first, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}

	second, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID, Regenerate: true})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if second.ID == first.ID {
		t.Error("regeneration should create a new recommendation")
	}

	old, err := env.recs.GetByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if old.Status != "superseded" {
		t.Errorf("old draft should be superseded, got %s", old.Status)
	}

	if n := env.recs.countByStatus(c.ID, "draft"); n != 1 {
		t.Errorf("expected exactly one live draft, got %d", n)
	}
	history, _ := env.svc.ListRecommendations(context.Background(), c.ID)
	if len(history) != 2 {
		t.Errorf("history should retain superseded drafts, got %d entries", len(history))
	}
}

func TestGenerateRecommendation_WrongCasePrediction(t *testing.T) {
	env := newTestEnv()
	c1 := env.newCase(t)
	c2 := env.newCase(t)
	pred := env.predict(t, c1.ID)

	_, err := env.svc.GenerateRecommendation(context.Background(), c2.ID,
		GenerateParams{PredictionID: pred.ID})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for foreign prediction, got %v", err)
	}
}

func TestRegenerateRecommendation_UsesLatestPrediction(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	env.predict(t, c.ID)
	latest := env.predict(t, c.ID)

	rec, err := env.svc.RegenerateRecommendation(context.Background(), c.ID, GenerateParams{})
	if err != nil {
		t.Fatalf("RegenerateRecommendation: %v", err)
	}
	if rec.PredictionID != latest.ID {
		t.Errorf("expected latest prediction %s, got %s", latest.ID, rec.PredictionID)
	}
}

func TestGenerateRecommendation_HistoryDocuments(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)

	doc, err := env.svc.AttachHistoryDocument(context.Background(), c.ID,
		"history.txt", "text/plain",
		[]byte("Prior lumpectomy in 2019. Family history of breast cancer."), nil)
	if err != nil {
		t.Fatalf("AttachHistoryDocument: %v", err)
	}
	docID, err := uuid.Parse(doc.ID)
	if err != nil {
		t.Fatalf("parse document id: %v", err)
	}

	// Unknown document IDs are skipped, not fatal.
	rec, err := env.svc.GenerateRecommendation(context.Background(), c.ID, GenerateParams{
		PredictionID:       pred.ID,
		HistoryDocumentIDs: []uuid.UUID{docID, uuid.New()},
	})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}
	if rec.PatientHistoryText == nil || !strings.Contains(*rec.PatientHistoryText, "lumpectomy") {
		t.Errorf("history document text not folded in: %v", rec.PatientHistoryText)
	}
}

func TestGenerateRecommendation_ForeignHistoryDocumentSkipped(t *testing.T) {
	env := newTestEnv()
	c1 := env.newCase(t)
	c2 := env.newCase(t)
	pred := env.predict(t, c1.ID)

	doc, err := env.svc.AttachHistoryDocument(context.Background(), c2.ID,
		"history.txt", "text/plain", []byte("belongs to another case"), nil)
	if err != nil {
		t.Fatalf("AttachHistoryDocument: %v", err)
	}
	docID, err := uuid.Parse(doc.ID)
	if err != nil {
		t.Fatalf("parse document id: %v", err)
	}

	rec, err := env.svc.GenerateRecommendation(context.Background(), c1.ID, GenerateParams{
		PredictionID:       pred.ID,
		HistoryDocumentIDs: []uuid.UUID{docID},
	})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}
	if rec.PatientHistoryText != nil {
		t.Errorf("another case's document must not leak into the history, got %q", *rec.PatientHistoryText)
	}
}

func TestUpdateRecommendationStatus_SaveCompletesCase(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)
	rec, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}

	saved, err := env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "saved")
	if err != nil {
		t.Fatalf("UpdateRecommendationStatus: %v", err)
	}
	if saved.Status != "saved" {
		t.Errorf("expected saved, got %s", saved.Status)
	}

	got, _ := env.svc.GetCase(context.Background(), c.ID)
	if !got.HasRecommendation {
		t.Error("has_recommendation not set")
	}
	if got.Status != StatusComplete {
		t.Errorf("saving the review should complete the case, got %s", got.Status)
	}
}

func TestUpdateRecommendationStatus_OnlyDraftsReviewable(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)
	rec, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}

	if _, err := env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "saved"); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err = env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "discarded")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict on reviewing a saved recommendation, got %v", err)
	}

	_, err = env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "superseded")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for superseded target, got %v", err)
	}
}

func TestGenerateRecommendation_ConcurrentSingleDraft(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = env.svc.GenerateRecommendation(context.Background(), c.ID,
				GenerateParams{PredictionID: pred.ID, Regenerate: true})
		}()
	}
	wg.Wait()

	if n := env.recs.countByStatus(c.ID, "draft"); n != 1 {
		t.Errorf("expected exactly one live draft after concurrent generation, got %d", n)
	}
}

func TestLifecycle_DraftToComplete(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)

	if got, _ := env.svc.GetCase(context.Background(), c.ID); got.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", got.Status)
	}

	pred := env.predict(t, c.ID)
	if got, _ := env.svc.GetCase(context.Background(), c.ID); got.Status != StatusInProgress {
		t.Fatalf("expected in_progress after prediction, got %s", got.Status)
	}

	rec, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID, ClinicalNotes: "palpable mass, upper outer quadrant"})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}
	if got, _ := env.svc.GetCase(context.Background(), c.ID); got.Status != StatusInProgress {
		t.Fatalf("a draft recommendation must not complete the case, got %s", got.Status)
	}

	if _, err := env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "saved"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := env.svc.GetCase(context.Background(), c.ID); got.Status != StatusComplete {
		t.Fatalf("expected complete, got %s", got.Status)
	}
}

func TestLifecycle_DiscardKeepsCaseInProgress(t *testing.T) {
	env := newTestEnv()
	c := env.newCase(t)
	pred := env.predict(t, c.ID)
	rec, err := env.svc.GenerateRecommendation(context.Background(), c.ID,
		GenerateParams{PredictionID: pred.ID})
	if err != nil {
		t.Fatalf("GenerateRecommendation: %v", err)
	}

	if _, err := env.svc.UpdateRecommendationStatus(context.Background(), c.ID, rec.ID, "discarded"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	got, _ := env.svc.GetCase(context.Background(), c.ID)
	if got.Status != StatusInProgress || got.HasRecommendation {
		t.Errorf("discard should leave the case in_progress without a review, got %s/%v",
			got.Status, got.HasRecommendation)
	}
}
