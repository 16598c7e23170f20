package cases

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oncocase/oncocase/internal/platform/auth"
	"github.com/oncocase/oncocase/internal/platform/blobstore"
	"github.com/oncocase/oncocase/pkg/apperr"
	"github.com/oncocase/oncocase/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts case, prediction and recommendation routes. Case
// soft delete and restore are exposed by the archive handler.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "doctor", "nurse"))
	readGroup.GET("/cases", h.ListCases)
	readGroup.GET("/cases/:id", h.GetCase)
	readGroup.GET("/cases/:id/predictions", h.ListPredictions)
	readGroup.GET("/cases/:id/predictions/:predID", h.GetPrediction)
	readGroup.GET("/cases/:id/recommendations", h.ListRecommendations)

	writeGroup := api.Group("", auth.RequireRole("admin", "doctor"))
	writeGroup.POST("/cases", h.CreateCase)
	writeGroup.PATCH("/cases/:id", h.UpdateCase)
	writeGroup.POST("/cases/:id/predictions/predict", h.RunPrediction)
	writeGroup.POST("/cases/:id/documents", h.AttachHistoryDocument)
	writeGroup.POST("/cases/:id/recommendations/generate", h.GenerateRecommendation)
	writeGroup.POST("/cases/:id/recommendations/regenerate", h.RegenerateRecommendation)
	writeGroup.PATCH("/cases/:id/recommendations/:recID/update-status", h.UpdateRecommendationStatus)

	// The review queue is for reviewers only; nurses never see drafts.
	reviewGroup := api.Group("", auth.RequireRole("admin", "doctor"))
	reviewGroup.GET("/recommendations/pending", h.ListPending)
}

func caseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validationf("invalid id")
	}
	return id, nil
}

func requestUserID(c echo.Context) *uuid.UUID {
	uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return nil
	}
	return &uid
}

// -- Cases --

type createCaseRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Notes     *string   `json:"notes,omitempty"`
}

func (h *Handler) CreateCase(c echo.Context) error {
	var req createCaseRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validationf("malformed request body")
	}
	if req.PatientID == uuid.Nil {
		return apperr.Validationf("patient_id is required")
	}
	cs := &Case{
		PatientID:   req.PatientID,
		Notes:       req.Notes,
		CreatedByID: requestUserID(c),
	}
	if err := h.svc.CreateCase(c.Request().Context(), cs); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	f := Filter{
		Status:    c.QueryParam("status"),
		RiskLevel: c.QueryParam("risk_level"),
		Search:    c.QueryParam("search"),
	}
	// The documented filter name is "patient"; "patient_id" is accepted
	// as an alias.
	pid := c.QueryParam("patient")
	if pid == "" {
		pid = c.QueryParam("patient_id")
	}
	if pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return apperr.Validationf("invalid patient filter")
		}
		f.PatientID = &id
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCases(c.Request().Context(), f, pg.Limit(), pg.Offset())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Case{}
	}
	return c.JSON(http.StatusOK, pagination.NewEnvelope(items, total, c.Path(), pg))
}

func (h *Handler) UpdateCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var upd CaseUpdate
	if err := c.Bind(&upd); err != nil {
		return apperr.Validationf("malformed request body")
	}
	cs, err := h.svc.UpdateCase(c.Request().Context(), id, &upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cs)
}

// -- Predictions --

func (h *Handler) RunPrediction(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return apperr.Validationf("image file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return apperr.Validationf("cannot read image file")
	}
	defer src.Close()

	image, err := io.ReadAll(io.LimitReader(src, blobstore.MaxFileSize+1))
	if err != nil {
		return apperr.Validationf("cannot read image file")
	}
	if int64(len(image)) > blobstore.MaxFileSize {
		return apperr.Validationf("image exceeds maximum allowed size")
	}

	generateHeatmap := c.FormValue("generate_gradcam") == "true"
	contentType := fh.Header.Get("Content-Type")

	pred, err := h.svc.RunPrediction(c.Request().Context(), id, image,
		fh.Filename, contentType, generateHeatmap, requestUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pred)
}

// AttachHistoryDocument uploads a patient-history document for a case.
// The returned blob ID can be passed to recommendation generation as one
// of the history_document_ids.
func (h *Handler) AttachHistoryDocument(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("document")
	if err != nil {
		return apperr.Validationf("document file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return apperr.Validationf("cannot read document file")
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, blobstore.MaxFileSize+1))
	if err != nil {
		return apperr.Validationf("cannot read document file")
	}
	if int64(len(content)) > blobstore.MaxFileSize {
		return apperr.Validationf("document exceeds maximum allowed size")
	}

	meta, err := h.svc.AttachHistoryDocument(c.Request().Context(), id,
		fh.Filename, fh.Header.Get("Content-Type"), content, requestUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, meta)
}

func (h *Handler) ListPredictions(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPredictions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Prediction{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"results": items,
	})
}

func (h *Handler) GetPrediction(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	predID, err := uuid.Parse(c.Param("predID"))
	if err != nil {
		return apperr.Validationf("invalid prediction id")
	}
	p, err := h.svc.GetPrediction(c.Request().Context(), id, predID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// -- Recommendations --

type generateRequest struct {
	PredictionID       uuid.UUID   `json:"prediction_id"`
	ClinicalNotes      string      `json:"clinical_notes,omitempty"`
	PatientHistory     string      `json:"patient_history,omitempty"`
	HistoryDocumentIDs []uuid.UUID `json:"history_document_ids,omitempty"`
	Regenerate         bool        `json:"regenerate,omitempty"`
}

func (h *Handler) GenerateRecommendation(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validationf("malformed request body")
	}
	if req.PredictionID == uuid.Nil {
		return apperr.Validationf("prediction_id is required")
	}

	rec, err := h.svc.GenerateRecommendation(c.Request().Context(), id, GenerateParams{
		PredictionID:       req.PredictionID,
		ClinicalNotes:      req.ClinicalNotes,
		PatientHistory:     req.PatientHistory,
		HistoryDocumentIDs: req.HistoryDocumentIDs,
		Regenerate:         req.Regenerate,
		GeneratedBy:        requestUserID(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) RegenerateRecommendation(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validationf("malformed request body")
	}

	rec, err := h.svc.RegenerateRecommendation(c.Request().Context(), id, GenerateParams{
		ClinicalNotes:      req.ClinicalNotes,
		PatientHistory:     req.PatientHistory,
		HistoryDocumentIDs: req.HistoryDocumentIDs,
		GeneratedBy:        requestUserID(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateRecommendationStatus(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	recID, err := uuid.Parse(c.Param("recID"))
	if err != nil {
		return apperr.Validationf("invalid recommendation id")
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validationf("malformed request body")
	}

	rec, err := h.svc.UpdateRecommendationStatus(c.Request().Context(), id, recID, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecommendations(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListRecommendations(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Recommendation{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"results": items,
	})
}

// ListPending returns the draft review queue. Doctors see drafts for
// their own patients; admins see everything.
func (h *Handler) ListPending(c echo.Context) error {
	ctx := c.Request().Context()

	var doctorID *uuid.UUID
	roles := auth.RolesFromContext(ctx)
	isAdmin := false
	for _, r := range roles {
		if r == "admin" {
			isAdmin = true
		}
	}
	if !isAdmin {
		doctorID = requestUserID(c)
	}

	items, err := h.svc.ListPending(ctx, doctorID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*PendingRecommendation{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"results": items,
	})
}
