package archive

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oncocase/oncocase/internal/domain/cases"
	"github.com/oncocase/oncocase/internal/domain/patient"
	"github.com/oncocase/oncocase/internal/platform/auth"
	"github.com/oncocase/oncocase/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "doctor"))
	g.DELETE("/cases/:id", h.DeleteCase)
	g.POST("/cases/:id/restore", h.RestoreCase)
	g.GET("/cases/deleted", h.ListDeletedCases)
	g.DELETE("/patients/:id", h.DeletePatient)
	g.POST("/patients/:id/restore", h.RestorePatient)
	g.GET("/patients/deleted", h.ListDeletedPatients)
}

func entityID(c echo.Context) (uuid.UUID, error) {
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

type deleteRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) DeleteCase(c echo.Context) error {
	id, err := entityID(c)
	if err != nil {
		return err
	}
	var req deleteRequest
	_ = c.Bind(&req) // body is optional
	if err := h.svc.DeleteCase(c.Request().Context(), id, requestUserID(c), req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RestoreCase(c echo.Context) error {
	id, err := entityID(c)
	if err != nil {
		return err
	}
	restored, err := h.svc.RestoreCase(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "restored",
		"case_code": restored.CaseCode,
		"message":   fmt.Sprintf("Case %s restored", restored.CaseCode),
	})
}

func (h *Handler) ListDeletedCases(c echo.Context) error {
	items, err := h.svc.ListDeletedCases(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*cases.Case{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(items),
		"cases": items,
	})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := entityID(c)
	if err != nil {
		return err
	}
	var req deleteRequest
	_ = c.Bind(&req)
	if err := h.svc.DeletePatient(c.Request().Context(), id, requestUserID(c), req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RestorePatient(c echo.Context) error {
	id, err := entityID(c)
	if err != nil {
		return err
	}
	restored, err := h.svc.RestorePatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "restored",
		"patient_code": restored.PatientCode,
		"message":      fmt.Sprintf("Patient %s restored", restored.PatientCode),
	})
}

func (h *Handler) ListDeletedPatients(c echo.Context) error {
	items, err := h.svc.ListDeletedPatients(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*patient.Patient{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":    len(items),
		"patients": items,
	})
}
