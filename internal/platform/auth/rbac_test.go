package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cases", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allows(t *testing.T) {
	handler := RequireRole("doctor")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if err := handler(requestWithRoles("doctor")); err != nil {
		t.Errorf("doctor should pass doctor check: %v", err)
	}
	if err := handler(requestWithRoles("nurse", "doctor")); err != nil {
		t.Errorf("multi-role user should pass: %v", err)
	}
}

func TestRequireRole_AdminOverride(t *testing.T) {
	handler := RequireRole("doctor")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if err := handler(requestWithRoles("admin")); err != nil {
		t.Errorf("admin should pass any role check: %v", err)
	}
}

func TestRequireRole_Forbids(t *testing.T) {
	handler := RequireRole("doctor")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	err := handler(requestWithRoles("nurse"))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}

	err = handler(requestWithRoles())
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for no roles, got %v", err)
	}
}
