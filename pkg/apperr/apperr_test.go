package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validationf("bad input"), http.StatusBadRequest},
		{NotFoundf("case not found"), http.StatusNotFound},
		{Conflictf("draft exists"), http.StatusConflict},
		{InvalidTransitionf("complete -> draft"), http.StatusConflict},
		{Blockedf("patient PT-2025-0001 is deleted"), http.StatusConflict},
		{Upstream("scoring service", errors.New("timeout")), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatusWrapped(t *testing.T) {
	err := fmt.Errorf("generate recommendation: %w", Conflictf("draft exists"))
	if got := HTTPStatus(err); got != http.StatusConflict {
		t.Errorf("HTTPStatus(wrapped) = %d, want %d", got, http.StatusConflict)
	}
	if got := Message(err); got != "draft exists" {
		t.Errorf("Message(wrapped) = %q, want %q", got, "draft exists")
	}
}

func TestMessageUntyped(t *testing.T) {
	if got := Message(errors.New("pq: connection refused")); got != "internal server error" {
		t.Errorf("Message(untyped) = %q", got)
	}
}

func TestUpstreamUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := Upstream("scoring service unavailable", inner)
	if !errors.Is(err, inner) {
		t.Error("Upstream should wrap the inner error")
	}
}
