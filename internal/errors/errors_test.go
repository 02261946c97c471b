package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ValidationError("bad input"), http.StatusBadRequest},
		{UnauthorizedError("no key"), http.StatusUnauthorized},
		{NotFoundError("missing"), http.StatusNotFound},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{ExternalError("upstream down", nil), http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), tt.err.Message)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
}

func TestError_WithContext(t *testing.T) {
	err := ValidationError("bad topic").WithContext("topic", "x")
	assert.Equal(t, "x", err.Context["topic"])

	resp := err.ToResponse()
	assert.Equal(t, "bad topic", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "x", resp.Context["topic"])
}

func TestAsStructuredError(t *testing.T) {
	structured := NotFoundError("gone")
	assert.Same(t, structured, AsStructuredError(structured))
	assert.Same(t, structured, AsStructuredError(fmt.Errorf("wrapped: %w", structured)))

	plain := AsStructuredError(errors.New("plain"))
	assert.Equal(t, TypeInternal, plain.Type)

	assert.Nil(t, AsStructuredError(nil))
}

func TestMiddleware_ConvertsStructuredError(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/fail", func(c echo.Context) error {
		return UnauthorizedError("invalid API key")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid API key")
	assert.Contains(t, rec.Body.String(), `"type":"unauthorized"`)
}

func TestMiddleware_PassesNilThrough(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
