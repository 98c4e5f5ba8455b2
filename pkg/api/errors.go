package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/storage"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
	Detail    string `json:"detail,omitempty"`
}

// mapStoreError maps storage and authentication errors to HTTP error
// responses. Cross-tenant access surfaces as ErrNotFound from storage and
// maps to 404, never 403, so probing cannot confirm a resource exists.
func mapStoreError(err error) *echo.HTTPError {
	var validErr *storage.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, storage.ErrInvalidTransition) {
		return echo.NewHTTPError(http.StatusConflict, "invalid state transition")
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if isAuthError(err) {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}

	// Unexpected error
	slog.Error("Unexpected storage error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func isAuthError(err error) bool {
	return errors.Is(err, tenant.ErrNoCredential) ||
		errors.Is(err, tenant.ErrInvalidKey) ||
		errors.Is(err, tenant.ErrKeyExpired) ||
		errors.Is(err, tenant.ErrTenantDisabled) ||
		errors.Is(err, tenant.ErrNoIdentity)
}

// errorEnvelope converts handler errors into the JSON error body, carrying
// the request id as a correlation handle.
func (s *Server) errorEnvelope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var he *echo.HTTPError
			if !errors.As(err, &he) {
				he = mapStoreError(err)
			}

			resp := ErrorResponse{
				Error:     http.StatusText(he.Code),
				RequestID: requestIDFrom(c),
			}
			if msg := he.Message; msg != "" {
				resp.Detail = msg
			}
			if he.Code >= http.StatusInternalServerError {
				s.logger.Error("Request failed",
					"request_id", resp.RequestID,
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"status", he.Code,
					"error", err)
			}
			if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil && res.Committed {
				return nil
			}
			return c.JSON(he.Code, resp)
		}
	}
}
