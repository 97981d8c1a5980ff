package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"bnpl-engine/internal/domain/errs"
)

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrVersionConflict),
		errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrIdempotencyInProgress):
		return http.StatusConflict
	case errors.Is(err, errs.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	code := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		resp.Error = "validation failed"
		resp.Details = []FieldError{{Field: ve.Field, Message: ve.Reason}}
	}
	if code == http.StatusInternalServerError {
		// invariant details stay in the logs
		resp.Error = "internal error"
	}
	return c.JSON(code, resp)
}

// decode binds path params and body into req and validates it. When it
// returns false the error response has already been written.
func decode(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: ToFieldErrors(err),
		})
	}
	return true, nil
}
