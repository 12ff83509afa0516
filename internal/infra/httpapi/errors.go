package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/lead"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func validationError(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}

// domainError maps service errors onto status codes. Unknown errors are
// logged and hidden behind a generic message.
func domainError(c echo.Context, logger *logrus.Entry, err error) error {
	switch {
	case errors.Is(err, automation.ErrNotFound), errors.Is(err, lead.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, automation.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_transition", Message: err.Error()})
	case errors.Is(err, automation.ErrConcurrencyConflict):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: "The automation was modified concurrently, please retry."})
	}
	logger.WithError(err).WithField("path", c.Request().URL.Path).Error("Request failed")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}
