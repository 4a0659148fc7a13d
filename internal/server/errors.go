package server

import (
	"errors"
	"net/http"

	bookingdomain "github.com/craftlane/craftlane/internal/booking/domain"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// respondIdempotent intercepts the one error class that is not an error for
// the caller. A retried webhook or a double click resolves to the same final
// state, so the response is a plain 200 and the retry loop stops.
func respondIdempotent(c *gin.Context, err error) bool {
	if errors.Is(err, escrowdomain.ErrAlreadyProcessed) || errors.Is(err, orderdomain.ErrAlreadyProcessed) {
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return true
	}
	return false
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, escrowdomain.ErrInvalidAmount),
		errors.Is(err, escrowdomain.ErrInvalidInput),
		errors.Is(err, orderdomain.ErrInvalidInput),
		errors.Is(err, bookingdomain.ErrInvalidInput),
		errors.Is(err, timelinedomain.ErrInvalidOrder),
		errors.Is(err, timelinedomain.ErrInvalidEventType),
		errors.Is(err, timelinedomain.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
		}
	case errors.Is(err, orderdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, orderdomain.ErrInvalidState):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: "the order is not in a state that allows this operation",
		}
	case errors.Is(err, escrowdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, escrowdomain.ErrPartialFailure),
		errors.Is(err, orderdomain.ErrPartialFailure):
		return http.StatusInternalServerError, errorPayload{
			Type:    "partial_failure",
			Message: "the operation committed but a dependent write failed; reconciliation required",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
