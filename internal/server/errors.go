package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/availability"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors rejects a request that could not be decoded.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type       string               `json:"type"`
	Code       string               `json:"code,omitempty"`
	Message    string               `json:"message"`
	Errors     []ValidationError    `json:"errors,omitempty"`
	Suggestion *availability.Window `json:"suggestion,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
)

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

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, authorization.ErrInvalidCaller):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	}

	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return http.StatusUnprocessableEntity, errorPayload{
			Type:       "validation_error",
			Code:       apperror.CodeOf(err),
			Message:    "validation error",
			Errors:     toValidationErrors(apperror.ViolationsOf(err)),
			Suggestion: availability.SuggestionOf(err),
		}
	case apperror.KindConflict:
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    apperror.CodeOf(err),
			Message: "conflicting write, retry with fresh data",
		}
	case apperror.KindState:
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Code:    apperror.CodeOf(err),
			Message: "operation not allowed in current state",
		}
	case apperror.KindNotFound:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    apperror.CodeOf(err),
			Message: "not found",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func toValidationErrors(violations []apperror.Violation) []ValidationError {
	out := make([]ValidationError, 0, len(violations))
	for _, v := range violations {
		out = append(out, ValidationError{Field: v.Field, Code: v.Code, Message: v.Message})
	}
	return out
}
