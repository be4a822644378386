package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/internal/claims"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error represents an API error
type Error struct {
	Message    string
	StatusCode int
	Code       string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Common API errors
var (
	ErrInvalidRequest     = &Error{Message: "Invalid request", StatusCode: http.StatusBadRequest, Code: "INVALID_REQUEST"}
	ErrNotFound           = &Error{Message: "Resource not found", StatusCode: http.StatusNotFound, Code: "NOT_FOUND"}
	ErrInternalServer     = &Error{Message: "Internal server error", StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	ErrUnauthorized       = &Error{Message: "Unauthorized", StatusCode: http.StatusUnauthorized, Code: "UNAUTHORIZED"}
	ErrForbidden          = &Error{Message: "Forbidden", StatusCode: http.StatusForbidden, Code: "FORBIDDEN"}
	ErrConflict           = &Error{Message: "Resource already exists", StatusCode: http.StatusConflict, Code: "CONFLICT"}
	ErrTooManyRequests    = &Error{Message: "Too many requests", StatusCode: http.StatusTooManyRequests, Code: "TOO_MANY_REQUESTS"}
	ErrServiceUnavailable = &Error{Message: "Service unavailable", StatusCode: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE"}
)

// NewValidationError creates a validation error with a custom message
func NewValidationError(message string) *Error {
	return &Error{
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
	}
}

// toAPIError maps domain errors onto API errors
func toAPIError(err error) *Error {
	var apiError *Error
	switch {
	case errors.As(err, &apiError):
		return apiError
	case errors.Is(err, claims.ErrItemNotFound), errors.Is(err, claims.ErrClaimNotFound):
		return &Error{Message: err.Error(), StatusCode: http.StatusNotFound, Code: ErrNotFound.Code}
	case errors.Is(err, claims.ErrAlreadyExists):
		return &Error{Message: err.Error(), StatusCode: http.StatusConflict, Code: ErrConflict.Code}
	case errors.Is(err, claims.ErrInvalidItem):
		return NewValidationError(err.Error())
	case errors.Is(err, claims.ErrResetForbidden):
		return &Error{Message: err.Error(), StatusCode: http.StatusForbidden, Code: ErrForbidden.Code}
	default:
		log.Error().Err(err).Msg("Unhandled error")
		return ErrInternalServer
	}
}

// WriteError writes an error response
func WriteError(c *gin.Context, err error) {
	apiError := toAPIError(err)
	c.JSON(apiError.StatusCode, ErrorResponse{Message: apiError.Message, Code: apiError.Code})
}

// AbortWithError writes an error response and stops the handler chain
func AbortWithError(c *gin.Context, err error) {
	apiError := toAPIError(err)
	c.AbortWithStatusJSON(apiError.StatusCode, ErrorResponse{Message: apiError.Message, Code: apiError.Code})
}
