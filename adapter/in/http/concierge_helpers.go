// Package http exposes the read-only dashboard API.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
)

// =============================================================================
// Standardized Response Helpers
// =============================================================================

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// APIError represents a standard API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse sends a standardized JSON success response
func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponse sends a standardized JSON error response
func ErrorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse handles apperr.AppError and returns the mapped response
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// InternalErrorResponse returns a safe 500 without leaking internals.
func InternalErrorResponse(c *fiber.Ctx, err error, operation string) error {
	logger.WithError(err).WithField("operation", operation).Error("internal error")
	return ErrorResponse(c, 500, apperr.CodeInternalError, operation+" failed")
}

// =============================================================================
// Query Parameter Helpers
// =============================================================================

// GetItemFilter extracts the optional packId and person filters.
func GetItemFilter(c *fiber.Ctx) domain.ItemFilter {
	return domain.ItemFilter{
		PackID: c.Query("packId", ""),
		Person: c.Query("person", ""),
	}
}
